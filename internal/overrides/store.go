package overrides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/models"
)

// Store is the persistence port for override requests.
type Store interface {
	// LoadOpen returns requests that are still pending and not yet past their
	// expiry window. Pending rows already past expiry are marked expired in
	// place rather than silently dropped, preserving the audit trail.
	LoadOpen(ctx context.Context, now time.Time) ([]*Request, error)
	Save(ctx context.Context, request *Request) error
}

// GormStore persists override requests through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs the persistence adapter.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("override store: db is required")
	}
	return &GormStore{db: db}, nil
}

// LoadOpen implements Store.
func (s *GormStore) LoadOpen(ctx context.Context, now time.Time) ([]*Request, error) {
	if err := s.db.WithContext(ctx).
		Model(&models.OverrideRequest{}).
		Where("status = ? AND expires_at <= ?", string(StatusPending), now).
		Update("status", string(StatusExpired)).Error; err != nil {
		return nil, fmt.Errorf("override store: expire stale: %w", err)
	}

	var records []models.OverrideRequest
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(StatusPending)).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("override store: load: %w", err)
	}

	requests := make([]*Request, 0, len(records))
	for i := range records {
		request, err := requestFromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// Save upserts the request snapshot including its full audit trail.
func (s *GormStore) Save(ctx context.Context, request *Request) error {
	if request == nil {
		return errors.New("override store: request is required")
	}

	record, err := requestToRecord(request)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

func requestToRecord(request *Request) (*models.OverrideRequest, error) {
	details, err := json.Marshal(request.Details)
	if err != nil {
		return nil, fmt.Errorf("override store: marshal details: %w", err)
	}
	trail, err := json.Marshal(request.Trail)
	if err != nil {
		return nil, fmt.Errorf("override store: marshal trail: %w", err)
	}

	return &models.OverrideRequest{
		ID:            request.ID,
		Type:          string(request.Type),
		TargetUserID:  request.TargetUserID,
		RequestedBy:   request.RequestedBy,
		Justification: request.Justification,
		Urgency:       string(request.Urgency),
		Status:        string(request.Status),
		ApprovalReq:   request.ApprovalRequired,
		ApprovedBy:    request.ApprovedBy,
		DeniedBy:      request.DeniedBy,
		RequestedAt:   request.RequestedAt,
		ExpiresAt:     request.ExpiresAt,
		ProcessedAt:   request.ProcessedAt,
		Details:       datatypes.JSON(details),
		Trail:         datatypes.JSON(trail),
	}, nil
}

func requestFromRecord(record *models.OverrideRequest) (*Request, error) {
	var details Details
	if len(record.Details) > 0 {
		if err := json.Unmarshal(record.Details, &details); err != nil {
			return nil, fmt.Errorf("override store: unmarshal details: %w", err)
		}
	}

	var trail []TrailEntry
	if len(record.Trail) > 0 {
		if err := json.Unmarshal(record.Trail, &trail); err != nil {
			return nil, fmt.Errorf("override store: unmarshal trail: %w", err)
		}
	}

	return &Request{
		ID:               record.ID,
		Type:             Type(record.Type),
		TargetUserID:     record.TargetUserID,
		RequestedBy:      record.RequestedBy,
		Justification:    record.Justification,
		Urgency:          Urgency(record.Urgency),
		Details:          details,
		RequestedAt:      record.RequestedAt,
		ExpiresAt:        record.ExpiresAt,
		ProcessedAt:      record.ProcessedAt,
		Status:           Status(record.Status),
		ApprovalRequired: record.ApprovalReq,
		ApprovedBy:       record.ApprovedBy,
		DeniedBy:         record.DeniedBy,
		Trail:            trail,
	}, nil
}
