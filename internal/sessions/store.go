package sessions

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

// GormStore persists sessions through GORM, isolating serialization concerns
// from the lifecycle logic behind the Store port.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs the persistence adapter.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("session store: db is required")
	}
	return &GormStore{db: db}, nil
}

// LoadLive returns sessions whose hard expiry is still in the future and purges
// rows that expired while the process was down.
func (s *GormStore) LoadLive(ctx context.Context, now time.Time) ([]*Session, error) {
	if err := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.StaffSession{}).Error; err != nil {
		return nil, fmt.Errorf("session store: purge expired: %w", err)
	}

	var records []models.StaffSession
	if err := s.db.WithContext(ctx).
		Where("expires_at > ?", now).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("session store: load: %w", err)
	}

	sessions := make([]*Session, 0, len(records))
	for i := range records {
		session, err := fromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Save upserts the session snapshot.
func (s *GormStore) Save(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session store: session is required")
	}

	record, err := toRecord(session)
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

// Delete removes the persisted row for a terminated or expired session.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.StaffSession{}, "id = ?", id).Error
}

func toRecord(session *Session) (*models.StaffSession, error) {
	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return nil, fmt.Errorf("session store: marshal metadata: %w", err)
	}

	return &models.StaffSession{
		ID:            session.ID,
		UserID:        session.UserID,
		RestaurantID:  session.RestaurantID,
		Role:          session.Role,
		DeviceID:      session.DeviceID,
		IPAddress:     session.IPAddress,
		UserAgent:     session.UserAgent,
		State:         string(session.State),
		SecurityLevel: string(session.SecurityLevel),
		WarningIssued: session.WarningIssued,
		RefreshCount:  session.RefreshCount,
		ExpiresAt:     session.ExpiresAt,
		LastActivity:  session.LastActivity,
		LastRefresh:   session.LastRefresh,
		PrevRefresh:   session.PrevRefresh,
		Metadata:      datatypes.JSON(meta),
		CreatedAt:     session.CreatedAt,
	}, nil
}

func fromRecord(record *models.StaffSession) (*Session, error) {
	var meta Metadata
	if len(record.Metadata) > 0 {
		if err := json.Unmarshal(record.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("session store: unmarshal metadata: %w", err)
		}
	}

	return &Session{
		ID:            record.ID,
		UserID:        record.UserID,
		RestaurantID:  record.RestaurantID,
		Role:          record.Role,
		DeviceID:      record.DeviceID,
		IPAddress:     record.IPAddress,
		UserAgent:     record.UserAgent,
		CreatedAt:     record.CreatedAt,
		ExpiresAt:     record.ExpiresAt,
		LastActivity:  record.LastActivity,
		LastRefresh:   record.LastRefresh,
		PrevRefresh:   record.PrevRefresh,
		State:         State(record.State),
		WarningIssued: record.WarningIssued,
		RefreshCount:  record.RefreshCount,
		SecurityLevel: SecurityLevel(record.SecurityLevel),
		Metadata:      meta,
	}, nil
}
