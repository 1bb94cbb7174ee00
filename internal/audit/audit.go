package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/models"
)

// Severity ranks audit events for alerting and retention decisions.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event captures a single structured security event to persist.
type Event struct {
	Type      string
	Actor     string
	Target    string
	Severity  Severity
	IPAddress string
	Metadata  map[string]any
}

// Recorder is the sink consumed by the session manager and override engine.
// Implementations must not block core logic indefinitely; failures are reported
// through the error return and never panic.
type Recorder interface {
	Record(ctx context.Context, event Event) (string, error)
}

// Filters encapsulates optional filters when querying audit logs.
type Filters struct {
	EventType string
	Actor     string
	Target    string
	Severity  string
	Since     *time.Time
	Until     *time.Time
}

// ListOptions controls pagination and filtering for audit queries.
type ListOptions struct {
	Page     int
	PageSize int
	Filters  Filters
}

// Service persists and retrieves audit log entries.
type Service struct {
	db *gorm.DB
}

// NewService constructs a Service using the provided database handle.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &Service{db: db}, nil
}

// Record stores an audit event and returns the identifier of the stored entry.
func (s *Service) Record(ctx context.Context, event Event) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(event.Type) == "" {
		return "", errors.New("audit service: event type is required")
	}

	severity := event.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	payload := ""
	if event.Metadata != nil {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return "", fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = string(encoded)
	}

	log := models.AuditLog{
		EventType: strings.TrimSpace(event.Type),
		Actor:     strings.TrimSpace(event.Actor),
		Target:    strings.TrimSpace(event.Target),
		Severity:  string(severity),
		IPAddress: strings.TrimSpace(event.IPAddress),
		Metadata:  payload,
	}

	if err := s.db.WithContext(ctx).Create(&log).Error; err != nil {
		return "", fmt.Errorf("audit service: create log: %w", err)
	}

	return log.ID, nil
}

// List returns paginated audit logs ordered by creation time descending.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]models.AuditLog, int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditLog
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	query = applyFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *Service) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyFilters(query *gorm.DB, filters Filters) *gorm.DB {
	if filters.EventType != "" {
		query = query.Where("event_type = ?", filters.EventType)
	}
	if filters.Actor != "" {
		query = query.Where("actor = ?", filters.Actor)
	}
	if filters.Target != "" {
		query = query.Where("target = ?", filters.Target)
	}
	if filters.Severity != "" {
		query = query.Where("severity = ?", filters.Severity)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
