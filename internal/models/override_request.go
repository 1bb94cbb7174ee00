package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OverrideRequest is the persisted form of a manager override request. The audit
// trail column is append-only; rows are never updated to remove trail entries.
type OverrideRequest struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	Type          string         `gorm:"not null;index" json:"type"`
	TargetUserID  string         `gorm:"type:uuid;not null;index" json:"target_user_id"`
	RequestedBy   string         `gorm:"type:uuid;not null;index" json:"requested_by"`
	Justification string         `gorm:"not null" json:"justification"`
	Urgency       string         `gorm:"not null" json:"urgency"`
	Status        string         `gorm:"not null;index" json:"status"`
	ApprovalReq   bool           `json:"approval_required"`
	ApprovedBy    string         `json:"approved_by"`
	DeniedBy      string         `json:"denied_by"`
	RequestedAt   time.Time      `gorm:"index" json:"requested_at"`
	ExpiresAt     time.Time      `gorm:"index" json:"expires_at"`
	ProcessedAt   *time.Time     `json:"processed_at"`
	Details       datatypes.JSON `json:"details"`
	Trail         datatypes.JSON `json:"trail"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (r *OverrideRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
