package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog stores one structured security event emitted by the session manager
// or the override engine.
type AuditLog struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	EventType string    `gorm:"not null;index" json:"event_type"`
	Actor     string    `gorm:"index" json:"actor"`
	Target    string    `gorm:"index" json:"target"`
	Severity  string    `gorm:"not null;index" json:"severity"`
	IPAddress string    `json:"ip_address"`
	Metadata  string    `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
