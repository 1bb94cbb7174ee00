package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StaffSession is the persisted form of a live staff session. The in-memory
// representation owned by the session manager is authoritative while the process
// runs; rows are rehydrated on startup and discarded when already expired.
type StaffSession struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string         `gorm:"type:uuid;not null;index" json:"user_id"`
	RestaurantID  string         `gorm:"type:uuid;not null;index" json:"restaurant_id"`
	Role          string         `gorm:"not null" json:"role"`
	DeviceID      string         `json:"device_id"`
	IPAddress     string         `json:"ip_address"`
	UserAgent     string         `json:"user_agent"`
	State         string         `gorm:"not null;index" json:"state"`
	SecurityLevel string         `gorm:"not null" json:"security_level"`
	WarningIssued bool           `json:"warning_issued"`
	RefreshCount  int            `json:"refresh_count"`
	ExpiresAt     time.Time      `gorm:"index" json:"expires_at"`
	LastActivity  time.Time      `json:"last_activity"`
	LastRefresh   time.Time      `json:"last_refresh"`
	PrevRefresh   time.Time      `json:"prev_refresh"`
	Metadata      datatypes.JSON `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (s *StaffSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
