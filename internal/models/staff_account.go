package models

import "time"

// StaffAccount holds the directory record for a staff member, including the
// hashed override PIN for managers and the authorization level used to gate
// override requests and approvals.
type StaffAccount struct {
	BaseModel
	Username           string     `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName        string     `json:"display_name"`
	Role               string     `gorm:"not null" json:"role"`
	AuthorizationLevel int        `gorm:"not null;default:0" json:"authorization_level"`
	RestaurantID       string     `gorm:"type:uuid;index" json:"restaurant_id"`
	PINHash            string     `gorm:"not null" json:"-"`
	PINMustChange      bool       `json:"pin_must_change"`
	IsActive           bool       `gorm:"not null;default:true" json:"is_active"`
	LockedAt           *time.Time `json:"locked_at"`
	LockReason         string     `json:"lock_reason"`
	FailedAttempts     int        `json:"failed_attempts"`
}

// MaintenanceWindow records a system-maintenance override that was executed,
// flagging the window during which maintenance is authorized.
type MaintenanceWindow struct {
	BaseModel
	RequestID    string    `gorm:"type:uuid;index" json:"request_id"`
	AuthorizedBy string    `gorm:"not null" json:"authorized_by"`
	Reason       string    `json:"reason"`
	StartsAt     time.Time `gorm:"not null" json:"starts_at"`
	EndsAt       time.Time `gorm:"not null" json:"ends_at"`
}
