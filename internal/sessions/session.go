package sessions

import (
	"time"
)

// State enumerates the lifecycle states of a staff session.
type State string

const (
	// StateActive is the initial state of every session.
	StateActive State = "active"
	// StateWarning marks a session approaching hard expiry.
	StateWarning State = "warning"
	// StateSuspended marks a session paused by idle timeout or a detected anomaly.
	StateSuspended State = "suspended"
	// StateExpired is terminal; the session elapsed its maximum duration.
	StateExpired State = "expired"
	// StateTerminated is terminal; the session was explicitly ended.
	StateTerminated State = "terminated"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateTerminated
}

// Live reports whether the session is usable by callers.
func (s State) Live() bool {
	return s == StateActive || s == StateWarning
}

// SecurityLevel is derived from the strength of the originating authentication
// and device/location trust.
type SecurityLevel string

const (
	SecurityLow    SecurityLevel = "low"
	SecurityMedium SecurityLevel = "medium"
	SecurityHigh   SecurityLevel = "high"
)

// LoginMethod identifies how the staff member authenticated.
type LoginMethod string

const (
	LoginPIN       LoginMethod = "pin"
	LoginBiometric LoginMethod = "biometric"
	LoginEmergency LoginMethod = "emergency"
)

// Metadata carries per-session trust attributes captured at login.
type Metadata struct {
	LoginMethod      LoginMethod `json:"login_method"`
	DeviceTrusted    bool        `json:"device_trusted"`
	LocationVerified bool        `json:"location_verified"`
	Features         []string    `json:"features,omitempty"`
}

// Session represents one authenticated work period on one device.
type Session struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	RestaurantID  string        `json:"restaurant_id"`
	Role          string        `json:"role"`
	DeviceID      string        `json:"device_id"`
	IPAddress     string        `json:"ip_address"`
	UserAgent     string        `json:"user_agent"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	LastActivity  time.Time     `json:"last_activity"`
	LastRefresh   time.Time     `json:"last_refresh"`
	PrevRefresh   time.Time     `json:"prev_refresh,omitempty"`
	State         State         `json:"state"`
	WarningIssued bool          `json:"warning_issued"`
	RefreshCount  int           `json:"refresh_count"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Metadata      Metadata      `json:"metadata"`
}

// Clone returns a deep copy so callers never alias manager-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Metadata.Features != nil {
		clone.Metadata.Features = append([]string(nil), s.Metadata.Features...)
	}
	return &clone
}

// scoreSecurityLevel derives the session security level from a weighted score:
// biometric login 3, pin 2, emergency 1; +2 for a trusted device; +1 for a
// verified location. Scores of 5+ rank high, 3+ medium, anything else low.
func scoreSecurityLevel(meta Metadata) SecurityLevel {
	score := 0
	switch meta.LoginMethod {
	case LoginBiometric:
		score += 3
	case LoginPIN:
		score += 2
	case LoginEmergency:
		score += 1
	}
	if meta.DeviceTrusted {
		score += 2
	}
	if meta.LocationVerified {
		score += 1
	}

	switch {
	case score >= 5:
		return SecurityHigh
	case score >= 3:
		return SecurityMedium
	default:
		return SecurityLow
	}
}

// ValidationResult reports the outcome of a session validation query. Reason is
// a machine-distinguishable code populated only when Valid is false.
type ValidationResult struct {
	Valid        bool          `json:"valid"`
	State        State         `json:"state"`
	Reason       string        `json:"reason,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Remaining    time.Duration `json:"remaining"`
	NeedsRefresh bool          `json:"needs_refresh"`
	NeedsWarning bool          `json:"needs_warning"`
	Issues       []string      `json:"issues,omitempty"`
}

// Stats summarises the live session population.
type Stats struct {
	Total           int                   `json:"total"`
	ByState         map[State]int         `json:"by_state"`
	BySecurityLevel map[SecurityLevel]int `json:"by_security_level"`
	AverageAge      time.Duration         `json:"average_age"`
}
