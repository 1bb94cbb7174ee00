package overrides

import (
	"time"
)

// Type enumerates the manager override categories.
type Type string

const (
	TypeAccountUnlock     Type = "account_unlock"
	TypeEmergencyAccess   Type = "emergency_access"
	TypePINReset          Type = "pin_reset"
	TypeSessionExtend     Type = "session_extend"
	TypeSecurityBypass    Type = "security_bypass"
	TypeSystemMaintenance Type = "system_maintenance"
)

// Valid reports whether the type is one of the closed set.
func (t Type) Valid() bool {
	switch t {
	case TypeAccountUnlock, TypeEmergencyAccess, TypePINReset,
		TypeSessionExtend, TypeSecurityBypass, TypeSystemMaintenance:
		return true
	}
	return false
}

// Urgency ranks how quickly the override is needed.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Status tracks the request through its one-directional lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
	StatusExecuted Status = "executed"
)

// Terminal reports whether no further status change is permitted.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusExpired || s == StatusExecuted
}

// Level is the ordered authorization rank gating override requests and approvals.
type Level int

const (
	LevelNone Level = iota
	LevelManager
	LevelSeniorManager
	LevelAdmin
	LevelSystemAdmin
)

func (l Level) String() string {
	switch l {
	case LevelManager:
		return "manager"
	case LevelSeniorManager:
		return "senior_manager"
	case LevelAdmin:
		return "admin"
	case LevelSystemAdmin:
		return "system_admin"
	default:
		return "none"
	}
}

// Details carries the type-specific inputs of an override request. The required
// fields per type are enforced at request time by validateDetails, keeping each
// execution handler's inputs closed rather than a loose bag.
type Details struct {
	Reason            string        `json:"reason"`
	ExpectedDuration  time.Duration `json:"expected_duration,omitempty"`
	AffectedResources []string      `json:"affected_resources,omitempty"`
	BusinessImpact    string        `json:"business_impact,omitempty"`

	// session_extend
	SessionID string        `json:"session_id,omitempty"`
	ExtendBy  time.Duration `json:"extend_by,omitempty"`

	// emergency_access
	Operations []string `json:"operations,omitempty"`

	// security_bypass
	BypassControls []string `json:"bypass_controls,omitempty"`
}

// TrailEntry is one timestamped line of a request's append-only audit trail.
type TrailEntry struct {
	At       time.Time      `json:"at"`
	Action   string         `json:"action"`
	Actor    string         `json:"actor"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Request represents a manager-initiated exceptional action against a target
// user's account or session.
type Request struct {
	ID               string      `json:"id"`
	Type             Type        `json:"type"`
	TargetUserID     string      `json:"target_user_id"`
	RequestedBy      string      `json:"requested_by"`
	Justification    string      `json:"justification"`
	Urgency          Urgency     `json:"urgency"`
	Details          Details     `json:"details"`
	RequestedAt      time.Time   `json:"requested_at"`
	ExpiresAt        time.Time   `json:"expires_at"`
	ProcessedAt      *time.Time  `json:"processed_at,omitempty"`
	Status           Status      `json:"status"`
	ApprovalRequired bool        `json:"approval_required"`
	ApprovedBy       string      `json:"approved_by,omitempty"`
	DeniedBy         string      `json:"denied_by,omitempty"`
	Trail            []TrailEntry `json:"trail"`
}

// Clone returns a deep copy so callers never alias engine-owned state.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.ProcessedAt != nil {
		at := *r.ProcessedAt
		clone.ProcessedAt = &at
	}
	clone.Trail = append([]TrailEntry(nil), r.Trail...)
	clone.Details.AffectedResources = append([]string(nil), r.Details.AffectedResources...)
	clone.Details.Operations = append([]string(nil), r.Details.Operations...)
	clone.Details.BypassControls = append([]string(nil), r.Details.BypassControls...)
	return &clone
}

// ManagerAuthContext is the ephemeral proof that a manager freshly authenticated
// for override purposes. It is cached in memory only and never persisted.
type ManagerAuthContext struct {
	ManagerID       string    `json:"manager_id"`
	Role            string    `json:"role"`
	Level           Level     `json:"level"`
	DeviceID        string    `json:"device_id"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Outcome is the tagged result payload returned by an execution handler.
type Outcome interface {
	OverrideType() Type
}

// AccountUnlockOutcome reports a cleared lockout.
type AccountUnlockOutcome struct {
	UserID    string    `json:"user_id"`
	ClearedAt time.Time `json:"cleared_at"`
}

func (AccountUnlockOutcome) OverrideType() Type { return TypeAccountUnlock }

// PINResetOutcome carries the temporary credential issued for the target user.
type PINResetOutcome struct {
	UserID       string `json:"user_id"`
	TemporaryPIN string `json:"temporary_pin"`
	MustChange   bool   `json:"must_change"`
}

func (PINResetOutcome) OverrideType() Type { return TypePINReset }

// EmergencyAccessOutcome carries a time-boxed token restricted to a fixed
// operation allowlist.
type EmergencyAccessOutcome struct {
	Token      string    `json:"token"`
	Operations []string  `json:"operations"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (EmergencyAccessOutcome) OverrideType() Type { return TypeEmergencyAccess }

// SessionExtendOutcome reports the new hard expiry of the extended session.
type SessionExtendOutcome struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (SessionExtendOutcome) OverrideType() Type { return TypeSessionExtend }

// SecurityBypassOutcome carries a time-boxed token naming the bypassed controls.
type SecurityBypassOutcome struct {
	Token     string    `json:"token"`
	Controls  []string  `json:"controls"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (SecurityBypassOutcome) OverrideType() Type { return TypeSecurityBypass }

// MaintenanceOutcome reports the flagged maintenance window.
type MaintenanceOutcome struct {
	WindowID string    `json:"window_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

func (MaintenanceOutcome) OverrideType() Type { return TypeSystemMaintenance }
