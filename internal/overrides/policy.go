package overrides

import "fmt"

// minLevels declares the minimum authorization level required to request,
// approve, or execute each override type.
var minLevels = map[Type]Level{
	TypeAccountUnlock:     LevelManager,
	TypeSessionExtend:     LevelManager,
	TypePINReset:          LevelSeniorManager,
	TypeEmergencyAccess:   LevelSeniorManager,
	TypeSecurityBypass:    LevelAdmin,
	TypeSystemMaintenance: LevelSystemAdmin,
}

// RequiredLevel returns the minimum authorization level for the override type.
func RequiredLevel(t Type) Level {
	if level, ok := minLevels[t]; ok {
		return level
	}
	return LevelSystemAdmin
}

// approvalRequired computes the dual-control policy for a request. High-risk
// types always require a second manager; every other type waives approval only
// at critical urgency.
func approvalRequired(t Type, urgency Urgency) bool {
	switch t {
	case TypeSecurityBypass, TypeSystemMaintenance:
		return true
	default:
		return urgency != UrgencyCritical
	}
}

// validateDetails enforces the per-type required inputs so each execution
// handler can rely on its fields being present.
func validateDetails(t Type, details Details) error {
	switch t {
	case TypeSessionExtend:
		if details.SessionID == "" {
			return fmt.Errorf("override engine: %s requires details.session_id", t)
		}
	case TypeEmergencyAccess:
		if len(details.Operations) == 0 {
			return fmt.Errorf("override engine: %s requires details.operations", t)
		}
	case TypeSecurityBypass:
		if len(details.BypassControls) == 0 {
			return fmt.Errorf("override engine: %s requires details.bypass_controls", t)
		}
	case TypeSystemMaintenance:
		if details.ExpectedDuration <= 0 {
			return fmt.Errorf("override engine: %s requires details.expected_duration", t)
		}
	}
	return nil
}
