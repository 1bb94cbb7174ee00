package overrides

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/audit"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/timers"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/logger"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/metrics"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultRequestTTL = 24 * time.Hour
	DefaultAuthTTL    = 30 * time.Minute
)

// Rejection reasons surfaced to callers. Security-sensitive collaborator
// failures degrade to these denials rather than partial state (fail-closed).
var (
	// ErrInvalidCredentials indicates the manager PIN did not verify.
	ErrInvalidCredentials = errors.New("override engine: invalid manager credentials")
	// ErrVerificationUnavailable indicates the credential or directory
	// collaborator failed; treated as a conservative denial.
	ErrVerificationUnavailable = errors.New("override engine: verification unavailable")
	// ErrInsufficientLevel indicates the authorization level is below the
	// minimum required for the override type.
	ErrInsufficientLevel = errors.New("override engine: insufficient authorization level")
	// ErrAuthContextRequired indicates no live ManagerAuthContext exists for the actor.
	ErrAuthContextRequired = errors.New("override engine: manager authentication required")
	// ErrRequestNotFound indicates the request identifier is unknown.
	ErrRequestNotFound = errors.New("override engine: request not found")
	// ErrRequestNotPending indicates the request left Pending already.
	ErrRequestNotPending = errors.New("override engine: request is not pending")
	// ErrRequestNotApproved indicates execution was attempted off an illegal edge.
	ErrRequestNotApproved = errors.New("override engine: request is not approved")
	// ErrSelfApproval indicates the dual-approval policy rejected the approver.
	ErrSelfApproval = errors.New("override engine: self-approval rejected")
	// ErrExecutionInProgress indicates a concurrent execution already holds the request.
	ErrExecutionInProgress = errors.New("override engine: execution already in progress")
)

// systemActor authors trail entries produced by policy or timers rather than a person.
const systemActor = "system"

// StaffProfile is the directory's answer for a manager identity.
type StaffProfile struct {
	UserID string
	Role   string
	Level  Level
}

// CredentialVerifier verifies a manager's PIN. Consumed as an opaque service.
type CredentialVerifier interface {
	VerifyPIN(ctx context.Context, managerID, pin string) (bool, error)
}

// Directory resolves a staff identity to its role and authorization level.
type Directory interface {
	Lookup(ctx context.Context, userID string) (StaffProfile, error)
}

// LockoutStore clears lockout state for a target user.
type LockoutStore interface {
	Unlock(ctx context.Context, userID, reason, actor string) error
}

// CredentialResetter issues a temporary PIN that must be changed on next login.
type CredentialResetter interface {
	IssueTemporaryPIN(ctx context.Context, userID, actor string) (string, error)
}

// SessionExtender is the session manager surface used by session-extend overrides.
type SessionExtender interface {
	ExtendFor(ctx context.Context, sessionID string, extension time.Duration, actor string) (time.Time, error)
}

// MaintenanceScheduler flags an authorized maintenance window.
type MaintenanceScheduler interface {
	FlagWindow(ctx context.Context, requestID, authorizedBy, reason string, startsAt, endsAt time.Time) (string, error)
}

// Config describes tunable behaviour for the override Engine.
type Config struct {
	RequestTTL   time.Duration
	AuthTTL      time.Duration
	DualApproval bool
}

func (c *Config) applyDefaults() {
	if c.RequestTTL <= 0 {
		c.RequestTTL = DefaultRequestTTL
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = DefaultAuthTTL
	}
}

// RequestParams carries the inputs for a new override request.
type RequestParams struct {
	Type          Type
	TargetUserID  string
	RequestedBy   string
	Justification string
	Urgency       Urgency
	Details       Details
}

// Filter narrows PendingRequests results.
type Filter struct {
	Type         Type
	TargetUserID string
	Urgency      Urgency
}

// Engine owns the override request pipeline: manager authentication, request
// creation, dual approval, execution, and timer-driven expiry. It reaches into
// the session manager to execute granted session mutations but owns its own
// request state independently.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	requests map[string]*Request
	inflight map[string]bool

	auth     *authCache
	verifier CredentialVerifier
	dir      Directory
	lockouts LockoutStore
	resetter CredentialResetter
	sessions SessionExtender
	maint    MaintenanceScheduler
	tokens   *TokenIssuer
	store    Store
	recorder audit.Recorder
	timers   *timers.Scheduler
	now      func() time.Time
	log      *zap.Logger
}

// EngineOption customises Engine dependencies.
type EngineOption func(*Engine)

// WithLockoutStore wires the lockout collaborator used by account-unlock.
func WithLockoutStore(store LockoutStore) EngineOption {
	return func(e *Engine) { e.lockouts = store }
}

// WithCredentialResetter wires the temporary-PIN issuer used by pin-reset.
func WithCredentialResetter(resetter CredentialResetter) EngineOption {
	return func(e *Engine) { e.resetter = resetter }
}

// WithSessionExtender wires the session manager surface used by session-extend.
func WithSessionExtender(sessions SessionExtender) EngineOption {
	return func(e *Engine) { e.sessions = sessions }
}

// WithMaintenanceScheduler wires the maintenance-window collaborator.
func WithMaintenanceScheduler(maint MaintenanceScheduler) EngineOption {
	return func(e *Engine) { e.maint = maint }
}

// WithTokenIssuer wires the grant-token issuer for emergency-access and
// security-bypass overrides.
func WithTokenIssuer(tokens *TokenIssuer) EngineOption {
	return func(e *Engine) { e.tokens = tokens }
}

// WithStore wires the persistence port.
func WithStore(store Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithRecorder wires the audit sink.
func WithRecorder(recorder audit.Recorder) EngineOption {
	return func(e *Engine) { e.recorder = recorder }
}

// WithClock overrides the clock (test helper).
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine constructs an override Engine. The credential verifier and
// directory collaborators are mandatory; everything else is optional and the
// corresponding override types fail with a named error when unwired.
func NewEngine(cfg Config, verifier CredentialVerifier, dir Directory, opts ...EngineOption) (*Engine, error) {
	if verifier == nil {
		return nil, errors.New("override engine: credential verifier is required")
	}
	if dir == nil {
		return nil, errors.New("override engine: directory is required")
	}

	cfg.applyDefaults()

	e := &Engine{
		cfg:      cfg,
		requests: make(map[string]*Request),
		inflight: make(map[string]bool),
		auth:     newAuthCache(),
		verifier: verifier,
		dir:      dir,
		timers:   timers.New(),
		now:      time.Now,
		log:      logger.WithModule("overrides"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start rehydrates open requests from the store and re-registers expiry timers.
func (e *Engine) Start(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	loaded, err := e.store.LoadOpen(ctx, e.now())
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, request := range loaded {
		if request == nil || request.ID == "" || request.Status != StatusPending {
			continue
		}
		e.requests[request.ID] = request
		id := request.ID
		e.timers.Schedule(requestKey(id), request.ExpiresAt.Sub(now), func() {
			e.onExpiryTimer(id)
		})
	}

	e.log.Info("override requests rehydrated", zap.Int("count", len(e.requests)))
	return nil
}

// Shutdown cancels every pending expiry timer.
func (e *Engine) Shutdown() {
	e.timers.Stop()
}

// AuthenticateManager verifies the manager's PIN and authorization level for
// the intended override type, then caches a short-lived ManagerAuthContext.
// Collaborator failures degrade to a conservative denial.
func (e *Engine) AuthenticateManager(ctx context.Context, managerID, pin, deviceID string, overrideType Type) (*ManagerAuthContext, error) {
	managerID = strings.TrimSpace(managerID)
	if managerID == "" || pin == "" {
		return nil, ErrInvalidCredentials
	}
	if !overrideType.Valid() {
		return nil, fmt.Errorf("override engine: unknown override type %q", overrideType)
	}

	ok, err := e.verifier.VerifyPIN(ctx, managerID, pin)
	if err != nil {
		metrics.ManagerAuthAttempts.WithLabelValues("failure").Inc()
		e.record(ctx, audit.Event{
			Type:     "override.auth_failed",
			Actor:    managerID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{"reason": "verifier_unavailable", "override_type": overrideType},
		})
		return nil, ErrVerificationUnavailable
	}
	if !ok {
		// A failed attempt revokes any context cached from an earlier success;
		// the manager must re-authenticate from scratch.
		e.auth.invalidate(managerID)
		metrics.ManagerAuthAttempts.WithLabelValues("failure").Inc()
		e.record(ctx, audit.Event{
			Type:     "override.auth_failed",
			Actor:    managerID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{"reason": "invalid_pin", "override_type": overrideType},
		})
		return nil, ErrInvalidCredentials
	}

	profile, err := e.dir.Lookup(ctx, managerID)
	if err != nil {
		metrics.ManagerAuthAttempts.WithLabelValues("failure").Inc()
		e.record(ctx, audit.Event{
			Type:     "override.auth_failed",
			Actor:    managerID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{"reason": "directory_unavailable", "override_type": overrideType},
		})
		return nil, ErrVerificationUnavailable
	}

	if profile.Level < RequiredLevel(overrideType) {
		metrics.ManagerAuthAttempts.WithLabelValues("failure").Inc()
		e.record(ctx, audit.Event{
			Type:     "override.auth_denied",
			Actor:    managerID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{
				"reason":         "insufficient_level",
				"override_type":  overrideType,
				"level":          profile.Level.String(),
				"required_level": RequiredLevel(overrideType).String(),
			},
		})
		return nil, ErrInsufficientLevel
	}

	now := e.now()
	authCtx := &ManagerAuthContext{
		ManagerID:       managerID,
		Role:            profile.Role,
		Level:           profile.Level,
		DeviceID:        strings.TrimSpace(deviceID),
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(e.cfg.AuthTTL),
	}
	e.auth.put(authCtx)

	metrics.ManagerAuthAttempts.WithLabelValues("success").Inc()
	e.record(ctx, audit.Event{
		Type:     "override.manager_authenticated",
		Actor:    managerID,
		Severity: audit.SeverityInfo,
		Metadata: map[string]any{
			"override_type": overrideType,
			"level":         profile.Level.String(),
			"device_id":     authCtx.DeviceID,
			"expires_at":    authCtx.ExpiresAt,
		},
	})

	return authCtx, nil
}

// RequestOverride creates a new override request on behalf of a freshly
// authenticated manager, auto-approving it when policy does not demand a
// second pair of eyes.
func (e *Engine) RequestOverride(ctx context.Context, params RequestParams) (*Request, error) {
	if !params.Type.Valid() {
		return nil, fmt.Errorf("override engine: unknown override type %q", params.Type)
	}
	if strings.TrimSpace(params.TargetUserID) == "" {
		return nil, errors.New("override engine: target user id is required")
	}
	requestedBy := strings.TrimSpace(params.RequestedBy)
	if requestedBy == "" {
		return nil, errors.New("override engine: requester id is required")
	}
	if strings.TrimSpace(params.Justification) == "" {
		return nil, errors.New("override engine: justification is required")
	}
	urgency := params.Urgency
	if urgency == "" {
		urgency = UrgencyMedium
	}
	if err := validateDetails(params.Type, params.Details); err != nil {
		return nil, err
	}

	now := e.now()

	authCtx, ok := e.auth.get(requestedBy, now)
	if !ok {
		e.record(ctx, audit.Event{
			Type:     "override.request_denied",
			Actor:    requestedBy,
			Target:   params.TargetUserID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{"reason": "auth_context_missing", "override_type": params.Type},
		})
		return nil, ErrAuthContextRequired
	}
	if authCtx.Level < RequiredLevel(params.Type) {
		e.record(ctx, audit.Event{
			Type:     "override.request_denied",
			Actor:    requestedBy,
			Target:   params.TargetUserID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{"reason": "insufficient_level", "override_type": params.Type},
		})
		return nil, ErrInsufficientLevel
	}

	request := &Request{
		ID:               uuid.NewString(),
		Type:             params.Type,
		TargetUserID:     strings.TrimSpace(params.TargetUserID),
		RequestedBy:      requestedBy,
		Justification:    strings.TrimSpace(params.Justification),
		Urgency:          urgency,
		Details:          params.Details,
		RequestedAt:      now,
		ExpiresAt:        now.Add(e.cfg.RequestTTL),
		Status:           StatusPending,
		ApprovalRequired: approvalRequired(params.Type, urgency),
		Trail: []TrailEntry{{
			At:     now,
			Action: "request_created",
			Actor:  requestedBy,
			Detail: params.Justification,
			Metadata: map[string]any{
				"urgency":           urgency,
				"approval_required": approvalRequired(params.Type, urgency),
			},
		}},
	}

	e.mu.Lock()
	e.requests[request.ID] = request
	id := request.ID
	e.timers.Schedule(requestKey(id), request.ExpiresAt.Sub(now), func() {
		e.onExpiryTimer(id)
	})
	snapshot := request.Clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	metrics.OverrideRequests.WithLabelValues(string(request.Type), string(StatusPending)).Inc()

	e.record(ctx, audit.Event{
		Type:     "override.requested",
		Actor:    requestedBy,
		Target:   request.TargetUserID,
		Severity: audit.SeverityWarning,
		Metadata: map[string]any{
			"request_id":        request.ID,
			"override_type":     request.Type,
			"urgency":           request.Urgency,
			"approval_required": request.ApprovalRequired,
		},
	})

	if !request.ApprovalRequired {
		if err := e.approve(ctx, request.ID, systemActor, "auto-approved by urgency policy", true); err != nil {
			return nil, err
		}
	}

	updated, _ := e.GetRequest(request.ID)
	return updated, nil
}

// ApproveOverride moves a pending request to Approved on behalf of a second
// manager. Self-approval is rejected while the dual-approval policy is enabled.
func (e *Engine) ApproveOverride(ctx context.Context, requestID, approvedBy, reason string) error {
	approvedBy = strings.TrimSpace(approvedBy)
	if approvedBy == "" {
		return ErrAuthContextRequired
	}

	now := e.now()

	e.mu.Lock()
	request, ok := e.requests[requestID]
	if !ok {
		e.mu.Unlock()
		return ErrRequestNotFound
	}
	requestType := request.Type
	requestedBy := request.RequestedBy
	e.mu.Unlock()

	authCtx, ok := e.auth.get(approvedBy, now)
	if !ok {
		e.denyAudit(ctx, requestID, approvedBy, "auth_context_missing")
		return ErrAuthContextRequired
	}
	if authCtx.Level < RequiredLevel(requestType) {
		e.denyAudit(ctx, requestID, approvedBy, "insufficient_level")
		return ErrInsufficientLevel
	}
	if e.cfg.DualApproval && approvedBy == requestedBy {
		e.denyAudit(ctx, requestID, approvedBy, "self_approval")
		return ErrSelfApproval
	}

	return e.approve(ctx, requestID, approvedBy, reason, false)
}

// approve performs the Pending→Approved transition. System (auto) approvals
// skip the caller-side authorization gates, which have already been enforced
// against the requester.
func (e *Engine) approve(ctx context.Context, requestID, approvedBy, reason string, auto bool) error {
	now := e.now()

	e.mu.Lock()
	request, ok := e.requests[requestID]
	if !ok {
		e.mu.Unlock()
		return ErrRequestNotFound
	}
	if request.Status != StatusPending {
		e.mu.Unlock()
		return ErrRequestNotPending
	}

	request.Status = StatusApproved
	request.ApprovedBy = approvedBy
	request.ProcessedAt = &now
	request.Trail = append(request.Trail, TrailEntry{
		At:       now,
		Action:   "request_approved",
		Actor:    approvedBy,
		Detail:   reason,
		Metadata: map[string]any{"auto": auto},
	})
	e.timers.Cancel(requestKey(requestID))
	snapshot := request.Clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	metrics.OverrideRequests.WithLabelValues(string(snapshot.Type), string(StatusApproved)).Inc()

	e.record(ctx, audit.Event{
		Type:     "override.approved",
		Actor:    approvedBy,
		Target:   snapshot.TargetUserID,
		Severity: audit.SeverityWarning,
		Metadata: map[string]any{
			"request_id":    snapshot.ID,
			"override_type": snapshot.Type,
			"auto":          auto,
			"reason":        reason,
		},
	})

	return nil
}

// DenyOverride moves a pending request to the terminal Denied status.
func (e *Engine) DenyOverride(ctx context.Context, requestID, deniedBy, reason string) error {
	deniedBy = strings.TrimSpace(deniedBy)
	if deniedBy == "" {
		return ErrAuthContextRequired
	}

	now := e.now()

	if _, ok := e.auth.get(deniedBy, now); !ok {
		return ErrAuthContextRequired
	}

	e.mu.Lock()
	request, ok := e.requests[requestID]
	if !ok {
		e.mu.Unlock()
		return ErrRequestNotFound
	}
	if request.Status != StatusPending {
		e.mu.Unlock()
		return ErrRequestNotPending
	}

	request.Status = StatusDenied
	request.DeniedBy = deniedBy
	request.ProcessedAt = &now
	request.Trail = append(request.Trail, TrailEntry{
		At:     now,
		Action: "request_denied",
		Actor:  deniedBy,
		Detail: reason,
	})
	e.timers.Cancel(requestKey(requestID))
	snapshot := request.Clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	metrics.OverrideRequests.WithLabelValues(string(snapshot.Type), string(StatusDenied)).Inc()

	e.record(ctx, audit.Event{
		Type:     "override.denied",
		Actor:    deniedBy,
		Target:   snapshot.TargetUserID,
		Severity: audit.SeverityWarning,
		Metadata: map[string]any{
			"request_id":    snapshot.ID,
			"override_type": snapshot.Type,
			"reason":        reason,
		},
	})

	return nil
}

// ExecuteOverride dispatches an approved request to its execution handler. A
// failed handler leaves the request Approved and eligible for a retry; a
// successful one moves it to the terminal Executed status.
func (e *Engine) ExecuteOverride(ctx context.Context, requestID, executedBy string) (Outcome, error) {
	executedBy = strings.TrimSpace(executedBy)
	if executedBy == "" {
		return nil, ErrAuthContextRequired
	}

	now := e.now()

	authCtx, ok := e.auth.get(executedBy, now)
	if !ok {
		e.denyAudit(ctx, requestID, executedBy, "auth_context_missing")
		return nil, ErrAuthContextRequired
	}

	e.mu.Lock()
	request, found := e.requests[requestID]
	if !found {
		e.mu.Unlock()
		return nil, ErrRequestNotFound
	}
	if request.Status != StatusApproved {
		e.mu.Unlock()
		return nil, ErrRequestNotApproved
	}
	if authCtx.Level < RequiredLevel(request.Type) {
		e.mu.Unlock()
		e.denyAudit(ctx, requestID, executedBy, "insufficient_level")
		return nil, ErrInsufficientLevel
	}
	if e.inflight[requestID] {
		e.mu.Unlock()
		return nil, ErrExecutionInProgress
	}
	e.inflight[requestID] = true
	snapshot := request.Clone()
	e.mu.Unlock()

	outcome, execErr := e.dispatch(ctx, snapshot, executedBy)

	e.mu.Lock()
	delete(e.inflight, requestID)
	request, found = e.requests[requestID]
	if !found {
		e.mu.Unlock()
		return nil, ErrRequestNotFound
	}

	if execErr != nil {
		request.Trail = append(request.Trail, TrailEntry{
			At:     e.now(),
			Action: "execution_failed",
			Actor:  executedBy,
			Detail: execErr.Error(),
		})
		failed := request.Clone()
		e.mu.Unlock()

		e.persist(ctx, failed)
		e.record(ctx, audit.Event{
			Type:     "override.execution_failed",
			Actor:    executedBy,
			Target:   failed.TargetUserID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{
				"request_id":    failed.ID,
				"override_type": failed.Type,
				"error":         execErr.Error(),
			},
		})
		return nil, execErr
	}

	executedAt := e.now()
	request.Status = StatusExecuted
	request.ProcessedAt = &executedAt
	request.Trail = append(request.Trail, TrailEntry{
		At:       executedAt,
		Action:   "request_executed",
		Actor:    executedBy,
		Metadata: map[string]any{"outcome": outcome.OverrideType()},
	})
	executed := request.Clone()
	e.mu.Unlock()

	e.persist(ctx, executed)
	metrics.OverrideRequests.WithLabelValues(string(executed.Type), string(StatusExecuted)).Inc()

	e.record(ctx, audit.Event{
		Type:     "override.executed",
		Actor:    executedBy,
		Target:   executed.TargetUserID,
		Severity: audit.SeverityCritical,
		Metadata: map[string]any{
			"request_id":    executed.ID,
			"override_type": executed.Type,
			"urgency":       executed.Urgency,
		},
	})

	return outcome, nil
}

// dispatch routes the request to its type-specific execution handler.
func (e *Engine) dispatch(ctx context.Context, request *Request, executedBy string) (Outcome, error) {
	switch request.Type {
	case TypeAccountUnlock:
		if e.lockouts == nil {
			return nil, errors.New("override engine: lockout store not configured")
		}
		if err := e.lockouts.Unlock(ctx, request.TargetUserID, request.Details.Reason, executedBy); err != nil {
			return nil, fmt.Errorf("override engine: unlock account: %w", err)
		}
		return AccountUnlockOutcome{UserID: request.TargetUserID, ClearedAt: e.now()}, nil

	case TypePINReset:
		if e.resetter == nil {
			return nil, errors.New("override engine: credential resetter not configured")
		}
		temporary, err := e.resetter.IssueTemporaryPIN(ctx, request.TargetUserID, executedBy)
		if err != nil {
			return nil, fmt.Errorf("override engine: issue temporary pin: %w", err)
		}
		return PINResetOutcome{UserID: request.TargetUserID, TemporaryPIN: temporary, MustChange: true}, nil

	case TypeEmergencyAccess:
		if e.tokens == nil {
			return nil, errors.New("override engine: token issuer not configured")
		}
		token, expiresAt, err := e.tokens.MintEmergencyAccess(
			request.ID, request.TargetUserID, request.Details.Operations, request.Details.ExpectedDuration)
		if err != nil {
			return nil, err
		}
		return EmergencyAccessOutcome{
			Token:      token,
			Operations: append([]string(nil), request.Details.Operations...),
			ExpiresAt:  expiresAt,
		}, nil

	case TypeSessionExtend:
		if e.sessions == nil {
			return nil, errors.New("override engine: session extender not configured")
		}
		expiresAt, err := e.sessions.ExtendFor(ctx, request.Details.SessionID, request.Details.ExtendBy, executedBy)
		if err != nil {
			return nil, fmt.Errorf("override engine: extend session: %w", err)
		}
		return SessionExtendOutcome{SessionID: request.Details.SessionID, ExpiresAt: expiresAt}, nil

	case TypeSecurityBypass:
		if e.tokens == nil {
			return nil, errors.New("override engine: token issuer not configured")
		}
		token, expiresAt, err := e.tokens.MintSecurityBypass(
			request.ID, request.TargetUserID, request.Details.BypassControls, request.Details.ExpectedDuration)
		if err != nil {
			return nil, err
		}
		return SecurityBypassOutcome{
			Token:     token,
			Controls:  append([]string(nil), request.Details.BypassControls...),
			ExpiresAt: expiresAt,
		}, nil

	case TypeSystemMaintenance:
		if e.maint == nil {
			return nil, errors.New("override engine: maintenance scheduler not configured")
		}
		startsAt := e.now()
		endsAt := startsAt.Add(request.Details.ExpectedDuration)
		windowID, err := e.maint.FlagWindow(ctx, request.ID, executedBy, request.Details.Reason, startsAt, endsAt)
		if err != nil {
			return nil, fmt.Errorf("override engine: flag maintenance window: %w", err)
		}
		return MaintenanceOutcome{WindowID: windowID, StartsAt: startsAt, EndsAt: endsAt}, nil

	default:
		return nil, fmt.Errorf("override engine: unknown override type %q", request.Type)
	}
}

// GetRequest returns a snapshot of the request, if known.
func (e *Engine) GetRequest(requestID string) (*Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	request, ok := e.requests[requestID]
	if !ok {
		return nil, false
	}
	return request.Clone(), true
}

// PendingRequests returns pending requests matching the filter, newest first.
func (e *Engine) PendingRequests(filter Filter) []*Request {
	e.mu.Lock()
	results := make([]*Request, 0)
	for _, request := range e.requests {
		if request.Status != StatusPending {
			continue
		}
		if filter.Type != "" && request.Type != filter.Type {
			continue
		}
		if filter.TargetUserID != "" && request.TargetUserID != filter.TargetUserID {
			continue
		}
		if filter.Urgency != "" && request.Urgency != filter.Urgency {
			continue
		}
		results = append(results, request.Clone())
	}
	e.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].RequestedAt.After(results[j].RequestedAt)
	})
	return results
}

// ExpireStale sweeps pending requests past their window and prunes expired
// manager auth contexts; a backstop for timers lost across restarts.
func (e *Engine) ExpireStale(ctx context.Context) int {
	now := e.now()

	e.mu.Lock()
	stale := make([]string, 0)
	for id, request := range e.requests {
		if request.Status == StatusPending && !now.Before(request.ExpiresAt) {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		e.expireRequest(ctx, id)
	}

	e.auth.prune(now)
	return len(stale)
}

// --- timer plumbing -------------------------------------------------------

func requestKey(id string) string { return "override.expiry:" + id }

func (e *Engine) onExpiryTimer(id string) {
	e.expireRequest(context.Background(), id)
}

// expireRequest performs the timer-driven Pending→Expired transition; a no-op
// for any other status.
func (e *Engine) expireRequest(ctx context.Context, requestID string) {
	now := e.now()

	e.mu.Lock()
	request, ok := e.requests[requestID]
	if !ok || request.Status != StatusPending || now.Before(request.ExpiresAt) {
		e.mu.Unlock()
		return
	}

	request.Status = StatusExpired
	request.ProcessedAt = &now
	request.Trail = append(request.Trail, TrailEntry{
		At:     now,
		Action: "request_expired",
		Actor:  systemActor,
		Detail: "approval window elapsed",
	})
	e.timers.Cancel(requestKey(requestID))
	snapshot := request.Clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	metrics.OverrideRequests.WithLabelValues(string(snapshot.Type), string(StatusExpired)).Inc()

	e.record(ctx, audit.Event{
		Type:     "override.expired",
		Actor:    systemActor,
		Target:   snapshot.TargetUserID,
		Severity: audit.SeverityWarning,
		Metadata: map[string]any{
			"request_id":    snapshot.ID,
			"override_type": snapshot.Type,
		},
	})
}

// --- collaborator plumbing ------------------------------------------------

func (e *Engine) denyAudit(ctx context.Context, requestID, actor, reason string) {
	e.record(ctx, audit.Event{
		Type:     "override.denied",
		Actor:    actor,
		Severity: audit.SeverityWarning,
		Metadata: map[string]any{"request_id": requestID, "reason": reason},
	})
}

// persist saves the snapshot; persistence failures never corrupt in-memory
// state and degrade to a logged warning (the in-memory pipeline stays
// authoritative until the next successful flush).
func (e *Engine) persist(ctx context.Context, snapshot *Request) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, snapshot); err != nil {
		e.log.Warn("override persist failed", zap.String("request_id", snapshot.ID), zap.Error(err))
	}
}

func (e *Engine) record(ctx context.Context, event audit.Event) {
	if e.recorder == nil {
		return
	}
	if _, err := e.recorder.Record(ctx, event); err != nil {
		e.log.Warn("audit record failed", zap.String("event", event.Type), zap.Error(err))
	}
}
