package sessions

import (
	"context"
	"errors"
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
	DefaultMaxDuration      = 8 * time.Hour
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultWarningThreshold = 30 * time.Minute
	DefaultRefreshThreshold = time.Hour
	DefaultMaxRefreshCount  = 3
)

// Rejection reasons surfaced to callers when an operation is refused.
var (
	// ErrSessionNotFound indicates no live session matches the identifier.
	ErrSessionNotFound = errors.New("session manager: session not found")
	// ErrSessionNotActive indicates the session state forbids the operation.
	ErrSessionNotActive = errors.New("session manager: session not active")
	// ErrRefreshLimit indicates the configured refresh maximum was reached.
	ErrRefreshLimit = errors.New("session manager: refresh limit reached")
)

// Validation reason codes and security issue identifiers.
const (
	ReasonNotFound    = "not_found"
	ReasonExpired     = "expired"
	ReasonIdleTimeout = "idle_timeout"

	IssueIdleTimeout        = "idle_timeout"
	IssueDeviceTrust        = "device_trust_inconsistency"
	IssueRefreshRateAnomaly = "refresh_rate_anomaly"
)

const refreshAnomalyGap = time.Minute

// Store is the persistence port for sessions: load the survivors on startup,
// save on every mutation, delete on terminal removal.
type Store interface {
	// LoadLive returns all persisted sessions that have not yet reached their
	// hard expiry at the supplied instant. Rows already past expiry must be
	// discarded by the implementation.
	LoadLive(ctx context.Context, now time.Time) ([]*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
}

// Config describes tunable behaviour for the session Manager.
type Config struct {
	MaxDuration      time.Duration
	IdleTimeout      time.Duration
	WarningThreshold time.Duration
	RefreshThreshold time.Duration
	MaxRefreshCount  int
}

func (c *Config) applyDefaults() {
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = DefaultWarningThreshold
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = DefaultRefreshThreshold
	}
	if c.MaxRefreshCount <= 0 {
		c.MaxRefreshCount = DefaultMaxRefreshCount
	}
}

// CreateParams carries the attributes required to open a session on login.
type CreateParams struct {
	UserID       string
	RestaurantID string
	Role         string
	DeviceID     string
	IPAddress    string
	UserAgent    string
	Metadata     Metadata
}

// Manager owns the set of live sessions, enforces the lifecycle state machine,
// schedules warning and expiry timers, and answers validation queries. A single
// mutex serializes timer callbacks and direct-call mutations so a refresh and
// an expiry timer can never race on the same session.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
	store    Store
	recorder audit.Recorder
	timers   *timers.Scheduler
	now      func() time.Time
	log      *zap.Logger
}

// Option customises Manager dependencies.
type Option func(*Manager)

// WithStore wires the persistence port.
func WithStore(store Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithRecorder wires the audit sink consuming lifecycle events.
func WithRecorder(recorder audit.Recorder) Option {
	return func(m *Manager) {
		m.recorder = recorder
	}
}

// WithClock overrides the clock used for every timestamp (test helper).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a session Manager. The manager owns its own store map
// and scheduler; multiple isolated instances can coexist (used heavily in tests).
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()

	m := &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		timers:   timers.New(),
		now:      time.Now,
		log:      logger.WithModule("sessions"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start rehydrates persisted sessions and re-registers their timers. Sessions
// already past expiry are discarded by the store on load.
func (m *Manager) Start(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	loaded, err := m.store.LoadLive(ctx, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range loaded {
		if session == nil || session.ID == "" || session.State.Terminal() {
			continue
		}
		m.sessions[session.ID] = session
		m.scheduleTimers(session)
	}

	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.log.Info("sessions rehydrated", zap.Int("count", len(m.sessions)))
	return nil
}

// Shutdown cancels every pending timer. In-memory state is left intact for a
// final persistence flush by the caller if desired.
func (m *Manager) Shutdown() {
	m.timers.Stop()
}

// Create opens a new session for a successful authentication. Creation always
// succeeds; persistence failures degrade to log-and-continue.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Session, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, errors.New("session manager: user id is required")
	}
	if strings.TrimSpace(params.RestaurantID) == "" {
		return nil, errors.New("session manager: restaurant id is required")
	}
	if strings.TrimSpace(params.Role) == "" {
		return nil, errors.New("session manager: role is required")
	}

	now := m.now()
	session := &Session{
		ID:            uuid.NewString(),
		UserID:        strings.TrimSpace(params.UserID),
		RestaurantID:  strings.TrimSpace(params.RestaurantID),
		Role:          strings.TrimSpace(params.Role),
		DeviceID:      strings.TrimSpace(params.DeviceID),
		IPAddress:     strings.TrimSpace(params.IPAddress),
		UserAgent:     strings.TrimSpace(params.UserAgent),
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.MaxDuration),
		LastActivity:  now,
		LastRefresh:   now,
		State:         StateActive,
		SecurityLevel: scoreSecurityLevel(params.Metadata),
		Metadata:      params.Metadata,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.scheduleTimers(session)
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	metrics.ActiveSessions.Inc()
	metrics.SessionEvents.WithLabelValues("created").Inc()

	m.record(ctx, audit.Event{
		Type:     "session.created",
		Actor:    snapshot.UserID,
		Target:   snapshot.ID,
		Severity: audit.SeverityInfo,
		Metadata: map[string]any{
			"restaurant_id":  snapshot.RestaurantID,
			"role":           snapshot.Role,
			"device_id":      snapshot.DeviceID,
			"login_method":   snapshot.Metadata.LoginMethod,
			"security_level": snapshot.SecurityLevel,
			"expires_at":     snapshot.ExpiresAt,
		},
	})

	return snapshot, nil
}

// Validate answers whether the session is currently usable, transitioning it to
// Expired or Suspended as a side effect when the respective limits have passed.
func (m *Manager) Validate(ctx context.Context, sessionID string) ValidationResult {
	now := m.now()

	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ValidationResult{Valid: false, State: StateExpired, Reason: ReasonNotFound}
	}

	// Hard expiry beats every other check: the session is removed.
	if !now.Before(session.ExpiresAt) {
		snapshot := m.expireLocked(session)
		m.mu.Unlock()
		m.finishExpire(ctx, snapshot)
		return ValidationResult{Valid: false, State: StateExpired, Reason: ReasonExpired}
	}

	// Idle timeout suspends the session but keeps it in the live store.
	if now.Sub(session.LastActivity) > m.cfg.IdleTimeout {
		snapshot := m.suspendLocked(session)
		m.mu.Unlock()
		m.finishSuspend(ctx, snapshot, ReasonIdleTimeout)
		return ValidationResult{
			Valid:  false,
			State:  StateSuspended,
			Reason: ReasonIdleTimeout,
			Issues: []string{IssueIdleTimeout},
		}
	}

	if !session.State.Live() {
		state := session.State
		m.mu.Unlock()
		return ValidationResult{Valid: false, State: state, Reason: string(state)}
	}

	remaining := session.ExpiresAt.Sub(now)
	result := ValidationResult{
		Valid:        true,
		State:        session.State,
		ExpiresAt:    session.ExpiresAt,
		Remaining:    remaining,
		NeedsRefresh: remaining < m.cfg.RefreshThreshold && session.RefreshCount < m.cfg.MaxRefreshCount,
		NeedsWarning: remaining < m.cfg.WarningThreshold && !session.WarningIssued,
	}

	// Secondary anomaly heuristics; findings do not invalidate the session.
	// The stored level must match what the metadata scores to; a mismatch means
	// the row was altered outside the manager (typically a tampered rehydrated row).
	var violations []string
	if session.SecurityLevel != scoreSecurityLevel(session.Metadata) {
		violations = append(violations, IssueDeviceTrust)
	}
	if session.RefreshCount > 2 && !session.PrevRefresh.IsZero() &&
		session.LastRefresh.Sub(session.PrevRefresh) < refreshAnomalyGap {
		violations = append(violations, IssueRefreshRateAnomaly)
	}
	result.Issues = append(result.Issues, violations...)

	snapshot := session.Clone()
	m.mu.Unlock()

	for _, issue := range violations {
		m.record(ctx, audit.Event{
			Type:     "session.security_violation",
			Actor:    snapshot.UserID,
			Target:   snapshot.ID,
			Severity: audit.SeverityWarning,
			Metadata: map[string]any{"issue": issue},
		})
	}

	return result
}

// Refresh extends the session from now, resets the warning flag and increments
// the refresh counter. An attempt past the configured maximum forces expiry.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (*Session, error) {
	now := m.now()

	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if !session.State.Live() {
		m.mu.Unlock()
		return nil, ErrSessionNotActive
	}

	if session.RefreshCount >= m.cfg.MaxRefreshCount {
		snapshot := m.expireLocked(session)
		m.mu.Unlock()
		m.finishExpire(ctx, snapshot)
		return nil, ErrRefreshLimit
	}

	session.PrevRefresh = session.LastRefresh
	session.LastRefresh = now
	session.LastActivity = now
	session.ExpiresAt = now.Add(m.cfg.MaxDuration)
	session.WarningIssued = false
	session.State = StateActive
	session.RefreshCount++
	m.scheduleTimers(session)
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	metrics.SessionEvents.WithLabelValues("refreshed").Inc()

	m.record(ctx, audit.Event{
		Type:     "session.refreshed",
		Actor:    snapshot.UserID,
		Target:   snapshot.ID,
		Severity: audit.SeverityInfo,
		Metadata: map[string]any{
			"refresh_count": snapshot.RefreshCount,
			"expires_at":    snapshot.ExpiresAt,
		},
	})

	return snapshot, nil
}

// UpdateActivity records staff activity on an Active session.
func (m *Manager) UpdateActivity(ctx context.Context, sessionID string) error {
	now := m.now()

	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.State != StateActive {
		m.mu.Unlock()
		return ErrSessionNotActive
	}

	session.LastActivity = now
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)

	m.record(ctx, audit.Event{
		Type:     "session.activity",
		Actor:    snapshot.UserID,
		Target:   snapshot.ID,
		Severity: audit.SeverityInfo,
	})

	return nil
}

// IssueWarning moves the session into Warning and flags it. Idempotent: a
// session that was already warned is left untouched.
func (m *Manager) IssueWarning(ctx context.Context, sessionID string) error {
	now := m.now()

	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.WarningIssued {
		m.mu.Unlock()
		return nil
	}
	if !session.State.Live() {
		m.mu.Unlock()
		return ErrSessionNotActive
	}

	session.State = StateWarning
	session.WarningIssued = true
	remaining := session.ExpiresAt.Sub(now)
	canRefresh := session.RefreshCount < m.cfg.MaxRefreshCount
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	metrics.SessionEvents.WithLabelValues("warning").Inc()

	m.record(ctx, audit.Event{
		Type:     "session.warning",
		Actor:    snapshot.UserID,
		Target:   snapshot.ID,
		Severity: audit.SeverityInfo,
		Metadata: map[string]any{
			"remaining":   remaining.String(),
			"can_refresh": canRefresh,
		},
	})

	return nil
}

// Terminate explicitly ends the session, cancels its timers and removes it from
// the live store. Terminal: the identifier cannot be resurrected.
func (m *Manager) Terminate(ctx context.Context, sessionID, reason string) error {
	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}

	m.cancelTimers(sessionID)
	session.State = StateTerminated
	delete(m.sessions, sessionID)
	snapshot := session.Clone()
	m.mu.Unlock()

	m.remove(ctx, snapshot.ID)
	metrics.ActiveSessions.Dec()
	metrics.SessionEvents.WithLabelValues("terminated").Inc()

	m.record(ctx, audit.Event{
		Type:     "session.terminated",
		Actor:    snapshot.UserID,
		Target:   snapshot.ID,
		Severity: audit.SeverityInfo,
		Metadata: map[string]any{"reason": reason},
	})

	return nil
}

// Expire forces the session into the terminal Expired state.
func (m *Manager) Expire(ctx context.Context, sessionID string) error {
	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}

	snapshot := m.expireLocked(session)
	m.mu.Unlock()

	m.finishExpire(ctx, snapshot)
	return nil
}

// Suspend pauses the session without removing it from the live store.
func (m *Manager) Suspend(ctx context.Context, sessionID, reason string) error {
	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.State.Terminal() {
		m.mu.Unlock()
		return ErrSessionNotActive
	}

	snapshot := m.suspendLocked(session)
	m.mu.Unlock()

	m.finishSuspend(ctx, snapshot, reason)
	return nil
}

// Get returns a snapshot of the live session, if present.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return session.Clone(), true
}

// Stats summarises the live session population.
func (m *Manager) Stats() Stats {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Total:           len(m.sessions),
		ByState:         make(map[State]int),
		BySecurityLevel: make(map[SecurityLevel]int),
	}

	var totalAge time.Duration
	for _, session := range m.sessions {
		stats.ByState[session.State]++
		stats.BySecurityLevel[session.SecurityLevel]++
		totalAge += now.Sub(session.CreatedAt)
	}
	if len(m.sessions) > 0 {
		stats.AverageAge = totalAge / time.Duration(len(m.sessions))
	}

	return stats
}

// CleanupExpired sweeps every session past its hard expiry, as a backstop for
// timers lost across restarts. Returns the number of sessions expired.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	expired := make([]*Session, 0)
	for _, session := range m.sessions {
		if !now.Before(session.ExpiresAt) {
			expired = append(expired, m.expireLocked(session))
		}
	}
	m.mu.Unlock()

	for _, snapshot := range expired {
		m.finishExpire(ctx, snapshot)
	}
	return len(expired)
}

// ExtendFor lengthens the session lifetime by the supplied duration on behalf
// of an approved manager override. Unlike Refresh it does not consume a refresh
// slot; the extension was explicitly authorized.
func (m *Manager) ExtendFor(ctx context.Context, sessionID string, extension time.Duration, actor string) (time.Time, error) {
	if extension <= 0 {
		extension = m.cfg.MaxDuration
	}
	now := m.now()

	m.mu.Lock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return time.Time{}, ErrSessionNotFound
	}
	if session.State.Terminal() {
		m.mu.Unlock()
		return time.Time{}, ErrSessionNotActive
	}

	session.ExpiresAt = now.Add(extension)
	session.LastRefresh = now
	session.WarningIssued = false
	if session.State == StateWarning || session.State == StateSuspended {
		session.State = StateActive
	}
	m.scheduleTimers(session)
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	metrics.SessionEvents.WithLabelValues("extended").Inc()

	m.record(ctx, audit.Event{
		Type:     "session.extended",
		Actor:    actor,
		Target:   snapshot.ID,
		Severity: audit.SeverityWarning,
		Metadata: map[string]any{
			"extension":  extension.String(),
			"expires_at": snapshot.ExpiresAt,
		},
	})

	return snapshot.ExpiresAt, nil
}

// --- timer plumbing -------------------------------------------------------

func warningKey(id string) string { return "session.warning:" + id }
func expiryKey(id string) string  { return "session.expiry:" + id }

// scheduleTimers (re)arms the warning and expiry timers. Caller holds the lock.
func (m *Manager) scheduleTimers(session *Session) {
	now := m.now()
	id := session.ID

	m.timers.Schedule(expiryKey(id), session.ExpiresAt.Sub(now), func() {
		m.onExpiryTimer(id)
	})
	m.timers.Schedule(warningKey(id), session.ExpiresAt.Add(-m.cfg.WarningThreshold).Sub(now), func() {
		m.onWarningTimer(id)
	})
}

// cancelTimers drops both timers. Caller holds the lock. Cancellation happens
// before removal so a stale timer can never act on a reused identifier.
func (m *Manager) cancelTimers(id string) {
	m.timers.Cancel(warningKey(id))
	m.timers.Cancel(expiryKey(id))
}

func (m *Manager) onWarningTimer(id string) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	// Re-check under the lock: a refresh may have pushed expiry out again.
	if !ok || session.WarningIssued || !session.State.Live() ||
		m.now().Before(session.ExpiresAt.Add(-m.cfg.WarningThreshold)) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	_ = m.IssueWarning(context.Background(), id)
}

func (m *Manager) onExpiryTimer(id string) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok || m.now().Before(session.ExpiresAt) {
		m.mu.Unlock()
		return
	}
	snapshot := m.expireLocked(session)
	m.mu.Unlock()

	m.finishExpire(context.Background(), snapshot)
}

// --- state helpers --------------------------------------------------------

// expireLocked cancels timers, marks the session Expired and drops it from the
// live map. Caller holds the lock; returns a snapshot for post-lock effects.
func (m *Manager) expireLocked(session *Session) *Session {
	m.cancelTimers(session.ID)
	session.State = StateExpired
	delete(m.sessions, session.ID)
	return session.Clone()
}

// suspendLocked cancels timers and marks the session Suspended, keeping it in
// the live map. Caller holds the lock.
func (m *Manager) suspendLocked(session *Session) *Session {
	m.cancelTimers(session.ID)
	session.State = StateSuspended
	return session.Clone()
}

func (m *Manager) finishExpire(ctx context.Context, snapshot *Session) {
	m.remove(ctx, snapshot.ID)
	metrics.ActiveSessions.Dec()
	metrics.SessionEvents.WithLabelValues("expired").Inc()

	m.record(ctx, audit.Event{
		Type:     "session.expired",
		Actor:    snapshot.UserID,
		Target:   snapshot.ID,
		Severity: audit.SeverityInfo,
		Metadata: map[string]any{"refresh_count": snapshot.RefreshCount},
	})
}

func (m *Manager) finishSuspend(ctx context.Context, snapshot *Session, reason string) {
	m.persist(ctx, snapshot)
	metrics.SessionEvents.WithLabelValues("suspended").Inc()

	m.record(ctx, audit.Event{
		Type:     "session.suspended",
		Actor:    snapshot.UserID,
		Target:   snapshot.ID,
		Severity: audit.SeverityWarning,
		Metadata: map[string]any{"reason": reason},
	})
}

// --- collaborator plumbing ------------------------------------------------

// persist saves the snapshot; persistence failures never corrupt in-memory
// state and degrade to a logged warning.
func (m *Manager) persist(ctx context.Context, snapshot *Session) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, snapshot); err != nil {
		m.log.Warn("session persist failed", zap.String("session_id", snapshot.ID), zap.Error(err))
	}
}

func (m *Manager) remove(ctx context.Context, sessionID string) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		m.log.Warn("session delete failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (m *Manager) record(ctx context.Context, event audit.Event) {
	if m.recorder == nil {
		return
	}
	if _, err := m.recorder.Record(ctx, event); err != nil {
		m.log.Warn("audit record failed", zap.String("event", event.Type), zap.Error(err))
	}
}
