package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/audit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]*Session
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]*Session)}
}

func (s *memoryStore) LoadLive(_ context.Context, now time.Time) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make([]*Session, 0, len(s.rows))
	for id, row := range s.rows {
		if !now.Before(row.ExpiresAt) {
			delete(s.rows, id)
			continue
		}
		live = append(live, row.Clone())
	}
	return live, nil
}

func (s *memoryStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[session.ID] = session.Clone()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Record(_ context.Context, event audit.Event) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return "audit-id", nil
}

func (r *recordingSink) byType(eventType string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]audit.Event, 0)
	for _, event := range r.events {
		if event.Type == eventType {
			matches = append(matches, event)
		}
	}
	return matches
}

func newTestManager(t *testing.T, clock *testClock, opts ...Option) *Manager {
	t.Helper()
	base := []Option{WithClock(clock.Now)}
	m := NewManager(Config{}, append(base, opts...)...)
	t.Cleanup(m.Shutdown)
	return m
}

func createSession(t *testing.T, m *Manager, meta Metadata) *Session {
	t.Helper()
	session, err := m.Create(context.Background(), CreateParams{
		UserID:       "staff-17",
		RestaurantID: "rest-1",
		Role:         "server",
		DeviceID:     "tablet-3",
		Metadata:     meta,
	})
	require.NoError(t, err)
	return session
}

func TestCreateDerivesSecurityLevel(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	high := createSession(t, m, Metadata{LoginMethod: LoginBiometric, DeviceTrusted: true})
	require.Equal(t, SecurityHigh, high.SecurityLevel)

	medium := createSession(t, m, Metadata{LoginMethod: LoginPIN, LocationVerified: true})
	require.Equal(t, SecurityMedium, medium.SecurityLevel)

	low := createSession(t, m, Metadata{LoginMethod: LoginEmergency})
	require.Equal(t, SecurityLow, low.SecurityLevel)

	require.Equal(t, StateActive, high.State)
	require.Equal(t, clock.Now().Add(DefaultMaxDuration), high.ExpiresAt)
}

func TestCreateRequiresIdentity(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	_, err := m.Create(context.Background(), CreateParams{RestaurantID: "rest-1", Role: "server"})
	require.Error(t, err)

	_, err = m.Create(context.Background(), CreateParams{UserID: "staff-1", Role: "server"})
	require.Error(t, err)
}

// End-of-shift flow: warning window reached, warning issued, refresh restores
// an Active session with a full new lifetime.
func TestWarningThenRefreshRestoresActive(t *testing.T) {
	clock := newTestClock()
	sink := &recordingSink{}
	m := newTestManager(t, clock, WithRecorder(sink))

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN, DeviceTrusted: true})

	// Work through the shift in bursts so the idle timeout never trips; stop
	// with 25 minutes left on the clock.
	for i := 0; i < 18; i++ {
		clock.Advance(25 * time.Minute)
		require.NoError(t, m.UpdateActivity(context.Background(), session.ID))
	}
	clock.Advance(5 * time.Minute)

	result := m.Validate(context.Background(), session.ID)
	require.True(t, result.Valid)
	require.True(t, result.NeedsWarning)
	require.True(t, result.NeedsRefresh, "25m remaining is inside the refresh threshold")

	require.NoError(t, m.IssueWarning(context.Background(), session.ID))

	warned, ok := m.Get(session.ID)
	require.True(t, ok)
	require.Equal(t, StateWarning, warned.State)
	require.True(t, warned.WarningIssued)

	refreshed, err := m.Refresh(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, StateActive, refreshed.State)
	require.Equal(t, 1, refreshed.RefreshCount)
	require.False(t, refreshed.WarningIssued)
	require.Equal(t, clock.Now().Add(DefaultMaxDuration), refreshed.ExpiresAt)
	require.Equal(t, refreshed.LastRefresh.Add(DefaultMaxDuration), refreshed.ExpiresAt)

	require.Len(t, sink.byType("session.warning"), 1)
	require.Len(t, sink.byType("session.refreshed"), 1)
}

func TestIssueWarningIsIdempotent(t *testing.T) {
	clock := newTestClock()
	sink := &recordingSink{}
	m := newTestManager(t, clock, WithRecorder(sink))

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	require.NoError(t, m.IssueWarning(context.Background(), session.ID))
	require.NoError(t, m.IssueWarning(context.Background(), session.ID))
	require.NoError(t, m.IssueWarning(context.Background(), session.ID))

	require.Len(t, sink.byType("session.warning"), 1)
}

func TestValidateExpiresPastHardLimit(t *testing.T) {
	clock := newTestClock()
	store := newMemoryStore()
	m := newTestManager(t, clock, WithStore(store))

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	clock.Advance(DefaultMaxDuration + time.Minute)

	result := m.Validate(context.Background(), session.ID)
	require.False(t, result.Valid)
	require.Equal(t, StateExpired, result.State)
	require.Equal(t, ReasonExpired, result.Reason)

	_, ok := m.Get(session.ID)
	require.False(t, ok, "expired session must leave the live set")
	require.Contains(t, store.deleted, session.ID)
}

func TestValidateUnknownSession(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	result := m.Validate(context.Background(), "nope")
	require.False(t, result.Valid)
	require.Equal(t, ReasonNotFound, result.Reason)
}

// Idle staff member: validation suspends the session but keeps it recoverable.
func TestValidateSuspendsOnIdleTimeout(t *testing.T) {
	clock := newTestClock()
	sink := &recordingSink{}
	m := newTestManager(t, clock, WithRecorder(sink))

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	clock.Advance(DefaultIdleTimeout + time.Minute)

	result := m.Validate(context.Background(), session.ID)
	require.False(t, result.Valid)
	require.Equal(t, StateSuspended, result.State)
	require.Equal(t, ReasonIdleTimeout, result.Reason)
	require.Contains(t, result.Issues, IssueIdleTimeout)

	suspended, ok := m.Get(session.ID)
	require.True(t, ok, "suspended session stays in the live set")
	require.Equal(t, StateSuspended, suspended.State)

	require.Len(t, sink.byType("session.suspended"), 1)
}

func TestRefreshLimitForcesExpiry(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	for i := 0; i < DefaultMaxRefreshCount; i++ {
		clock.Advance(2 * time.Hour)
		refreshed, err := m.Refresh(context.Background(), session.ID)
		require.NoError(t, err)
		require.Equal(t, i+1, refreshed.RefreshCount)
	}

	clock.Advance(2 * time.Hour)
	_, err := m.Refresh(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrRefreshLimit)

	_, ok := m.Get(session.ID)
	require.False(t, ok, "a refresh past the limit expires the session")
}

func TestRefreshAllowedFromWarning(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})
	require.NoError(t, m.IssueWarning(context.Background(), session.ID))

	refreshed, err := m.Refresh(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, StateActive, refreshed.State)
}

func TestRefreshRejectedWhenSuspended(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})
	require.NoError(t, m.Suspend(context.Background(), session.ID, "manual"))

	_, err := m.Refresh(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrSessionNotActive)
}

func TestUpdateActivityOnlyWhenActive(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	clock.Advance(10 * time.Minute)
	require.NoError(t, m.UpdateActivity(context.Background(), session.ID))

	updated, ok := m.Get(session.ID)
	require.True(t, ok)
	require.Equal(t, clock.Now(), updated.LastActivity)

	require.NoError(t, m.IssueWarning(context.Background(), session.ID))
	require.ErrorIs(t, m.UpdateActivity(context.Background(), session.ID), ErrSessionNotActive)

	require.ErrorIs(t, m.UpdateActivity(context.Background(), "nope"), ErrSessionNotFound)
}

func TestTerminatedSessionCannotBeResurrected(t *testing.T) {
	clock := newTestClock()
	store := newMemoryStore()
	m := newTestManager(t, clock, WithStore(store))

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})
	require.NoError(t, m.Terminate(context.Background(), session.ID, "logout"))

	_, err := m.Refresh(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, m.IssueWarning(context.Background(), session.ID), ErrSessionNotFound)
	require.ErrorIs(t, m.Terminate(context.Background(), session.ID, "again"), ErrSessionNotFound)
	require.Contains(t, store.deleted, session.ID)
}

func TestValidateFlagsRefreshRateAnomaly(t *testing.T) {
	clock := newTestClock()
	sink := &recordingSink{}
	m := newTestManager(t, clock, WithRecorder(sink))

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	// Three spaced refreshes, then a fourth is impossible; instead make the last
	// two refreshes nearly back-to-back within the allowed count.
	clock.Advance(time.Hour)
	_, err := m.Refresh(context.Background(), session.ID)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = m.Refresh(context.Background(), session.ID)
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	_, err = m.Refresh(context.Background(), session.ID)
	require.NoError(t, err)

	result := m.Validate(context.Background(), session.ID)
	require.True(t, result.Valid, "anomaly findings do not invalidate the session")
	require.Contains(t, result.Issues, IssueRefreshRateAnomaly)
	require.NotEmpty(t, sink.byType("session.security_violation"))
}

func TestValidateFlagsTamperedSecurityLevel(t *testing.T) {
	clock := newTestClock()
	store := newMemoryStore()
	sink := &recordingSink{}
	m := newTestManager(t, clock, WithStore(store), WithRecorder(sink))

	session := createSession(t, m, Metadata{LoginMethod: LoginBiometric, DeviceTrusted: true})
	m.Shutdown()

	// Downgrade the persisted level behind the manager's back.
	store.mu.Lock()
	store.rows[session.ID].SecurityLevel = SecurityLow
	store.mu.Unlock()

	restarted := newTestManager(t, clock, WithStore(store), WithRecorder(sink))
	require.NoError(t, restarted.Start(context.Background()))

	result := restarted.Validate(context.Background(), session.ID)
	require.True(t, result.Valid, "anomaly findings do not invalidate the session")
	require.Contains(t, result.Issues, IssueDeviceTrust)
	require.NotEmpty(t, sink.byType("session.security_violation"))
}

func TestExtendForReactivatesWithoutConsumingRefresh(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	session := createSession(t, m, Metadata{LoginMethod: LoginPIN})
	require.NoError(t, m.Suspend(context.Background(), session.ID, "idle_timeout"))

	expiresAt, err := m.ExtendFor(context.Background(), session.ID, 2*time.Hour, "manager-9")
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(2*time.Hour), expiresAt)

	extended, ok := m.Get(session.ID)
	require.True(t, ok)
	require.Equal(t, StateActive, extended.State)
	require.Equal(t, 0, extended.RefreshCount)
	require.False(t, extended.WarningIssued)
}

func TestStatsSummarisesPopulation(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	createSession(t, m, Metadata{LoginMethod: LoginBiometric, DeviceTrusted: true})
	b := createSession(t, m, Metadata{LoginMethod: LoginPIN, LocationVerified: true})
	createSession(t, m, Metadata{LoginMethod: LoginEmergency})

	require.NoError(t, m.IssueWarning(context.Background(), b.ID))

	stats := m.Stats()
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.ByState[StateActive])
	require.Equal(t, 1, stats.ByState[StateWarning])
	require.Equal(t, 1, stats.BySecurityLevel[SecurityHigh])
	require.Equal(t, 1, stats.BySecurityLevel[SecurityMedium])
	require.Equal(t, 1, stats.BySecurityLevel[SecurityLow])
}

func TestCleanupExpiredSweepsOnlyPastExpiry(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	stale := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	clock.Advance(4 * time.Hour)
	fresh := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	clock.Advance(DefaultMaxDuration - 3*time.Hour)

	removed := m.CleanupExpired(context.Background())
	require.Equal(t, 1, removed)

	_, ok := m.Get(stale.ID)
	require.False(t, ok)
	_, ok = m.Get(fresh.ID)
	require.True(t, ok)
}

// Restart recovery: a new manager over the same store resumes the survivors and
// silently discards rows already past expiry.
func TestStartRehydratesLiveSessions(t *testing.T) {
	clock := newTestClock()
	store := newMemoryStore()
	m := newTestManager(t, clock, WithStore(store))

	keep := createSession(t, m, Metadata{LoginMethod: LoginPIN})

	clock.Advance(5 * time.Hour)
	drop := createSession(t, m, Metadata{LoginMethod: LoginPIN})
	require.NoError(t, m.Terminate(context.Background(), drop.ID, "logout"))
	m.Shutdown()

	// keep expires at t0+8h; restart at t0+7h.
	clock.Advance(2 * time.Hour)

	restarted := newTestManager(t, clock, WithStore(store))
	require.NoError(t, restarted.Start(context.Background()))

	resumed, ok := restarted.Get(keep.ID)
	require.True(t, ok)
	require.Equal(t, keep.ID, resumed.ID)
	require.Equal(t, keep.ExpiresAt, resumed.ExpiresAt)

	_, ok = restarted.Get(drop.ID)
	require.False(t, ok)
}

func TestStartDiscardsRowsPastExpiry(t *testing.T) {
	clock := newTestClock()
	store := newMemoryStore()
	m := newTestManager(t, clock, WithStore(store))

	gone := createSession(t, m, Metadata{LoginMethod: LoginPIN})
	m.Shutdown()

	clock.Advance(DefaultMaxDuration + time.Hour)

	restarted := newTestManager(t, clock, WithStore(store))
	require.NoError(t, restarted.Start(context.Background()))

	_, ok := restarted.Get(gone.ID)
	require.False(t, ok)
	require.Equal(t, 0, restarted.Stats().Total)
}
