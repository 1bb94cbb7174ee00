package sessions

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/database"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func sampleSession(now time.Time) *Session {
	return &Session{
		ID:            uuid.NewString(),
		UserID:        uuid.NewString(),
		RestaurantID:  uuid.NewString(),
		Role:          "server",
		DeviceID:      "tablet-3",
		IPAddress:     "10.0.0.5",
		UserAgent:     "pos-terminal/2.4",
		CreatedAt:     now,
		ExpiresAt:     now.Add(8 * time.Hour),
		LastActivity:  now,
		LastRefresh:   now,
		State:         StateActive,
		SecurityLevel: SecurityMedium,
		Metadata: Metadata{
			LoginMethod:      LoginPIN,
			LocationVerified: true,
			Features:         []string{"orders", "reports"},
		},
	}
}

func TestGormStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	session := sampleSession(now)
	require.NoError(t, store.Save(context.Background(), session))

	loaded, err := store.LoadLive(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	require.Equal(t, session.ID, got.ID)
	require.Equal(t, session.UserID, got.UserID)
	require.Equal(t, StateActive, got.State)
	require.Equal(t, SecurityMedium, got.SecurityLevel)
	require.Equal(t, LoginPIN, got.Metadata.LoginMethod)
	require.True(t, got.Metadata.LocationVerified)
	require.Equal(t, []string{"orders", "reports"}, got.Metadata.Features)
	require.WithinDuration(t, session.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestGormStoreSaveUpserts(t *testing.T) {
	db := newTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	session := sampleSession(now)
	require.NoError(t, store.Save(context.Background(), session))

	session.State = StateWarning
	session.WarningIssued = true
	session.RefreshCount = 2
	require.NoError(t, store.Save(context.Background(), session))

	var count int64
	require.NoError(t, db.Model(&models.StaffSession{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	loaded, err := store.LoadLive(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, StateWarning, loaded[0].State)
	require.True(t, loaded[0].WarningIssued)
	require.Equal(t, 2, loaded[0].RefreshCount)
}

func TestGormStoreLoadLivePurgesExpiredRows(t *testing.T) {
	db := newTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)

	live := sampleSession(now)
	require.NoError(t, store.Save(context.Background(), live))

	stale := sampleSession(now.Add(-10 * time.Hour))
	require.NoError(t, store.Save(context.Background(), stale))

	loaded, err := store.LoadLive(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, live.ID, loaded[0].ID)

	var count int64
	require.NoError(t, db.Model(&models.StaffSession{}).Count(&count).Error)
	require.EqualValues(t, 1, count, "expired row must be purged")
}

func TestGormStoreDelete(t *testing.T) {
	db := newTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	session := sampleSession(now)
	require.NoError(t, store.Save(context.Background(), session))
	require.NoError(t, store.Delete(context.Background(), session.ID))

	loaded, err := store.LoadLive(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, loaded)
}
