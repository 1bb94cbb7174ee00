package overrides

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

func sampleRequest(now time.Time) *Request {
	return &Request{
		ID:               uuid.NewString(),
		Type:             TypePINReset,
		TargetUserID:     uuid.NewString(),
		RequestedBy:      uuid.NewString(),
		Justification:    "forgot pin after vacation",
		Urgency:          UrgencyHigh,
		Details:          Details{Reason: "identity verified at host stand"},
		RequestedAt:      now,
		ExpiresAt:        now.Add(24 * time.Hour),
		Status:           StatusPending,
		ApprovalRequired: true,
		Trail: []TrailEntry{{
			At:     now,
			Action: "request_created",
			Actor:  "manager-2",
			Detail: "forgot pin after vacation",
		}},
	}
}

func TestOverrideStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	request := sampleRequest(now)
	require.NoError(t, store.Save(context.Background(), request))

	loaded, err := store.LoadOpen(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	require.Equal(t, request.ID, got.ID)
	require.Equal(t, TypePINReset, got.Type)
	require.Equal(t, StatusPending, got.Status)
	require.True(t, got.ApprovalRequired)
	require.Equal(t, "identity verified at host stand", got.Details.Reason)
	require.Len(t, got.Trail, 1)
	require.Equal(t, "request_created", got.Trail[0].Action)
}

func TestOverrideStoreSaveUpsertsTrail(t *testing.T) {
	db := newTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	request := sampleRequest(now)
	require.NoError(t, store.Save(context.Background(), request))

	processed := now.Add(time.Minute)
	request.Status = StatusApproved
	request.ApprovedBy = "admin-1"
	request.ProcessedAt = &processed
	request.Trail = append(request.Trail, TrailEntry{
		At:     processed,
		Action: "request_approved",
		Actor:  "admin-1",
	})
	require.NoError(t, store.Save(context.Background(), request))

	var count int64
	require.NoError(t, db.Model(&models.OverrideRequest{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var record models.OverrideRequest
	require.NoError(t, db.First(&record, "id = ?", request.ID).Error)
	require.Equal(t, string(StatusApproved), record.Status)

	got, err := requestFromRecord(&record)
	require.NoError(t, err)
	require.Len(t, got.Trail, 2)
	require.Equal(t, "request_approved", got.Trail[1].Action)
	require.NotNil(t, got.ProcessedAt)
}

func TestOverrideStoreLoadOpenExpiresStaleInPlace(t *testing.T) {
	db := newTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)

	fresh := sampleRequest(now)
	require.NoError(t, store.Save(context.Background(), fresh))

	stale := sampleRequest(now.Add(-48 * time.Hour))
	require.NoError(t, store.Save(context.Background(), stale))

	loaded, err := store.LoadOpen(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, fresh.ID, loaded[0].ID)

	// The stale row survives for the audit trail, marked expired.
	var record models.OverrideRequest
	require.NoError(t, db.First(&record, "id = ?", stale.ID).Error)
	require.Equal(t, string(StatusExpired), record.Status)
}
