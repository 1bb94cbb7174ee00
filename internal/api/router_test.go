package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/app"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/database"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/directory"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/overrides"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/sessions"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type fixture struct {
	router *gin.Engine
	staff  *directory.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	staff, err := directory.NewService(db)
	require.NoError(t, err)

	manager := sessions.NewManager(sessions.Config{})
	t.Cleanup(manager.Shutdown)

	engine, err := overrides.NewEngine(overrides.Config{DualApproval: true}, staff, staff,
		overrides.WithLockoutStore(staff),
		overrides.WithCredentialResetter(staff),
		overrides.WithSessionExtender(manager),
	)
	require.NoError(t, err)
	t.Cleanup(engine.Shutdown)

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true

	router, err := NewRouter(cfg, manager, engine, nil)
	require.NoError(t, err)

	return &fixture{router: router, staff: staff}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env),
		"body: %s", rec.Body.String())
	return rec, env
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestUnknownRouteReturnsJSONNotFound(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "route /api/nope not found")
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/sessions", gin.H{
		"user_id":           "staff-17",
		"restaurant_id":     "rest-1",
		"role":              "server",
		"device_id":         "tablet-3",
		"login_method":      "biometric",
		"device_trusted":    true,
		"location_verified": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)

	var created sessions.Session
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, sessions.StateActive, created.State)
	require.Equal(t, sessions.SecurityHigh, created.SecurityLevel)

	rec, env = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result sessions.ValidationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.True(t, result.Valid)

	rec, _ = f.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed sessions.Session
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	require.Equal(t, 1, refreshed.RefreshCount)

	rec, _ = f.do(t, http.MethodDelete, "/api/sessions/"+created.ID, gin.H{"reason": "end of shift"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestSessionCreateRejectsBadPayload(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/sessions", gin.H{
		"user_id":   "staff-17",
		"device_id": "tablet-3",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)

	rec, env = f.do(t, http.MethodPost, "/api/sessions", gin.H{
		"user_id":      "staff-17",
		"device_id":    "tablet-3",
		"login_method": "carrier-pigeon",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
}

func TestOverrideWorkflowOverHTTP(t *testing.T) {
	f := newFixture(t)

	_, err := f.staff.CreateAccount(context.Background(), "manager-1", "manager", overrides.LevelManager, "rest-1", "1111")
	require.NoError(t, err)
	_, err = f.staff.CreateAccount(context.Background(), "server-9", "server", overrides.LevelManager, "rest-1", "4821")
	require.NoError(t, err)

	// A wrong PIN is rejected before any override can be requested.
	rec, env := f.do(t, http.MethodPost, "/api/overrides/authenticate", gin.H{
		"manager_id":    "manager-1",
		"pin":           "0000",
		"override_type": "account_unlock",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	rec, env = f.do(t, http.MethodPost, "/api/overrides/authenticate", gin.H{
		"manager_id":    "manager-1",
		"pin":           "1111",
		"device_id":     "tablet-1",
		"override_type": "account_unlock",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var authCtx overrides.ManagerAuthContext
	require.NoError(t, json.Unmarshal(env.Data, &authCtx))
	require.Equal(t, "manager-1", authCtx.ManagerID)
	require.Equal(t, overrides.LevelManager, authCtx.Level)

	// Critical urgency waives approval for account unlock.
	rec, env = f.do(t, http.MethodPost, "/api/overrides", gin.H{
		"type":           "account_unlock",
		"target_user_id": "server-9",
		"requested_by":   "manager-1",
		"justification":  "locked out during dinner rush",
		"urgency":        "critical",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var request overrides.Request
	require.NoError(t, json.Unmarshal(env.Data, &request))
	require.Equal(t, overrides.StatusApproved, request.Status)
	require.False(t, request.ApprovalRequired)

	rec, env = f.do(t, http.MethodPost, "/api/overrides/"+request.ID+"/execute", gin.H{
		"actor": "manager-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var executed struct {
		Request overrides.Request `json:"request"`
		Outcome struct {
			UserID string `json:"user_id"`
		} `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &executed))
	require.Equal(t, overrides.StatusExecuted, executed.Request.Status)
	require.Equal(t, "server-9", executed.Outcome.UserID)

	// Nothing pending remains after execution.
	rec, env = f.do(t, http.MethodGet, "/api/overrides", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []overrides.Request
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Empty(t, pending)
}

func TestOverrideCreateRequiresFreshAuth(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/overrides", gin.H{
		"type":           "account_unlock",
		"target_user_id": "server-9",
		"requested_by":   "manager-1",
		"justification":  "locked out",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "override.auth_required", env.Error.Code)
}

func TestOverrideSelfApprovalRejectedOverHTTP(t *testing.T) {
	f := newFixture(t)

	_, err := f.staff.CreateAccount(context.Background(), "manager-2", "manager", overrides.LevelSeniorManager, "rest-1", "2222")
	require.NoError(t, err)
	_, err = f.staff.CreateAccount(context.Background(), "server-9", "server", overrides.LevelManager, "rest-1", "4821")
	require.NoError(t, err)

	rec, _ := f.do(t, http.MethodPost, "/api/overrides/authenticate", gin.H{
		"manager_id":    "manager-2",
		"pin":           "2222",
		"override_type": "pin_reset",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodPost, "/api/overrides", gin.H{
		"type":           "pin_reset",
		"target_user_id": "server-9",
		"requested_by":   "manager-2",
		"justification":  "forgot pin after vacation",
		"urgency":        "high",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var request overrides.Request
	require.NoError(t, json.Unmarshal(env.Data, &request))
	require.Equal(t, overrides.StatusPending, request.Status)

	rec, env = f.do(t, http.MethodPost, "/api/overrides/"+request.ID+"/approve", gin.H{
		"actor": "manager-2",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "override.self_approval", env.Error.Code)
}
