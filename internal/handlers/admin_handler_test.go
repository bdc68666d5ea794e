package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/handlers"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── GetDashboardStats ─────────────────────────────────────────────────────────

func TestGetDashboardStats_Success_Returns200(t *testing.T) {
	mock := &handlers.MockAdminService{
		GetDashboardStatsFunc: func(_ context.Context, org string) (*services.DashboardStatsResponse, error) {
			assert.Equal(t, "org_1", org)
			return &services.DashboardStatsResponse{
				Security: models.SecurityStats{TrackedIdentities: 12, LockedAccounts: 2, TrackedIPs: 5, BlockedIPs: 1},
				Policy:   services.PolicyView{MaxFailedAttempts: 5, LockoutDuration: "30m0s"},
				APIKeys:  services.APIKeyCounts{Total: 3, Active: 2, Expired: 1},
			}, nil
		},
	}
	h := handlers.NewAdminHandler(mock, nil)

	req := handlers.WithAdminContext(httptest.NewRequest("GET", "/v1/admin/security/stats", nil), "admin_1", "org_1")
	w := httptest.NewRecorder()
	h.GetDashboardStats(w, req)

	var resp services.DashboardStatsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 2, resp.Security.LockedAccounts)
	assert.Equal(t, "30m0s", resp.Policy.LockoutDuration)
	assert.Equal(t, 3, resp.APIKeys.Total)
}

func TestGetDashboardStats_ServiceError_Returns500(t *testing.T) {
	mock := &handlers.MockAdminService{
		GetDashboardStatsFunc: func(context.Context, string) (*services.DashboardStatsResponse, error) {
			return nil, errors.New("redis down")
		},
	}
	h := handlers.NewAdminHandler(mock, nil)

	req := handlers.WithAdminContext(httptest.NewRequest("GET", "/v1/admin/security/stats", nil), "admin_1", "org_1")
	w := httptest.NewRecorder()
	h.GetDashboardStats(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}

// ── UnlockAccount ─────────────────────────────────────────────────────────────

func TestUnlockAccount_Success(t *testing.T) {
	var gotBy models.Initiator
	mock := &handlers.MockAdminService{
		UnlockAccountFunc: func(_ context.Context, identity string, by models.Initiator) (bool, error) {
			assert.Equal(t, "alice@example.com", identity)
			gotBy = by
			return true, nil
		},
	}
	h := handlers.NewAdminHandler(mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/unlock", map[string]string{"identity": "alice@example.com"})
	req.RemoteAddr = "10.0.0.9:4000"
	req = handlers.WithAdminContext(req, "admin_1", "org_1")
	w := httptest.NewRecorder()
	h.UnlockAccount(w, req)

	var resp handlers.UnlockAccountResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.WasLocked)
	assert.Equal(t, "admin_1", gotBy.Actor.ID)
	assert.Equal(t, "org_1", gotBy.Organization.ID)
	assert.Equal(t, "10.0.0.9", gotBy.SourceIP)
}

func TestUnlockAccount_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]string
		err     error
		status  int
		errCode string
	}{
		{"missing identity", map[string]string{}, nil, 400, "bad_request"},
		{"service rejects", map[string]string{"identity": "a"}, models.ErrBadRequest, 400, "bad_request"},
		{"store error", map[string]string{"identity": "a"}, errors.New("boom"), 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAdminService{
				UnlockAccountFunc: func(context.Context, string, models.Initiator) (bool, error) {
					return false, tt.err
				},
			}
			h := handlers.NewAdminHandler(mock, nil)

			req := handlers.WithAdminContext(handlers.NewTestRequest(t, "POST", "/v1/admin/security/unlock", tt.body), "admin_1", "org_1")
			w := httptest.NewRecorder()
			h.UnlockAccount(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.errCode)
		})
	}
}

// ── LockStatus ────────────────────────────────────────────────────────────────

func TestLockStatus_Success(t *testing.T) {
	until := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	mock := &handlers.MockAdminService{
		LockStatusFunc: func(_ context.Context, identity, org string) (*models.AccountLockStatus, error) {
			return &models.AccountLockStatus{Identity: identity, OrganizationID: org, Locked: true, LockedUntil: &until, FailedAttempts: 5}, nil
		},
	}
	h := handlers.NewAdminHandler(mock, nil)

	req := handlers.WithAdminContext(httptest.NewRequest("GET", "/v1/admin/security/lock-status?identity=alice%40example.com", nil), "admin_1", "org_1")
	w := httptest.NewRecorder()
	h.LockStatus(w, req)

	var resp models.AccountLockStatus
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "alice@example.com", resp.Identity)
	assert.Equal(t, "org_1", resp.OrganizationID)
	assert.True(t, resp.Locked)
	require.NotNil(t, resp.LockedUntil)
	assert.True(t, until.Equal(*resp.LockedUntil))
}

func TestLockStatus_MissingIdentity_Returns400(t *testing.T) {
	h := handlers.NewAdminHandler(&handlers.MockAdminService{}, nil)

	req := handlers.WithAdminContext(httptest.NewRequest("GET", "/v1/admin/security/lock-status", nil), "admin_1", "org_1")
	w := httptest.NewRecorder()
	h.LockStatus(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestAdminHandlers_NoSession_Returns401(t *testing.T) {
	h := handlers.NewAdminHandler(&handlers.MockAdminService{}, nil)

	w := httptest.NewRecorder()
	h.GetDashboardStats(w, httptest.NewRequest("GET", "/v1/admin/security/stats", nil))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}
