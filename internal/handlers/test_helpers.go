package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/services"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds member session claims to request context for testing authenticated endpoints
func WithSessionContext(req *http.Request, userID, orgID string) *http.Request {
	return withClaims(req, userID, orgID, "org:member")
}

// WithAdminContext adds admin session claims to request context
func WithAdminContext(req *http.Request, userID, orgID string) *http.Request {
	return withClaims(req, userID, orgID, "org:admin")
}

func withClaims(req *http.Request, userID, orgID, role string) *http.Request {
	claims := &models.SessionClaims{
		Email:   userID + "@example.com",
		Name:    "Test " + userID,
		OrgID:   orgID,
		OrgName: "Org " + orgID,
		OrgRole: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
		},
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, claims)
	return req.WithContext(ctx)
}

// WithAPIKeyContext adds an authenticated API key to request context
func WithAPIKeyContext(req *http.Request, key *models.APIKey) *http.Request {
	ctx := context.WithValue(req.Context(), auth.APIKeyContextKey, key)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockSecurityService implements SecurityServiceInterface for testing
type MockSecurityService struct {
	CheckLoginAllowedFunc  func(ctx context.Context, identity, tenantID, sourceIP string) models.LoginDecision
	RecordLoginFailureFunc func(ctx context.Context, attempt models.LoginAttempt) models.LoginDecision
	RecordLoginSuccessFunc func(ctx context.Context, attempt models.LoginAttempt)
}

func (m *MockSecurityService) CheckLoginAllowed(ctx context.Context, identity, tenantID, sourceIP string) models.LoginDecision {
	if m.CheckLoginAllowedFunc != nil {
		return m.CheckLoginAllowedFunc(ctx, identity, tenantID, sourceIP)
	}
	return models.LoginDecision{Allowed: true}
}

func (m *MockSecurityService) RecordLoginFailure(ctx context.Context, attempt models.LoginAttempt) models.LoginDecision {
	if m.RecordLoginFailureFunc != nil {
		return m.RecordLoginFailureFunc(ctx, attempt)
	}
	return models.LoginDecision{Allowed: true}
}

func (m *MockSecurityService) RecordLoginSuccess(ctx context.Context, attempt models.LoginAttempt) {
	if m.RecordLoginSuccessFunc != nil {
		m.RecordLoginSuccessFunc(ctx, attempt)
	}
}

// MockAPIKeyService implements APIKeyServiceInterface for testing
type MockAPIKeyService struct {
	CreateFunc func(ctx context.Context, name, organizationID string, expiresAt *time.Time, by models.Initiator) (*models.APIKey, string, error)
	ListFunc   func(ctx context.Context, organizationID string) ([]*models.APIKey, error)
	DeleteFunc func(ctx context.Context, organizationID, id string, by models.Initiator) (bool, error)
}

func (m *MockAPIKeyService) Create(ctx context.Context, name, organizationID string, expiresAt *time.Time, by models.Initiator) (*models.APIKey, string, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, name, organizationID, expiresAt, by)
	}
	return nil, "", models.ErrInternalServer
}

func (m *MockAPIKeyService) List(ctx context.Context, organizationID string) ([]*models.APIKey, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, organizationID)
	}
	return []*models.APIKey{}, nil
}

func (m *MockAPIKeyService) Delete(ctx context.Context, organizationID, id string, by models.Initiator) (bool, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, organizationID, id, by)
	}
	return false, nil
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	GetDashboardStatsFunc func(ctx context.Context, organizationID string) (*services.DashboardStatsResponse, error)
	UnlockAccountFunc     func(ctx context.Context, identity string, by models.Initiator) (bool, error)
	LockStatusFunc        func(ctx context.Context, identity, organizationID string) (*models.AccountLockStatus, error)
}

func (m *MockAdminService) GetDashboardStats(ctx context.Context, organizationID string) (*services.DashboardStatsResponse, error) {
	if m.GetDashboardStatsFunc != nil {
		return m.GetDashboardStatsFunc(ctx, organizationID)
	}
	return &services.DashboardStatsResponse{}, nil
}

func (m *MockAdminService) UnlockAccount(ctx context.Context, identity string, by models.Initiator) (bool, error) {
	if m.UnlockAccountFunc != nil {
		return m.UnlockAccountFunc(ctx, identity, by)
	}
	return false, nil
}

func (m *MockAdminService) LockStatus(ctx context.Context, identity, organizationID string) (*models.AccountLockStatus, error) {
	if m.LockStatusFunc != nil {
		return m.LockStatusFunc(ctx, identity, organizationID)
	}
	return &models.AccountLockStatus{Identity: identity, OrganizationID: organizationID}, nil
}
