package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/services"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
)

// AdminServiceInterface defines the admin security contract.
type AdminServiceInterface interface {
	GetDashboardStats(ctx context.Context, organizationID string) (*services.DashboardStatsResponse, error)
	UnlockAccount(ctx context.Context, identity string, by models.Initiator) (bool, error)
	LockStatus(ctx context.Context, identity, organizationID string) (*models.AccountLockStatus, error)
}

// AdminHandler handles admin security HTTP requests.
type AdminHandler struct {
	service  AdminServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{service: service, ipConfig: ipConfig}
}

// UnlockAccountRequest names the account to unlock in the admin's organization
type UnlockAccountRequest struct {
	Identity string `json:"identity" validate:"required,max=320"`
}

// UnlockAccountResponse reports whether a lock was in force
type UnlockAccountResponse struct {
	Identity  string `json:"identity"`
	WasLocked bool   `json:"was_locked"`
}

// GetDashboardStats handles GET /v1/admin/security/stats
func (h *AdminHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	stats, err := h.service.GetDashboardStats(r.Context(), claims.OrgID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve security stats")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// UnlockAccount handles POST /v1/admin/security/unlock
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UnlockAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	wasLocked, err := h.service.UnlockAccount(r.Context(), req.Identity, claims.Initiator(pkghttp.ExtractClientIP(r, h.ipConfig)))
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "invalid unlock request")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to unlock account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UnlockAccountResponse{Identity: req.Identity, WasLocked: wasLocked})
}

// LockStatus handles GET /v1/admin/security/lock-status?identity=...
func (h *AdminHandler) LockStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		pkghttp.WriteBadRequest(w, "identity is required")
		return
	}

	status, err := h.service.LockStatus(r.Context(), identity, claims.OrgID)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "invalid lock status request")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to retrieve lock status")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}
