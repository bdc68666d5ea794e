package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
)

// SecurityServiceInterface defines the login gate operations
type SecurityServiceInterface interface {
	CheckLoginAllowed(ctx context.Context, identity, tenantID, sourceIP string) models.LoginDecision
	RecordLoginFailure(ctx context.Context, attempt models.LoginAttempt) models.LoginDecision
	RecordLoginSuccess(ctx context.Context, attempt models.LoginAttempt)
}

// SecurityHandler serves the login gate to the web app's auth routes
type SecurityHandler struct {
	service  SecurityServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(service SecurityServiceInterface, ipConfig *pkghttp.IPConfig) *SecurityHandler {
	return &SecurityHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// LoginCheckRequest asks whether a login may proceed.
// SourceIP and UserAgent are the end user's, forwarded by the calling app.
type LoginCheckRequest struct {
	Identity       string `json:"identity" validate:"required,max=320"`
	OrganizationID string `json:"organization_id" validate:"required,max=255"`
	SourceIP       string `json:"source_ip,omitempty" validate:"omitempty,ip"`
	UserAgent      string `json:"user_agent,omitempty" validate:"omitempty,max=512"`
}

// LoginAttemptRequest reports the outcome of a credential check
type LoginAttemptRequest struct {
	LoginCheckRequest
	Success   *bool  `json:"success" validate:"required"`
	ActorName string `json:"actor_name,omitempty" validate:"omitempty,max=255"`
}

// LoginCheck handles POST /v1/security/login-check
func (h *SecurityHandler) LoginCheck(w http.ResponseWriter, r *http.Request) {
	var req LoginCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if !callerMayActFor(r, req.OrganizationID) {
		pkghttp.WriteForbidden(w, "api key cannot act for this organization")
		return
	}

	decision := h.service.CheckLoginAllowed(r.Context(), req.Identity, req.OrganizationID, h.sourceIP(r, req.SourceIP))
	writeDecision(w, decision)
}

// LoginAttempt handles POST /v1/security/login-attempts
func (h *SecurityHandler) LoginAttempt(w http.ResponseWriter, r *http.Request) {
	var req LoginAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if !callerMayActFor(r, req.OrganizationID) {
		pkghttp.WriteForbidden(w, "api key cannot act for this organization")
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	attempt := models.LoginAttempt{
		Identity:       req.Identity,
		OrganizationID: req.OrganizationID,
		ActorName:      req.ActorName,
		Success:        *req.Success,
		SourceIP:       h.sourceIP(r, req.SourceIP),
		UserAgent:      userAgent,
	}

	if attempt.Success {
		h.service.RecordLoginSuccess(r.Context(), attempt)
		writeDecision(w, models.LoginDecision{Allowed: true})
		return
	}

	writeDecision(w, h.service.RecordLoginFailure(r.Context(), attempt))
}

// callerMayActFor limits organization API keys to their own tenant.
// The service key may act for any organization.
func callerMayActFor(r *http.Request, organizationID string) bool {
	key := auth.GetAPIKeyFromContext(r)
	if key == nil || key.ID == auth.ServiceKeyID {
		return true
	}
	return key.OrganizationID == organizationID
}

// sourceIP prefers the address forwarded in the body by the calling app
func (h *SecurityHandler) sourceIP(r *http.Request, forwarded string) string {
	if forwarded != "" {
		return forwarded
	}
	return pkghttp.ExtractClientIP(r, h.ipConfig)
}

// writeDecision answers 200 when allowed and a generic 429 otherwise
func writeDecision(w http.ResponseWriter, decision models.LoginDecision) {
	if !decision.Allowed {
		pkghttp.WriteLoginDenied(w)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, decision)
}
