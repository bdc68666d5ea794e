package models

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Organization roles issued by the identity provider that grant admin access
var adminOrgRoles = map[string]bool{
	"org:admin": true,
	"admin":     true,
}

// SessionClaims are the identity provider session token claims this service relies on.
// Identity verification happens at the provider; we only check the signature.
type SessionClaims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	OrgID   string `json:"org_id,omitempty"`
	OrgName string `json:"org_name,omitempty"`
	OrgRole string `json:"org_role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim
func (c *SessionClaims) UserID() string {
	return c.Subject
}

// IsAdmin reports whether the session holds an admin role in its active organization
func (c *SessionClaims) IsAdmin() bool {
	return adminOrgRoles[strings.ToLower(c.OrgRole)]
}

// Actor converts the session into an audit actor
func (c *SessionClaims) Actor() AuditActor {
	name := c.Name
	if name == "" {
		name = c.Email
	}
	return AuditActor{
		ID:    c.Subject,
		Name:  name,
		Email: c.Email,
		Role:  c.OrgRole,
	}
}

// Organization converts the session's active organization into an audit organization
func (c *SessionClaims) Organization() AuditOrganization {
	return AuditOrganization{ID: c.OrgID, Name: c.OrgName}
}

// Initiator builds the audit initiator for an operation performed in this session
func (c *SessionClaims) Initiator(sourceIP string) Initiator {
	return Initiator{Actor: c.Actor(), Organization: c.Organization(), SourceIP: sourceIP}
}
