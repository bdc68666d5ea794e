package models

import (
	"encoding/json"
	"strings"
	"time"
)

// AuditAction is the closed set of security and business actions that get audited
type AuditAction string

const (
	AuditActionLoginSuccess          AuditAction = "user.login.success"
	AuditActionLoginFailure          AuditAction = "user.login.failure"
	AuditActionAccountLocked         AuditAction = "account.locked"
	AuditActionAccountUnlock         AuditAction = "account.unlock"
	AuditActionIPBlocked             AuditAction = "ip.blocked"
	AuditActionAPIKeyCreate          AuditAction = "api_key.create"
	AuditActionAPIKeyDelete          AuditAction = "api_key.delete"
	AuditActionAPIKeyValidateFailure AuditAction = "api_key.validate.failure"
)

var auditActions = map[AuditAction]struct{}{
	AuditActionLoginSuccess:          {},
	AuditActionLoginFailure:          {},
	AuditActionAccountLocked:         {},
	AuditActionAccountUnlock:         {},
	AuditActionIPBlocked:             {},
	AuditActionAPIKeyCreate:          {},
	AuditActionAPIKeyDelete:          {},
	AuditActionAPIKeyValidateFailure: {},
}

// IsValid reports whether the action belongs to the recognized set
func (a AuditAction) IsValid() bool {
	_, ok := auditActions[a]
	return ok
}

// CRUD verbs as the audit transport expects them
const (
	CRUDCreate = "c"
	CRUDRead   = "r"
	CRUDUpdate = "u"
	CRUDDelete = "d"
)

// NormalizeCRUD maps create|read|update|delete (or their initials) to the single-letter form.
// Unknown verbs fall back to read.
func NormalizeCRUD(verb string) string {
	switch strings.ToLower(strings.TrimSpace(verb)) {
	case "c", "create":
		return CRUDCreate
	case "u", "update":
		return CRUDUpdate
	case "d", "delete":
		return CRUDDelete
	default:
		return CRUDRead
	}
}

// Metadata keys every emitted event carries
const (
	AuditMetaServerTimestamp = "server_timestamp"
	AuditMetaEnvironment     = "environment"
)

// AuditActor identifies who performed an action
type AuditActor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

// AuditOrganization is the tenant an event belongs to
type AuditOrganization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AuditTarget is the entity an action was performed on
type AuditTarget struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

// Target types
const (
	AuditTargetAccount = "account"
	AuditTargetIP      = "ip_address"
	AuditTargetAPIKey  = "api_key"
)

// SecurityAuditEvent is an append-only record of an action. It is never updated once emitted.
type SecurityAuditEvent struct {
	ID           string            `json:"id"`
	Action       AuditAction       `json:"action"`
	Actor        AuditActor        `json:"actor"`
	Organization AuditOrganization `json:"organization"`
	CRUD         string            `json:"crud"`
	Target       *AuditTarget      `json:"target,omitempty"`
	SourceIP     string            `json:"source_ip,omitempty"`
	Metadata     AuditMetadata     `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// MarshalJSON implements json.Marshaler
func (am AuditMetadata) MarshalJSON() ([]byte, error) {
	if am == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// Strings flattens the metadata into string values, the shape the audit transport accepts
func (am AuditMetadata) Strings() map[string]string {
	out := make(map[string]string, len(am))
	for k, v := range am {
		switch val := v.(type) {
		case string:
			out[k] = val
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339)
		case *time.Time:
			if val != nil {
				out[k] = val.UTC().Format(time.RFC3339)
			}
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
