package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequest_UsesJSONFieldNames(t *testing.T) {
	err := ValidateRequest(LoginCheckRequest{Identity: "alice"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "organization_id")
		assert.Contains(t, err.Error(), "this field is required")
	}

	err = ValidateRequest(LoginCheckRequest{Identity: "alice", OrganizationID: "org_1", SourceIP: "999.1.1.1"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "must be a valid IP address")
	}

	assert.NoError(t, ValidateRequest(LoginCheckRequest{Identity: "alice", OrganizationID: "org_1", SourceIP: "::1"}))
}
