package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/hms-sentinel/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureLogger_RedactsAndRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(SecureLogger(logger))
	r.Get("/v1/admin/security/lock-status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.CollectAndCount(metrics.HTTPRequestDuration)

	req := httptest.NewRequest("GET", "/v1/admin/security/lock-status?identity=alice%40example.com", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http_request", entry["msg"])
	assert.Equal(t, "/v1/admin/security/lock-status?[REDACTED]", entry["path"])
	assert.Equal(t, "/v1/admin/security/lock-status", entry["route"])
	assert.Equal(t, float64(200), entry["status"])
	assert.NotContains(t, buf.String(), "alice")

	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.HTTPRequestDuration), before)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.HTTPRequestDuration), 1)
}
