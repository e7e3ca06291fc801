package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/kms/internal/metrics"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, checks map[string]Check) (*Server, *metrics.Provider) {
	t.Helper()
	provider, err := metrics.NewProvider()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer("127.0.0.1", 0, logger, provider, "kms_test", checks), provider
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Ready(t *testing.T) {
	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]Check
		wantCode   int
		wantStatus string
		wantParts  map[string]interface{}
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantParts:  map[string]interface{}{},
		},
		{
			name:       "all healthy",
			checks:     map[string]Check{"database": ok},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantParts:  map[string]interface{}{"database": "ok"},
		},
		{
			name:       "database down",
			checks:     map[string]Check{"database": failing, "audit": ok},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantParts:  map[string]interface{}{"database": "error", "audit": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.checks)
			w := get(t, s, "/ready")
			assert.Equal(t, tt.wantCode, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.wantParts, body["components"])
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)

	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kms_test_http_requests_total")
}

func TestServer_NotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/v1/keys").Code)
}

func TestServer_WithoutMetrics(t *testing.T) {
	s := NewServer("127.0.0.1", 0, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, "", nil)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)
}

func TestServer_StartShutdown(t *testing.T) {
	s, _ := newTestServer(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	// Shutdown before or after ListenAndServe starts both make Start return nil.
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-errCh)
}
