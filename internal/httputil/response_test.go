package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/sequence.report/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"frames": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 3.0, decodeBody(t, rec)["frames"])
}

func TestWriteJSONUnencodable(t *testing.T) {
	monitoring.SetLogger(nil)
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, math.NaN())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to encode response", decodeBody(t, rec)["error"])
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"method", func(w http.ResponseWriter) { MethodNotAllowed(w, http.MethodGet) }, http.StatusMethodNotAllowed, "method not allowed"},
		{"unavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "no session attached") }, http.StatusServiceUnavailable, "no session attached"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "session not found") }, http.StatusNotFound, "session not found"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decodeBody(t, rec)["error"])
		})
	}

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}
