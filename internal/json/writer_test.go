package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWriteUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnauthorized(rec, "session expired", "/login?from=%2Forganizations")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Equal(t, "/login?from=%2Forganizations", body["sign_in"])
}

func TestWriteUpstreamError(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         []byte
		wantCode     string
		wantUpstream bool
	}{
		{name: "json body", status: http.StatusNotFound, body: []byte(`{"detail":"Not found"}`), wantCode: "not_found", wantUpstream: true},
		{name: "text body", status: http.StatusBadGateway, body: []byte("bad gateway"), wantCode: "upstream_error"},
		{name: "empty body", status: http.StatusTeapot, wantCode: "request_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteUpstreamError(rec, tt.status, tt.body)

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body["error"])
			_, hasUpstream := body["upstream"]
			assert.Equal(t, tt.wantUpstream, hasUpstream)
			if !tt.wantUpstream && len(tt.body) > 0 {
				assert.Equal(t, string(tt.body), body["message"])
			}
		})
	}
}
