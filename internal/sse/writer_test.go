package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noFlush struct{ http.ResponseWriter }

func TestNewWriter_RequiresFlusher(t *testing.T) {
	_, err := NewWriter(noFlush{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, s.Event("session", map[string]string{"phase": "authenticated"}))
	require.NoError(t, s.Event("", 1))
	require.NoError(t, s.Comment("keepalive"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t,
		"event: session\ndata: {\"phase\":\"authenticated\"}\n\n"+
			"data: 1\n\n"+
			": keepalive\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestWriter_MarshalError(t *testing.T) {
	s, err := NewWriter(httptest.NewRecorder())
	require.NoError(t, err)
	assert.Error(t, s.Event("bad", make(chan int)))
}
