package server

import (
	"net/http"
	"time"

	jsonwriter "github.com/dgellow/orgctl/internal/json"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/sse"
)

const sessionEventKeepAlive = 25 * time.Second

// handleSessionEvents streams the session as "session" events: the current
// snapshot first, then one per transition until the client goes away.
func (c *Console) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before reading the snapshot so no transition falls between.
	updates, cancel := c.store.Subscribe()
	defer cancel()

	stream, err := sse.NewWriter(w)
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Streaming unsupported")
		return
	}
	if err := stream.Event("session", c.sessionResponse(c.store.State())); err != nil {
		return
	}

	keepAlive := time.NewTicker(sessionEventKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-updates:
			if err := stream.Event("session", c.sessionResponse(st)); err != nil {
				log.LogDebugWithFields("console", "Session event stream closed", map[string]any{
					"error": err.Error(),
				})
				return
			}
		case <-keepAlive.C:
			if err := stream.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}
