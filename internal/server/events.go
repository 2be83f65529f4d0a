package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devdash/internal/event"
)

const sseHeartbeat = 15 * time.Second

// scriptEvents streams the script's bus events as Server-Sent Events until
// the client goes away. Only events published after the request arrives are
// sent.
func (r *Router) scriptEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := r.deps.Scripts.Get(id); err != nil {
		fail(c, http.StatusNotFound, "Script not found")
		return
	}
	sub := r.deps.Scripts.Bus().Subscribe(event.WithScript(id), event.WithBuffer(r.deps.EventBuffer))
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			return true
		case e, open := <-sub.C():
			if !open {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		}
	})
	if n := sub.Dropped(); n > 0 {
		r.log.Warn("event stream dropped events", "script", id, "dropped", n)
	}
}
