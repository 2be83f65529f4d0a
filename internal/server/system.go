package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devdash/internal/metrics"
)

func (r *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"uptime":    r.deps.System.Uptime().Seconds(),
		"version":   Version,
	})
}

type systemStatus struct {
	metrics.SystemStatus
	ActiveScripts     int       `json:"activeScripts"`
	TotalRepositories int       `json:"totalRepositories"`
	Timestamp         time.Time `json:"timestamp"`
}

func (r *Router) handleSystemStatus(c *gin.Context) {
	st, err := r.deps.System.Collect(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, systemStatus{
		SystemStatus:      st,
		ActiveScripts:     len(r.deps.Scripts.Running()),
		TotalRepositories: r.deps.Repositories.Count(),
		Timestamp:         time.Now(),
	})
}

// handleSystemScripts returns the latest resource sample of every running
// script, keyed by script id. It is empty when sampling is disabled.
func (r *Router) handleSystemScripts(c *gin.Context) {
	out := map[string]metrics.ProcessMetrics{}
	if r.deps.Processes != nil {
		out = r.deps.Processes.All()
	}
	ok(c, http.StatusOK, out)
}
