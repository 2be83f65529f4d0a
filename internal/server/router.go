package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devdash/internal/config"
	"github.com/loykin/devdash/internal/envvar"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/repository"
	"github.com/loykin/devdash/internal/script"
)

// Version is reported by /health.
const Version = "1.0.0"

// DefaultDeleteTimeout bounds how long DELETE /api/scripts/:id waits for a
// running script to exit before killing it.
const DefaultDeleteTimeout = 10 * time.Second

// Deps are the services the router serves. Scripts, Repositories and Env
// are required.
type Deps struct {
	Scripts      *script.Service
	Repositories *repository.Store
	Env          *envvar.Store
	System       *metrics.SystemCollector
	Processes    *metrics.ProcessMetricsCollector
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	Logger  *slog.Logger
	// EventBuffer is the per-stream buffer of /events subscriptions.
	EventBuffer   int
	DeleteTimeout time.Duration
}

// Router provides the devdash HTTP API as an embeddable handler.
//
//	GET  {basePath}/health
//	     {basePath}/api/system/...
//	     {basePath}/api/repositories/...
//	     {basePath}/api/scripts/...
//	     {basePath}/api/env/...
//	GET  {basePath}/metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	deps     Deps
	basePath string
	log      *slog.Logger
}

func NewRouter(deps Deps, basePath string) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.System == nil {
		deps.System = metrics.NewSystemCollector()
	}
	if deps.DeleteTimeout <= 0 {
		deps.DeleteTimeout = DefaultDeleteTimeout
	}
	return &Router{deps: deps, basePath: sanitizeBase(basePath), log: deps.Logger}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(r.log), cors())
	group := g.Group(r.basePath)

	group.GET("/health", r.handleHealth)
	if r.deps.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}

	api := group.Group("/api")
	sys := api.Group("/system")
	sys.GET("/status", r.handleSystemStatus)
	sys.GET("/scripts", r.handleSystemScripts)

	repos := api.Group("/repositories")
	repos.GET("", r.listRepositories)
	repos.POST("", r.createRepository)
	repos.GET("/:id", r.getRepository)
	repos.PUT("/:id", r.updateRepository)
	repos.DELETE("/:id", r.deleteRepository)
	repos.POST("/:id/access", r.accessRepository)
	repos.POST("/:id/scripts/import", r.importRepositoryScripts)

	scripts := api.Group("/scripts")
	scripts.GET("", r.listScripts)
	scripts.POST("", r.createScript)
	scripts.GET("/running", r.runningScripts)
	scripts.GET("/:id", r.getScript)
	scripts.PUT("/:id", r.updateScript)
	scripts.DELETE("/:id", r.deleteScript)
	scripts.POST("/:id/execute", r.executeScript)
	scripts.POST("/:id/stop", r.stopScript)
	scripts.GET("/:id/output", r.scriptOutput)
	scripts.GET("/:id/events", r.scriptEvents)

	env := api.Group("/env")
	env.GET("", r.listEnv)
	env.POST("", r.createEnv)
	env.GET("/:id", r.getEnv)
	env.PUT("/:id", r.updateEnv)
	env.DELETE("/:id", r.deleteEnv)
	env.GET("/repository/:repositoryId/file", r.envFile)
	env.POST("/repository/:repositoryId/import", r.importEnv)
	env.POST("/repository/:repositoryId/values", r.envValues)

	g.NoRoute(func(c *gin.Context) { fail(c, http.StatusNotFound, "Route not found") })
	return g
}

// NewServer builds an http.Server for h from cfg. The caller starts it.
func NewServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
