// Package devdash is the embeddable backend of the local development
// dashboard: repositories, their environment variables and their scripts,
// run as supervised child processes behind an HTTP API.
package devdash

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/devdash/internal/config"
	"github.com/loykin/devdash/internal/envvar"
	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/history"
	"github.com/loykin/devdash/internal/history/factory"
	"github.com/loykin/devdash/internal/logger"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/repository"
	"github.com/loykin/devdash/internal/script"
	"github.com/loykin/devdash/internal/server"
	devtls "github.com/loykin/devdash/internal/tls"
)

// Re-export the types embedders need.

type Config = config.Config

type Script = script.Record

type Repository = repository.Repository

type EnvVariable = envvar.Variable

type Event = event.Event

func LoadConfig(path string) (Config, error) { return config.Load(path) }

func DefaultConfig() Config { return config.Default() }

// App wires the stores, the script service and the HTTP API from one
// Config.
type App struct {
	cfg       Config
	log       *slog.Logger
	logCloser io.Closer

	bus       *event.Bus
	scripts   *script.Service
	repos     *repository.Store
	env       *envvar.Store
	processes *metrics.ProcessMetricsCollector
	recorder  *history.Recorder
	handler   http.Handler
	metricsH  http.Handler
	tlsConfig *tls.Config
}

type Option func(*App)

// WithLogger replaces the logger built from cfg.Log.
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.log = l } }

func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		l, closer, err := logger.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		a.log, a.logCloser = l, closer
	}

	baseEnv, err := cfg.GlobalEnv()
	if err != nil {
		_ = a.closeLog()
		return nil, err
	}
	base := baseEnv.Base()

	if a.tlsConfig, err = devtls.Setup(cfg.Server.TLS); err != nil {
		_ = a.closeLog()
		return nil, fmt.Errorf("tls: %w", err)
	}

	a.bus = event.NewBus()
	a.repos = repository.NewStore(a.log)
	a.env = envvar.NewStore(a.log)
	a.scripts = script.NewService(
		script.WithBus(a.bus),
		script.WithLogger(a.log),
		script.WithStopTimeout(cfg.Scripts.StopTimeout),
		script.WithWorkDirResolver(a.repos.WorkDir),
		script.WithBaseEnv(func() []string { return base }),
		script.WithOutputLog(cfg.Scripts.OutputLog),
	)

	a.processes = metrics.NewProcessMetricsCollector(cfg.Metrics.Process)
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			_ = a.closeLog()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if err := a.processes.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			_ = a.closeLog()
			return nil, fmt.Errorf("register process metrics: %w", err)
		}
		a.metricsH = metrics.Handler()
	}

	if cfg.History.Enabled {
		sinks, err := factory.NewSinks(cfg.History.Sinks)
		if err != nil {
			for _, s := range sinks {
				if c, ok := s.(io.Closer); ok {
					_ = c.Close()
				}
			}
			_ = a.closeLog()
			return nil, fmt.Errorf("history sinks: %w", err)
		}
		a.recorder = history.NewRecorder(a.bus, sinks, cfg.History.SendTimeout, a.log)
	}

	if cfg.SeedMockData {
		a.Seed()
	}

	deps := server.Deps{
		Scripts:       a.scripts,
		Repositories:  a.repos,
		Env:           a.env,
		System:        metrics.NewSystemCollector(),
		Processes:     a.processes,
		Logger:        a.log,
		EventBuffer:   cfg.Scripts.SubscriberBuffer,
		DeleteTimeout: 2 * cfg.Scripts.StopTimeout,
	}
	if cfg.Metrics.Listen == "" {
		deps.Metrics = a.metricsH
	}
	a.handler = server.NewRouter(deps, cfg.Server.BasePath).Handler()
	return a, nil
}

// Seed loads the sample repositories, with default scripts and variables
// for each. Stores that already have data are left alone.
func (a *App) Seed() {
	a.repos.SeedMock()
	repos, _ := a.repos.List(repository.Query{Limit: a.repos.Count() + 1})
	for _, r := range repos {
		a.scripts.SeedMock(r.ID)
		a.env.SeedMock(r.ID)
	}
	a.log.Info("seeded mock data", "repositories", len(repos))
}

// Handler returns the API handler, mounted under cfg.Server.BasePath.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Scripts() *script.Service { return a.scripts }

func (a *App) Repositories() *repository.Store { return a.repos }

func (a *App) Env() *envvar.Store { return a.env }

// Events subscribes to the script event bus. Close the subscription when done.
func (a *App) Events(opts ...event.Option) *event.Subscription { return a.bus.Subscribe(opts...) }

func (a *App) Logger() *slog.Logger { return a.log }

// Run serves the API (and the metrics listener, when configured), records
// history and samples script processes until ctx is done. It then shuts the
// servers down, signals every running script and waits up to the stop
// timeout for them to exit.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	api := server.NewServer(a.cfg.Server, a.handler)
	api.TLSConfig = a.tlsConfig
	g.Go(func() error { return a.serve(ctx, api, "api") })

	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metricsH)
		ms := server.NewServer(config.ServerConfig{Listen: a.cfg.Metrics.Listen, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}, mux)
		g.Go(func() error { return a.serve(ctx, ms, "metrics") })
	}
	if a.recorder != nil {
		g.Go(func() error { return a.recorder.Run(ctx) })
	}
	a.processes.Start(ctx, a.scripts.PIDs)

	err := g.Wait()
	a.scripts.Cleanup()
	waitCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Scripts.StopTimeout+time.Second)
	defer cancel()
	if werr := a.scripts.Wait(waitCtx); werr != nil {
		a.log.Warn("scripts still running at shutdown", "error", werr)
	}
	return err
}

func (a *App) serve(ctx context.Context, srv *http.Server, name string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", name, srv.Addr, err)
	}
	if srv.TLSConfig != nil {
		ln = tls.NewListener(ln, srv.TLSConfig)
	}
	a.log.Info("server listening", "server", name, "addr", ln.Addr().String(), "tls", srv.TLSConfig != nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown", "server", name, "error", err)
		_ = srv.Close()
	}
	<-errCh
	a.log.Info("server stopped", "server", name)
	return nil
}

// Close stops the process sampler, flushes history sinks and releases the
// log file. It does not touch running scripts; Run does that.
func (a *App) Close() error {
	a.processes.Stop()
	var errs []error
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	errs = append(errs, a.closeLog())
	return errors.Join(errs...)
}

func (a *App) closeLog() error {
	if a.logCloser == nil {
		return nil
	}
	return a.logCloser.Close()
}
