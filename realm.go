// Package realm supervises a project's development processes and serves
// them behind one port through a path-routing reverse proxy.
package realm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	cfg "github.com/loykin/realm/internal/config"
	"github.com/loykin/realm/internal/env"
	"github.com/loykin/realm/internal/history"
	"github.com/loykin/realm/internal/history/factory"
	"github.com/loykin/realm/internal/logger"
	"github.com/loykin/realm/internal/manager"
	"github.com/loykin/realm/internal/metrics"
	"github.com/loykin/realm/internal/process"
	"github.com/loykin/realm/internal/proxy"
	"github.com/loykin/realm/internal/route"
	iapi "github.com/loykin/realm/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Config = cfg.Config

type ProcessConfig = cfg.ProcessConfig

type Result = manager.Result

type RouteTable = route.Table

type RouteEntry = route.Entry

type HistorySink = history.Sink

type BindError = proxy.BindError

type Proxy = proxy.Server

var (
	ErrNotFound       = process.ErrNotFound
	ErrInvalidCommand = process.ErrInvalidCommand
)

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func New() *Manager { return &Manager{inner: manager.NewManager()} }

func (m *Manager) SetLogger(l *slog.Logger)               { m.inner.SetLogger(l) }
func (m *Manager) SetGlobalEnv(kvs []string)              { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) SetHistorySinks(sinks ...HistorySink)   { m.inner.SetHistorySinks(sinks...) }
func (m *Manager) LoadProcesses(specs []Spec) error       { return m.inner.LoadProcesses(specs) }
func (m *Manager) StartProcess(name string) error         { return m.inner.StartProcess(name) }
func (m *Manager) StopProcess(name string) error          { return m.inner.StopProcess(name) }
func (m *Manager) RestartProcess(name string) error       { return m.inner.RestartProcess(name) }
func (m *Manager) StartAll() []Result                     { return m.inner.StartAll() }
func (m *Manager) StopAll() []Result                      { return m.inner.StopAll() }
func (m *Manager) IsRunning(name string) bool             { return m.inner.IsRunning(name) }
func (m *Manager) GetProcessPort(name string) (uint16, bool) {
	return m.inner.GetProcessPort(name)
}
func (m *Manager) GetProcessRoutes(name string) []string { return m.inner.GetProcessRoutes(name) }
func (m *Manager) ListProcesses() []string               { return m.inner.ListProcesses() }
func (m *Manager) RouteTable() *RouteTable               { return m.inner.RouteTable() }
func (m *Manager) Status(name string) (Status, error)    { return m.inner.Status(name) }
func (m *Manager) StatusAll() []Status                   { return m.inner.StatusAll() }
func (m *Manager) Close()                                { m.inner.Close() }

// ApplyConfig sets the global environment from c and replaces the registry
// with c's processes.
func (m *Manager) ApplyConfig(c *Config) error {
	vars, err := c.GlobalEnv()
	if err != nil {
		return err
	}
	m.inner.SetGlobalEnv(env.Pairs(vars))
	return m.inner.LoadProcesses(c.Specs())
}

// Failed returns the results that carry an error.
func Failed(rs []Result) []Result { return manager.Failed(rs) }

// DefaultConfig returns a config with every default applied and no processes.
func DefaultConfig() *Config { return cfg.Default() }

// LoadConfig reads and validates a realm config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewLogger builds the realm logger described by c, writing to stderr.
func NewLogger(c *Config) *slog.Logger { return logger.New(c.Log.Config, os.Stderr) }

// NewProxy builds the reverse proxy for c serving m's current routes.
func NewProxy(c *Config, m *Manager, log *slog.Logger) *Proxy {
	return proxy.New(proxy.Options{
		Host:    c.Proxy.Host,
		Port:    c.ProxyPort,
		Timeout: c.Proxy.Timeout,
		Logger:  log,
	}, m.RouteTable())
}

// Serve runs the proxy for c and m until ctx is done.
func Serve(ctx context.Context, c *Config, m *Manager, log *slog.Logger) error {
	return NewProxy(c, m, log).Serve(ctx)
}

// NewHistorySinks opens a sink per DSN; the returned function closes them.
func NewHistorySinks(dsns []string) ([]HistorySink, func() error, error) {
	return factory.NewSinks(dsns)
}

// NewHTTPServer starts the admin API on addr using the given manager.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, iapi.NewRouter(m.inner, basePath))
}

// NewAPIHandler returns the admin API handler for embedding in another router.
func NewAPIHandler(basePath string, m *Manager) http.Handler {
	return iapi.NewRouter(m.inner, basePath).Handler()
}

// NewAPIHandlerFor is NewAPIHandler with /metrics served from g, for hosts
// that keep realm's collectors in their own registry.
func NewAPIHandlerFor(basePath string, m *Manager, g prometheus.Gatherer) http.Handler {
	r := iapi.NewRouter(m.inner, basePath)
	r.SetGatherer(g)
	return r.Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// RunOptions configures Run.
type RunOptions struct {
	ConfigPath string
	Watch      bool // reload processes and routes when the config file changes
	ProxyOnly  bool // serve the proxy without starting processes
	Logger     *slog.Logger
}

// Run loads the config, starts every process, serves the proxy and, when
// configured, the admin API until ctx is done, then stops every process.
// A proxy bind failure aborts before any process is started.
func Run(ctx context.Context, opts RunOptions) error {
	path := opts.ConfigPath
	if path == "" {
		path = cfg.DefaultFile
	}
	c, err := cfg.Load(path)
	if err != nil {
		return err
	}
	log := opts.Logger
	if log == nil {
		log = NewLogger(c)
	}
	if err := RegisterMetricsDefault(); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	sinks, closeSinks, err := factory.NewSinks(c.History.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = closeSinks() }()

	m := New()
	m.SetLogger(log)
	m.SetHistorySinks(sinks...)
	defer m.Close()
	if err := m.ApplyConfig(c); err != nil {
		return err
	}

	px := NewProxy(c, m, log)
	ln, err := px.Listen()
	if err != nil {
		return err
	}

	if !opts.ProxyOnly {
		if failed := Failed(m.StartAll()); len(failed) > 0 {
			log.Warn("some processes failed to start", "count", len(failed))
		}
		defer func() {
			log.Info("stopping processes")
			m.StopAll()
		}()
	}

	if c.Admin.Listen != "" {
		r := iapi.NewRouter(m.inner, c.Admin.BasePath)
		for _, s := range sinks {
			if hr, ok := s.(history.Reader); ok {
				r.SetHistoryReader(hr)
				break
			}
		}
		srv, err := iapi.NewServer(c.Admin.Listen, r)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("admin API on %s: %w", c.Admin.Listen, err)
		}
		log.Info("admin API listening", "addr", srv.Addr, "base_path", c.Admin.BasePath)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return px.ServeListener(gctx, ln) })
	if opts.Watch {
		g.Go(func() error {
			rl := &reloader{log: log, m: m, px: px, proxyOnly: opts.ProxyOnly, bound: px.Addr(), cur: c}
			return cfg.Watch(gctx, path, log, rl.apply)
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reloader applies watched config changes to a running supervisor and proxy.
type reloader struct {
	log       *slog.Logger
	m         *Manager
	px        *Proxy
	proxyOnly bool
	bound     string  // address the proxy listener holds
	cur       *Config // last applied config
}

func (r *reloader) apply(nc *Config) {
	if addr := nc.ProxyAddr(); addr != r.cur.ProxyAddr() && addr != r.bound {
		r.log.Warn("proxy address change requires a restart", "current", r.bound, "configured", addr)
	}
	if err := r.m.ApplyConfig(nc); err != nil {
		r.log.Error("failed to apply reloaded config", "error", err)
		return
	}
	r.cur = nc
	if !r.proxyOnly {
		if failed := Failed(r.m.StartAll()); len(failed) > 0 {
			r.log.Warn("some processes failed to start", "count", len(failed))
		}
	}
	r.px.SetRoutes(r.m.RouteTable())
	r.log.Info("processes reloaded", "processes", len(r.m.ListProcesses()))
}

// InitConfig writes a starter config to path. It fails if the file exists
// unless overwrite is set.
func InitConfig(path string, c *Config, overwrite bool) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return c.Save(path, overwrite)
}
