// Package manager is the process supervisor: the authoritative registry of
// process specs and their live handles. All mutations are serialized by one
// lock; the route table is derived from a registry snapshot on demand.
package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/realm/internal/env"
	"github.com/loykin/realm/internal/history"
	"github.com/loykin/realm/internal/logger"
	"github.com/loykin/realm/internal/metrics"
	"github.com/loykin/realm/internal/process"
	"github.com/loykin/realm/internal/route"
)

// ErrInvalidRegistry is returned by LoadProcesses for a source with an empty
// or duplicate process name.
var ErrInvalidRegistry = errors.New("invalid process registry")

// Result is the outcome of one item of a bulk operation.
type Result struct {
	Name string
	Err  error
}

type entry struct {
	spec process.Spec
	proc *process.Process // nil while handle-less
	env  []string         // environment proc was started with
}

// Manager starts, stops, and monitors processes.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	envM    *env.Env

	// guarded by obsMu so exit callbacks never wait on mu
	obsMu sync.RWMutex
	log   *slog.Logger
	hist  *history.Dispatcher
}

func NewManager() *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		envM:    env.New(),
		log:     slog.Default(),
	}
}

// SetLogger sets the logger used for lifecycle messages and, when no log
// file is configured, for child process output.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	m.obsMu.Lock()
	m.log = l
	m.obsMu.Unlock()
}

// SetHistorySinks configures external history sinks (SQLite, PostgreSQL,
// ClickHouse, OpenSearch). Passing no sinks clears the list. Events already
// queued for the previous sinks are delivered before this returns.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	var d *history.Dispatcher
	if len(sinks) > 0 {
		d = history.NewDispatcher(m.logger(), 0, sinks...)
	}
	m.obsMu.Lock()
	old := m.hist
	m.hist = d
	m.obsMu.Unlock()
	old.Close()
}

// Close flushes pending history events. It does not stop processes.
func (m *Manager) Close() {
	m.SetHistorySinks()
}

// SetGlobalEnv replaces the global environment applied to every process.
// kvs must be in the form "KEY=VALUE"; malformed entries are ignored.
func (m *Manager) SetGlobalEnv(kvs []string) {
	e := env.New()
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			e.Set(k, v)
		}
	}
	m.mu.Lock()
	m.envM = e
	m.mu.Unlock()
}

// LoadProcesses replaces the registry with specs. Entries whose spec and
// resolved environment are unchanged keep their live handle; handles of
// removed or changed entries are killed before the new registry becomes
// visible. Call SetGlobalEnv first so a changed global env counts.
func (m *Manager) LoadProcesses(specs []process.Spec) error {
	next := make(map[string]*entry, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return fmt.Errorf("%w: empty process name", ErrInvalidRegistry)
		}
		if _, dup := next[s.Name]; dup {
			return fmt.Errorf("%w: duplicate process name %q", ErrInvalidRegistry, s.Name)
		}
		next[s.Name] = &entry{spec: s.Clone()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, old := range m.entries {
		n, keep := next[name]
		if keep && old.spec.Equal(n.spec) && (old.proc == nil || slices.Equal(old.env, m.envM.Merge(n.spec.Env))) {
			n.proc, n.env = old.proc, old.env
			continue
		}
		if old.proc != nil {
			if err := m.killLocked(name, old); err != nil {
				m.logger().Error("failed to stop process during reload", "name", name, "error", err)
			}
		}
		if !keep {
			metrics.Forget(name)
		}
	}
	m.entries = next
	m.logger().Debug("process registry loaded", "count", len(next))
	return nil
}

// StartProcess spawns name unless it is already running. A handle whose
// process has exited is discarded and the process is spawned again.
func (m *Manager) StartProcess(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return process.NotFound(name)
	}
	if e.proc != nil {
		if e.proc.Alive() {
			return nil
		}
		// the leader is gone but its children may still hold the port
		if err := e.proc.Kill(); err != nil {
			m.logger().Warn("failed to clean up exited process group", "name", name, "error", err)
		}
		e.proc = nil
	}
	if _, err := e.spec.BuildCommand(); err != nil {
		metrics.IncStartFailure(name)
		return fmt.Errorf("start %s: %w", name, err)
	}

	p := process.New(e.spec)
	p.OnExit(func(err error) { m.handleExit(p, err) })
	stdout, stderr := m.outputs(e.spec)
	environ := m.envM.Merge(e.spec.Env)
	if err := p.Start(environ, stdout, stderr); err != nil {
		metrics.IncStartFailure(name)
		m.publish(history.EventStartFailed, e.spec, p.Snapshot(), err)
		return err
	}
	e.proc, e.env = p, environ

	st := p.Snapshot()
	metrics.IncStart(name)
	m.logger().Info("process started", "name", name, "pid", st.PID, "port", st.Port)
	m.publish(history.EventStart, e.spec, st, nil)
	return nil
}

// StopProcess kills the process group of name and waits for it to exit.
// Stopping a handle-less entry is a no-op.
func (m *Manager) StopProcess(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return process.NotFound(name)
	}
	if e.proc == nil {
		return nil
	}
	return m.killLocked(name, e)
}

func (m *Manager) killLocked(name string, e *entry) error {
	p := e.proc
	wasAlive := !p.Exited()
	if err := p.Kill(); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	e.proc, e.env = nil, nil
	if !wasAlive {
		return nil
	}
	st := p.Snapshot()
	metrics.IncStop(name)
	m.logger().Info("process stopped", "name", name, "pid", st.PID)
	m.publish(history.EventStop, e.spec, st, nil)
	return nil
}

// RestartProcess stops then starts name as two separate operations. If the
// start fails after a successful stop the entry stays handle-less.
func (m *Manager) RestartProcess(name string) error {
	if err := m.StopProcess(name); err != nil {
		return err
	}
	return m.StartProcess(name)
}

// StartAll starts every registered process in name order. Failures are
// logged and reported per item; they never abort the batch.
func (m *Manager) StartAll() []Result {
	return m.each("start", m.StartProcess)
}

// StopAll stops every registered process in name order.
func (m *Manager) StopAll() []Result {
	return m.each("stop", m.StopProcess)
}

func (m *Manager) each(op string, fn func(string) error) []Result {
	names := m.ListProcesses()
	out := make([]Result, 0, len(names))
	for _, name := range names {
		err := fn(name)
		if err != nil {
			m.logger().Error("failed to "+op+" process", "name", name, "error", err)
		}
		out = append(out, Result{Name: name, Err: err})
	}
	return out
}

// Failed returns the results that carry an error.
func Failed(rs []Result) []Result {
	var out []Result
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// IsRunning reports whether name has a handle whose process is alive.
func (m *Manager) IsRunning(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return ok && e.proc != nil && e.proc.Alive()
}

// GetProcessPort returns the configured port of name, if any.
func (m *Manager) GetProcessPort(name string) (uint16, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok || e.spec.Port == 0 {
		return 0, false
	}
	return e.spec.Port, true
}

// GetProcessRoutes returns a copy of the route patterns of name.
func (m *Manager) GetProcessRoutes(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil
	}
	return slices.Clone(e.spec.Routes)
}

// ListProcesses returns all registered names, sorted.
func (m *Manager) ListProcesses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns a copy of every registered spec, sorted by name.
func (m *Manager) Specs() []process.Spec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]process.Spec, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.spec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RouteTable builds a route table from the current registry.
func (m *Manager) RouteTable() *route.Table {
	return route.Build(m.Specs())
}

// Status returns the runtime state of name, with resource usage when running.
func (m *Manager) Status(name string) (process.Status, error) {
	m.mu.RLock()
	e, ok := m.entries[name]
	var (
		spec process.Spec
		p    *process.Process
	)
	if ok {
		spec, p = e.spec, e.proc
	}
	m.mu.RUnlock()
	if !ok {
		return process.Status{}, process.NotFound(name)
	}
	return statusOf(spec, p), nil
}

// StatusAll returns the state of every registered process, sorted by name.
func (m *Manager) StatusAll() []process.Status {
	names := m.ListProcesses()
	out := make([]process.Status, 0, len(names))
	for _, name := range names {
		if st, err := m.Status(name); err == nil {
			out = append(out, st)
		}
	}
	return out
}

func statusOf(spec process.Spec, p *process.Process) process.Status {
	if p == nil {
		return process.Status{
			Name:   spec.Name,
			Port:   spec.Port,
			Routes: slices.Clone(spec.Routes),
		}
	}
	st := p.Snapshot()
	if st.Running {
		if r, err := metrics.Sample(st.PID); err == nil {
			st.CPUPercent = r.CPUPercent
			st.MemoryRSS = r.MemoryRSS
			metrics.SetResources(st.Name, r)
		}
	}
	return st
}

// handleExit runs on the exit monitor goroutine when a process dies without
// a stop request. The dead handle stays in place so Status can report the
// exit error; the next StartProcess replaces it.
func (m *Manager) handleExit(p *process.Process, err error) {
	// wait for a concurrent StartProcess to finish publishing its start event
	m.mu.RLock()
	m.mu.RUnlock()

	st := p.Snapshot()
	metrics.IncExit(st.Name)
	m.logger().Warn("process exited unexpectedly", "name", st.Name, "pid", st.PID, "error", err)
	m.publish(history.EventExit, p.Spec(), st, err)
}

func (m *Manager) outputs(spec process.Spec) (io.Writer, io.Writer) {
	var stdout, stderr io.Writer
	if spec.Log.Enabled() {
		o, e := spec.Log.Writers(spec.Name)
		if o != nil {
			stdout = o
		}
		if e != nil {
			stderr = e
		}
	}
	l := m.logger()
	if stdout == nil {
		stdout = logger.NewLineWriter(l, spec.Name, "stdout", slog.LevelInfo)
	}
	if stderr == nil {
		stderr = logger.NewLineWriter(l, spec.Name, "stderr", slog.LevelInfo)
	}
	return stdout, stderr
}

func (m *Manager) publish(t history.EventType, spec process.Spec, st process.Status, err error) {
	m.obsMu.RLock()
	d := m.hist
	m.obsMu.RUnlock()
	if d == nil {
		return
	}
	rec := history.Record{
		Name:      st.Name,
		PID:       st.PID,
		Port:      st.Port,
		StartedAt: st.StartedAt,
		StoppedAt: st.StoppedAt,
	}
	if b, jerr := json.Marshal(spec); jerr == nil {
		rec.SpecJSON = string(b)
	}
	if err != nil {
		rec.ExitErr = err.Error()
	}
	d.Publish(history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec})
}

func (m *Manager) logger() *slog.Logger {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	return m.log
}
