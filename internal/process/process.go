package process

import (
	"io"
	"os/exec"
	"slices"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// pipeDrainDelay bounds how long Wait keeps reading stdout/stderr after the
// child exits, in case a grandchild still holds the pipes.
const pipeDrainDelay = 2 * time.Second

// Process is the live handle of one spawned command. A Process is started
// once; restarting means creating a new handle.
type Process struct {
	spec Spec

	mu        sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{} // closed when cmd.Wait returns
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	stopping  bool // true once Kill was requested; suppresses onExit
	closers   []io.Closer
	onExit    func(error)
}

func New(spec Spec) *Process { return &Process{spec: spec.Clone()} }

// Spec returns the spec this handle was created from.
func (p *Process) Spec() Spec { return p.spec.Clone() }

// OnExit registers fn to run when the process exits without Kill having been
// requested. It must be set before Start.
func (p *Process) OnExit(fn func(error)) {
	p.mu.Lock()
	p.onExit = fn
	p.mu.Unlock()
}

// Start spawns the command with the given environment and output writers.
// Stdin is left nil so the child reads from the null device. Writers that
// implement io.Closer are closed once the process has exited.
func (p *Process) Start(env []string, stdout, stderr io.Writer) error {
	cmd, err := p.spec.BuildCommand()
	if err != nil {
		return err
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(stdout, stderr)
		return &StartError{Name: p.spec.Name, Err: err}
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.done = done
	p.startedAt = time.Now()
	p.closers = closersOf(stdout, stderr)
	p.mu.Unlock()

	go p.wait(cmd, done)
	return nil
}

func (p *Process) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.stoppedAt = time.Now()
	requested := p.stopping
	closers := p.closers
	p.closers = nil
	onExit := p.onExit
	p.mu.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
	close(done)

	if !requested && onExit != nil {
		onExit(err)
	}
}

// PID returns the OS process id, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited reports whether Wait has returned for this handle.
func (p *Process) Exited() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Alive reports whether the OS still considers the process running.
func (p *Process) Alive() bool {
	pid := p.PID()
	if pid == 0 || p.Exited() {
		return false
	}
	gp, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := gp.IsRunning()
	if err != nil || !running {
		return false
	}
	// a child that exited but was not reaped yet shows up as a zombie
	if st, err := gp.Status(); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return false
	}
	return true
}

// Kill forcibly terminates the process group and blocks until the leader
// has been reaped. The group is signalled even when the leader already
// exited, so children it left behind do not outlive the handle. Killing a
// never-started handle is a no-op.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.stopping = true
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}
	if err := killGroup(cmd); err != nil {
		return err
	}
	<-done
	return nil
}

// Snapshot returns the handle's runtime state.
func (p *Process) Snapshot() Status {
	pid := p.PID()
	alive := p.Alive()
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Name:      p.spec.Name,
		Running:   alive,
		PID:       pid,
		Port:      p.spec.Port,
		Routes:    slices.Clone(p.spec.Routes),
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
	}
	if p.exitErr != nil {
		st.ExitErr = p.exitErr.Error()
	}
	return st
}

// ExitErr returns the error reported by Wait, if the process has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func closersOf(ws ...io.Writer) []io.Closer {
	var out []io.Closer
	for _, w := range ws {
		if c, ok := w.(io.Closer); ok && c != nil {
			out = append(out, c)
		}
	}
	return out
}

func closeAll(ws ...io.Writer) {
	for _, c := range closersOf(ws...) {
		_ = c.Close()
	}
}
