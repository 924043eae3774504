package process

import (
	"os/exec"
	"slices"
	"strings"

	"github.com/loykin/realm/internal/logger"
)

// Spec describes one supervised process: how to launch it and which
// request paths the proxy sends to it.
type Spec struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`            // split on whitespace; no shell
	Port    uint16            `json:"port,omitempty"`     // upstream port; 0 when unset
	Routes  []string          `json:"routes,omitempty"`   // exact paths or prefixes ending in '*'
	WorkDir string            `json:"work_dir,omitempty"` // optional working dir
	Env     []string          `json:"env,omitempty"`      // optional extra env (KEY=VALUE)
	Log     logger.ProcessLog `json:"log"`
}

// BuildCommand splits Command on whitespace into executable and arguments.
// It returns ErrInvalidCommand when nothing is left to execute.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	parts := strings.Fields(s.Command)
	if len(parts) == 0 {
		return nil, ErrInvalidCommand
	}
	// #nosec G204 -- the command line comes from the operator's own config
	cmd := exec.Command(parts[0], parts[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd, nil
}

// Equal reports whether two specs would launch and route identically.
func (s Spec) Equal(o Spec) bool {
	return s.Name == o.Name &&
		s.Command == o.Command &&
		s.Port == o.Port &&
		s.WorkDir == o.WorkDir &&
		s.Log == o.Log &&
		slices.Equal(s.Routes, o.Routes) &&
		slices.Equal(s.Env, o.Env)
}

// Clone returns a deep copy so callers never share slices with the registry.
func (s Spec) Clone() Spec {
	c := s
	c.Routes = slices.Clone(s.Routes)
	c.Env = slices.Clone(s.Env)
	return c
}

// ValidName reports whether s can be used as a process name. Names become
// log file names and URL path segments, so they are limited to
// [A-Za-z0-9._-] and may not contain "..".
func ValidName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
