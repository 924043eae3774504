package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/realm/internal/env"
	"github.com/loykin/realm/internal/logger"
	"github.com/loykin/realm/internal/process"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "realm.yml"

const (
	DefaultProxyHost = "127.0.0.1"
	DefaultProxyPort = 8000
	DefaultEnvFile   = ".env"
	DefaultBasePath  = "/api"
)

// Config is the top-level realm.yml structure.
type Config struct {
	ProxyPort int                      `mapstructure:"proxy_port" yaml:"proxy_port"`
	Env       map[string]string        `mapstructure:"env" yaml:"env,omitempty"`
	EnvFile   string                   `mapstructure:"env_file" yaml:"env_file,omitempty"`
	Proxy     ProxyConfig              `mapstructure:"proxy" yaml:"proxy,omitempty"`
	Log       LogConfig                `mapstructure:"log" yaml:"log,omitempty"`
	Admin     AdminConfig              `mapstructure:"admin" yaml:"admin,omitempty"`
	History   HistoryConfig            `mapstructure:"history" yaml:"history,omitempty"`
	Processes map[string]ProcessConfig `mapstructure:"processes" yaml:"processes"`

	// directory relative paths are resolved against; empty means cwd
	baseDir string
}

type ProxyConfig struct {
	Host    string        `mapstructure:"host" yaml:"host,omitempty"` // listen host, default 127.0.0.1
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// LogConfig configures realm's own log and, through Dir, per-process
// stdout/stderr files.
type LogConfig struct {
	logger.Config `mapstructure:",squash" yaml:",inline"`
	Dir           string `mapstructure:"dir" yaml:"dir,omitempty"`
}

type AdminConfig struct {
	Listen   string `mapstructure:"listen" yaml:"listen,omitempty"`
	BasePath string `mapstructure:"base_path" yaml:"base_path,omitempty"`
}

type HistoryConfig struct {
	DSN []string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

type ProcessConfig struct {
	Command          string            `mapstructure:"command" yaml:"command"`
	Port             int               `mapstructure:"port" yaml:"port,omitempty"`
	Routes           []string          `mapstructure:"routes" yaml:"routes,omitempty"`
	WorkingDirectory string            `mapstructure:"working_directory" yaml:"working_directory,omitempty"`
	Env              map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// Default returns the configuration used when no file settings are given.
func Default() *Config {
	return &Config{
		ProxyPort: DefaultProxyPort,
		EnvFile:   DefaultEnvFile,
		Log:       LogConfig{Config: logger.Config{Level: "info", Format: "text"}},
		Admin:     AdminConfig{BasePath: DefaultBasePath},
		Processes: map[string]ProcessConfig{},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("proxy_port", d.ProxyPort)
	v.SetDefault("env_file", d.EnvFile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("admin.base_path", d.Admin.BasePath)
}

// Load reads a YAML, TOML or JSON config file (type taken from the
// extension) and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := restoreKeyCase(path, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if c.Processes == nil {
		c.Processes = map[string]ProcessConfig{}
	}
	c.baseDir = filepath.Dir(path)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// BaseDir returns the directory relative paths are resolved against.
func (c *Config) BaseDir() string { return c.baseDir }

// SetBaseDir overrides the directory relative paths are resolved against.
func (c *Config) SetBaseDir(dir string) { c.baseDir = dir }

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.ProxyPort < 1 || c.ProxyPort > 65535 {
		errs = append(errs, fmt.Errorf("proxy_port %d out of range 1-65535", c.ProxyPort))
	}
	if c.Proxy.Timeout < 0 {
		errs = append(errs, fmt.Errorf("proxy.timeout must not be negative"))
	}
	if bp := c.Admin.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, fmt.Errorf("admin.base_path %q must start with '/'", bp))
	}
	for _, name := range c.Names() {
		pc := c.Processes[name]
		if !process.ValidName(name) {
			errs = append(errs, fmt.Errorf("process name %q: allowed [A-Za-z0-9._-] and no '..'", name))
		}
		if strings.TrimSpace(pc.Command) == "" {
			errs = append(errs, fmt.Errorf("process %s: command must not be empty", name))
		}
		if pc.Port < 0 || pc.Port > 65535 {
			errs = append(errs, fmt.Errorf("process %s: port %d out of range 1-65535", name, pc.Port))
		}
		for _, r := range pc.Routes {
			if err := ValidateRoute(r); err != nil {
				errs = append(errs, fmt.Errorf("process %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateRoute checks one route pattern: it must start with '/' and may
// contain '*' only as its final character.
func ValidateRoute(r string) error {
	if !strings.HasPrefix(r, "/") {
		return fmt.Errorf("route %q must start with '/'", r)
	}
	if i := strings.IndexByte(r, '*'); i >= 0 && i != len(r)-1 {
		return fmt.Errorf("route %q may only use '*' as its last character", r)
	}
	return nil
}

// Names returns the process names sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Processes))
	for n := range c.Processes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs converts the process table to specs sorted by name. Relative
// working directories and the log dir are resolved against the config dir.
func (c *Config) Specs() []process.Spec {
	out := make([]process.Spec, 0, len(c.Processes))
	var plog logger.ProcessLog
	if c.Log.Dir != "" {
		plog = logger.ProcessLog{
			Dir:        c.resolve(c.Log.Dir),
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		}
	}
	for _, name := range c.Names() {
		pc := c.Processes[name]
		s := process.Spec{
			Name:    name,
			Command: strings.TrimSpace(pc.Command),
			Port:    uint16(pc.Port),
			Routes:  append([]string(nil), pc.Routes...),
			Env:     env.Pairs(pc.Env),
			Log:     plog,
		}
		if pc.WorkingDirectory != "" {
			s.WorkDir = c.resolve(pc.WorkingDirectory)
		}
		out = append(out, s)
	}
	return out
}

// GlobalEnv returns the variables shared by all processes: the env map,
// then the env_file contents on top. A missing env file is not an error.
func (c *Config) GlobalEnv() (map[string]string, error) {
	m := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		m[k] = v
	}
	if c.EnvFile == "" {
		return m, nil
	}
	vars, err := env.ReadFile(c.resolve(c.EnvFile))
	if err != nil {
		return nil, err
	}
	for k, v := range vars {
		m[k] = v
	}
	return m, nil
}

// ProxyAddr is the listen address of the proxy.
func (c *Config) ProxyAddr() string {
	host := c.Proxy.Host
	if host == "" {
		host = DefaultProxyHost
	}
	return net.JoinHostPort(host, strconv.Itoa(c.ProxyPort))
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}
