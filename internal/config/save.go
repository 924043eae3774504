package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the config as YAML. An existing file is only replaced when
// overwrite is set.
func (c *Config) Save(path string, overwrite bool) error {
	b, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// MarshalYAML writes the timeout as a duration string.
func (p ProxyConfig) MarshalYAML() (any, error) {
	type out struct {
		Host    string `yaml:"host,omitempty"`
		Timeout string `yaml:"timeout,omitempty"`
	}
	o := out{Host: p.Host}
	if p.Timeout > 0 {
		o.Timeout = p.Timeout.String()
	}
	return o, nil
}
