package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// rawKeys mirrors the parts of the file whose map keys are user data.
type rawKeys struct {
	Env       map[string]any `yaml:"env" json:"env" toml:"env"`
	Processes map[string]struct {
		Env map[string]any `yaml:"env" json:"env" toml:"env"`
	} `yaml:"processes" json:"processes" toml:"processes"`
}

// restoreKeyCase puts back the original spelling of process names and env
// variable names, which viper folds to lower case.
func restoreKeyCase(path string, c *Config) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	var raw rawKeys
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(b, &raw)
	case ".toml":
		err = toml.Unmarshal(b, &raw)
	default:
		err = yaml.Unmarshal(b, &raw)
	}
	if err != nil {
		return err
	}

	c.Env = recase(c.Env, raw.Env)

	if len(raw.Processes) == 0 {
		return nil
	}
	seen := make(map[string]string, len(raw.Processes))
	procs := make(map[string]ProcessConfig, len(raw.Processes))
	for name, rp := range raw.Processes {
		lower := strings.ToLower(name)
		if prev, ok := seen[lower]; ok {
			return fmt.Errorf("process names %q and %q differ only in case", prev, name)
		}
		seen[lower] = name
		pc, ok := c.Processes[lower]
		if !ok {
			continue
		}
		pc.Env = recase(pc.Env, rp.Env)
		procs[name] = pc
	}
	c.Processes = procs
	return nil
}

func recase(folded map[string]string, raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return folded
	}
	out := make(map[string]string, len(raw))
	for k := range raw {
		if v, ok := folded[strings.ToLower(k)]; ok {
			out[k] = v
		}
	}
	return out
}
