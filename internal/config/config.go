package config

import (
	"fmt"
	"os"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "devmux.yaml"

// Config declares the fixed set of tabs a devmux instance supervises.
type Config struct {
	Tabs []TabConfig `yaml:"tabs"`
}

// TabConfig describes one supervised command.
type TabConfig struct {
	Name            string            `yaml:"name"`
	Command         string            `yaml:"command"`
	Autostart       bool              `yaml:"autostart"`
	Env             map[string]string `yaml:"env,omitempty"`
	RestartSchedule string            `yaml:"restart_schedule,omitempty"`
	Scrollback      int               `yaml:"scrollback,omitempty"`
}

// Argv shell-splits the command string.
func (t TabConfig) Argv() ([]string, error) {
	argv, err := shlex.Split(t.Command)
	if err != nil {
		return nil, fmt.Errorf("tab %s: parse command: %w", t.Name, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("tab %s: empty command", t.Name)
	}
	return argv, nil
}

// Load reads the config from DefaultFile in the working directory.
func Load() (*Config, error) {
	return LoadFrom(DefaultFile)
}

// LoadFrom reads and validates a config file.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Tabs) == 0 {
		return fmt.Errorf("no tabs declared")
	}
	seen := map[string]bool{}
	for i, t := range c.Tabs {
		if t.Name == "" {
			return fmt.Errorf("tab %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tab %s: duplicate name", t.Name)
		}
		seen[t.Name] = true
		if _, err := t.Argv(); err != nil {
			return err
		}
		if t.Scrollback < 0 {
			return fmt.Errorf("tab %s: scrollback must be >= 0", t.Name)
		}
	}
	return nil
}
