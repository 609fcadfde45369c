package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSettingsFile is read from the working directory when --config is not given.
const DefaultSettingsFile = ".testforge.yml"

// Settings holds persistent CLI defaults loaded from a config file.
type Settings struct {
	CPUs           int    `yaml:"cpus"`
	Environment    string `yaml:"environment"`
	Burndown       string `yaml:"burndown"`
	PrintFailures  bool   `yaml:"print_failures"`
	Quiet          bool   `yaml:"quiet"`
	Debug          bool   `yaml:"debug"`
	TUI            string `yaml:"tui"`
	SplitFiles     bool   `yaml:"split_files"`
	StartFramework string `yaml:"start_framework"`

	// Retry tests whose failure output matches this pattern ("/re/" or plain text).
	Retry    string `yaml:"retry"`
	Attempts int    `yaml:"attempts"`

	Hooks      Hooks             `yaml:"hooks"`
	Commands   map[string]string `yaml:"commands,omitempty"`
	Frameworks []Framework       `yaml:"frameworks,omitempty"`
	Slaves     []SlaveDescriptor `yaml:"slaves,omitempty"`
}

// LoadSettings reads a YAML config file into Settings.
// If the file does not exist, it returns zero-value Settings and nil error.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &s, nil
}

// Apply copies settings into c for every value whose flag was not set on the
// command line. changed reports whether a flag was given explicitly.
func (s *Settings) Apply(c *Configuration, changed func(flag string) bool) {
	if s.CPUs > 0 && !changed("cpus") {
		c.ProcessCount = s.CPUs
	}
	if s.Environment != "" && !changed("environment") {
		c.Environment = s.Environment
	}
	if s.Burndown != "" && !changed("burndown") {
		c.BurndownReport = s.Burndown
	}
	if s.PrintFailures && !changed("print-failures") {
		c.PrintFailures = true
	}
	if s.Quiet && !changed("quiet") {
		c.Quiet = true
	}
	if s.Debug && !changed("debug") {
		c.Debug = true
	}
	if s.TUI != "" && !changed("tui") {
		c.TUI = s.TUI
	}
	if s.SplitFiles && !changed("split-files") {
		c.SplitFiles = true
	}
	if s.StartFramework != "" && !changed("start-framework") {
		c.StartFramework = s.StartFramework
	}
	if s.Retry != "" && !changed("retry") {
		c.RetryPattern = s.Retry
	}
	if s.Attempts > 0 && !changed("attempts") {
		c.MaxAttempts = s.Attempts
	}

	if len(s.Hooks.BeforeRunner) > 0 && !changed("before-runner") {
		c.Hooks.BeforeRunner = append([]string(nil), s.Hooks.BeforeRunner...)
	}
	if len(s.Hooks.BeforeWorker) > 0 && !changed("before-worker") {
		c.Hooks.BeforeWorker = append([]string(nil), s.Hooks.BeforeWorker...)
	}
	if len(s.Hooks.AfterRunner) > 0 && !changed("after-runner") {
		c.Hooks.AfterRunner = append([]string(nil), s.Hooks.AfterRunner...)
	}

	for name, command := range s.Commands {
		if _, set := c.Commands[name]; set {
			continue
		}
		if c.Commands == nil {
			c.Commands = make(map[string]string)
		}
		c.Commands[name] = command
	}

	// list-valued settings only fill in when the command line named none
	if len(c.Frameworks) == 0 {
		for _, f := range s.Frameworks {
			c.AddFramework(f.Name, append([]string(nil), f.Patterns...))
		}
	}
	if len(c.Slaves) == 0 {
		c.Slaves = append(c.Slaves, s.Slaves...)
	}
}
