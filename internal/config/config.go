package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// Defaults.
const (
	DefaultEnvironment = "test"
	DefaultMaxAttempts = 5
)

// SlaveDescriptor describes one remote host: the command that starts
// "testforge slave-mode" there, and an optional process count for that host.
type SlaveDescriptor struct {
	Command string `json:"command" yaml:"command"`
	CPUs    int    `json:"cpus,omitempty" yaml:"cpus,omitempty"` // 0 = the slave's own CPU count
}

// Framework selects a full run of one adapter over the given file patterns.
type Framework struct {
	Name     string   `json:"name" yaml:"name"`
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// Hooks are shell commands run at fixed points of a runner's life.
type Hooks struct {
	BeforeRunner []string `json:"before_runner,omitempty" yaml:"before_runner,omitempty"`
	BeforeWorker []string `json:"before_worker,omitempty" yaml:"before_worker,omitempty"`
	AfterRunner  []string `json:"after_runner,omitempty" yaml:"after_runner,omitempty"`
}

// Configuration is the resolved run configuration. The master owns the
// original; runners receive a copy, either through the environment (local)
// or through the slave handshake (remote).
type Configuration struct {
	Debug          bool   `json:"debug,omitempty"`
	Quiet          bool   `json:"quiet,omitempty"`
	PrintFailures  bool   `json:"print_failures,omitempty"`
	BurndownReport string `json:"burndown_report,omitempty"`
	TUI            string `json:"tui,omitempty"`

	Hooks          Hooks       `json:"hooks"`
	SplitFiles     bool        `json:"split_files,omitempty"`
	StartFramework string      `json:"start_framework,omitempty"`
	Frameworks     []Framework `json:"frameworks,omitempty"`

	// Framework is the one workers start under; the master sets it to the
	// first framework with files before any runner starts.
	Framework string `json:"framework,omitempty"`

	// Commands overrides the command line that runs a framework, keyed by
	// framework name, e.g. "rspec": "bin/rspec".
	Commands map[string]string `json:"commands,omitempty"`

	RetryPattern string `json:"retry_pattern,omitempty"`
	MaxAttempts  int    `json:"max_attempts"`

	ProcessCount int               `json:"process_count"`
	Environment  string            `json:"environment"`
	Slaves       []SlaveDescriptor `json:"slaves,omitempty"`
}

// Default returns a configuration with the standard defaults applied.
func Default() *Configuration {
	c := &Configuration{
		Environment: DefaultEnvironment,
		MaxAttempts: DefaultMaxAttempts,
	}
	c.CalculateDefaultProcessCount()
	return c
}

// CalculateDefaultProcessCount fills in the host CPU count when no process
// count was configured.
func (c *Configuration) CalculateDefaultProcessCount() {
	if c.ProcessCount <= 0 {
		c.ProcessCount = runtime.NumCPU()
	}
}

// AddFramework schedules a full run of the named framework.
func (c *Configuration) AddFramework(name string, patterns []string) {
	for i := range c.Frameworks {
		if c.Frameworks[i].Name == name {
			c.Frameworks[i].Patterns = patterns
			return
		}
	}
	c.Frameworks = append(c.Frameworks, Framework{Name: name, Patterns: patterns})
}

// StartingFramework returns the framework new workers are bound to.
func (c *Configuration) StartingFramework() string {
	if c.Framework != "" {
		return c.Framework
	}
	if len(c.Frameworks) > 0 {
		return c.Frameworks[0].Name
	}
	return ""
}

// FrameworkNames returns the configured framework names in order.
func (c *Configuration) FrameworkNames() []string {
	names := make([]string, 0, len(c.Frameworks))
	for _, f := range c.Frameworks {
		names = append(names, f.Name)
	}
	return names
}

// AddSlave appends a remote host.
func (c *Configuration) AddSlave(command string) {
	c.Slaves = append(c.Slaves, SlaveDescriptor{Command: command})
}

// SetProcessCount applies n to the most recently added slave, or to the
// local host when no slave has been added yet.
func (c *Configuration) SetProcessCount(n int) {
	if len(c.Slaves) == 0 {
		c.ProcessCount = n
		return
	}
	c.Slaves[len(c.Slaves)-1].CPUs = n
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	cp := *c
	cp.Hooks = Hooks{
		BeforeRunner: append([]string(nil), c.Hooks.BeforeRunner...),
		BeforeWorker: append([]string(nil), c.Hooks.BeforeWorker...),
		AfterRunner:  append([]string(nil), c.Hooks.AfterRunner...),
	}
	cp.Slaves = append([]SlaveDescriptor(nil), c.Slaves...)
	if c.Commands != nil {
		cp.Commands = make(map[string]string, len(c.Commands))
		for k, v := range c.Commands {
			cp.Commands[k] = v
		}
	}
	cp.Frameworks = make([]Framework, len(c.Frameworks))
	for i, f := range c.Frameworks {
		cp.Frameworks[i] = Framework{Name: f.Name, Patterns: append([]string(nil), f.Patterns...)}
	}
	return &cp
}

// ForSlave returns the configuration a remote runner should use: everything
// is inherited except the process count, which comes from the descriptor.
func (c *Configuration) ForSlave(d SlaveDescriptor) *Configuration {
	cp := c.Clone()
	cp.ProcessCount = d.CPUs
	cp.Slaves = nil
	return cp
}

// RetryRegexp compiles the retry pattern. "/re/" is a regular expression;
// anything else matches literally. A nil result disables retries.
func (c *Configuration) RetryRegexp() (*regexp.Regexp, error) {
	p := c.RetryPattern
	if p == "" {
		return nil, nil
	}
	if len(p) >= 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
		re, err := regexp.Compile(p[1 : len(p)-1])
		if err != nil {
			return nil, fmt.Errorf("compile retry pattern %q: %w", p, err)
		}
		return re, nil
	}
	return regexp.MustCompile(regexp.QuoteMeta(p)), nil
}

// ToMap renders the configuration as a nested map for the wire protocol.
func (c *Configuration) ToMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	return m, nil
}
