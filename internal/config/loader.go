package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// EnvVar carries the encoded configuration from a parent process to the
// runner, worker and exec processes it starts.
const EnvVar = "TESTFORGE_CONFIG"

// ErrNoConfiguration is returned by FromEnv when EnvVar is unset.
var ErrNoConfiguration = errors.New("no configuration in environment")

// Encode serializes the configuration for EnvVar.
func (c *Configuration) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode configuration: %w", err)
	}
	return string(data), nil
}

// EnvEntry returns "TESTFORGE_CONFIG=<json>" for exec.Cmd.Env.
func (c *Configuration) EnvEntry() (string, error) {
	enc, err := c.Encode()
	if err != nil {
		return "", err
	}
	return EnvVar + "=" + enc, nil
}

// Decode parses an encoded configuration and validates it.
func Decode(data []byte) (*Configuration, error) {
	c := Default()
	c.ProcessCount = 0
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// FromEnv reads the configuration handed down by the parent process.
func FromEnv() (*Configuration, error) {
	raw, ok := os.LookupEnv(EnvVar)
	if !ok || raw == "" {
		return nil, ErrNoConfiguration
	}
	return Decode([]byte(raw))
}

// FromMap decodes the nested map carried by a "configuration" message.
func FromMap(m map[string]any) (*Configuration, error) {
	if m == nil {
		return nil, fmt.Errorf("parse configuration: empty")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	return Decode(data)
}

// Validate checks the configuration for values no component can work with.
func Validate(c *Configuration) error {
	if c.ProcessCount < 0 {
		return fmt.Errorf("process count must not be negative, got %d", c.ProcessCount)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if _, err := c.RetryRegexp(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Frameworks))
	for _, f := range c.Frameworks {
		if f.Name == "" {
			return fmt.Errorf("framework with empty name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate framework: %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	for i, s := range c.Slaves {
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("slave %d has an empty command", i+1)
		}
		if s.CPUs < 0 {
			return fmt.Errorf("slave %q: cpus must not be negative", s.Command)
		}
	}

	switch c.TUI {
	case "", "auto", "full", "minimal", "off":
	default:
		return fmt.Errorf("unknown tui mode %q (want auto, full, minimal or off)", c.TUI)
	}
	return nil
}
