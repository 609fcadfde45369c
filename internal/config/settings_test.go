package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettings_Valid(t *testing.T) {
	content := `
cpus: 8
environment: ci
retry: "/Deadlock|Timeout/"
attempts: 3
split_files: true
hooks:
  before_runner: ["bin/setup"]
  before_worker: ["bin/reset-db"]
frameworks:
  - name: rspec
    patterns: ["spec/**/*_spec.rb"]
  - name: cucumber
slaves:
  - command: ssh ci-2 testforge slave-mode
    cpus: 3
commands:
  rspec: bin/rspec
`
	path := writeTemp(t, content)
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}

	if s.CPUs != 8 {
		t.Errorf("cpus: got %d, want 8", s.CPUs)
	}
	if s.Environment != "ci" {
		t.Errorf("environment: got %q, want ci", s.Environment)
	}
	if s.Retry != "/Deadlock|Timeout/" {
		t.Errorf("retry: got %q", s.Retry)
	}
	if s.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", s.Attempts)
	}
	if !s.SplitFiles {
		t.Error("split_files: got false, want true")
	}
	if len(s.Hooks.BeforeWorker) != 1 || s.Hooks.BeforeWorker[0] != "bin/reset-db" {
		t.Errorf("hooks.before_worker: got %v", s.Hooks.BeforeWorker)
	}
	if len(s.Frameworks) != 2 || s.Frameworks[0].Name != "rspec" || s.Frameworks[1].Name != "cucumber" {
		t.Errorf("frameworks: got %+v", s.Frameworks)
	}
	if len(s.Slaves) != 1 || s.Slaves[0].CPUs != 3 {
		t.Errorf("slaves: got %+v", s.Slaves)
	}
	if s.Commands["rspec"] != "bin/rspec" {
		t.Errorf("commands: got %v", s.Commands)
	}
}

func TestLoadSettings_Partial(t *testing.T) {
	path := writeTemp(t, `cpus: 12`)
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}

	if s.CPUs != 12 {
		t.Errorf("cpus: got %d, want 12", s.CPUs)
	}
	if s.Environment != "" {
		t.Errorf("environment: got %q, want empty", s.Environment)
	}
	if s.Retry != "" {
		t.Errorf("retry: got %q, want empty", s.Retry)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	s, err := LoadSettings("/nonexistent/.testforge.yml")
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if s.CPUs != 0 || len(s.Slaves) != 0 {
		t.Errorf("expected zero settings, got %+v", s)
	}
}

func TestLoadSettings_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "cpus: [unclosed")
	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestSettingsApply_FlagsWin(t *testing.T) {
	s := &Settings{CPUs: 8, Environment: "ci", Attempts: 2, Retry: "Deadlock"}
	c := Default()
	c.ProcessCount = 3

	changed := map[string]bool{"cpus": true}
	s.Apply(c, func(flag string) bool { return changed[flag] })

	if c.ProcessCount != 3 {
		t.Errorf("process count: got %d, want flag value 3", c.ProcessCount)
	}
	if c.Environment != "ci" {
		t.Errorf("environment: got %q, want ci", c.Environment)
	}
	if c.MaxAttempts != 2 {
		t.Errorf("max attempts: got %d, want 2", c.MaxAttempts)
	}
	if c.RetryPattern != "Deadlock" {
		t.Errorf("retry: got %q", c.RetryPattern)
	}
}

func TestSettingsApply_ListsOnlyFillEmpty(t *testing.T) {
	s := &Settings{
		Frameworks: []Framework{{Name: "cucumber"}},
		Slaves:     []SlaveDescriptor{{Command: "ssh a testforge slave-mode"}},
	}
	c := Default()
	c.AddFramework("rspec", nil)

	s.Apply(c, func(string) bool { return false })

	if got := c.FrameworkNames(); len(got) != 1 || got[0] != "rspec" {
		t.Errorf("frameworks: got %v, want [rspec]", got)
	}
	if len(c.Slaves) != 1 {
		t.Errorf("slaves: got %d, want 1", len(c.Slaves))
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultSettingsFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
