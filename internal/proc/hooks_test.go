//go:build !windows

package proc

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunHooks_RunsInOrder(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "hooks.log")

	cmds := []string{
		"echo first >> " + log,
		"",
		"echo $TEST_ENV_NUMBER >> " + log,
	}
	var out bytes.Buffer
	env := append(os.Environ(), "TEST_ENV_NUMBER=3")
	if err := RunHooks(context.Background(), "before_worker", cmds, env, &out); err != nil {
		t.Fatalf("run hooks: %v", err)
	}

	data, err := os.ReadFile(log)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "first\n3\n" {
		t.Errorf("hook log: got %q", got)
	}
}

func TestRunHooks_StopsAtFailure(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "never")

	cmds := []string{
		"echo setting up; echo broken >&2; exit 3",
		"touch " + marker,
	}
	var out bytes.Buffer
	err := RunHooks(context.Background(), "before_runner", cmds, os.Environ(), &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "before_runner hook") || !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the stage and carry output: %v", err)
	}
	if !strings.Contains(out.String(), "setting up") {
		t.Errorf("output not forwarded: %q", out.String())
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("second hook ran after the first failed")
	}
}

func TestRunHooks_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := RunHooks(ctx, "after_runner", []string{"sleep 30"}, os.Environ(), nil)
	if err == nil {
		t.Fatal("expected error from cancelled hook")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("hook not killed promptly: %v", time.Since(start))
	}
}

func TestLauncher_Command(t *testing.T) {
	l := &Launcher{Path: "/bin/testforge", Prefix: []string{"-test.run=TestHelper", "--"}}
	l2 := l.With("A=1")
	cmd := l2.With("B=2").Command(context.Background(), "__worker", "--index", "2")

	want := []string{"/bin/testforge", "-test.run=TestHelper", "--", "__worker", "--index", "2"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Errorf("args: got %v, want %v", cmd.Args, want)
	}
	env := strings.Join(cmd.Env, "\n")
	if !strings.Contains(env, "A=1") || !strings.Contains(env, "B=2") {
		t.Errorf("env missing launcher entries")
	}
	if len(l.Env) != 0 {
		t.Errorf("With must not modify the receiver, got %v", l.Env)
	}
}
