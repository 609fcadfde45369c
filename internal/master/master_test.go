//go:build !windows

package master_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/master"
	"github.com/ppiankov/testforge/internal/proc"
	"github.com/ppiankov/testforge/internal/roles"
)

const helperEnv = "TESTFORGE_MASTER_HELPER"

// TestMain lets the test binary stand in for runner, worker and exec processes.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		handled, err := roles.Dispatch(context.Background(), os.Args[1:], os.Stderr)
		if !handled {
			fmt.Fprintf(os.Stderr, "unexpected helper args %v\n", os.Args[1:])
			os.Exit(2)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type countingFormatter struct {
	said     []string
	updates  int
	final    master.Progress
	success  bool
	finished bool
}

func (f *countingFormatter) Start(master.Progress)    {}
func (f *countingFormatter) Say(text string)          { f.said = append(f.said, text) }
func (f *countingFormatter) Progress(master.Progress) { f.updates++ }
func (f *countingFormatter) Finish(p master.Progress, success bool) {
	f.final, f.success, f.finished = p, success, true
}

func writeScripts(t *testing.T, bodies ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var files []string
	for i, body := range bodies {
		path := filepath.Join(dir, fmt.Sprintf("t%d_test.sh", i+1))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		files = append(files, path)
	}
	return files
}

func newMaster(t *testing.T, cfg *config.Configuration, files []string, f master.Formatter) *master.Master {
	t.Helper()
	m, err := master.New(master.Options{
		Config:       cfg,
		Registry:     adapter.DefaultRegistry(cfg.Commands),
		Files:        files,
		Launcher:     &proc.Launcher{Path: os.Args[0], Env: []string{helperEnv + "=1"}},
		Formatter:    f,
		RunnerStderr: os.Stderr,
	})
	require.NoError(t, err)
	return m
}

func TestMaster_LocalRunEndToEnd(t *testing.T) {
	files := writeScripts(t,
		"echo 'ok 1'\necho 'ok 2'\n",
		"echo 'ok 1'\n",
		"echo 'ok 1'\necho 'ok 2'\necho 'ok 3'\n",
		"echo 'ok 1'\n",
	)
	cfg := config.Default()
	cfg.ProcessCount = 2
	f := &countingFormatter{}

	m := newMaster(t, cfg, files, f)
	assert.Equal(t, "shell", cfg.Framework)

	ok, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "said: %v", f.said)

	p := m.Progress()
	assert.Equal(t, 4, p.FileCount)
	assert.Equal(t, 4, p.FilesCompleted)
	assert.Equal(t, 7, p.TestCount)
	assert.Zero(t, p.FailureCount)
	assert.Equal(t, 4, f.updates)
	assert.True(t, f.finished)
	assert.True(t, f.success)
}

func TestMaster_FailingFileFailsRun(t *testing.T) {
	files := writeScripts(t,
		"echo 'ok 1'\n",
		"echo 'not ok 1 - broken'\nexit 1\n",
	)
	cfg := config.Default()
	cfg.ProcessCount = 1
	f := &countingFormatter{}

	m := newMaster(t, cfg, files, f)
	ok, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	p := m.Progress()
	assert.Equal(t, 2, p.FilesCompleted)
	assert.Equal(t, 1, p.FailureCount)
	assert.Contains(t, p.FilteredOutput(), "not ok 1 - broken")
}

func TestMaster_UnmatchedFilesAreSkipped(t *testing.T) {
	files := writeScripts(t, "echo 'ok 1'\n")
	files = append(files, "/nowhere/README.md")
	cfg := config.Default()
	cfg.ProcessCount = 1
	f := &countingFormatter{}

	m := newMaster(t, cfg, files, f)
	assert.Equal(t, 1, m.Queue().Remaining())
	assert.Contains(t, f.said[0], "README.md")
}

func TestMaster_UnknownStartFramework(t *testing.T) {
	cfg := config.Default()
	cfg.StartFramework = "minitest"
	_, err := master.New(master.Options{
		Config:   cfg,
		Registry: adapter.DefaultRegistry(nil),
	})
	require.ErrorIs(t, err, adapter.ErrUnknownFramework)
}

func TestMaster_HookFailureFailsRun(t *testing.T) {
	files := writeScripts(t, "echo 'ok 1'\n")
	cfg := config.Default()
	cfg.ProcessCount = 1
	cfg.Hooks.BeforeRunner = []string{"echo setting up; false"}
	f := &countingFormatter{}

	m := newMaster(t, cfg, files, f)
	ok, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, m.Progress().Failure)
	assert.Zero(t, m.Progress().FilesCompleted)
}
