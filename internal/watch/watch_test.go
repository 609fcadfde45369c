package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type change struct {
	tests []string
	all   bool
}

func startWatcher(t *testing.T, root string) <-chan change {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan change, 10)

	w := New(Config{
		Root:     root,
		IsTest:   func(p string) bool { return strings.HasSuffix(p, "_test.sh") },
		Debounce: 50 * time.Millisecond,
	})
	errc := make(chan error, 1)
	go func() {
		errc <- w.Run(ctx, func(_ context.Context, tests []string, all bool) {
			changes <- change{tests, all}
		})
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("watcher: %v", err)
		}
	})
	// let the watcher register its directories
	time.Sleep(100 * time.Millisecond)
	return changes
}

func waitChange(t *testing.T, changes <-chan change) change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return change{}
	}
}

func TestWatcher_TestFileChange(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "test")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	changes := startWatcher(t, root)

	file := filepath.Join(sub, "a_test.sh")
	if err := os.WriteFile(file, []byte("echo ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// a burst of writes is one batch
	if err := os.WriteFile(file, []byte("echo 'ok 1'\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := waitChange(t, changes)
	if c.all {
		t.Error("only a test changed")
	}
	if len(c.tests) != 1 || c.tests[0] != file {
		t.Errorf("tests: %v", c.tests)
	}
}

func TestWatcher_SourceChangeRunsAll(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "lib.sh"), []byte("x=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := waitChange(t, changes)
	if !c.all {
		t.Errorf("expected a full run, got %+v", c)
	}
}

func TestWatcher_HiddenFilesIgnored(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, ".a_test.sh.swp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Errorf("hidden file triggered a run: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBatch_Take(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "b_test.sh")
	if err := os.WriteFile(kept, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	b := newBatch()
	b.add(kept)
	b.add(filepath.Join(dir, "deleted_test.sh"))

	tests, all := b.take(func(p string) bool { return strings.HasSuffix(p, "_test.sh") })
	if all {
		t.Error("no source file changed")
	}
	if len(tests) != 1 || tests[0] != kept {
		t.Errorf("tests: %v", tests)
	}
	if tests, all := b.take(func(string) bool { return true }); len(tests) != 0 || all {
		t.Error("take should empty the batch")
	}
}

func TestHidden(t *testing.T) {
	cases := map[string]bool{
		"/x/.git":       true,
		"/x/a_test.sh~": true,
		"/x/.a.swp":     true,
		"/x/a_test.sh":  false,
		".":             false,
	}
	for path, want := range cases {
		if got := hidden(path); got != want {
			t.Errorf("hidden(%q): got %v, want %v", path, got, want)
		}
	}
}
