package adapter

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps framework names to adapters. It is built once at startup
// and passed to whatever needs it.
type Registry struct {
	order    []string
	adapters map[string]Adapter
}

// NewRegistry registers adapters in the given order. Classification of
// loose files tries them in that order.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// DefaultRegistry returns the built-in adapters. commands overrides the
// command line used to run a framework, keyed by framework name.
func DefaultRegistry(commands map[string]string) *Registry {
	return NewRegistry(
		NewRSpec(strings.Fields(commands[RSpecName])...),
		NewCucumber(strings.Fields(commands[CucumberName])...),
		NewShell(strings.Fields(commands[ShellName])...),
	)
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	if _, ok := r.adapters[a.Name()]; !ok {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFramework, name)
	}
	return a, nil
}

// Names returns the registered framework names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Classify groups files by the first adapter whose FilenameMatch accepts
// them. It returns the frameworks in order of first appearance and the
// files no adapter claimed.
func (r *Registry) Classify(files []string) (map[string][]string, []string, []string) {
	byFramework := make(map[string][]string)
	var frameworks, unmatched []string
	for _, f := range files {
		name := r.match(f)
		if name == "" {
			unmatched = append(unmatched, f)
			continue
		}
		if _, seen := byFramework[name]; !seen {
			frameworks = append(frameworks, name)
		}
		byFramework[name] = append(byFramework[name], f)
	}
	return byFramework, frameworks, unmatched
}

// Match returns the name of the first adapter that claims file.
func (r *Registry) Match(file string) (string, bool) {
	name := r.match(file)
	return name, name != ""
}

func (r *Registry) match(file string) string {
	for _, name := range r.order {
		if r.adapters[name].FilenameMatch(file) {
			return name
		}
	}
	return ""
}

// sortBySizeDesc orders files largest first; larger files tend to take
// longest, and starting them early shortens the tail of a run.
func sortBySizeDesc(files []string, size func(string) int64) {
	sizes := make(map[string]int64, len(files))
	for _, f := range files {
		sizes[f] = size(f)
	}
	sort.SliceStable(files, func(i, j int) bool {
		if sizes[files[i]] != sizes[files[j]] {
			return sizes[files[i]] > sizes[files[j]]
		}
		return files[i] < files[j]
	})
}
