package burndown

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists burndown reports.
type Store interface {
	Save(r *Report) error
	// Load returns the most recently saved report.
	Load() (*Report, error)
	Close() error
}

// Open picks a store by file extension: .db, .sqlite and .sqlite3 are SQLite
// databases, anything else is a JSON file.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return &JSONStore{path: path}, nil
	}
}

// JSONStore keeps the latest report in a JSON file. Writes are atomic
// (tmp → rename).
type JSONStore struct {
	path string
}

// NewJSONStore returns a store writing to path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Save(r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONStore) Load() (*Report, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read burndown: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse burndown %s: %w", s.path, err)
	}
	return &r, nil
}

func (s *JSONStore) Close() error { return nil }
