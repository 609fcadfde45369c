package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/testforge/internal/master"
)

// RunResult is the machine-readable outcome of a run.
type RunResult struct {
	Success        bool      `json:"success"`
	Aborted        bool      `json:"aborted,omitempty"`
	FileCount      int       `json:"file_count"`
	FilesCompleted int       `json:"files_completed"`
	TestCount      int       `json:"test_count"`
	FailureCount   int       `json:"failure_count"`
	Failure        bool      `json:"failure"`
	Output         string    `json:"output,omitempty"`
	BurndownRunID  string    `json:"burndown_run_id,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// NewRunResult captures the final progress of a run.
func NewRunResult(p master.Progress, success, aborted bool) *RunResult {
	return &RunResult{
		Success:        success,
		Aborted:        aborted,
		FileCount:      p.FileCount,
		FilesCompleted: p.FilesCompleted,
		TestCount:      p.TestCount,
		FailureCount:   p.FailureCount,
		Failure:        p.Failure,
		Output:         p.FilteredOutput(),
		FinishedAt:     time.Now(),
	}
}

// WriteJSONReport writes the run result as JSON to the given path.
func WriteJSONReport(result *RunResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}
