// Package logging persists test outputs to disk so failures and flakes
// survive the scrollback of a long run.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"

	"github.com/crucible-ci/crucible/types"
)

// RunDirectoryPrefix is the standardized prefix for run directories.
const RunDirectoryPrefix = "testrun-"

// FileLogger writes per-test output files under a per-run directory.
// Failed tests land in failed/, tests that passed only after retries land
// in flaky/, and a run summary is written at completion. Output is
// de-colored before writing since the files are meant for CI artifacts.
type FileLogger struct {
	baseDir     string
	logDir      string
	failedDir   string
	flakyDir    string
	summaryFile string
	runID       string
	mu          sync.Mutex
}

// NewFileLogger creates the run directory tree under baseDir.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, "failed")
	flakyDir := filepath.Join(logDir, "flaky")

	for _, dir := range []string{baseDir, logDir, failedDir, flakyDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &FileLogger{
		baseDir:     baseDir,
		logDir:      logDir,
		failedDir:   failedDir,
		flakyDir:    flakyDir,
		summaryFile: filepath.Join(logDir, "summary.log"),
		runID:       runID,
	}, nil
}

// LogTestResult persists the output of one result. Clean first-attempt
// passes are not written; their output carries no diagnostic value.
func (l *FileLogger) LogTestResult(result *types.ExecutionResult) error {
	if result.Success && len(result.PreviousAttempts) == 0 {
		return nil
	}

	dir := l.failedDir
	if result.Success {
		dir = l.flakyDir
	}

	var sb strings.Builder
	for i, attempt := range result.PreviousAttempts {
		fmt.Fprintf(&sb, "=== Attempt %d ===\n", i+1)
		sb.WriteString(stripansi.Strip(attempt.Output))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "=== Attempt %d ===\n", len(result.PreviousAttempts)+1)
	sb.WriteString(stripansi.Strip(result.Output))

	path := filepath.Join(dir, safeFilename(result.Name)+".log")
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write test log %s: %w", path, err)
	}
	return nil
}

// LogSummary writes the run summary file.
func (l *FileLogger) LogSummary(summary string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(l.summaryFile, []byte(stripansi.Strip(summary)), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

// LogDir returns the per-run directory path.
func (l *FileLogger) LogDir() string {
	return l.logDir
}

// SummaryFile returns the path of the run summary file.
func (l *FileLogger) SummaryFile() string {
	return l.summaryFile
}

// RunID returns the run identifier this logger writes under.
func (l *FileLogger) RunID() string {
	return l.runID
}

// safeFilename replaces characters that are problematic in filenames.
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "-",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(s)
}
