// Package runner is the execution engine: it runs selected test binaries
// against resolved targets with bounded parallelism, per-test retry and
// target-dependent timeout scaling, and drives the repeat rounds that
// surface flaky tests.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/crucible-ci/crucible/metrics"
	"github.com/crucible-ci/crucible/policy"
	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

// Engine runs individual test executables. It holds no mutable state of
// its own; all coordination happens through the worker pool's channels.
type Engine struct {
	log        log.Logger
	table      *policy.Table
	hostTarget *target.Target
	profileDir string
	verbose    bool
	progress   *Progress
	runID      string
	tracer     trace.Tracer
}

// Config holds engine construction parameters.
type Config struct {
	Log        log.Logger
	Policy     *policy.Table
	HostTarget *target.Target // destination for proc-macro test reroutes
	ProfileDir string         // where coverage profiles accumulate
	Verbose    bool
	Progress   *Progress
	RunID      string
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy table is required")
	}
	if cfg.HostTarget == nil {
		return nil, fmt.Errorf("host target is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewProgress(nil, cfg.Verbose)
	}
	return &Engine{
		log:        cfg.Log,
		table:      cfg.Policy,
		hostTarget: cfg.HostTarget,
		profileDir: cfg.ProfileDir,
		verbose:    cfg.Verbose,
		progress:   cfg.Progress,
		runID:      cfg.RunID,
		tracer:     otel.Tracer("test runner"),
	}, nil
}

// testTimeout computes the budget for one attempt. Large crates get a
// doubled base; non-native targets double the result again.
func (e *Engine) testTimeout(tgt *target.Target, exe types.Executable) time.Duration {
	timeout := TestTimeout
	if e.table.Has(exe.CrateName, policy.Large) {
		timeout = LargeTestTimeout
	}
	if !tgt.IsNative() {
		timeout *= EmulationTimeoutMultiplier
	}
	return timeout
}

// RunTest executes one test binary with up to attempts tries. The
// returned result is immutable and carries the chain of failed attempts,
// oldest first. Proc-macro tests always execute on the native host since
// their code runs inside the compiler.
func (e *Engine) RunTest(ctx context.Context, exe types.Executable, tgt *target.Target, attempts int, collectCoverage bool) *types.ExecutionResult {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("test %s", exe.Name()))
	defer span.End()

	if exe.Kind == types.KindProcMacro {
		tgt = e.hostTarget
	}

	var args []string
	if e.table.Has(exe.CrateName, policy.SingleThreaded) {
		args = append(args, "--test-threads=1")
	}
	timeout := e.testTimeout(tgt, exe)

	var previousAttempts []*types.ExecutionResult
	var result *types.ExecutionResult
	for attempt := 1; attempt <= attempts; attempt++ {
		if e.verbose {
			e.progress.Printf("Running test %s on %s... (attempt %d/%d)\n", exe.Name(), tgt, attempt, attempts)
		}
		e.log.Debug("Running test", "test", exe.Name(), "target", tgt.Name, "attempt", attempt, "timeout", timeout)

		result = e.runAttempt(ctx, exe, tgt, args, timeout, collectCoverage, previousAttempts)
		metrics.RecordTest(e.runID, exe.Name(), tgt.Name, result.Success)
		if result.Success {
			break
		}
		previousAttempts = append(previousAttempts, result)
	}
	return result
}

// runAttempt performs a single execution and wraps it into a result.
// Timeouts become failed attempts with an explicit annotation appended to
// whatever output was captured before expiry.
func (e *Engine) runAttempt(ctx context.Context, exe types.Executable, tgt *target.Target, args []string, timeout time.Duration, collectCoverage bool, previousAttempts []*types.ExecutionResult) *types.ExecutionResult {
	history := append([]*types.ExecutionResult{}, previousAttempts...)

	proc, err := tgt.Executor.Exec(ctx, target.ExecRequest{
		Binary:          exe.BinaryPath,
		Args:            args,
		Timeout:         timeout,
		GenerateProfile: collectCoverage,
		Env:             []string{"RUST_BACKTRACE=1"},
	})
	if err != nil {
		output := ""
		if proc != nil {
			output = proc.Output
		}
		if target.IsTimeout(err) {
			output += fmt.Sprintf("\n\nProcess timed out after %v\n", timeout)
		} else {
			output += fmt.Sprintf("\n\nFailed to execute: %v\n", err)
		}
		return &types.ExecutionResult{
			Name:             exe.Name(),
			BinaryPath:       exe.BinaryPath,
			Success:          false,
			Output:           output,
			PreviousAttempts: history,
		}
	}

	var profileFiles []string
	if collectCoverage {
		profileFiles, _ = target.ListProfileFiles(e.profileDir, exe.BinaryPath)
		if len(profileFiles) == 0 {
			e.progress.Printf("\nWarning: Running %s did not produce a profile file.\n", exe.BinaryPath)
		}
	}

	return &types.ExecutionResult{
		Name:             exe.Name(),
		BinaryPath:       exe.BinaryPath,
		Success:          proc.ExitCode == 0,
		Output:           proc.Output,
		PreviousAttempts: history,
		ProfileFiles:     profileFiles,
	}
}
