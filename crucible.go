// Package crucible wires the harness together: it resolves the build
// triple and execution targets, drives the workspace build, selects and
// runs tests, and turns the accumulated results into summaries, persisted
// logs and an exit status.
package crucible

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crucible-ci/crucible/builder"
	"github.com/crucible-ci/crucible/catalog"
	"github.com/crucible-ci/crucible/coverage"
	"github.com/crucible-ci/crucible/logging"
	"github.com/crucible-ci/crucible/metrics"
	"github.com/crucible-ci/crucible/policy"
	"github.com/crucible-ci/crucible/runner"
	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

// Harness is the top-level test harness for a cargo workspace.
type Harness struct {
	config  *Config
	version string
	table   *policy.Table
	runID   string
}

func New(config *Config, version string) (*Harness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	table := policy.Default()
	if config.PolicyFile != "" {
		var err error
		table, err = policy.Load(config.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy table: %w", err)
		}
	}

	config.Log.Debug("Creating harness with config",
		"workspace", config.Workspace,
		"buildTarget", config.BuildTarget,
		"rounds", config.Rounds,
		"retries", config.Retries,
		"coverage", config.Coverage)

	return &Harness{
		config:  config,
		version: version,
		table:   table,
		runID:   uuid.New().String(),
	}, nil
}

// RunID identifies this harness run in logs, metrics and monitoring.
func (h *Harness) RunID() string {
	return h.runID
}

// Run executes one full harness run. Test assertion failures come back as
// a *TestFailureError; everything else that goes wrong is a *RuntimeError.
func (h *Harness) Run(ctx context.Context) error {
	start := time.Now()
	cfg := h.config

	buildTriple, err := h.resolveBuildTriple()
	if err != nil {
		return NewRuntimeError(err)
	}

	profileDir := ""
	if cfg.Coverage {
		profileDir, err = os.MkdirTemp("", "crucible-profiles-")
		if err != nil {
			return NewRuntimeError(fmt.Errorf("creating profile directory: %w", err))
		}
		defer os.RemoveAll(profileDir)
	}

	unitTarget, integrationTarget, err := h.resolveRunTargets(buildTriple, profileDir)
	if err != nil {
		return NewRuntimeError(err)
	}

	executables, err := h.build(ctx, buildTriple)
	if err != nil {
		return NewRuntimeError(err)
	}
	if cfg.BuildOnly {
		cfg.Log.Info("Build completed, skipping test execution (build-only mode)")
		return nil
	}

	var mainExecutable types.Executable
	if cfg.Coverage {
		mainExecutable, err = builder.FindMainExecutable(executables, cfg.MainTarget)
		if err != nil {
			return NewRuntimeError(err)
		}
	}

	unit, integration, err := h.selectTests(executables, unitTarget, integrationTarget)
	if err != nil {
		return NewRuntimeError(err)
	}

	fileLogger, err := logging.NewFileLogger(cfg.LogDir, h.runID)
	if err != nil {
		return NewRuntimeError(err)
	}

	results, err := h.execute(ctx, unit, integration, unitTarget, integrationTarget, profileDir)
	if err != nil {
		return NewRuntimeError(err)
	}

	for _, result := range results {
		if err := fileLogger.LogTestResult(result); err != nil {
			cfg.Log.Warn("Failed to persist test output", "test", result.Name, "err", err)
		}
	}

	duration := time.Since(start)
	summary := summarize(results, duration)
	fmt.Println(summary)
	if err := fileLogger.LogSummary(summary); err != nil {
		cfg.Log.Warn("Failed to persist summary", "err", err)
	}

	failures := types.Failures(results)
	flakes := types.Flakes(results)
	status := "pass"
	if len(failures) > 0 {
		status = "fail"
	}
	metrics.RecordRun(h.runID, status, len(results), len(failures), len(flakes), duration)
	cfg.Log.Info("Test run completed", "run_id", h.runID, "status", status,
		"total", len(results), "failed", len(failures), "flaky", len(flakes))

	if cfg.Coverage {
		if err := h.generateCoverage(ctx, results, mainExecutable, profileDir); err != nil {
			return NewRuntimeError(err)
		}
	}

	if len(failures) > 0 {
		return NewTestFailureError(len(failures), len(results))
	}
	return nil
}

// resolveBuildTriple maps the configured build target, shorthand or full
// triple, to a Triple. Empty means the host.
func (h *Harness) resolveBuildTriple() (target.Triple, error) {
	if h.config.BuildTarget == "" {
		return target.HostTriple(), nil
	}
	return target.FromShorthand(h.config.BuildTarget)
}

// resolveRunTargets decides where each test category executes. An explicit
// --target forces both categories onto that one destination; "none"
// disables execution entirely, which callers observe as an empty test
// selection. With no spec, unit tests run on the host (through an emulator
// for foreign builds) and integration tests prefer a vm:ARCH target for
// aarch64 Linux builds when a VM transport is available.
func (h *Harness) resolveRunTargets(triple target.Triple, profileDir string) (unit, integration *target.Target, err error) {
	spec := h.config.TargetSpec
	switch {
	case spec == "none":
		return nil, nil, nil
	case spec == "" || spec == "host":
		host, err := h.hostTarget(triple, profileDir)
		if err != nil {
			return nil, nil, err
		}
		integration = host
		if spec == "" {
			if vm := h.defaultVMTarget(triple); vm != nil {
				integration = vm
			}
		}
		return host, integration, nil
	case strings.HasPrefix(spec, "vm:"):
		vm, err := h.vmTarget(spec, triple)
		if err != nil {
			return nil, nil, err
		}
		return vm, vm, nil
	default:
		return nil, nil, fmt.Errorf("unsupported target %q (expected 'host', 'vm:ARCH', or 'none')", spec)
	}
}

// hostTarget runs binaries on this machine, through an emulator wrapper
// when the build triple is foreign.
func (h *Harness) hostTarget(triple target.Triple, profileDir string) (*target.Target, error) {
	host := target.HostTriple()
	if triple.Arch == host.Arch && triple.Sys == host.Sys {
		return target.NewHost(triple, profileDir), nil
	}
	wrapper := h.config.Emulator
	if len(wrapper) == 0 {
		wrapper = defaultEmulator(triple)
	}
	if len(wrapper) == 0 {
		return nil, fmt.Errorf("build target %s is not native; supply --emulator to run its tests", triple)
	}
	return target.NewEmulated("emulated", triple, wrapper, profileDir), nil
}

// vmTarget resolves a vm:ARCH spec against the configured transport. The
// VM's architecture has to match the build triple or its binaries could
// never run there.
func (h *Harness) vmTarget(spec string, buildTriple target.Triple) (*target.Target, error) {
	triple, err := target.FromShorthand(strings.TrimPrefix(spec, "vm:"))
	if err != nil {
		return nil, fmt.Errorf("invalid vm target %q: %w", spec, err)
	}
	if triple.Arch != buildTriple.Arch {
		return nil, fmt.Errorf("vm target %s cannot run %s binaries", spec, buildTriple.Arch)
	}
	if h.config.VMTransport == nil {
		return nil, fmt.Errorf("target %s requires a VM transport and none is configured", spec)
	}
	executor, err := h.config.VMTransport(triple)
	if err != nil {
		return nil, fmt.Errorf("setting up transport for %s: %w", spec, err)
	}
	return target.NewRemote(spec, triple, executor), nil
}

// defaultVMTarget picks the conventional integration-test VM for the
// build triple, or nil when none applies or no transport is installed.
func (h *Harness) defaultVMTarget(triple target.Triple) *target.Target {
	if h.config.VMTransport == nil || triple.Sys != "linux" || triple.Arch != "aarch64" {
		return nil
	}
	vm, err := h.vmTarget("vm:aarch64", triple)
	if err != nil {
		h.config.Log.Warn("VM unavailable, integration tests fall back to the unit-test target", "err", err)
		return nil
	}
	return vm
}

// defaultEmulator returns the conventional wrapper for well-known foreign
// triples so cross-built tests run out of the box.
func defaultEmulator(triple target.Triple) []string {
	if triple.Sys == "windows" {
		return []string{"wine64"}
	}
	switch triple.Arch {
	case "aarch64":
		return []string{"qemu-aarch64-static"}
	case "armv7":
		return []string{"qemu-arm-static"}
	}
	return nil
}

// build runs cargo clean if requested and then the full workspace build.
func (h *Harness) build(ctx context.Context, buildTriple target.Triple) ([]types.Executable, error) {
	cfg := h.config

	commonRoot := filepath.Join(cfg.Workspace, "common")
	if _, err := os.Stat(commonRoot); err != nil {
		commonRoot = ""
	}
	cat, err := catalog.New(catalog.Config{
		Root:       cfg.Workspace,
		CommonRoot: commonRoot,
		Policy:     h.table,
		Log:        cfg.Log,
	})
	if err != nil {
		return nil, err
	}

	bld, err := builder.New(builder.Config{
		Log:           cfg.Log,
		WorkspaceRoot: cfg.Workspace,
		Catalog:       cat,
		Policy:        h.table,
		Parallelism:   cfg.Parallelism,
		Verbose:       cfg.Verbose,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Clean {
		cfg.Log.Info("Cleaning workspace before build")
		if err := bld.Clean(ctx); err != nil {
			return nil, err
		}
	}
	return bld.Build(ctx, buildTriple, cfg.Direct, cfg.Coverage)
}

// selectTests filters and classifies the build artifacts. Each category
// is filtered against its own target since run policy depends on the
// destination's nativeness; a nil target skips its category.
func (h *Harness) selectTests(executables []types.Executable, unitTarget, integrationTarget *target.Target) (unit, integration []types.Executable, err error) {
	if unitTarget == nil && integrationTarget == nil {
		h.config.Log.Info("Execution target is 'none', no tests will run")
		return nil, nil, nil
	}
	if unitTarget != nil && !h.config.IntegrationOnly {
		selected, err := runner.SelectTests(executables, h.table, unitTarget, h.config.Patterns)
		if err != nil {
			return nil, nil, err
		}
		unit, _ = runner.SplitByCategory(selected, h.table)
	}
	if integrationTarget != nil && !h.config.UnitOnly {
		selected, err := runner.SelectTests(executables, h.table, integrationTarget, h.config.Patterns)
		if err != nil {
			return nil, nil, err
		}
		_, integration = runner.SplitByCategory(selected, h.table)
	}
	h.config.Log.Info("Selected tests", "unit", len(unit), "integration", len(integration))
	return unit, integration, nil
}

// execute drives the configured rounds over the selected tests.
func (h *Harness) execute(ctx context.Context, unit, integration []types.Executable, unitTarget, integrationTarget *target.Target, profileDir string) ([]*types.ExecutionResult, error) {
	cfg := h.config
	if len(unit) == 0 && len(integration) == 0 {
		return nil, nil
	}

	progress := runner.NewProgress(os.Stdout, cfg.Verbose)
	engine, err := runner.NewEngine(runner.Config{
		Log:        cfg.Log,
		Policy:     h.table,
		HostTarget: target.NewHost(target.HostTriple(), profileDir),
		ProfileDir: profileDir,
		Verbose:    cfg.Verbose,
		Progress:   progress,
		RunID:      h.runID,
	})
	if err != nil {
		return nil, err
	}

	results := runner.NewRoundController(engine).Run(ctx, runner.RoundConfig{
		UnitTests:         unit,
		IntegrationTests:  integration,
		UnitTarget:        unitTarget,
		IntegrationTarget: integrationTarget,
		Rounds:            cfg.Rounds,
		Attempts:          cfg.Retries + 1,
		Parallelism:       cfg.Parallelism,
		CollectCoverage:   cfg.Coverage,
	})
	progress.Println()
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("test run interrupted: %w", err)
	}
	return results, nil
}

// generateCoverage merges the run's profiles into the lcov tracefile.
func (h *Harness) generateCoverage(ctx context.Context, results []*types.ExecutionResult, mainExecutable types.Executable, profileDir string) error {
	agg, err := coverage.NewAggregator(coverage.Config{
		Log:        h.config.Log,
		ProfileDir: profileDir,
		Sources:    coverage.ListSources(ctx, h.config.Workspace),
	})
	if err != nil {
		return err
	}
	return agg.Generate(ctx, results, mainExecutable.BinaryPath, h.config.LcovPath, h.config.CovReport)
}
