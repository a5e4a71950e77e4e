package crucible

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/crucible-ci/crucible/flags"
	"github.com/crucible-ci/crucible/target"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	Workspace   string   // Cargo workspace root
	PolicyFile  string   // Crate policy file; empty selects the built-in defaults
	BuildTarget string   // Triple or shorthand the tests are built for; empty means host
	TargetSpec  string   // Where to run: "host", "vm:ARCH", "none", or empty for the default
	Emulator    []string // Wrapper command for foreign-architecture binaries
	MainTarget  string   // Main binary target name, needed for coverage attribution

	// VMTransport supplies the executor behind vm:ARCH targets. VM
	// lifecycle and the transport itself live outside the harness; with
	// no transport installed, vm targets are rejected at resolution time.
	VMTransport func(target.Triple) (target.Executor, error)

	Clean           bool
	BuildOnly       bool
	UnitOnly        bool
	IntegrationOnly bool
	Direct          bool

	Coverage    bool   // Build instrumented and collect profiles
	LcovPath    string // Tracefile destination when Coverage is set
	CovReport   bool   // Print a per-file summary after generating the tracefile
	Rounds      int    // Times the whole test set is repeated
	Retries     int    // Retries per failing test
	Parallelism int    // Unit-test pool width (0 = default)
	Verbose     bool
	Patterns    []string // Positional crate:target globs selecting tests

	LogDir     string // Directory for per-run output files
	Monitoring bool   // Expose healthz/metrics endpoints during the run
	Log        log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	workspace, err := filepath.Abs(ctx.String(flags.Workspace.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for workspace '%s': %w", ctx.String(flags.Workspace.Name), err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	unitOnly := ctx.Bool(flags.UnitTests.Name)
	integrationOnly := ctx.Bool(flags.IntegrationTests.Name)
	if unitOnly && integrationOnly {
		return nil, errors.New("--unit-tests and --integration-tests are mutually exclusive; omit both to run everything")
	}

	// --generate-lcov implies coverage; --cov alone defaults the tracefile
	// name so CI always finds it in the same place.
	lcovPath := ctx.String(flags.GenerateLcov.Name)
	coverage := ctx.Bool(flags.Cov.Name) || lcovPath != ""
	if coverage && lcovPath == "" {
		lcovPath = "lcov.info"
	}

	buildTarget := ctx.String(flags.BuildTarget.Name)
	if arch := ctx.String(flags.Arch.Name); arch != "" {
		log.Warn("--arch is deprecated, use --build-target")
		if buildTarget == "" {
			buildTarget = arch
		}
	}

	rounds := ctx.Int(flags.Repeat.Name)
	if rounds < 1 {
		return nil, fmt.Errorf("--repeat must be at least 1, got %d", rounds)
	}
	retries := ctx.Int(flags.Retry.Name)
	if retries < 0 {
		return nil, fmt.Errorf("--retry cannot be negative, got %d", retries)
	}

	return &Config{
		Workspace:       workspace,
		PolicyFile:      ctx.String(flags.Policy.Name),
		BuildTarget:     buildTarget,
		TargetSpec:      ctx.String(flags.Target.Name),
		Emulator:        ctx.StringSlice(flags.Emulator.Name),
		MainTarget:      ctx.String(flags.MainTarget.Name),
		Clean:           ctx.Bool(flags.Clean.Name),
		BuildOnly:       ctx.Bool(flags.BuildOnly.Name),
		UnitOnly:        unitOnly,
		IntegrationOnly: integrationOnly,
		Direct:          ctx.Bool(flags.Direct.Name),
		Coverage:        coverage,
		LcovPath:        lcovPath,
		CovReport:       ctx.Bool(flags.CovReport.Name) || ctx.Bool(flags.Cov.Name),
		Rounds:          rounds,
		Retries:         retries,
		Parallelism:     ctx.Int(flags.Parallelism.Name),
		Verbose:         ctx.Bool(flags.Verbose.Name),
		Patterns:        ctx.Args().Slice(),
		LogDir:          logDir,
		Monitoring:      ctx.Bool(flags.Monitoring.Name),
		Log:             log,
	}, nil
}
