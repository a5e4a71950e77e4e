// Package builder drives the workspace build: two cargo phases per build
// (a plain build to surface ordinary compile errors first, then a
// compile-tests-without-running phase), with the structured message
// stream materialized into a list of produced executables. A build
// failure is fatal to the whole run.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/crucible-ci/crucible/catalog"
	"github.com/crucible-ci/crucible/policy"
	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

// DefaultParallelism bounds the worker pool that builds auxiliary crates.
const DefaultParallelism = 4

// BuildError reports a non-zero exit from a cargo phase. It is fatal:
// the harness flushes buffered diagnostics and terminates the run.
type BuildError struct {
	Phase    string
	ExitCode int
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("cargo %s failed with exit code %d", e.Phase, e.ExitCode)
}

// Config holds builder construction parameters.
type Config struct {
	Log           log.Logger
	WorkspaceRoot string
	Catalog       *catalog.Catalog
	Policy        *policy.Table
	CargoBinary   string // defaults to "cargo"
	Parallelism   int    // aux-crate build workers, defaults to DefaultParallelism
	Verbose       bool
	Output        io.Writer // where diagnostics are flushed; defaults to os.Stdout
}

// Builder invokes cargo and collects produced executables.
type Builder struct {
	log         log.Logger
	root        string
	catalog     *catalog.Catalog
	table       *policy.Table
	cargo       string
	parallelism int
	verbose     bool
	out         io.Writer
}

func New(cfg Config) (*Builder, error) {
	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy table is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.CargoBinary == "" {
		cfg.CargoBinary = "cargo"
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Builder{
		log:         cfg.Log,
		root:        cfg.WorkspaceRoot,
		catalog:     cfg.Catalog,
		table:       cfg.Policy,
		cargo:       cfg.CargoBinary,
		parallelism: cfg.Parallelism,
		verbose:     cfg.Verbose,
		out:         cfg.Output,
	}, nil
}

// Build compiles the whole workspace for the triple plus every auxiliary
// common crate, and returns all produced artifacts. When the workspace
// build fails the error is a *BuildError and no artifacts are returned.
func (b *Builder) Build(ctx context.Context, triple target.Triple, direct, coverage bool) ([]types.Executable, error) {
	env := b.buildEnv(coverage)

	b.log.Info("Building workspace", "triple", triple.String(), "direct", direct, "coverage", coverage)
	fmt.Fprintln(b.out, "Building workspace")

	features := b.table.BuildFeatures(triple)
	var extraArgs []string
	if direct {
		features += ",direct"
		extraArgs = append(extraArgs, "--no-default-features")
	}
	if triple.Sys == "windows" {
		extraArgs = append(extraArgs, "--no-default-features")
	}

	args := []string{
		"--features=" + features,
		"--target=" + triple.String(),
		"--verbose",
		"--workspace",
	}
	for _, crate := range b.catalog.WorkspaceExcludes(triple) {
		args = append(args, "--exclude="+crate)
	}
	args = append(args, extraArgs...)

	executables, err := b.buildExecutables(ctx, b.root, args, env)
	if err != nil {
		return nil, err
	}

	common, err := b.buildCommonCrates(ctx, triple, env)
	if err != nil {
		return nil, err
	}
	return append(executables, common...), nil
}

// buildCommonCrates builds every auxiliary crate independently through a
// bounded worker pool. The first failure cancels the remaining workers.
func (b *Builder) buildCommonCrates(ctx context.Context, triple target.Triple, env []string) ([]types.Executable, error) {
	crates, err := b.catalog.CommonCrates(triple)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		all []types.Executable
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for _, crate := range crates {
		crate := crate
		g.Go(func() error {
			fmt.Fprintf(b.out, "Building tests for: %s\n", crate.Name)
			executables, err := b.buildExecutables(ctx, crate.Path, nil, env)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, executables...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// buildExecutables runs the two cargo phases for one directory.
func (b *Builder) buildExecutables(ctx context.Context, cwd string, flags []string, env []string) ([]types.Executable, error) {
	executables, err := b.cargoCommand(ctx, "build", cwd, flags, env)
	if err != nil {
		return nil, err
	}
	testExecutables, err := b.cargoCommand(ctx, "test", cwd, append([]string{"--no-run"}, flags...), env)
	if err != nil {
		return nil, err
	}
	return append(executables, testExecutables...), nil
}

// cargoCommand executes one cargo phase, consuming its message stream.
// Diagnostics are buffered and only flushed when the phase fails, unless
// verbose mode streams them directly.
func (b *Builder) cargoCommand(ctx context.Context, command, cwd string, flags, env []string) ([]types.Executable, error) {
	messageFormat := "json"
	if isatty.IsTerminal(os.Stdout.Fd()) {
		messageFormat = "json-diagnostic-rendered-ansi"
	}
	args := append([]string{command, "--message-format=" + messageFormat}, flags...)

	cmd := exec.CommandContext(ctx, b.cargo, args...)
	cmd.Dir = cwd
	cmd.Env = env

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if b.verbose {
		fmt.Fprintf(b.out, "$ %s %v\n", b.cargo, args)
	}
	b.log.Debug("Running cargo", "command", command, "cwd", cwd, "args", args)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("starting cargo %s: %w", command, err)
	}

	var (
		executables []types.Executable
		diagnostics []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range parseStream(pr) {
			switch {
			case ev.Artifact != nil:
				executables = append(executables, *ev.Artifact)
			default:
				if b.verbose {
					fmt.Fprintln(b.out, ev.Diagnostic)
				}
				diagnostics = append(diagnostics, ev.Diagnostic)
			}
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-done

	if waitErr != nil {
		if !b.verbose {
			for _, message := range diagnostics {
				fmt.Fprintln(b.out, message)
			}
		}
		return nil, &BuildError{Phase: command, ExitCode: cmd.ProcessState.ExitCode()}
	}
	return executables, nil
}

// buildEnv assembles the build environment. Coverage instrumentation is
// requested through RUSTFLAGS so every artifact emits profiles when run.
func (b *Builder) buildEnv(coverage bool) []string {
	env := append(os.Environ(), "RUST_BACKTRACE=1")
	if coverage {
		env = append(env, "RUSTFLAGS=-C instrument-coverage")
	}
	return env
}

// Clean removes compilation artifacts.
func (b *Builder) Clean(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.cargo, "clean")
	cmd.Dir = b.root
	cmd.Stdout = b.out
	cmd.Stderr = b.out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cargo clean: %w", err)
	}
	return nil
}

// FindMainExecutable locates the unique non-test binary named by
// mainTarget among the build outputs. With an empty mainTarget the single
// non-test bin artifact is used; ambiguity or absence is a configuration
// error.
func FindMainExecutable(executables []types.Executable, mainTarget string) (types.Executable, error) {
	var matches []types.Executable
	for _, exe := range executables {
		if exe.IsTest || exe.Kind != types.KindBin {
			continue
		}
		if mainTarget == "" || exe.TargetName == mainTarget {
			matches = append(matches, exe)
		}
	}
	switch {
	case len(matches) == 0 && mainTarget == "":
		return types.Executable{}, fmt.Errorf("no non-test binary among build outputs")
	case len(matches) == 0:
		return types.Executable{}, fmt.Errorf("cannot find main executable %q among build outputs", mainTarget)
	case len(matches) > 1 && mainTarget == "":
		return types.Executable{}, fmt.Errorf("multiple non-test binaries produced; select one with --main-target")
	}
	return matches[0], nil
}
