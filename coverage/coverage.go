// Package coverage turns the raw profiles left behind by instrumented test
// binaries into an lcov tracefile via the llvm profdata and cov tools.
package coverage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/crucible-ci/crucible/types"
)

const (
	DefaultProfdataTool = "rust-profdata"
	DefaultCovTool      = "rust-cov"
)

// Config holds aggregator construction parameters.
type Config struct {
	Log          log.Logger
	ProfileDir   string   // where test runs dropped their .profraw files
	ProfdataTool string   // defaults to rust-profdata
	CovTool      string   // defaults to rust-cov
	Sources      []string // restrict the export to these source files when set
}

// Aggregator merges per-process coverage profiles and exports them as an
// lcov tracefile. Any tool failure is fatal for the run, a truncated
// tracefile is worse than none.
type Aggregator struct {
	log          log.Logger
	profileDir   string
	profdataTool string
	covTool      string
	sources      []string
}

func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.ProfileDir == "" {
		return nil, fmt.Errorf("profile directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.ProfdataTool == "" {
		cfg.ProfdataTool = DefaultProfdataTool
	}
	if cfg.CovTool == "" {
		cfg.CovTool = DefaultCovTool
	}
	return &Aggregator{
		log:          cfg.Log,
		profileDir:   cfg.ProfileDir,
		profdataTool: cfg.ProfdataTool,
		covTool:      cfg.CovTool,
		sources:      cfg.Sources,
	}, nil
}

// ListSources returns the repository's tracked Rust sources, used to keep
// third-party and generated code out of the tracefile. A workspace that is
// not a git checkout yields no restriction.
func ListSources(ctx context.Context, root string) []string {
	out, err := exec.CommandContext(ctx, "git", "-C", root, "ls-files", "--", "*.rs").Output()
	if err != nil {
		return nil
	}
	var sources []string
	for _, line := range strings.Split(string(out), "\n") {
		if line != "" {
			sources = append(sources, filepath.Join(root, line))
		}
	}
	return sources
}

// Generate merges the profiles recorded in results into one indexed
// profile, then exports an lcov tracefile covering every test binary plus
// the main binary. When printReport is set, a per-file summary table is
// additionally written to stdout.
func (a *Aggregator) Generate(ctx context.Context, results []*types.ExecutionResult, mainBinary string, lcovPath string, printReport bool) error {
	var profiles []string
	for _, result := range results {
		profiles = append(profiles, result.ProfileFiles...)
	}
	if len(profiles) == 0 {
		return fmt.Errorf("no coverage profiles were produced")
	}

	merged := filepath.Join(a.profileDir, "merged.profdata")
	a.log.Info("Merging coverage profiles", "count", len(profiles), "output", merged)
	args := append([]string{"merge", "-sparse"}, profiles...)
	args = append(args, "-o", merged)
	if out, err := exec.CommandContext(ctx, a.profdataTool, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s merge failed: %w\n%s", a.profdataTool, err, out)
	}

	objects := a.objectArgs(results, mainBinary)

	a.log.Info("Exporting lcov tracefile", "output", lcovPath)
	exportArgs := append([]string{"export", "--format=lcov", "--instr-profile=" + merged}, objects...)
	exportArgs = append(exportArgs, a.sources...)
	tracefile, err := exec.CommandContext(ctx, a.covTool, exportArgs...).Output()
	if err != nil {
		return fmt.Errorf("%s export failed: %w", a.covTool, err)
	}
	if err := os.WriteFile(lcovPath, tracefile, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", lcovPath, err)
	}

	if printReport {
		reportArgs := append([]string{"report", "--instr-profile=" + merged}, objects...)
		cmd := exec.CommandContext(ctx, a.covTool, reportArgs...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s report failed: %w", a.covTool, err)
		}
	}
	return nil
}

// objectArgs builds the --object flags for every binary that contributed
// profiles, deduplicated and filtered to paths that still exist. The main
// binary is included so library code only reachable from it is attributed.
func (a *Aggregator) objectArgs(results []*types.ExecutionResult, mainBinary string) []string {
	seen := make(map[string]bool)
	var args []string
	add := func(binary string) {
		if binary == "" || seen[binary] {
			return
		}
		seen[binary] = true
		if _, err := os.Stat(binary); err != nil {
			a.log.Warn("Skipping missing coverage object", "binary", binary)
			return
		}
		args = append(args, "--object", binary)
	}
	for _, result := range results {
		if len(result.ProfileFiles) > 0 {
			add(result.BinaryPath)
		}
	}
	add(mainBinary)
	return args
}
