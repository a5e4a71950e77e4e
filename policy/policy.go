// Package policy holds the per-crate test policy table. The table is
// supplied externally (a YAML file checked into the workspace) and is
// read-only for the rest of the harness: every consumer evaluates its
// predicates with a plain OR, there is no precedence between options.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crucible-ci/crucible/target"
)

// Option is a single named flag attached to a crate.
type Option string

const (
	// Build exclusions.
	DoNotBuild        Option = "do-not-build"
	DoNotBuildX86_64  Option = "do-not-build-x86_64"
	DoNotBuildAarch64 Option = "do-not-build-aarch64"
	DoNotBuildArmhf   Option = "do-not-build-armhf"
	DoNotBuildWin64   Option = "do-not-build-win64"

	// Run exclusions.
	DoNotRun                Option = "do-not-run"
	DoNotRunX86_64          Option = "do-not-run-x86_64"
	DoNotRunAarch64         Option = "do-not-run-aarch64"
	DoNotRunArmhf           Option = "do-not-run-armhf"
	DoNotRunOnForeignKernel Option = "do-not-run-on-foreign-kernel"

	// Execution modifiers.
	SingleThreaded    Option = "single-threaded"
	Large             Option = "large"
	UnitAsIntegration Option = "unit-as-integration"
)

var knownOptions = map[Option]bool{
	DoNotBuild:              true,
	DoNotBuildX86_64:        true,
	DoNotBuildAarch64:       true,
	DoNotBuildArmhf:         true,
	DoNotBuildWin64:         true,
	DoNotRun:                true,
	DoNotRunX86_64:          true,
	DoNotRunAarch64:         true,
	DoNotRunArmhf:           true,
	DoNotRunOnForeignKernel: true,
	SingleThreaded:          true,
	Large:                   true,
	UnitAsIntegration:       true,
}

// Table maps crate names to their options and carries the per-triple
// cargo feature sets used when building the workspace.
type Table struct {
	Crates   map[string][]Option `yaml:"crates"`
	Features map[string]string   `yaml:"features"`
}

// Default returns a table with no per-crate options and the built-in
// feature matrix. Triples absent from the matrix build with no extra
// features.
func Default() *Table {
	return &Table{
		Crates: map[string][]Option{},
		Features: map[string]string{
			"x86_64-unknown-linux-gnu":      "all-x86_64",
			"aarch64-unknown-linux-gnu":     "all-aarch64",
			"armv7-unknown-linux-gnueabihf": "all-armhf",
			"x86_64-pc-windows-gnu":         "all-mingw64",
			"x86_64-pc-windows-msvc":        "all-msvc64",
		},
	}
}

// Load reads a policy table from a YAML file. Unknown option names are a
// configuration error, reported immediately rather than ignored.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy table: %w", err)
	}
	tbl := Default()
	if err := yaml.Unmarshal(data, tbl); err != nil {
		return nil, fmt.Errorf("parsing policy table %s: %w", path, err)
	}
	for crate, opts := range tbl.Crates {
		for _, opt := range opts {
			if !knownOptions[opt] {
				return nil, fmt.Errorf("policy table %s: crate %q has unknown option %q", path, crate, opt)
			}
		}
	}
	return tbl, nil
}

// Options returns the options attached to a crate. Crates without an
// entry have no options.
func (t *Table) Options(crate string) []Option {
	return t.Crates[crate]
}

// Has reports whether the crate carries the given option.
func (t *Table) Has(crate string, opt Option) bool {
	for _, o := range t.Crates[crate] {
		if o == opt {
			return true
		}
	}
	return false
}

// BuildFeatures returns the cargo feature set for a build triple.
func (t *Table) BuildFeatures(triple target.Triple) string {
	return t.Features[triple.String()]
}

// ExcludedFromBuild reports whether a crate must not be built for the
// given triple. All predicates are independent and exclusionary.
func (t *Table) ExcludedFromBuild(crate string, triple target.Triple) bool {
	switch {
	case t.Has(crate, DoNotBuild):
		return true
	case t.Has(crate, DoNotBuildX86_64) && triple.Arch == "x86_64":
		return true
	case t.Has(crate, DoNotBuildAarch64) && triple.Arch == "aarch64":
		return true
	case t.Has(crate, DoNotBuildArmhf) && triple.Arch == "armv7":
		return true
	case t.Has(crate, DoNotBuildWin64) && triple.Sys == "windows":
		return true
	}
	return false
}

// ExcludedFromRun reports whether a crate's tests must not run for the
// given triple. The native flag describes the resolved execution target:
// a crate marked do-not-run-on-foreign-kernel only runs natively.
func (t *Table) ExcludedFromRun(crate string, triple target.Triple, native bool) bool {
	switch {
	case t.Has(crate, DoNotRun):
		return true
	case t.Has(crate, DoNotRunX86_64) && triple.Arch == "x86_64":
		return true
	case t.Has(crate, DoNotRunAarch64) && triple.Arch == "aarch64":
		return true
	case t.Has(crate, DoNotRunArmhf) && triple.Arch == "armv7":
		return true
	case t.Has(crate, DoNotRunOnForeignKernel) && !native:
		return true
	}
	return false
}
