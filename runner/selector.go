package runner

import (
	"fmt"
	"path"

	"github.com/crucible-ci/crucible/policy"
	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

// IsIntegrationTest classifies an executable. Standalone test binaries
// are integration tests, as are unit tests of crates whose policy marks
// them unit-as-integration; everything else is a unit test.
func IsIntegrationTest(exe types.Executable, tbl *policy.Table) bool {
	return exe.Kind == types.KindTest || tbl.Has(exe.CrateName, policy.UnitAsIntegration)
}

// SelectTests filters build artifacts down to the runnable test set for a
// target. Only test artifacts survive; run-policy exclusions apply next;
// finally, when name patterns are given, an executable is kept only if
// its qualified crate:target name matches at least one shell-style glob.
// Duplicates are never merged: two artifacts with the same qualified name
// indicate a build configuration problem and are surfaced as-is.
func SelectTests(executables []types.Executable, tbl *policy.Table, tgt *target.Target, patterns []string) ([]types.Executable, error) {
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid test name pattern %q: %w", pattern, err)
		}
	}

	var selected []types.Executable
	for _, exe := range executables {
		if !exe.IsTest {
			continue
		}
		if tbl.ExcludedFromRun(exe.CrateName, tgt.Triple, tgt.IsNative()) {
			continue
		}
		if len(patterns) > 0 && !matchesAny(exe.Name(), patterns) {
			continue
		}
		selected = append(selected, exe)
	}
	return selected, nil
}

// SplitByCategory partitions tests into unit and integration lists,
// preserving their relative order.
func SplitByCategory(tests []types.Executable, tbl *policy.Table) (unit, integration []types.Executable) {
	for _, exe := range tests {
		if IsIntegrationTest(exe, tbl) {
			integration = append(integration, exe)
		} else {
			unit = append(unit, exe)
		}
	}
	return unit, integration
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
