package runner

import "time"

const (
	// DefaultParallelism is the worker count for the unit-test pool.
	DefaultParallelism = 4

	// TestTimeout bounds a single test process.
	TestTimeout = 60 * time.Second

	// LargeTestTimeout applies to crates tagged large in the policy table.
	LargeTestTimeout = 120 * time.Second

	// EmulationTimeoutMultiplier scales timeouts on non-native targets,
	// which are significantly slower than native execution. It compounds
	// with the large-test timeout: a large test on an emulated target
	// gets four times the base budget.
	EmulationTimeoutMultiplier = 2
)
