package types

// ExecutionResult captures the outcome of running one test executable,
// possibly after retries. Results are immutable once returned by the
// execution engine; a retry produces a new result that references the
// earlier failed attempts instead of mutating them.
type ExecutionResult struct {
	Name       string // qualified crate:target name
	BinaryPath string
	Success    bool
	Output     string // combined stdout/stderr of the final attempt

	// PreviousAttempts holds the failed attempts that preceded this result,
	// oldest first. Empty for a first-try pass.
	PreviousAttempts []*ExecutionResult

	// ProfileFiles lists the raw coverage profiles produced by this attempt.
	ProfileFiles []string
}

// Flaky reports whether the test eventually passed but needed retries.
func (r *ExecutionResult) Flaky() bool {
	return r.Success && len(r.PreviousAttempts) > 0
}

// Flakes returns the results that passed only after at least one retry.
func Flakes(results []*ExecutionResult) []*ExecutionResult {
	var flakes []*ExecutionResult
	for _, r := range results {
		if r.Flaky() {
			flakes = append(flakes, r)
		}
	}
	return flakes
}

// Failures returns the results whose final attempt failed.
func Failures(results []*ExecutionResult) []*ExecutionResult {
	var failed []*ExecutionResult
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}
