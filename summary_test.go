package crucible

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crucible-ci/crucible/types"
)

func TestSummarize(t *testing.T) {
	results := []*types.ExecutionResult{
		{Name: "base:base", Success: true},
		{Name: "devices:devices", Success: false, Output: "assertion failed"},
		{Name: "net:net", Success: true, PreviousAttempts: []*types.ExecutionResult{
			{Name: "net:net", Success: false},
		}},
	}

	summary := summarize(results, 90*time.Second)

	assert.Contains(t, summary, "base:base")
	assert.Contains(t, summary, "devices:devices")
	assert.Contains(t, summary, "2 passed, 1 failed")
	assert.Contains(t, summary, "The following tests were flaky:")
	assert.Contains(t, summary, "  net:net")
	assert.Contains(t, summary, "The following tests failed:")
	assert.Contains(t, summary, "  devices:devices")
	assert.Contains(t, summary, "1m30s")
}

func TestSummarizeAllPassing(t *testing.T) {
	results := []*types.ExecutionResult{
		{Name: "base:base", Success: true},
	}
	summary := summarize(results, time.Second)
	assert.NotContains(t, summary, "flaky")
	assert.NotContains(t, summary, "The following tests failed")
	assert.Contains(t, summary, "1 passed, 0 failed")
}
