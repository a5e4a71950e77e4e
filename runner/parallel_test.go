package runner

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

// countingExecutor tracks how many executions run at the same time.
type countingExecutor struct {
	active    atomic.Int32
	maxActive atomic.Int32
	total     atomic.Int32
}

func (c *countingExecutor) Exec(ctx context.Context, req target.ExecRequest) (*target.ProcessResult, error) {
	n := c.active.Add(1)
	for {
		max := c.maxActive.Load()
		if n <= max || c.maxActive.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	c.active.Add(-1)
	c.total.Add(1)
	return &target.ProcessResult{ExitCode: 0, Output: "ok"}, nil
}

func TestExecuteTestsPreservesOrder(t *testing.T) {
	exec := &countingExecutor{}
	engine := newTestEngine(t, nil, exec)
	tgt := target.NewRemote("host", target.HostTriple(), exec)

	var tests []types.Executable
	for _, crate := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		tests = append(tests, unitExe(crate))
	}

	pool := NewParallelExecutor(engine, 4)
	results := pool.ExecuteTests(context.Background(), tests, tgt, 1, false)

	require.Len(t, results, len(tests))
	for i, result := range results {
		assert.Equal(t, tests[i].Name(), result.Name)
	}
}

func TestExecuteTestsBoundedConcurrency(t *testing.T) {
	exec := &countingExecutor{}
	engine := newTestEngine(t, nil, exec)
	tgt := target.NewRemote("host", target.HostTriple(), exec)

	var tests []types.Executable
	for _, crate := range []string{"a", "b", "c", "d", "e", "f"} {
		tests = append(tests, unitExe(crate))
	}

	pool := NewParallelExecutor(engine, 2)
	results := pool.ExecuteTests(context.Background(), tests, tgt, 1, false)

	assert.Len(t, results, len(tests))
	assert.Equal(t, int32(len(tests)), exec.total.Load())
	assert.LessOrEqual(t, exec.maxActive.Load(), int32(2))
}

func TestExecuteTestsEmpty(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeExecutor{})
	tgt := target.NewRemote("host", target.HostTriple(), &fakeExecutor{})

	pool := NewParallelExecutor(engine, 4)
	assert.Nil(t, pool.ExecuteTests(context.Background(), nil, tgt, 1, false))
}

func TestExecuteTestsCancelledContext(t *testing.T) {
	exec := &countingExecutor{}
	engine := newTestEngine(t, nil, exec)
	tgt := target.NewRemote("host", target.HostTriple(), exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var tests []types.Executable
	for _, crate := range []string{"a", "b", "c", "d"} {
		tests = append(tests, unitExe(crate))
	}

	pool := NewParallelExecutor(engine, 2)
	results := pool.ExecuteTests(ctx, tests, tgt, 1, false)
	// The pool drains without hanging; tests never started produce nothing.
	assert.LessOrEqual(t, len(results), len(tests))
}

func TestNewParallelExecutorDefaultsConcurrency(t *testing.T) {
	engine := newTestEngine(t, nil, &fakeExecutor{})
	pool := NewParallelExecutor(engine, 0)
	assert.Equal(t, DefaultParallelism, pool.concurrency)
}

func TestProgressQuietPass(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, false)

	progress.Report(&types.ExecutionResult{Name: "base:base", Success: true})
	assert.Equal(t, ".", buf.String())
}

func TestProgressFailureBlock(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, false)

	progress.Report(&types.ExecutionResult{Name: "base:base", Success: false, Output: "assertion failed"})
	out := buf.String()
	assert.Contains(t, out, "- base:base failed")
	assert.Contains(t, out, "assertion failed")
}

func TestProgressFlakyShowsPreviousAttempts(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, false)

	progress.Report(&types.ExecutionResult{
		Name:    "base:base",
		Success: true,
		Output:  "passed on retry",
		PreviousAttempts: []*types.ExecutionResult{
			{Name: "base:base", Success: false, Output: "first failure"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "- base:base is flaky")
	assert.Contains(t, out, "Previous attempt")
	assert.Contains(t, out, "first failure")
}
