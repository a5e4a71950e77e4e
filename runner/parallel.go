package runner

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

// testWork is one unit-test execution request for the pool.
type testWork struct {
	index int
	exe   types.Executable
}

// testWorkResult pairs a result with its submission order so callers can
// restore the original ordering after parallel execution.
type testWorkResult struct {
	index  int
	result *types.ExecutionResult
}

// ParallelExecutor fans unit tests out to a bounded set of workers.
// Integration tests never go through the pool; they mutate shared system
// state and must run sequentially.
type ParallelExecutor struct {
	engine      *Engine
	concurrency int
	log         log.Logger
}

// NewParallelExecutor creates a pool wrapper around an engine.
func NewParallelExecutor(engine *Engine, concurrency int) *ParallelExecutor {
	if engine == nil {
		panic("engine cannot be nil")
	}
	if concurrency < 1 {
		concurrency = DefaultParallelism
	}
	if concurrency > 32 {
		engine.log.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	return &ParallelExecutor{
		engine:      engine,
		concurrency: concurrency,
		log:         engine.log.New("component", "parallel-executor"),
	}
}

// ExecuteTests runs the given tests on tgt with up to attempts tries each
// and returns their results in submission order. Cancellation drains the
// pool; tests never started produce no result.
func (pe *ParallelExecutor) ExecuteTests(ctx context.Context, tests []types.Executable, tgt *target.Target, attempts int, collectCoverage bool) []*types.ExecutionResult {
	if len(tests) == 0 {
		return nil
	}

	pe.log.Debug("Starting parallel test execution", "totalTests", len(tests), "concurrency", pe.concurrency)

	bufferSize := min(pe.concurrency*2, 100)
	workChan := make(chan testWork, bufferSize)
	resultChan := make(chan testWorkResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < pe.concurrency; i++ {
		wg.Add(1)
		go pe.worker(ctx, &wg, workChan, resultChan, tgt, attempts, collectCoverage)
	}

	go func() {
		defer close(workChan)
		for i, exe := range tests {
			select {
			case workChan <- testWork{index: i, exe: exe}:
			case <-ctx.Done():
				pe.log.Debug("Context cancelled while sending work items")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	ordered := make([]*types.ExecutionResult, len(tests))
	for workResult := range resultChan {
		ordered[workResult.index] = workResult.result
	}

	results := make([]*types.ExecutionResult, 0, len(tests))
	for _, result := range ordered {
		if result != nil {
			results = append(results, result)
		}
	}
	return results
}

func (pe *ParallelExecutor) worker(ctx context.Context, wg *sync.WaitGroup, workChan <-chan testWork, resultChan chan<- testWorkResult, tgt *target.Target, attempts int, collectCoverage bool) {
	defer wg.Done()
	for {
		select {
		case work, ok := <-workChan:
			if !ok {
				return
			}
			result := pe.engine.RunTest(ctx, work.exe, tgt, attempts, collectCoverage)
			pe.engine.progress.Report(result)
			select {
			case resultChan <- testWorkResult{index: work.index, result: result}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
