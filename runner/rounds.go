package runner

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/log"

	"github.com/crucible-ci/crucible/target"
	"github.com/crucible-ci/crucible/types"
)

// RoundConfig describes one full execution plan: which tests to run where,
// how often, and with how many retries.
type RoundConfig struct {
	UnitTests         []types.Executable
	IntegrationTests  []types.Executable
	UnitTarget        *target.Target // nil skips unit tests entirely
	IntegrationTarget *target.Target // nil skips integration tests entirely
	Rounds            int            // repeat count; shuffled between rounds
	Attempts          int            // tries per test per round
	Parallelism       int            // unit-test pool width
	CollectCoverage   bool           // coverage only on the final round
}

// RoundController drives repeated execution rounds over the selected test
// set. Within a round, unit tests run through the bounded pool and
// integration tests run sequentially afterwards. Between rounds both lists
// are shuffled so ordering-dependent tests get different neighbors.
type RoundController struct {
	engine *Engine
	log    log.Logger
}

func NewRoundController(engine *Engine) *RoundController {
	return &RoundController{engine: engine, log: engine.log.New("component", "rounds")}
}

// Run executes all configured rounds and returns the flat list of results
// across every round. Each test contributes one result per round it ran in.
func (rc *RoundController) Run(ctx context.Context, cfg RoundConfig) []*types.ExecutionResult {
	rounds := cfg.Rounds
	if rounds < 1 {
		rounds = 1
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	unit := append([]types.Executable{}, cfg.UnitTests...)
	integration := append([]types.Executable{}, cfg.IntegrationTests...)
	pool := NewParallelExecutor(rc.engine, cfg.Parallelism)
	rc.log.Debug("Starting test rounds", "rounds", rounds, "unit", len(unit), "integration", len(integration))

	var all []*types.ExecutionResult
	for round := 1; round <= rounds; round++ {
		if rounds > 1 {
			rc.engine.progress.Printf("Round %d/%d\n", round, rounds)
		}
		roundCtx, span := rc.engine.tracer.Start(ctx, fmt.Sprintf("round %d", round))
		coverage := cfg.CollectCoverage && round == rounds

		if cfg.UnitTarget != nil {
			all = append(all, pool.ExecuteTests(roundCtx, unit, cfg.UnitTarget, attempts, coverage)...)
		}
		if cfg.IntegrationTarget != nil {
			for _, exe := range integration {
				if roundCtx.Err() != nil {
					span.End()
					return all
				}
				result := rc.engine.RunTest(roundCtx, exe, cfg.IntegrationTarget, attempts, coverage)
				rc.engine.progress.Report(result)
				all = append(all, result)
			}
		}
		span.End()

		if round < rounds {
			rand.Shuffle(len(unit), func(i, j int) { unit[i], unit[j] = unit[j], unit[i] })
			rand.Shuffle(len(integration), func(i, j int) { integration[i], integration[j] = integration[j], integration[i] })
		}
	}
	return all
}
