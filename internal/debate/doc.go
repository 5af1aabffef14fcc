// Package debate runs multi-backend debates to consensus.
//
// An Orchestrator owns one run at a time over a client pool. Each round
// fans the task out to every client, compares the analyses, and lets the
// consensus protocol pick what happens next.
//
// # Round Lifecycle
//
// A round moves through these states:
//
//   - Analyzing: every client analyzes the task concurrently
//   - Comparing: the comparison engine scores the responses
//   - CrossReviewing: clients critique each other (partial consensus only)
//   - Debating: clients defend or update their positions
//
// Full consensus ends the run with CONSENSUS_REACHED. Cancel ends it at the
// next round boundary with USER_TERMINATED. Running out of strategies, or
// hitting the round limit, ends it with STRATEGIES_EXHAUSTED.
//
// # Usage
//
//	p := pool.New(deps)
//	_ = p.Initialize(ctx, cfg.EnabledBackends())
//	orch := debate.New(p, store, debate.WithBus(bus), debate.WithMaxRounds(10))
//	res, err := orch.Run(ctx, "Should the cache flush hold the write lock?")
//
// # Failures
//
// A failed call excludes that client from the current round only and is
// recorded in the pool's failure ledger. The run fails only when strict mode
// is left with fewer clients than its minimum.
//
// # Thread Safety
//
// Status and Cancel are safe to call from any goroutine while Run executes.
package debate
