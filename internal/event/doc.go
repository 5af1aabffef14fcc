// Package event provides a synchronous pub-sub bus and the progress events a
// debate run publishes on it.
//
// The orchestrator publishes run, round, consensus and strategy events. The
// CLI prints them, the HTTP server exposes the latest ones per run, and
// nothing publishing needs to know who listens.
//
//	bus := event.NewBus(logger)
//	event.On(bus, event.TypeConsensusEvaluated, func(ev event.ConsensusEvaluatedEvent) {
//	    fmt.Printf("round %d: level %d\n", ev.Round, ev.Level)
//	})
//
// Handlers run on the publishing goroutine. A panicking handler is logged and
// does not prevent delivery to the remaining handlers.
package event
