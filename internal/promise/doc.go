// Package promise implements single-assignment futures driven by a
// cooperative, single-goroutine scheduler.
//
// Model:
//   - A Future starts pending and is resolved exactly once, either fulfilled
//     with a value or failed with an error and a trace. Later resolutions are
//     ignored (first write wins).
//   - Continuations registered with Then/Chain/ThenFuture are never invoked
//     inline. Resolution enqueues them on the owning Scheduler, and they run
//     when the scheduler is drained.
//   - The Scheduler queue accepts work from any goroutine (worker pools
//     resolve futures from outside) but is drained by exactly one goroutine,
//     so continuations never overlap.
//
// Combinators that change the value type (Then, Map, Join, ...) are package
// functions because Go methods cannot introduce type parameters.
package promise
