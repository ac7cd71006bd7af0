// Package subscriptions implements WebSocket-like subscription semantics
// over discrete, stateless HTTP requests: a long-lived addressable connection
// multiplexing many concurrent named operations.
//
// Responsibilities
//   - Connection lifecycle (Registry): allocate, locate, and destroy
//     connections, each owning a delivery channel and a set of active
//     operations.
//   - Protocol state machine (Manager): interpret connect / connection_init /
//     start / stop / disconnect against the registry, with idempotent
//     restart semantics for duplicate start ids.
//   - Dispatch: one goroutine per active operation pumping its lazy result
//     stream into the owning connection's delivery channel, terminating with
//     a complete or normalized error message.
//
// Concurrency
//
// The registry's connection map and each connection's operation set are the
// only shared mutable structures; all mutation goes through registry methods.
// Cancellation is cooperative: the dispatch loop observes its operation
// context between values and never emits a message after cancellation takes
// effect (one message already handed to the delivery channel may still
// drain).
//
// Per-operation ordering matches production order. No ordering is guaranteed
// across operation ids, even on the same connection.
package subscriptions
