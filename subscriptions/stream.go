package subscriptions

import (
	"context"
	"encoding/json"
)

// ResultStream is a lazy, possibly-infinite sequence of operation results.
// Streams are consumed by a single dispatch goroutine.
type ResultStream interface {
	// Next blocks until the next result is available or the context is
	// cancelled. It returns io.EOF when the sequence is exhausted; any other
	// error terminates the operation as a failure.
	Next(ctx context.Context) (json.RawMessage, error)

	// Close releases producer resources. Called exactly once by the dispatch
	// loop when the operation ends for any reason.
	Close() error
}

// StartRequest carries a client start message for a named operation. The ID
// is unique only within its owning connection.
type StartRequest struct {
	ID            string
	Query         string
	Variables     map[string]any
	OperationName string
}

// Executor validates and begins execution of a subscription operation. It is
// the boundary to the query engine: given a start request it must parse the
// operation text, reject non-subscription kinds with KindMismatchError,
// reject invalid documents with ValidationError, and otherwise return the
// operation's result stream. The stream's producer must observe ctx for
// teardown.
type Executor interface {
	Subscribe(ctx context.Context, req StartRequest) (ResultStream, error)
}
