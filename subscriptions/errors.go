package subscriptions

import (
	"errors"
	"fmt"
)

// ErrConnectionNotFound is reported for operations against a connection id
// that was never connected or was already disconnected. It means "recipient
// gone" and must not be escalated by senders.
var ErrConnectionNotFound = errors.New("connection not found")

// KindMismatchError is returned by an Executor when the operation sent to
// the subscription start path is not a subscription. It is delivered to the
// client as an error message.
type KindMismatchError struct {
	// Got is the declared kind of the rejected operation, e.g. "query".
	Got string
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("expected a subscription graphql operation, got: %s", e.Got)
}

// ValidationError is returned by an Executor when the operation failed schema
// validation. Per protocol convention the error list is delivered to the
// client as a data message, not an error message.
type ValidationError struct {
	// Errors is the JSON-marshalable validation error list.
	Errors any
}

func (e *ValidationError) Error() string {
	return "graphql validation failed"
}
