package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/scalableinternetservicesarchive/tindawg/session"
)

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the slog logger used by the manager. If not provided,
// slog.Default() is used.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// Manager is the subscription protocol state machine. It interprets connect,
// connection_init, start, stop and disconnect against the Registry, and runs
// the dispatch loop that pumps each operation's result stream into its
// connection's delivery channel.
//
// Per operation id within a connection the states are
// absent -> starting -> active -> (completed | errored | stopped), collapsing
// back to absent on any terminal transition.
type Manager struct {
	log  *slog.Logger
	reg  *Registry
	exec Executor
}

func NewManager(reg *Registry, exec Executor, opts ...ManagerOption) *Manager {
	m := &Manager{log: slog.Default(), reg: reg, exec: exec}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect allocates a connection bound to the given identity.
func (m *Manager) Connect(identity *session.Record) *Conn {
	c := m.reg.Connect(identity)
	m.log.Info("sub.connect", slog.String("conn_id", c.ID()))
	return c
}

// Disconnect tears the connection down, cancelling every operation still
// registered on it. Idempotent.
func (m *Manager) Disconnect(connID string) {
	m.reg.Disconnect(connID)
	m.log.Info("sub.disconnect", slog.String("conn_id", connID))
}

// Stop cancels the named operation and removes it from the connection's
// active set. Stopping an absent id is a no-op.
func (m *Manager) Stop(connID, opID string) {
	m.reg.CancelOperation(connID, opID)
	m.log.Info("sub.stop", slog.String("conn_id", connID), slog.String("op_id", opID))
}

// Receive drains the next delivery for the connection; it is the hook the
// transport layer polls or pushes through.
func (m *Manager) Receive(ctx context.Context, connID string) (Message, error) {
	return m.reg.Receive(ctx, connID)
}

// Connected reports whether the connection id is registered. Transports use
// it to reject a stream request before committing the response.
func (m *Manager) Connected(connID string) bool {
	_, err := m.reg.Lookup(connID)
	return err == nil
}

// Start drives the start transition for an operation id. A duplicate start
// for a live id first runs the stop transition for that id, so resending
// start is equivalent to stop-then-start. Validation and kind failures are
// delivered as protocol messages, not returned; the only error returned is
// ErrConnectionNotFound.
func (m *Manager) Start(ctx context.Context, connID string, req StartRequest) error {
	c, err := m.reg.Lookup(connID)
	if err != nil {
		return err
	}

	// Idempotent restart: cancel any prior instance of this id before its
	// replacement begins, so no residual delivery from the first instance
	// reaches the client.
	m.reg.CancelOperation(connID, req.ID)

	opCtx, cancel := context.WithCancel(c.Context())
	stream, err := m.exec.Subscribe(opCtx, req)
	if err != nil {
		cancel()
		m.deliverStartFailure(ctx, connID, req.ID, err)
		return nil
	}

	op, err := m.reg.registerOperation(connID, req.ID, cancel)
	if err != nil {
		// Connection vanished between lookup and registration.
		cancel()
		_ = stream.Close()
		return err
	}

	m.log.Info("sub.start.ok", slog.String("conn_id", connID), slog.String("op_id", req.ID))
	go m.dispatch(opCtx, connID, req.ID, op, stream)
	return nil
}

// deliverStartFailure maps an Executor failure onto the wire. Validation
// errors travel as a data message carrying the error list; everything else,
// including kind mismatches, travels as an error message. Either way the
// operation ends absent.
func (m *Manager) deliverStartFailure(ctx context.Context, connID, opID string, err error) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		payload, mErr := json.Marshal(map[string]any{"errors": vErr.Errors})
		if mErr != nil {
			m.deliver(ctx, connID, errorMessage(opID, err))
			return
		}
		m.log.Info("sub.start.invalid", slog.String("conn_id", connID), slog.String("op_id", opID))
		m.deliver(ctx, connID, dataMessage(opID, payload))
		return
	}

	m.log.Info("sub.start.fail", slog.String("conn_id", connID), slog.String("op_id", opID), slog.String("err", err.Error()))
	m.deliver(ctx, connID, errorMessage(opID, err))
}

// dispatch consumes the operation's result stream one value at a time and
// forwards each as a data message. Natural exhaustion emits complete;
// failure emits a normalized error message; cancellation emits nothing
// further for this operation id.
func (m *Manager) dispatch(ctx context.Context, connID, opID string, op *operation, stream ResultStream) {
	defer m.reg.finishOperation(connID, opID, op)
	defer stream.Close()

	for {
		payload, err := stream.Next(ctx)
		if err == nil {
			if sendErr := m.reg.Send(ctx, connID, dataMessage(opID, payload)); sendErr != nil {
				// Cancelled mid-delivery or recipient gone.
				return
			}
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			m.deliver(ctx, connID, completeMessage(opID))
			m.log.Info("sub.op.complete", slog.String("conn_id", connID), slog.String("op_id", opID))
		case ctx.Err() != nil:
			// Stopped or disconnected; the cancellation path already
			// deregistered the operation.
		default:
			m.deliver(ctx, connID, errorMessage(opID, err))
			m.log.Info("sub.op.fail", slog.String("conn_id", connID), slog.String("op_id", opID), slog.String("err", err.Error()))
		}
		return
	}
}

// deliver sends a message and drops it if the recipient is gone. Delivery
// failures never escalate past this point.
func (m *Manager) deliver(ctx context.Context, connID string, msg Message) {
	if err := m.reg.Send(ctx, connID, msg); err != nil {
		m.log.Info("sub.deliver.drop",
			slog.String("conn_id", connID),
			slog.String("op_id", msg.ID),
			slog.String("err", err.Error()))
	}
}
