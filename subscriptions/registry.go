package subscriptions

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/scalableinternetservicesarchive/tindawg/session"
)

// deliveryBuffer bounds how many undelivered messages a connection may hold
// before dispatch goroutines block on it.
const deliveryBuffer = 64

// Registry owns the connection table: connection id to delivery channel plus
// the set of operations registered on each connection. All mutation of that
// shared state goes through Registry methods.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// Conn is a single registered connection. The registry owns the delivery
// channel; the dispatch loop only borrows it through Send.
type Conn struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	deliveries chan Message
	done       chan struct{}

	mu  sync.Mutex
	ops map[string]*operation
}

type operation struct {
	cancel context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Connect allocates a fresh connection bound to the given identity (nil for
// anonymous). The identity is carried on the connection context so that
// every operation started on the connection, and every push it produces,
// executes with the same authentication context.
func (r *Registry) Connect(identity *session.Record) *Conn {
	ctx, cancel := context.WithCancel(session.WithIdentity(context.Background(), identity))
	c := &Conn{
		id:         uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		deliveries: make(chan Message, deliveryBuffer),
		done:       make(chan struct{}),
		ops:        make(map[string]*operation),
	}

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
	return c
}

// ID returns the opaque connection identifier echoed to the client.
func (c *Conn) ID() string { return c.id }

// Context is the connection-scoped parent context. It carries the identity
// bound at connect time and is cancelled on disconnect.
func (c *Conn) Context() context.Context { return c.ctx }

// Lookup recovers the connection for an inbound request identifier.
func (r *Registry) Lookup(connID string) (*Conn, error) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return c, nil
}

// Disconnect cancels every operation still registered on the connection,
// releases the delivery channel, and removes the entry. Idempotent.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	ops := make([]*operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	c.ops = make(map[string]*operation)
	c.mu.Unlock()

	for _, op := range ops {
		op.cancel()
	}
	c.cancel()
	close(c.done)
}

// Send enqueues a message on the connection's delivery channel. It reports
// ErrConnectionNotFound when the recipient is gone and the caller's context
// error when the sending operation was cancelled mid-delivery.
func (r *Registry) Send(ctx context.Context, connID string, msg Message) error {
	c, err := r.Lookup(connID)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionNotFound
	case c.deliveries <- msg:
		return nil
	}
}

// Receive blocks until the next delivery for the connection is available.
// This is the consumption side the transport layer drains into its side
// channel.
func (r *Registry) Receive(ctx context.Context, connID string) (Message, error) {
	c, err := r.Lookup(connID)
	if err != nil {
		return Message{}, err
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg := <-c.deliveries:
		return msg, nil
	case <-c.done:
		// Drain anything already enqueued before reporting the connection gone.
		select {
		case msg := <-c.deliveries:
			return msg, nil
		default:
			return Message{}, ErrConnectionNotFound
		}
	}
}

// registerOperation records a live operation on the connection and returns
// the handle used to deregister exactly that instance.
func (r *Registry) registerOperation(connID, opID string, cancel context.CancelFunc) (*operation, error) {
	c, err := r.Lookup(connID)
	if err != nil {
		return nil, err
	}
	op := &operation{cancel: cancel}
	c.mu.Lock()
	c.ops[opID] = op
	c.mu.Unlock()
	return op, nil
}

// CancelOperation runs the stop transition for an operation id: cancel its
// producer and remove it from the connection's active set. Stopping an id
// that is not active is a no-op.
func (r *Registry) CancelOperation(connID, opID string) {
	c, err := r.Lookup(connID)
	if err != nil {
		return
	}
	c.mu.Lock()
	op, ok := c.ops[opID]
	if ok {
		delete(c.ops, opID)
	}
	c.mu.Unlock()
	if ok {
		op.cancel()
	}
}

// finishOperation deregisters a specific operation instance after a terminal
// transition. The pointer comparison keeps a finishing instance from tearing
// down a replacement registered under the same id by an idempotent restart.
func (r *Registry) finishOperation(connID, opID string, op *operation) {
	c, err := r.Lookup(connID)
	if err == nil {
		c.mu.Lock()
		if c.ops[opID] == op {
			delete(c.ops, opID)
		}
		c.mu.Unlock()
	}
	op.cancel()
}

// ActiveOperations reports the operation ids currently registered on the
// connection. It exists for observability and tests.
func (r *Registry) ActiveOperations(connID string) []string {
	c, err := r.Lookup(connID)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	ids := make([]string, 0, len(c.ops))
	for id := range c.ops {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	return ids
}
