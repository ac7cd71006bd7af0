package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scalableinternetservicesarchive/tindawg/session"
)

func TestConnectAssignsDistinctIDs(t *testing.T) {
	r := NewRegistry()

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Connect(nil).ID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if id == "" {
			t.Fatal("Connect() assigned empty id")
		}
		if seen[id] {
			t.Fatalf("Connect() assigned duplicate id %q", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct ids, want %d", len(seen), n)
	}
}

func TestConnectBindsIdentity(t *testing.T) {
	r := NewRegistry()

	c := r.Connect(&session.Record{UserID: 7, Email: "dog@example.com"})
	got := session.IdentityFrom(c.Context())
	if got == nil || got.UserID != 7 {
		t.Fatalf("IdentityFrom(conn context) = %+v, want user 7", got)
	}

	anon := r.Connect(nil)
	if got := session.IdentityFrom(anon.Context()); got != nil {
		t.Fatalf("IdentityFrom(anonymous conn context) = %+v, want nil", got)
	}
}

func TestSendReceivePreservesOrder(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	c := r.Connect(nil)

	for i := 0; i < 10; i++ {
		msg := Message{ID: "op-1", Type: MessageData, Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))}
		if err := r.Send(ctx, c.ID(), msg); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		got, err := r.Receive(ctx, c.ID())
		if err != nil {
			t.Fatalf("Receive(%d) error = %v", i, err)
		}
		want := fmt.Sprintf(`{"n":%d}`, i)
		if string(got.Payload) != want {
			t.Fatalf("Receive(%d) payload = %s, want %s", i, got.Payload, want)
		}
	}
}

func TestSendToUnknownConnection(t *testing.T) {
	r := NewRegistry()

	err := r.Send(context.Background(), "missing", Message{Type: MessageData})
	if !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Send() error = %v, want ErrConnectionNotFound", err)
	}
	if _, err := r.Receive(context.Background(), "missing"); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Receive() error = %v, want ErrConnectionNotFound", err)
	}
}

func TestDisconnectCancelsOperations(t *testing.T) {
	r := NewRegistry()
	c := r.Connect(nil)

	const n = 3
	cancelled := make(chan string, n)
	for i := 0; i < n; i++ {
		opID := fmt.Sprintf("op-%d", i)
		opCtx, opCancel := context.WithCancel(c.Context())
		if _, err := r.registerOperation(c.ID(), opID, opCancel); err != nil {
			t.Fatalf("registerOperation(%s) error = %v", opID, err)
		}
		go func(id string, ctx context.Context) {
			<-ctx.Done()
			cancelled <- id
		}(opID, opCtx)
	}

	if got := len(r.ActiveOperations(c.ID())); got != n {
		t.Fatalf("ActiveOperations() = %d, want %d", got, n)
	}

	r.Disconnect(c.ID())

	for i := 0; i < n; i++ {
		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatalf("operation %d not cancelled after disconnect", i)
		}
	}
	if _, err := r.Lookup(c.ID()); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Lookup() after disconnect error = %v, want ErrConnectionNotFound", err)
	}

	// A second disconnect of the same id must be a no-op.
	r.Disconnect(c.ID())
}

func TestCancelOperationIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := r.Connect(nil)

	opCtx, opCancel := context.WithCancel(c.Context())
	if _, err := r.registerOperation(c.ID(), "op-1", opCancel); err != nil {
		t.Fatalf("registerOperation() error = %v", err)
	}

	r.CancelOperation(c.ID(), "op-1")
	if opCtx.Err() == nil {
		t.Fatal("operation context still live after CancelOperation")
	}
	if got := len(r.ActiveOperations(c.ID())); got != 0 {
		t.Fatalf("ActiveOperations() = %d after cancel, want 0", got)
	}

	// Unknown op and unknown conn are both no-ops.
	r.CancelOperation(c.ID(), "op-1")
	r.CancelOperation("missing", "op-1")
}

func TestFinishOperationSparesRestartedInstance(t *testing.T) {
	r := NewRegistry()
	c := r.Connect(nil)

	_, oldCancel := context.WithCancel(c.Context())
	oldOp, err := r.registerOperation(c.ID(), "op-1", oldCancel)
	if err != nil {
		t.Fatalf("registerOperation() error = %v", err)
	}

	// A restart replaces the registered instance under the same id.
	newCtx, newCancel := context.WithCancel(c.Context())
	defer newCancel()
	if _, err := r.registerOperation(c.ID(), "op-1", newCancel); err != nil {
		t.Fatalf("second registerOperation() error = %v", err)
	}

	// The old instance finishing must not deregister or cancel the new one.
	r.finishOperation(c.ID(), "op-1", oldOp)

	if got := len(r.ActiveOperations(c.ID())); got != 1 {
		t.Fatalf("ActiveOperations() = %d, want the restarted instance to survive", got)
	}
	if newCtx.Err() != nil {
		t.Fatal("restarted operation context cancelled by stale finish")
	}
}

func TestReceiveAfterDisconnectReportsGone(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	c := r.Connect(nil)

	if err := r.Send(ctx, c.ID(), Message{ID: "op-1", Type: MessageComplete}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	r.Disconnect(c.ID())

	if _, err := r.Receive(ctx, c.ID()); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Receive() after disconnect error = %v, want ErrConnectionNotFound", err)
	}
	if err := r.Send(ctx, c.ID(), Message{Type: MessageData}); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Send() after disconnect error = %v, want ErrConnectionNotFound", err)
	}
}
