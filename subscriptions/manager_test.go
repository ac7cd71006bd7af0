package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeExecutor lets tests script how Subscribe behaves per request.
type fakeExecutor struct {
	subscribe func(ctx context.Context, req StartRequest) (ResultStream, error)
}

func (f *fakeExecutor) Subscribe(ctx context.Context, req StartRequest) (ResultStream, error) {
	return f.subscribe(ctx, req)
}

// scriptedStream yields its payloads in order, then its terminal error. With
// no terminal error it blocks until the consuming context ends.
type scriptedStream struct {
	mu       sync.Mutex
	payloads []json.RawMessage
	terminal error

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptedStream(terminal error, payloads ...json.RawMessage) *scriptedStream {
	return &scriptedStream{payloads: payloads, terminal: terminal, closed: make(chan struct{})}
}

func (s *scriptedStream) Next(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	if len(s.payloads) > 0 {
		p := s.payloads[0]
		s.payloads = s.payloads[1:]
		s.mu.Unlock()
		return p, nil
	}
	terminal := s.terminal
	s.mu.Unlock()

	if terminal != nil {
		return nil, terminal
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func receiveOne(t *testing.T, m *Manager, connID string) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := m.Receive(ctx, connID)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	return msg
}

func expectNoMessage(t *testing.T, m *Manager, connID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if msg, err := m.Receive(ctx, connID); err == nil {
		t.Fatalf("unexpected delivery %+v", msg)
	}
}

func TestStartDeliversDataThenComplete(t *testing.T) {
	exec := &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		return newScriptedStream(io.EOF,
			json.RawMessage(`{"n":0}`),
			json.RawMessage(`{"n":1}`),
			json.RawMessage(`{"n":2}`),
		), nil
	}}
	m := NewManager(NewRegistry(), exec)
	c := m.Connect(nil)

	if err := m.Start(context.Background(), c.ID(), StartRequest{ID: "op-1", Query: "subscription { barks }"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := receiveOne(t, m, c.ID())
		if msg.Type != MessageData || msg.ID != "op-1" {
			t.Fatalf("message %d = %+v, want data for op-1", i, msg)
		}
		want := fmt.Sprintf(`{"n":%d}`, i)
		if string(msg.Payload) != want {
			t.Fatalf("message %d payload = %s, want %s", i, msg.Payload, want)
		}
	}

	final := receiveOne(t, m, c.ID())
	if final.Type != MessageComplete || final.ID != "op-1" {
		t.Fatalf("final message = %+v, want complete for op-1", final)
	}
	expectNoMessage(t, m, c.ID())
}

func TestStartUnknownConnection(t *testing.T) {
	m := NewManager(NewRegistry(), &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		t.Fatal("Subscribe called for unknown connection")
		return nil, nil
	}})

	err := m.Start(context.Background(), "missing", StartRequest{ID: "op-1"})
	if !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Start() error = %v, want ErrConnectionNotFound", err)
	}
}

func TestValidationFailureArrivesAsDataMessage(t *testing.T) {
	exec := &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		return nil, &ValidationError{Errors: []map[string]string{{"message": `Cannot query field "nope"`}}}
	}}
	m := NewManager(NewRegistry(), exec)
	c := m.Connect(nil)

	if err := m.Start(context.Background(), c.ID(), StartRequest{ID: "op-1", Query: "subscription { nope }"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	msg := receiveOne(t, m, c.ID())
	if msg.Type != MessageData || msg.ID != "op-1" {
		t.Fatalf("message = %+v, want data for op-1", msg)
	}
	var payload struct {
		Errors []map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload %s does not decode: %v", msg.Payload, err)
	}
	if len(payload.Errors) != 1 || payload.Errors[0]["message"] == "" {
		t.Fatalf("payload = %s, want one populated error", msg.Payload)
	}
	if got := len(m.reg.ActiveOperations(c.ID())); got != 0 {
		t.Fatalf("ActiveOperations() = %d after rejected start, want 0", got)
	}
}

func TestKindMismatchArrivesAsErrorMessage(t *testing.T) {
	exec := &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		return nil, &KindMismatchError{Got: "query"}
	}}
	m := NewManager(NewRegistry(), exec)
	c := m.Connect(nil)

	if err := m.Start(context.Background(), c.ID(), StartRequest{ID: "op-1", Query: "query { self { id } }"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	msg := receiveOne(t, m, c.ID())
	if msg.Type != MessageError || msg.ID != "op-1" {
		t.Fatalf("message = %+v, want error for op-1", msg)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload %s does not decode: %v", msg.Payload, err)
	}
	if payload.Name != "Error" {
		t.Fatalf("payload name = %q, want Error", payload.Name)
	}
	if payload.Message != `expected a subscription graphql operation, got: query` {
		t.Fatalf("payload message = %q", payload.Message)
	}
}

type emptyError struct{}

func (emptyError) Error() string { return "" }

func TestStreamFailureIsNormalized(t *testing.T) {
	exec := &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		return newScriptedStream(emptyError{}), nil
	}}
	m := NewManager(NewRegistry(), exec)
	c := m.Connect(nil)

	if err := m.Start(context.Background(), c.ID(), StartRequest{ID: "op-1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	msg := receiveOne(t, m, c.ID())
	if msg.Type != MessageError {
		t.Fatalf("message = %+v, want error", msg)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload %s does not decode: %v", msg.Payload, err)
	}
	if payload.Name != "Error" || payload.Message != "unknown error" {
		t.Fatalf("payload = %+v, want normalized fallback fields", payload)
	}
}

func TestStopEndsDeliveryAndIsIdempotent(t *testing.T) {
	stream := newScriptedStream(nil, json.RawMessage(`{"n":0}`))
	exec := &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		return stream, nil
	}}
	m := NewManager(NewRegistry(), exec)
	c := m.Connect(nil)

	if err := m.Start(context.Background(), c.ID(), StartRequest{ID: "op-1"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if msg := receiveOne(t, m, c.ID()); msg.Type != MessageData {
		t.Fatalf("message = %+v, want data", msg)
	}

	m.Stop(c.ID(), "op-1")

	select {
	case <-stream.closed:
	case <-time.After(time.Second):
		t.Fatal("stream not closed after stop")
	}
	// Cancellation is silent: no complete, no error.
	expectNoMessage(t, m, c.ID())

	m.Stop(c.ID(), "op-1")
	m.Stop(c.ID(), "missing-op")
	m.Stop("missing-conn", "op-1")
}

func TestRestartReplacesOperation(t *testing.T) {
	first := newScriptedStream(nil, json.RawMessage(`{"gen":1}`))
	second := newScriptedStream(io.EOF, json.RawMessage(`{"gen":2}`))
	var calls int
	var mu sync.Mutex
	exec := &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return first, nil
		}
		return second, nil
	}}
	m := NewManager(NewRegistry(), exec)
	c := m.Connect(nil)

	if err := m.Start(context.Background(), c.ID(), StartRequest{ID: "op-1"}); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if msg := receiveOne(t, m, c.ID()); string(msg.Payload) != `{"gen":1}` {
		t.Fatalf("message = %+v, want first-instance payload", msg)
	}

	if err := m.Start(context.Background(), c.ID(), StartRequest{ID: "op-1"}); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	select {
	case <-first.closed:
	case <-time.After(time.Second):
		t.Fatal("first stream not closed after restart")
	}

	// Only the replacement's results arrive after the restart.
	if msg := receiveOne(t, m, c.ID()); string(msg.Payload) != `{"gen":2}` {
		t.Fatalf("message = %+v, want replacement payload", msg)
	}
	if msg := receiveOne(t, m, c.ID()); msg.Type != MessageComplete {
		t.Fatalf("message = %+v, want complete", msg)
	}
	expectNoMessage(t, m, c.ID())
}

func TestDisconnectCancelsEverything(t *testing.T) {
	streams := []*scriptedStream{newScriptedStream(nil), newScriptedStream(nil)}
	var calls int
	var mu sync.Mutex
	exec := &fakeExecutor{subscribe: func(ctx context.Context, req StartRequest) (ResultStream, error) {
		mu.Lock()
		defer mu.Unlock()
		s := streams[calls]
		calls++
		return s, nil
	}}
	m := NewManager(NewRegistry(), exec)
	c := m.Connect(nil)

	for i := 0; i < 2; i++ {
		if err := m.Start(context.Background(), c.ID(), StartRequest{ID: fmt.Sprintf("op-%d", i)}); err != nil {
			t.Fatalf("Start(op-%d) error = %v", i, err)
		}
	}

	m.Disconnect(c.ID())

	for i, s := range streams {
		select {
		case <-s.closed:
		case <-time.After(time.Second):
			t.Fatalf("stream %d not closed after disconnect", i)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.Receive(ctx, c.ID()); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("Receive() after disconnect error = %v, want ErrConnectionNotFound", err)
	}
	m.Disconnect(c.ID())
}
