package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/scalableinternetservicesarchive/tindawg/internal/logctx"
	"github.com/scalableinternetservicesarchive/tindawg/subscriptions"
)

type startBody struct {
	ID      string `json:"id"`
	Payload struct {
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables"`
		OperationName string         `json:"operationName"`
	} `json:"payload"`
}

type stopBody struct {
	ID string `json:"id"`
}

// handleSubConnect creates a connection and echoes the sub-protocol
// acknowledgment. The identity resolved here is bound to the connection so
// every subsequent push executes with the same authentication context.
func (h *Handler) handleSubConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.log.InfoContext(ctx, "sub.connect.start")

	identity, err := h.resolveIdentity(r)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "authentication unavailable")
		h.log.ErrorContext(ctx, "auth.store.fail", slog.String("err", err.Error()))
		return
	}

	conn := h.subs.Connect(identity)
	ctx = logctx.WithSubData(ctx, &logctx.SubData{ConnID: conn.ID()})
	h.log.InfoContext(ctx, "sub.connect.ok")

	w.Header().Set(subProtocolHeader, subProtocol)
	w.Header().Set(connIDHeader, conn.ID())
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSubConnectionInit(w http.ResponseWriter, r *http.Request) {
	h.log.InfoContext(r.Context(), "sub.connection_init")
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(subscriptions.ConnectionAck())
}

func (h *Handler) handleSubStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireJSON(w, r) {
		return
	}
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}

	connID := r.Header.Get(connIDHeader)
	ctx = logctx.WithSubData(ctx, &logctx.SubData{ConnID: connID, OpID: body.ID})
	h.log.InfoContext(ctx, "sub.start.recv")

	err := h.subs.Start(ctx, connID, subscriptions.StartRequest{
		ID:            body.ID,
		Query:         body.Payload.Query,
		Variables:     body.Payload.Variables,
		OperationName: body.Payload.OperationName,
	})
	if err != nil {
		if errors.Is(err, subscriptions.ErrConnectionNotFound) {
			writeJSONError(w, http.StatusNotFound, "connection not found")
			h.log.InfoContext(ctx, "sub.conn.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to start operation")
		h.log.ErrorContext(ctx, "sub.start.fail", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSubStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireJSON(w, r) {
		return
	}
	var body stopBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	connID := r.Header.Get(connIDHeader)
	ctx = logctx.WithSubData(ctx, &logctx.SubData{ConnID: connID, OpID: body.ID})

	h.subs.Stop(connID, body.ID)
	h.log.InfoContext(ctx, "sub.stop.ok")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSubDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connID := r.Header.Get(connIDHeader)
	ctx = logctx.WithSubData(ctx, &logctx.SubData{ConnID: connID})

	h.subs.Disconnect(connID)
	h.log.InfoContext(ctx, "sub.disconnect.ok")
	w.WriteHeader(http.StatusOK)
}

// handleSubStream drains the connection's delivery channel to the client as
// Server-Sent Events. It is the side channel the discrete protocol POSTs
// feed into; it ends when the connection is disconnected or the client goes
// away.
func (h *Handler) handleSubStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connID := r.Header.Get(connIDHeader)
	ctx = logctx.WithSubData(ctx, &logctx.SubData{ConnID: connID})

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	// Fail before committing to the stream if the connection is unknown.
	if !h.subs.Connected(connID) {
		writeJSONError(w, http.StatusNotFound, "connection not found")
		h.log.InfoContext(ctx, "sub.conn.miss")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")
	for {
		msg, err := h.subs.Receive(ctx, connID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, subscriptions.ErrConnectionNotFound) {
				h.log.InfoContext(ctx, "sse.stream.end")
			} else {
				h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
			}
			return
		}
		if err := writeSSEEvent(w, f, msg); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "sse.message.deliver", slog.String("op_id", msg.ID), slog.String("type", string(msg.Type)))
	}
}

// writeSSEEvent writes one delivery message as an SSE data frame and
// flushes it.
func writeSSEEvent(w io.Writer, f http.Flusher, msg subscriptions.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode delivery message: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	f.Flush()
	return nil
}
