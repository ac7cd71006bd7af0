package subscriptions

import (
	"encoding/json"
)

// MessageType discriminates delivery messages on a connection channel.
type MessageType string

const (
	MessageData          MessageType = "data"
	MessageError         MessageType = "error"
	MessageComplete      MessageType = "complete"
	MessageConnectionAck MessageType = "connection_ack"
)

// Message is a single delivery on a connection's channel. The ID correlates
// the message with the client-supplied operation id; handshake messages
// carry no id.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the wire shape of a delivered operation error. Name and
// Message are always non-empty; see NormalizeError.
type ErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ConnectionAck is the handshake acknowledgment emitted for connection_init.
func ConnectionAck() Message {
	return Message{Type: MessageConnectionAck}
}

// NormalizeError converts any failure into a payload with mandatory name and
// message fields, including degenerate errors that stringify to nothing.
func NormalizeError(err error) ErrorPayload {
	p := ErrorPayload{Name: "Error"}
	if err != nil {
		p.Message = err.Error()
	}
	if p.Message == "" {
		p.Message = "unknown error"
	}
	return p
}

func dataMessage(id string, payload json.RawMessage) Message {
	return Message{ID: id, Type: MessageData, Payload: payload}
}

func completeMessage(id string) Message {
	return Message{ID: id, Type: MessageComplete}
}

func errorMessage(id string, err error) Message {
	payload, mErr := json.Marshal(NormalizeError(err))
	if mErr != nil {
		payload = json.RawMessage(`{"name":"Error","message":"unknown error"}`)
	}
	return Message{ID: id, Type: MessageError, Payload: payload}
}
