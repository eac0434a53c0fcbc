package models

import "encoding/json"

// Envelope event types carried over the websocket.
const (
	EventConnected    = "connected"
	EventChatMessage  = "chat:message"
	EventChatAck      = "chat:message:ack"
	EventChatResponse = "chat:response"
	EventChatTyping   = "chat:typing"
	EventStatusUpdate = "status:update"
	EventPing         = "ping"
	EventPong         = "pong"
	EventError        = "error"
)

// Envelope is the tagged wire format for all websocket traffic.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with a JSON-encoded payload.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, err
		}
		env.Payload = data
	}
	return env, nil
}

// ChatMessagePayload is the payload of a client chat:message send.
// Ref is an optional client-local provisional id echoed back in the ack
// so the sender can reconcile its optimistic entry without matching on
// content.
type ChatMessagePayload struct {
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// AckPayload is sent to the originating session after a send is accepted.
type AckPayload struct {
	Message Message `json:"message"`
	Ref     string  `json:"ref,omitempty"`
}

// MessagePayload carries a materialized message to peer sessions.
type MessagePayload struct {
	Message Message `json:"message"`
}

// ConnectedPayload is the handshake sent when a session opens.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}

// StatusPayload is a server-originated status update.
type StatusPayload struct {
	Status string `json:"status"`
}

// ErrorPayload is returned to the offending sender only, never
// broadcast. Ref is set when the error answers a specific chat:message
// send, so the sender can fail that entry without waiting out its ack
// timer.
type ErrorPayload struct {
	Error string `json:"error"`
	Ref   string `json:"ref,omitempty"`
}
