package skipper

import "encoding/json"

// Envelope event types, mirroring the server wire format.
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

// Message is a chat message as the server materializes it.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PendingEnvelope is a queued message awaiting the responder.
type PendingEnvelope struct {
	Message    Message `json:"message"`
	EnqueuedAt int64   `json:"enqueued_at"`
}

// chatMessagePayload is an outbound chat:message send.
type chatMessagePayload struct {
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// AckPayload confirms an accepted send back to its originator.
type AckPayload struct {
	Message Message `json:"message"`
	Ref     string  `json:"ref,omitempty"`
}

// MessagePayload carries a materialized message.
type MessagePayload struct {
	Message Message `json:"message"`
}

// ConnectedPayload is the server handshake.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}

// StatusPayload is a server status update.
type StatusPayload struct {
	Status string `json:"status"`
}

// ErrorPayload is a server-reported error for this session only. Ref
// names the chat:message send it answers, when there is one.
type ErrorPayload struct {
	Error string `json:"error"`
	Ref   string `json:"ref,omitempty"`
}
