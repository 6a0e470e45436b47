package engine

import "encoding/json"

// Event type names on the wire. Only these five drive state; anything else
// is ignored.
const (
	EventPermissionAsked    = "permission.asked"
	EventMessageUpdated     = "message.updated"
	EventMessagePartUpdated = "message.part.updated"
	EventSessionIdle        = "session.idle"
	EventSessionStatus      = "session.status"
)

// Event is the envelope for every stream record. Properties stay raw until
// the type is known; malformed payloads are dropped, never fatal.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

type permissionAskedProps struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
}

type messageUpdatedProps struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
}

type messagePartProps struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Part      struct {
		Type string `json:"type"`
		Text string `json:"text"`
		Tool string `json:"tool"`
	} `json:"part"`
}

type sessionIdleProps struct {
	SessionID string `json:"session_id"`
}

type sessionStatusProps struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}
