// Package events names the real-time events exchanged with participants.
package events

import "encoding/json"

// Event is the wire envelope: {"type": "...", "payload": {...}}.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Inbound is an event as read from a connection; the payload is decoded by the handler.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Consumed from participants.
const (
	RequestCreate  = "request:create"
	RequestRespond = "request:respond"
	SessionEnd     = "session:end"
	ChatEnd        = "chat:end"
	VoiceEnd       = "voice:end"
	VideoEnd       = "video:end"
	MessageSend    = "message:send"
	MessageEdit    = "message:edit"
	MessageDelete  = "message:delete"
	MessageRead    = "message:read"
	Ping           = "ping"
)

// Emitted to participants.
const (
	RequestCreated  = "request:created"
	RequestReceived = "request:received"
	RequestAccepted = "request:accepted"
	RequestRejected = "request:rejected"
	RequestExpired  = "request:expired"
	SessionStarted  = "session:started"
	SessionEnded    = "session:ended"
	WalletUpdated   = "wallet:updated"
	PresenceChanged = "presence:changed"
	CallSetupFailed = "call:setup_failed"
	MessageNew      = "message:new"
	MessageSent     = "message:sent"
	MessageUpdated  = "message:updated"
	MessageDeleted  = "message:deleted"
	MessagesRead    = "message:read"
	Pong            = "pong"
	Error           = "error"
)

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
