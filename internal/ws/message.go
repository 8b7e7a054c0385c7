package ws

import "github.com/serroba/textsync/internal/ot"

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypeOperation MessageType = "operation" // Client submits an edit
	MessageTypeSync      MessageType = "sync"      // Client requests current state

	// Server to Client messages.
	MessageTypeAck       MessageType = "ack"       // Server confirms an edit was sequenced
	MessageTypeBroadcast MessageType = "broadcast" // Server pushes a sequenced edit to peers
	MessageTypeState     MessageType = "state"     // Server sends full document state
	MessageTypeError     MessageType = "error"     // Server reports an error
)

// Message is the envelope for all WebSocket communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// OperationPayload is sent when a client submits an edit. The record's
// BaseVersion is the last server revision the client had incorporated.
type OperationPayload struct {
	DocID  string        `json:"docId"`
	Record ot.EditRecord `json:"record"`
}

// SyncPayload requests the current document state.
type SyncPayload struct {
	DocID string `json:"docId"`
}

// AckPayload confirms an edit was sequenced.
type AckPayload struct {
	Revision     uint64 `json:"revision"`     // The assigned revision number
	LogicalClock uint64 `json:"logicalClock"` // Clock of the acknowledged record
}

// BroadcastPayload pushes a sequenced edit to other clients.
type BroadcastPayload struct {
	DocID    string        `json:"docId"`
	Revision uint64        `json:"revision"`
	Record   ot.EditRecord `json:"record"`
}

// StatePayload sends the full document state.
type StatePayload struct {
	DocID    string `json:"docId"`
	Content  string `json:"content"`
	Revision uint64 `json:"revision"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInternalError  = "internal_error"
	// ErrorCodeResyncRequired tells the client to discard local state and
	// request a fresh sync.
	ErrorCodeResyncRequired = "resync_required"
)
