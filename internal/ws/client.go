package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrMalformedMessage marks a message that was read but could not be
// decoded. The connection is still usable.
var ErrMalformedMessage = errors.New("malformed message")

// Conn abstracts a WebSocket connection for testability.
// *websocket.Conn from gorilla/websocket satisfies it.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Client represents one connected editor.
type Client struct {
	ID       string
	AuthorID string
	conn     Conn

	writeMu sync.Mutex // Serializes writes to conn

	mu    sync.Mutex
	docID string // Currently subscribed document
}

// NewClient creates a new client wrapper.
func NewClient(id, authorID string, conn Conn) *Client {
	return &Client{
		ID:       id,
		AuthorID: authorID,
		conn:     conn,
	}
}

// Send sends a message to the client. Writes are serialized.
func (c *Client) Send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(msg)
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Receive reads a message from the client and decodes its payload.
// Operation payloads are validated while decoding, so a malformed
// operation surfaces as ot.ErrInvalidOperation.
func (c *Client) Receive() (Message, error) {
	var raw struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := c.conn.ReadJSON(&raw); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError

		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}

		return Message{}, err
	}

	msg := Message{Type: raw.Type}

	switch raw.Type {
	case MessageTypeOperation:
		var payload OperationPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Message{}, fmt.Errorf("%w: operation payload: %w", ErrMalformedMessage, err)
		}

		msg.Payload = payload
	case MessageTypeSync:
		var payload SyncPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Message{}, fmt.Errorf("%w: sync payload: %w", ErrMalformedMessage, err)
		}

		msg.Payload = payload
	case MessageTypeAck, MessageTypeBroadcast, MessageTypeState, MessageTypeError:
		// Server-to-client messages keep the raw payload
		msg.Payload = raw.Payload
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, raw.Type)
	}

	return msg, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// DocID returns the document the client is subscribed to.
func (c *Client) DocID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.docID
}

// SetDocID sets the document the client is subscribed to.
func (c *Client) SetDocID(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.docID = docID
}
