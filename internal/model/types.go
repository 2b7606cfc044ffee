package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNullMessage is returned when an inbound frame is the JSON literal null.
var ErrNullMessage = errors.New("message is null")

// Envelope types.
const (
	TypeSend    = "send"
	TypeReceive = "receive"
)

// OutgoingMessage asks the server to deliver Content to Receiver.
// Field order is the wire order: type, receiver, content.
type OutgoingMessage struct {
	Type     string `json:"type"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// IncomingMessage is a message pushed by the server.
type IncomingMessage struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// NewOutgoing builds a "send" envelope.
func NewOutgoing(receiver, content string) OutgoingMessage {
	return OutgoingMessage{
		Type:     TypeSend,
		Receiver: receiver,
		Content:  content,
	}
}

// Encode serializes the message as a single JSON text frame.
func (m OutgoingMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode outgoing message: %w", err)
	}
	return data, nil
}

// IsReceive reports whether the message should be surfaced to the user.
func (m IncomingMessage) IsReceive() bool {
	return m.Type == TypeReceive
}

// DecodeIncoming parses a raw frame from the server.
// Unknown fields are ignored; any type value is accepted.
func DecodeIncoming(data []byte) (IncomingMessage, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return IncomingMessage{}, fmt.Errorf("decode incoming message: %w", ErrNullMessage)
	}

	var msg IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return IncomingMessage{}, fmt.Errorf("decode incoming message: %w", err)
	}
	return msg, nil
}

// DecodeOutgoing parses a "send" envelope. Used by test servers and tooling.
func DecodeOutgoing(data []byte) (OutgoingMessage, error) {
	var msg OutgoingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return OutgoingMessage{}, fmt.Errorf("decode outgoing message: %w", err)
	}
	return msg, nil
}
