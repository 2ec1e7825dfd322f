// Package server defines the inbound frame format and utility helpers that
// are reused across client and hub logic.
package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/safechat/internal/protocol"
)

// ErrClientNotFound is returned by hub operations addressing a session that
// is not (or no longer) connected.
var ErrClientNotFound = errors.New("client not found")

// Frame is the JSON message a client sends over its WebSocket. Type is one of
// JOIN, CHAT or LEAVE; an empty Topic means the default topic. Sender is
// accepted for compatibility and always replaced by the authenticated user.
type Frame struct {
	Type    protocol.MessageType `json:"type"`
	Topic   string               `json:"topic,omitempty"`
	Content string               `json:"content,omitempty"`
	Sender  string               `json:"sender,omitempty"`
}

func (f Frame) event() protocol.Event {
	return protocol.Event{Content: f.Content, Sender: f.Sender, Type: f.Type, Topic: f.Topic}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
