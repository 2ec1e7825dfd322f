//go:generate go run go.uber.org/mock/mockgen -source=gateway.go -destination=mocks/mock_gateway.go -package=mocks
package protocol

import "context"

// Gateway delivers events produced by the Handler. Fan-out to subscribers is
// the gateway's business; the Handler only says where an event goes.
type Gateway interface {
	// BroadcastToTopic delivers event to every session subscribed to topic.
	BroadcastToTopic(ctx context.Context, topic string, event Event) error
	// SendToSession delivers event to one session only.
	SendToSession(ctx context.Context, sessionID string, event Event) error
	// Subscribe starts delivering topic broadcasts to sessionID.
	Subscribe(ctx context.Context, sessionID, topic string) error
	// Unsubscribe stops delivering topic broadcasts to sessionID.
	Unsubscribe(ctx context.Context, sessionID, topic string) error
}
