package protocol

// MessageType tags an Event.
type MessageType string

const (
	TypeChat  MessageType = "CHAT"
	TypeJoin  MessageType = "JOIN"
	TypeLeave MessageType = "LEAVE"
	TypeError MessageType = "ERROR"
)

// Reason codes carried in Event.Status of ERROR events.
const (
	StatusRoomFull        = "ROOM_FULL"
	StatusNotJoined       = "NOT_JOINED"
	StatusBadRequest      = "BAD_REQUEST"
	StatusSessionConflict = "SESSION_CONFLICT"
	StatusTopicLeft       = "TOPIC_LEFT"
	StatusUnknownTopic    = "UNKNOWN_TOPIC"
)

// SystemSender is the sender of events produced by the server itself.
const SystemSender = "System"

// Event is the envelope exchanged with clients, inbound and outbound.
type Event struct {
	Content string      `json:"content"`
	Sender  string      `json:"sender"`
	Type    MessageType `json:"type"`
	Status  string      `json:"status,omitempty"`
	Topic   string      `json:"topic,omitempty"`
}

// ErrorEvent builds a server-originated rejection addressed to one session.
func ErrorEvent(topic, status, content string) Event {
	return Event{
		Content: content,
		Sender:  SystemSender,
		Type:    TypeError,
		Status:  status,
		Topic:   topic,
	}
}
