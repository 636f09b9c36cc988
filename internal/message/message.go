// Package message holds the chat message model, its lifecycle, and the
// request/result types exchanged with a message processor.
package message

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConcurrentMessage is a chat message whose lifecycle is tracked independently
// of every other message in flight.
type ConcurrentMessage struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Role      Role           `json:"role"`
	Status    Status         `json:"status"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
	RoomID    *int64         `json:"roomId,omitempty"`
	Model     string         `json:"model,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// New returns a pending message stamped with the current time.
func New(id, content string, role Role, roomID int64) ConcurrentMessage {
	return ConcurrentMessage{
		ID:        id,
		Content:   content,
		Role:      role,
		Status:    StatusPending,
		Timestamp: time.Now().UnixMilli(),
		RoomID:    &roomID,
	}
}

// Room returns the room id, or false when the message has none.
func (m ConcurrentMessage) Room() (int64, bool) {
	if m.RoomID == nil {
		return 0, false
	}
	return *m.RoomID, true
}

// Apply moves the message along its lifecycle. On failure the message is unchanged.
func (m *ConcurrentMessage) Apply(trigger Trigger) error {
	next, err := Transition(m.Status, trigger)
	if err != nil {
		return err
	}
	m.Status = next
	return nil
}
