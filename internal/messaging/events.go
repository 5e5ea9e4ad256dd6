package messaging

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageCreated EventType = "message-created"
	EventMessageDeleted EventType = "message-deleted"
	EventMessageUpdated EventType = "message-updated"

	// EventOnlineCount announces how many subscribers are connected. It is
	// sent by the hub directly and never stored in the outbox.
	EventOnlineCount EventType = "online-count"
)

// Valid reports whether t is one of the message events the outbox carries.
func (t EventType) Valid() bool {
	switch t {
	case EventMessageCreated, EventMessageDeleted, EventMessageUpdated:
		return true
	}
	return false
}

// Event is the unit pushed to subscribers. Arrival order carries no meaning;
// receivers order by MessageID.
type Event struct {
	ID        string    `json:"event_id" bson:"event_id"`
	Type      EventType `json:"type" bson:"type"`
	MessageID int64     `json:"message_id,string" bson:"message_id"`
	Message   *Message  `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	Count     int       `json:"count,omitempty" bson:"-"`
}

func newEvent(t EventType, id int64, msg *Message) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		MessageID: id,
		Message:   msg.Clone(),
		CreatedAt: time.Now().UTC(),
	}
}

func NewCreatedEvent(msg *Message) Event {
	return newEvent(EventMessageCreated, msg.ID, msg)
}

func NewDeletedEvent(id int64) Event {
	return newEvent(EventMessageDeleted, id, nil)
}

func NewUpdatedEvent(msg *Message) Event {
	return newEvent(EventMessageUpdated, msg.ID, msg)
}

func NewOnlineCountEvent(n int) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventOnlineCount,
		Count:     n,
		CreatedAt: time.Now().UTC(),
	}
}

// OutboxRecord is an event persisted in the same write as the mutation it describes.
type OutboxRecord struct {
	Seq          int64
	Event        Event
	CreatedAt    time.Time
	DispatchedAt *time.Time
	// DecodeErr is set when the stored payload could not be read back. Event is zero then.
	DecodeErr error
}
