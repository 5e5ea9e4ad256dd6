package messages

import (
	"context"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// Store is the append/delete log of messages. Every mutation also records its
// outbox event in the same durable step, so a committed write is never left
// without a pending broadcast.
type Store interface {
	Create(ctx context.Context, msg *messaging.Message) (*messaging.Message, error)
	Get(ctx context.Context, id int64) (*messaging.Message, error)
	// Page returns up to limit messages newest-first; with a cursor only ids strictly below it.
	Page(ctx context.Context, cursor *int64, limit int) ([]*messaging.Message, error)
	Delete(ctx context.Context, id int64) error
	UpdateMedia(ctx context.Context, id int64, status messaging.MediaStatus, mediaURL string) (*messaging.Message, error)
	Ping(ctx context.Context) error
	Close()

	Outbox
}

type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]messaging.OutboxRecord, error)
	MarkDispatched(ctx context.Context, seqs []int64) error
	PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error)
}

type IDGenerator interface {
	Generate() int64
	ExtractTimestamp(id int64) time.Time
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// stamp assigns identity and timestamps to a message about to be inserted.
func stamp(gen IDGenerator, msg *messaging.Message) *messaging.Message {
	out := msg.Clone()
	out.ID = gen.Generate()
	out.CreatedAt = gen.ExtractTimestamp(out.ID)
	out.UpdatedAt = out.CreatedAt
	return out
}
