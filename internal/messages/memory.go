package messages

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// MemoryStore keeps the log in process memory. Used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	gen     IDGenerator
	ids     []int64
	byID    map[int64]*messaging.Message
	outbox  []messaging.OutboxRecord
	nextSeq int64
	closed  bool
	now     func() time.Time
}

func NewMemoryStore(gen IDGenerator) *MemoryStore {
	return &MemoryStore{
		gen:  gen,
		byID: make(map[int64]*messaging.Message),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Persistence("store unavailable", nil)
	}

	stored := stamp(s.gen, msg)

	// Ids come from a monotonic generator under this lock, so appending keeps ids sorted.
	s.ids = append(s.ids, stored.ID)
	s.byID[stored.ID] = stored
	s.appendEvent(messaging.NewCreatedEvent(stored))

	return stored.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*messaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("message not found")
	}
	return msg.Clone(), nil
}

func (s *MemoryStore) Page(ctx context.Context, cursor *int64, limit int) ([]*messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.Persistence("store unavailable", nil)
	}

	end := len(s.ids)
	if cursor != nil {
		end = sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= *cursor })
	}

	page := make([]*messaging.Message, 0, min(limit, end))
	for i := end - 1; i >= 0 && len(page) < limit; i-- {
		page = append(page, s.byID[s.ids[i]].Clone())
	}
	return page, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Persistence("store unavailable", nil)
	}

	if _, ok := s.byID[id]; !ok {
		return errors.NotFound("message not found")
	}

	if i, found := slices.BinarySearch(s.ids, id); found {
		s.ids = slices.Delete(s.ids, i, i+1)
	}
	delete(s.byID, id)
	s.appendEvent(messaging.NewDeletedEvent(id))

	return nil
}

func (s *MemoryStore) UpdateMedia(ctx context.Context, id int64, status messaging.MediaStatus, mediaURL string) (*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("message not found")
	}
	if !messaging.CanTransition(msg.MediaStatus, status) {
		return nil, errors.Validation("invalid media status transition")
	}

	msg.MediaStatus = status
	msg.MediaURL = ""
	if status == messaging.MediaStatusReady {
		msg.MediaURL = mediaURL
	}
	msg.UpdatedAt = s.now()
	s.appendEvent(messaging.NewUpdatedEvent(msg))

	return msg.Clone(), nil
}

func (s *MemoryStore) appendEvent(ev messaging.Event) {
	s.nextSeq++
	s.outbox = append(s.outbox, messaging.OutboxRecord{
		Seq:       s.nextSeq,
		Event:     ev,
		CreatedAt: s.now(),
	})
}

func (s *MemoryStore) PendingEvents(ctx context.Context, limit int) ([]messaging.OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.Persistence("store unavailable", nil)
	}

	var out []messaging.OutboxRecord
	for _, rec := range s.outbox {
		if rec.DispatchedAt != nil {
			continue
		}
		rec.Event.Message = rec.Event.Message.Clone()
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkDispatched(ctx context.Context, seqs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, seq := range seqs {
		i := sort.Search(len(s.outbox), func(i int) bool { return s.outbox[i].Seq >= seq })
		if i < len(s.outbox) && s.outbox[i].Seq == seq && s.outbox[i].DispatchedAt == nil {
			s.outbox[i].DispatchedAt = &now
		}
	}
	return nil
}

func (s *MemoryStore) PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	s.outbox = slices.DeleteFunc(s.outbox, func(rec messaging.OutboxRecord) bool {
		if rec.DispatchedAt != nil && rec.DispatchedAt.Before(olderThan) {
			purged++
			return true
		}
		return false
	})
	return purged, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.Persistence("store closed", nil)
	}
	return nil
}

func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
