package chat

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// Notifier is nudged after every committed mutation so the outbox relay runs promptly.
type Notifier interface {
	Notify()
}

type Service struct {
	store    messages.Store
	notifier Notifier
	head     HeadCache
	enricher *Enricher
	limits   pagination.Limits
	loads    singleflight.Group
	// writes counts committed mutations. Head loads are shared only between
	// callers that saw the same count, so a read that began before a write is
	// never handed to a caller that arrived after it.
	writes atomic.Uint64
}

type Option func(*Service)

func WithHeadCache(head HeadCache) Option {
	return func(s *Service) { s.head = head }
}

func WithEnricher(e *Enricher) Option {
	return func(s *Service) { s.enricher = e }
}

func WithLimits(l pagination.Limits) Option {
	return func(s *Service) { s.limits = l }
}

func NewService(store messages.Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		limits:   pagination.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.enricher != nil {
		s.enricher.onUpdate = s.mutated
	}
	return s
}

func (s *Service) Limits() pagination.Limits {
	return s.limits
}

// Send validates and persists a message. Media enrichment continues in the
// background; the returned message still carries mediaStatus "pending".
func (s *Service) Send(ctx context.Context, req messaging.SendRequest) (*messaging.Message, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	msg := req.NewMessage()
	if req.ReplyTo != nil {
		snapshot, err := s.resolveReply(ctx, req.ReplyTo)
		if err != nil {
			return nil, err
		}
		msg.ReplyTo = snapshot
	}

	stored, err := s.store.Create(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.mutated(ctx)

	logging.FromContext(ctx).Debug("message stored",
		zap.Int64("message_id", stored.ID),
		zap.Bool("reply", stored.ReplyTo != nil),
		zap.String("media_type", string(stored.MediaType)),
	)

	if s.enricher != nil && stored.MediaStatus == messaging.MediaStatusPending {
		s.enricher.Enqueue(stored)
	}

	return stored, nil
}

// resolveReply snapshots the referenced message as stored. When it is gone the
// client's own copy is accepted, as long as it carries content.
func (s *Service) resolveReply(ctx context.Context, ref *messaging.ReplyRef) (*messaging.ReplySnapshot, error) {
	target, err := s.store.Get(ctx, ref.ID)
	if err == nil {
		return messaging.SnapshotOf(target), nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	snapshot := ref.Snapshot()
	if snapshot.Empty() {
		return nil, errors.Validation("replied-to message not found")
	}
	return snapshot, nil
}

// List returns one page newest-first.
func (s *Service) List(ctx context.Context, req pagination.Request) ([]*messaging.Message, error) {
	limit := s.limits.Clamp(req.Limit)
	cursor := req.BeforeID()

	if cursor != nil {
		return s.store.Page(ctx, cursor, limit)
	}

	load := func(ctx context.Context) ([]*messaging.Message, error) {
		key := fmt.Sprintf("%d:%d", s.writes.Load(), limit)
		v, err, _ := s.loads.Do(key, func() (interface{}, error) {
			return s.store.Page(ctx, nil, limit)
		})
		if err != nil {
			return nil, err
		}
		return messaging.CloneAll(v.([]*messaging.Message)), nil
	}

	if s.head == nil {
		return load(ctx)
	}

	page, err := s.head.Page(ctx, limit, load)
	if err != nil && !errors.IsPersistence(err) && !errors.IsValidation(err) {
		logging.FromContext(ctx).Warn("head page cache failed, reading store", zap.Error(err))
		return load(ctx)
	}
	return page, err
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.Validation("invalid message id")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.mutated(ctx)
	return nil
}

func (s *Service) mutated(ctx context.Context) {
	s.writes.Add(1)
	if s.notifier != nil {
		s.notifier.Notify()
	}
	if s.head != nil {
		if err := s.head.Invalidate(ctx); err != nil {
			logging.FromContext(ctx).Warn("failed to invalidate head page cache", zap.Error(err))
		}
	}
}
