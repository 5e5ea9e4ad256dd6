package client

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
	"github.com/Alexander-D-Karpov/huddle/internal/reconcile"
)

// Backend is the slice of API a Session drives.
type Backend interface {
	Page(ctx context.Context, cursor *int64, limit int) ([]*messaging.Message, error)
	Send(ctx context.Context, req messaging.SendRequest) (*messaging.Message, error)
	Delete(ctx context.Context, id int64) error
	Dial(ctx context.Context) (*Subscription, error)
}

// Session keeps a reconcile.Store in step with the server: history through
// REST pages, changes through the live channel. Failures are reported to the
// OnError hook and never retried here.
type Session struct {
	api      Backend
	store    *reconcile.Store
	pageSize int
	logger   *zap.Logger

	mu         sync.Mutex
	sub        *Subscription
	onError    func(error)
	onPresence func(int)
	pumping    sync.WaitGroup
}

func NewSession(api Backend, store *reconcile.Store, pageSize int, logger *zap.Logger) *Session {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Session{
		api:      api,
		store:    store,
		pageSize: pageSize,
		logger:   logger,
	}
}

func (s *Session) Store() *reconcile.Store {
	return s.store
}

func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnPresence sees every online-count announcement from the live channel.
func (s *Session) OnPresence(fn func(int)) {
	s.mu.Lock()
	s.onPresence = fn
	s.mu.Unlock()
}

func (s *Session) report(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()

	s.logger.Warn("session operation failed", zap.Error(err))
	if fn != nil {
		fn(err)
	}
}

// Connect opens the live channel and then reloads the newest page. The
// channel comes first so nothing created during the fetch is missed; events
// that beat the page are replayed on top of it by the store.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.Dial(ctx); err != nil {
		return err
	}
	return s.Resync(ctx)
}

// Dial opens a new live channel, replacing the current one, without touching
// the held history. Callers follow it with Resync.
func (s *Session) Dial(ctx context.Context) error {
	sub, err := s.api.Dial(ctx)
	if err != nil {
		s.report(err)
		return err
	}

	s.mu.Lock()
	previous := s.sub
	s.sub = sub
	s.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	s.pumping.Add(1)
	go s.pump(sub)
	return nil
}

// Resync replaces the view with a fresh cursor-less page. Messages created and
// deleted while disconnected, outside that page, are never seen.
func (s *Session) Resync(ctx context.Context) error {
	var err error
	if s.store.State() == reconcile.StateError {
		err = s.store.Retry()
	} else {
		err = s.store.BeginInitial()
	}
	if err != nil {
		return err
	}

	page, err := s.api.Page(ctx, nil, s.pageSize)
	if err != nil {
		s.store.Fail(err)
		s.report(err)
		return err
	}

	s.store.Seed(page)
	return nil
}

// LoadOlder merges the page preceding the oldest held message. It returns
// reconcile.ErrNoOlder when history is exhausted.
func (s *Session) LoadOlder(ctx context.Context) error {
	cursor, err := s.store.BeginOlder()
	if err != nil {
		return err
	}

	page, err := s.api.Page(ctx, &cursor, s.pageSize)
	if err != nil {
		s.store.Fail(err)
		s.report(err)
		return err
	}

	s.store.MergeOlder(page)
	return nil
}

// Send posts a message and shows it right away. The live echo of the same
// message is absorbed by the store's id dedupe.
func (s *Session) Send(ctx context.Context, req messaging.SendRequest) (*messaging.Message, error) {
	msg, err := s.api.Send(ctx, req)
	if err != nil {
		s.report(err)
		return nil, err
	}
	s.store.ApplyLiveCreate(msg)
	return msg, nil
}

func (s *Session) Delete(ctx context.Context, id int64) error {
	if err := s.api.Delete(ctx, id); err != nil {
		s.report(err)
		return err
	}
	s.store.ApplyLiveDelete(id)
	return nil
}

// Done is closed when the current live channel ends.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.sub.Done()
}

func (s *Session) pump(sub *Subscription) {
	defer s.pumping.Done()

	for ev := range sub.Events() {
		if ev.Type == messaging.EventOnlineCount {
			s.mu.Lock()
			fn := s.onPresence
			s.mu.Unlock()
			if fn != nil {
				fn(ev.Count)
			}
			continue
		}
		s.store.Apply(ev)
	}

	if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.mu.Lock()
		current := s.sub == sub
		s.mu.Unlock()
		if current {
			s.report(err)
		}
	}
}

func (s *Session) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.pumping.Wait()
}
