package reconcile

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

type State string

const (
	StateIdle           State = "idle"
	StateLoadingInitial State = "loading-initial"
	StateLoaded         State = "loaded"
	StateLoadingOlder   State = "loading-older"
	StateError          State = "error"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoOlder           = errors.New("no older messages")
)

// Live events that arrive before the first page lands are held back and
// replayed on top of it. Past this many the oldest are discarded.
const maxPending = 1024

// Store is the ordered view a client renders: messages in ascending id order,
// fed by paginated batches and live events. Every input funnels through the
// same positional insert, so the list is never re-sorted wholesale.
type Store struct {
	mu        sync.RWMutex
	msgs      []*messaging.Message
	state     State
	err       error
	seeded    bool
	hasMore   bool
	pageSize  int
	pending   []messaging.Event
	listeners map[int]func()
	nextID    int
}

func New(pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{
		state:     StateIdle,
		pageSize:  pageSize,
		listeners: make(map[int]func()),
	}
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err is the failure that moved the store into the error state.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// BeginInitial starts a cursor-less load. Allowed from idle, and from loaded
// as a resync after the live channel reconnects.
func (s *Store) BeginInitial() error {
	return s.transition(StateLoadingInitial, StateIdle, StateLoaded)
}

// Retry restarts the initial load after a failure. Nothing calls it
// automatically.
func (s *Store) Retry() error {
	return s.transition(StateLoadingInitial, StateError)
}

// BeginOlder returns the cursor for the next older page.
func (s *Store) BeginOlder() (int64, error) {
	s.mu.Lock()
	if s.state != StateLoaded {
		state := s.state
		s.mu.Unlock()
		return 0, transitionError(state, StateLoadingOlder)
	}
	if len(s.msgs) == 0 || !s.hasMore {
		s.mu.Unlock()
		return 0, ErrNoOlder
	}
	s.state = StateLoadingOlder
	cursor := s.msgs[0].ID
	s.mu.Unlock()

	s.notify()
	return cursor, nil
}

func (s *Store) Fail(err error) {
	s.mu.Lock()
	s.state = StateError
	s.err = err
	s.mu.Unlock()

	s.notify()
}

func (s *Store) transition(to State, from ...State) error {
	s.mu.Lock()
	if !slices.Contains(from, s.state) {
		state := s.state
		s.mu.Unlock()
		return transitionError(state, to)
	}
	s.state = to
	s.err = nil
	s.mu.Unlock()

	s.notify()
	return nil
}

func transitionError(from, to State) error {
	return &TransitionError{From: from, To: to}
}

type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return "reconcile: cannot move from " + string(e.From) + " to " + string(e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Seed replaces the view with the newest page, then replays any live events
// that arrived while it was loading.
func (s *Store) Seed(batch []*messaging.Message) {
	s.mu.Lock()
	s.msgs = s.msgs[:0]
	for _, m := range sortedUnique(batch) {
		s.msgs = append(s.msgs, m.Clone())
	}
	s.hasMore = len(batch) >= s.pageSize
	s.seeded = true
	s.state = StateLoaded
	s.err = nil

	pending := s.pending
	s.pending = nil
	for _, ev := range pending {
		s.applyLocked(ev)
	}
	s.mu.Unlock()

	s.notify()
}

// MergeOlder adds an older page below what is held. Ids already present are
// skipped; the rest land at their position without moving existing entries.
func (s *Store) MergeOlder(batch []*messaging.Message) {
	s.mu.Lock()
	incoming := sortedUnique(batch)

	fresh := make([]*messaging.Message, 0, len(incoming))
	for _, m := range incoming {
		if _, found := s.find(m.ID); !found {
			fresh = append(fresh, m.Clone())
		}
	}

	if len(s.msgs) == 0 || (len(fresh) > 0 && fresh[len(fresh)-1].ID < s.msgs[0].ID) {
		s.msgs = append(fresh, s.msgs...)
	} else {
		for _, m := range fresh {
			s.insert(m)
		}
	}

	s.hasMore = len(batch) >= s.pageSize
	if s.state == StateLoadingOlder {
		s.state = StateLoaded
	}
	s.mu.Unlock()

	s.notify()
}

// Apply routes a live event to the matching operation and reports whether the
// view changed.
func (s *Store) Apply(ev messaging.Event) bool {
	if !ev.Type.Valid() {
		return false
	}

	s.mu.Lock()
	var changed bool
	if !s.seeded || s.state == StateLoadingInitial {
		s.hold(ev)
	} else {
		changed = s.applyLocked(ev)
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

func (s *Store) ApplyLiveCreate(msg *messaging.Message) bool {
	return s.Apply(messaging.Event{Type: messaging.EventMessageCreated, MessageID: msg.ID, Message: msg})
}

func (s *Store) ApplyLiveDelete(id int64) bool {
	return s.Apply(messaging.Event{Type: messaging.EventMessageDeleted, MessageID: id})
}

func (s *Store) ApplyLiveUpdate(msg *messaging.Message) bool {
	return s.Apply(messaging.Event{Type: messaging.EventMessageUpdated, MessageID: msg.ID, Message: msg})
}

func (s *Store) hold(ev messaging.Event) {
	if len(s.pending) == maxPending {
		s.pending = slices.Delete(s.pending, 0, 1)
	}
	ev.Message = ev.Message.Clone()
	s.pending = append(s.pending, ev)
}

func (s *Store) applyLocked(ev messaging.Event) bool {
	switch ev.Type {
	case messaging.EventMessageCreated:
		if ev.Message == nil {
			return false
		}
		if _, found := s.find(ev.Message.ID); found {
			return false
		}
		// Below the oldest held id with more history on the server: that
		// range belongs to a later MergeOlder, inserting here would leave a gap.
		if s.hasMore && len(s.msgs) > 0 && ev.Message.ID < s.msgs[0].ID {
			return false
		}
		s.insert(ev.Message.Clone())
		return true

	case messaging.EventMessageDeleted:
		i, found := s.find(ev.MessageID)
		if !found {
			return false
		}
		s.msgs = slices.Delete(s.msgs, i, i+1)
		return true

	case messaging.EventMessageUpdated:
		if ev.Message == nil {
			return false
		}
		// Media status only moves forward, so a replayed or reordered update
		// is recognised by its transition rather than by any timestamp.
		i, found := s.find(ev.Message.ID)
		if !found || !messaging.CanTransition(s.msgs[i].MediaStatus, ev.Message.MediaStatus) {
			return false
		}
		s.msgs[i] = ev.Message.Clone()
		return true
	}
	return false
}

func (s *Store) find(id int64) (int, bool) {
	return slices.BinarySearchFunc(s.msgs, id, func(m *messaging.Message, id int64) int {
		switch {
		case m.ID < id:
			return -1
		case m.ID > id:
			return 1
		}
		return 0
	})
}

func (s *Store) insert(m *messaging.Message) {
	i, _ := s.find(m.ID)
	s.msgs = slices.Insert(s.msgs, i, m)
}

func sortedUnique(batch []*messaging.Message) []*messaging.Message {
	out := make([]*messaging.Message, 0, len(batch))
	for _, m := range batch {
		if m != nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return slices.CompactFunc(out, func(a, b *messaging.Message) bool { return a.ID == b.ID })
}

// Messages returns a copy of the view, oldest first.
func (s *Store) Messages() []*messaging.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return messaging.CloneAll(s.msgs)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

func (s *Store) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.find(id)
	return found
}

// Oldest is the cursor for the next older page.
func (s *Store) Oldest() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.msgs) == 0 {
		return 0, false
	}
	return s.msgs[0].ID, true
}

// HasMore reports whether the last page loaded was full.
func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

// Subscribe registers fn to run after every change. Callbacks run outside the
// store's lock and may read from it.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
