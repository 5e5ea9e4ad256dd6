package reconcile

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

func msg(id int64, text string) *messaging.Message {
	return &messaging.Message{ID: id, Text: text, Stickers: []string{}}
}

func ids(msgs []*messaging.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func seeded(t *testing.T, pageSize int, batch ...*messaging.Message) *Store {
	t.Helper()
	s := New(pageSize)
	require.NoError(t, s.BeginInitial())
	s.Seed(batch)
	return s
}

func TestStateMachine(t *testing.T) {
	s := New(2)
	assert.Equal(t, StateIdle, s.State())

	_, err := s.BeginOlder()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.Retry(), ErrInvalidTransition)

	require.NoError(t, s.BeginInitial())
	assert.Equal(t, StateLoadingInitial, s.State())
	assert.ErrorIs(t, s.BeginInitial(), ErrInvalidTransition)

	s.Seed([]*messaging.Message{msg(3, "c"), msg(4, "d")})
	assert.Equal(t, StateLoaded, s.State())
	assert.True(t, s.HasMore())

	cursor, err := s.BeginOlder()
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)
	assert.Equal(t, StateLoadingOlder, s.State())

	s.MergeOlder([]*messaging.Message{msg(1, "a")})
	assert.Equal(t, StateLoaded, s.State())
	assert.False(t, s.HasMore())

	_, err = s.BeginOlder()
	assert.ErrorIs(t, err, ErrNoOlder)

	boom := errors.New("network down")
	s.Fail(boom)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, boom, s.Err())
	assert.ErrorIs(t, s.BeginInitial(), ErrInvalidTransition)

	require.NoError(t, s.Retry())
	assert.Equal(t, StateLoadingInitial, s.State())
	assert.NoError(t, s.Err())
}

func TestSeedOrdersAscending(t *testing.T) {
	s := seeded(t, 10, msg(3, "c"), msg(1, "a"), msg(2, "b"), msg(3, "c"))
	assert.Equal(t, []int64{1, 2, 3}, ids(s.Messages()))

	oldest, ok := s.Oldest()
	require.True(t, ok)
	assert.Equal(t, int64(1), oldest)
	assert.False(t, s.HasMore())
}

func TestMergeOlderPrependsAndDedupes(t *testing.T) {
	s := seeded(t, 3, msg(5, "e"), msg(6, "f"), msg(7, "g"))

	before := s.Messages()
	s.MergeOlder([]*messaging.Message{msg(4, "d"), msg(2, "b"), msg(5, "e"), msg(3, "c")})
	after := s.Messages()

	assert.Equal(t, []int64{2, 3, 4, 5, 6, 7}, ids(after))
	assert.Equal(t, ids(before), ids(after[len(after)-len(before):]))
	assert.True(t, s.HasMore())
}

func TestLiveCreateIdempotent(t *testing.T) {
	s := seeded(t, 10, msg(1, "a"))

	m := msg(2, "b")
	assert.True(t, s.ApplyLiveCreate(m))
	once := s.Messages()
	assert.False(t, s.ApplyLiveCreate(m))
	assert.Equal(t, once, s.Messages())
	assert.Equal(t, []int64{1, 2}, ids(once))
}

func TestLiveCreateOutOfOrder(t *testing.T) {
	s := seeded(t, 10, msg(1, "a"), msg(5, "e"))

	s.ApplyLiveCreate(msg(9, "i"))
	s.ApplyLiveCreate(msg(7, "g"))
	s.ApplyLiveCreate(msg(3, "c"))
	assert.Equal(t, []int64{1, 3, 5, 7, 9}, ids(s.Messages()))
}

func TestLiveCreateBelowWindowIgnoredWhileHistoryRemains(t *testing.T) {
	s := seeded(t, 2, msg(10, "j"), msg(11, "k"))
	require.True(t, s.HasMore())

	assert.False(t, s.ApplyLiveCreate(msg(4, "d")))
	assert.Equal(t, []int64{10, 11}, ids(s.Messages()))
}

func TestLiveDelete(t *testing.T) {
	s := seeded(t, 10, msg(1, "a"), msg(2, "b"), msg(3, "c"))

	assert.True(t, s.ApplyLiveDelete(2))
	assert.False(t, s.ApplyLiveDelete(2))
	assert.False(t, s.ApplyLiveDelete(99))
	assert.Equal(t, []int64{1, 3}, ids(s.Messages()))
}

func pending(id int64, text string) *messaging.Message {
	m := msg(id, text)
	m.MediaType = messaging.MediaTypeYouTube
	m.MediaStatus = messaging.MediaStatusPending
	return m
}

func TestLiveUpdateInPlace(t *testing.T) {
	s := seeded(t, 10, msg(1, "a"), pending(2, "look"), msg(3, "c"))

	updated := msg(2, "look")
	updated.MediaStatus = messaging.MediaStatusReady
	updated.MediaURL = "https://cdn/v.mp4"
	updated.UpdatedAt = time.Now()

	assert.True(t, s.ApplyLiveUpdate(updated))
	got := s.Messages()
	assert.Equal(t, []int64{1, 2, 3}, ids(got))
	assert.Equal(t, messaging.MediaStatusReady, got[1].MediaStatus)
	assert.Equal(t, "https://cdn/v.mp4", got[1].MediaURL)

	stale := msg(2, "look")
	stale.MediaStatus = messaging.MediaStatusPending
	assert.False(t, s.ApplyLiveUpdate(stale))

	assert.False(t, s.ApplyLiveUpdate(msg(42, "unseen")))
	assert.Len(t, s.Messages(), 3)
}

func TestLiveUpdateOrderedByStatusNotClock(t *testing.T) {
	held := pending(2, "look")
	held.UpdatedAt = time.Now()
	s := seeded(t, 10, held)

	// Written by a server whose clock lags the one that produced the held copy.
	failed := pending(2, "look")
	failed.MediaStatus = messaging.MediaStatusFailed
	failed.UpdatedAt = held.UpdatedAt.Add(-time.Minute)
	assert.True(t, s.ApplyLiveUpdate(failed))

	assert.False(t, s.ApplyLiveUpdate(failed), "redelivered update changes nothing")

	ready := pending(2, "look")
	ready.MediaStatus = messaging.MediaStatusReady
	ready.MediaURL = "https://cdn/v.mp4"
	ready.UpdatedAt = time.Now().Add(time.Hour)
	assert.False(t, s.ApplyLiveUpdate(ready), "terminal status is final")

	assert.Equal(t, messaging.MediaStatusFailed, s.Messages()[0].MediaStatus)
}

func TestEventsDuringInitialLoadAreReplayed(t *testing.T) {
	s := New(10)
	require.NoError(t, s.BeginInitial())

	assert.False(t, s.ApplyLiveCreate(msg(4, "d")))
	assert.False(t, s.ApplyLiveDelete(2))
	assert.Zero(t, s.Len())

	s.Seed([]*messaging.Message{msg(1, "a"), msg(2, "b"), msg(3, "c")})
	assert.Equal(t, []int64{1, 3, 4}, ids(s.Messages()))
}

func TestSubscribeNotifies(t *testing.T) {
	s := New(10)
	calls := 0
	unsubscribe := s.Subscribe(func() {
		calls++
		_ = s.Messages()
	})

	require.NoError(t, s.BeginInitial())
	s.Seed([]*messaging.Message{msg(1, "a")})
	s.ApplyLiveCreate(msg(2, "b"))
	s.ApplyLiveCreate(msg(2, "b"))
	assert.Equal(t, 3, calls)

	unsubscribe()
	s.ApplyLiveDelete(1)
	assert.Equal(t, 3, calls)
}

func TestMessagesIsSnapshot(t *testing.T) {
	s := seeded(t, 10, msg(1, "a"))
	got := s.Messages()
	got[0].Text = "mutated"
	assert.Equal(t, "a", s.Messages()[0].Text)
}

// A subscriber misses a create and delete of D while disconnected. After the
// resync D is absent and nothing reports it.
func TestResyncAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	server := messages.NewMemoryStore(infra.NewSnowflakeGenerator(1))
	defer server.Close()

	for _, text := range []string{"a", "b", "c"} {
		_, err := server.Create(ctx, &messaging.Message{Text: text})
		require.NoError(t, err)
	}

	s := New(2)
	require.NoError(t, s.BeginInitial())
	head, err := server.Page(ctx, nil, 2)
	require.NoError(t, err)
	s.Seed(head)

	d, err := server.Create(ctx, &messaging.Message{Text: "d"})
	require.NoError(t, err)
	require.NoError(t, server.Delete(ctx, d.ID))
	e, err := server.Create(ctx, &messaging.Message{Text: "e"})
	require.NoError(t, err)

	require.NoError(t, s.BeginInitial())
	head, err = server.Page(ctx, nil, 2)
	require.NoError(t, err)
	s.Seed(head)

	assert.False(t, s.Contains(d.ID))
	got := s.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Text)
	assert.Equal(t, e.ID, got[1].ID)
}

// Random interleavings of creates, deletes, duplicate deliveries and older
// pages always converge on the server's own ordering.
func TestConvergesWithServer(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		server := messages.NewMemoryStore(infra.NewSnowflakeGenerator(1))
		for i := 0; i < 30; i++ {
			_, err := server.Create(ctx, &messaging.Message{Text: "seed"})
			require.NoError(t, err)
		}

		s := New(5)
		require.NoError(t, s.BeginInitial())
		head, err := server.Page(ctx, nil, 5)
		require.NoError(t, err)
		s.Seed(head)

		for step := 0; step < 60; step++ {
			switch rng.Intn(4) {
			case 0, 1:
				m, err := server.Create(ctx, &messaging.Message{Text: "live"})
				require.NoError(t, err)
				s.ApplyLiveCreate(m)
				if rng.Intn(3) == 0 {
					s.ApplyLiveCreate(m)
				}
			case 2:
				held := s.Messages()
				if len(held) == 0 {
					continue
				}
				victim := held[rng.Intn(len(held))].ID
				require.NoError(t, server.Delete(ctx, victim))
				s.ApplyLiveDelete(victim)
			case 3:
				cursor, err := s.BeginOlder()
				if err != nil {
					continue
				}
				older, err := server.Page(ctx, &cursor, 5)
				require.NoError(t, err)
				s.MergeOlder(older)
			}
		}

		oldest, ok := s.Oldest()
		if !ok {
			server.Close()
			continue
		}
		all, err := server.Page(ctx, nil, 100)
		require.NoError(t, err)
		var want []int64
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].ID >= oldest {
				want = append(want, all[i].ID)
			}
		}
		assert.Equal(t, want, ids(s.Messages()), "round %d", round)
		server.Close()
	}
}
