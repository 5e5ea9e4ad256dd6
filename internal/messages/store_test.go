package messages

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/migrations"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	a, err := s.Create(ctx, &messaging.Message{Text: "A", Stickers: []string{"/s/1.webp"}})
	require.NoError(t, err)
	b, err := s.Create(ctx, &messaging.Message{
		Text:    "B",
		ReplyTo: &messaging.ReplySnapshot{ID: a.ID, Text: "A"},
	})
	require.NoError(t, err)
	c, err := s.Create(ctx, &messaging.Message{
		Text:        "https://youtube.com/shorts/xyz",
		MediaType:   messaging.MediaTypeYouTube,
		MediaStatus: messaging.MediaStatusPending,
	})
	require.NoError(t, err)

	page, err := s.Page(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, c.ID, page[0].ID)
	assert.Equal(t, b.ID, page[1].ID)
	require.NotNil(t, page[1].ReplyTo)
	assert.Equal(t, a.ID, page[1].ReplyTo.ID)

	page, err = s.Page(ctx, &b.ID, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, page[0].ID)
	assert.Equal(t, []string{"/s/1.webp"}, page[0].Stickers)

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.True(t, errors.IsNotFound(s.Delete(ctx, a.ID)))

	got, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "A", got.ReplyTo.Text)

	updated, err := s.UpdateMedia(ctx, c.ID, messaging.MediaStatusReady, "https://cdn/c.mp4")
	require.NoError(t, err)
	assert.Equal(t, messaging.MediaStatusReady, updated.MediaStatus)
	assert.Equal(t, "https://cdn/c.mp4", updated.MediaURL)

	_, err = s.UpdateMedia(ctx, c.ID, messaging.MediaStatusFailed, "")
	assert.True(t, errors.IsValidation(err))

	pending, err := s.PendingEvents(ctx, 100)
	require.NoError(t, err)
	var kinds []messaging.EventType
	var seqs []int64
	for _, rec := range pending {
		kinds = append(kinds, rec.Event.Type)
		seqs = append(seqs, rec.Seq)
	}
	assert.Equal(t, []messaging.EventType{
		messaging.EventMessageCreated,
		messaging.EventMessageCreated,
		messaging.EventMessageCreated,
		messaging.EventMessageDeleted,
		messaging.EventMessageUpdated,
	}, kinds)

	require.NoError(t, s.MarkDispatched(ctx, seqs))
	pending, err = s.PendingEvents(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)

	purged, err := s.PurgeDispatched(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(len(seqs)), purged)

	require.NoError(t, s.Ping(ctx))
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, newTestStore(t))
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("HUDDLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HUDDLE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}

	require.NoError(t, migrations.Run(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE messages, message_outbox")
	require.NoError(t, err)

	storeContract(t, NewRepository(pool, infra.NewSnowflakeGenerator(2)))
}

func TestMongoStoreContract(t *testing.T) {
	uri := os.Getenv("HUDDLE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("HUDDLE_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := ConnectMongo(ctx, config.MongoConfig{
		URI:      uri,
		Database: "huddle_test_" + time.Now().UTC().Format("20060102150405"),
	}, infra.NewSnowflakeGenerator(3))
	if err != nil {
		t.Skipf("mongo unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		s.Close()
	})

	storeContract(t, s)
}

func TestPostgresPendingEventsSurfacesCorruptRow(t *testing.T) {
	dsn := os.Getenv("HUDDLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HUDDLE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}

	require.NoError(t, migrations.Run(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE messages, message_outbox")
	require.NoError(t, err)

	repo := NewRepository(pool, infra.NewSnowflakeGenerator(4))
	_, err = pool.Exec(ctx, `
		INSERT INTO message_outbox (event_id, event_type, message_id, payload)
		VALUES (gen_random_uuid(), 'message-created', 1, '{"type": 5}')
	`)
	require.NoError(t, err)
	good, err := repo.Create(ctx, &messaging.Message{Text: "still relayed"})
	require.NoError(t, err)

	pending, err := repo.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Error(t, pending[0].DecodeErr)
	assert.NoError(t, pending[1].DecodeErr)
	assert.Equal(t, good.ID, pending[1].Event.MessageID)
}
