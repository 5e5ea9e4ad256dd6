package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

const messageColumns = `id, text, image, audio, stickers, reply_to, media_type, media_status, media_url, created_at, updated_at`

// Repository is the PostgreSQL Store. Every mutation and its outbox row share one transaction.
type Repository struct {
	pool *pgxpool.Pool
	gen  IDGenerator
}

func NewRepository(pool *pgxpool.Pool, gen IDGenerator) *Repository {
	return &Repository{
		pool: pool,
		gen:  gen,
	}
}

func (r *Repository) Create(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	stored := stamp(r.gen, msg)

	var replyTo []byte
	if stored.ReplyTo != nil {
		data, err := json.Marshal(stored.ReplyTo)
		if err != nil {
			return nil, errors.Internal("failed to encode reply", err)
		}
		replyTo = data
	}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (id, text, image, audio, stickers, reply_to, media_type, media_status, media_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			stored.ID,
			nullable(stored.Text),
			nullable(stored.Image),
			nullable(stored.Audio),
			stored.Stickers,
			replyTo,
			nullable(string(stored.MediaType)),
			nullable(string(stored.MediaStatus)),
			nullable(stored.MediaURL),
			stored.CreatedAt,
			stored.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, messaging.NewCreatedEvent(stored))
	})
	if err != nil {
		return nil, errors.Persistence("failed to create message", err)
	}

	return stored, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*messaging.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("message not found")
	}
	if err != nil {
		return nil, errors.Persistence("failed to load message", err)
	}
	return msg, nil
}

func (r *Repository) Page(ctx context.Context, cursor *int64, limit int) ([]*messaging.Message, error) {
	limit = clampLimit(limit)

	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ($1::BIGINT IS NULL OR id < $1)
		ORDER BY id DESC
		LIMIT $2
	`, cursor, limit)
	if err != nil {
		return nil, errors.Persistence("failed to list messages", err)
	}
	defer rows.Close()

	page := make([]*messaging.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Persistence("failed to read message", err)
		}
		page = append(page, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence("failed to list messages", err)
	}

	return page, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	var found bool
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		found = true
		return insertEvent(ctx, tx, messaging.NewDeletedEvent(id))
	})
	if err != nil {
		return errors.Persistence("failed to delete message", err)
	}
	if !found {
		return errors.NotFound("message not found")
	}
	return nil
}

func (r *Repository) UpdateMedia(ctx context.Context, id int64, status messaging.MediaStatus, mediaURL string) (*messaging.Message, error) {
	if status != messaging.MediaStatusReady {
		mediaURL = ""
	}

	var (
		updated *messaging.Message
		appErr  error
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var current *string
		err := tx.QueryRow(ctx, `SELECT media_status FROM messages WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err == pgx.ErrNoRows {
			appErr = errors.NotFound("message not found")
			return nil
		}
		if err != nil {
			return err
		}
		if !messaging.CanTransition(messaging.MediaStatus(deref(current)), status) {
			appErr = errors.Validation("invalid media status transition")
			return nil
		}

		row := tx.QueryRow(ctx, `
			UPDATE messages
			SET media_status = $2, media_url = $3, updated_at = $4
			WHERE id = $1
			RETURNING `+messageColumns,
			id, string(status), nullable(mediaURL), time.Now().UTC(),
		)
		updated, err = scanMessage(row)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, messaging.NewUpdatedEvent(updated))
	})
	if err != nil {
		return nil, errors.Persistence("failed to update media", err)
	}
	if appErr != nil {
		return nil, appErr
	}
	return updated, nil
}

func (r *Repository) PendingEvents(ctx context.Context, limit int) ([]messaging.OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, payload, created_at
		FROM message_outbox
		WHERE dispatched_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Persistence("failed to read outbox", err)
	}
	defer rows.Close()

	var records []messaging.OutboxRecord
	for rows.Next() {
		var (
			rec     messaging.OutboxRecord
			payload []byte
		)
		if err := rows.Scan(&rec.Seq, &payload, &rec.CreatedAt); err != nil {
			return nil, errors.Persistence("failed to read outbox", err)
		}
		if err := json.Unmarshal(payload, &rec.Event); err != nil {
			rec.Event = messaging.Event{}
			rec.DecodeErr = fmt.Errorf("seq %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *Repository) MarkDispatched(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE message_outbox
		SET dispatched_at = NOW()
		WHERE seq = ANY($1) AND dispatched_at IS NULL
	`, seqs)
	if err != nil {
		return errors.Persistence("failed to mark events dispatched", err)
	}
	return nil
}

func (r *Repository) PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM message_outbox
		WHERE dispatched_at IS NOT NULL AND dispatched_at < $1
	`, olderThan)
	if err != nil {
		return 0, errors.Persistence("failed to purge outbox", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return errors.Persistence("database unreachable", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (r *Repository) Close() {}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev messaging.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	eventID, err := uuid.Parse(ev.ID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO message_outbox (event_id, event_type, message_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, string(ev.Type), ev.MessageID, payload, ev.CreatedAt)
	return err
}

func scanMessage(row pgx.Row) (*messaging.Message, error) {
	var (
		msg                          messaging.Message
		text, image, audio, mediaURL *string
		mediaType, mediaStatus       *string
		replyTo                      []byte
	)
	err := row.Scan(
		&msg.ID,
		&text,
		&image,
		&audio,
		&msg.Stickers,
		&replyTo,
		&mediaType,
		&mediaStatus,
		&mediaURL,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Text = deref(text)
	msg.Image = deref(image)
	msg.Audio = deref(audio)
	msg.MediaType = messaging.MediaType(deref(mediaType))
	msg.MediaStatus = messaging.MediaStatus(deref(mediaStatus))
	msg.MediaURL = deref(mediaURL)
	if msg.Stickers == nil {
		msg.Stickers = []string{}
	}
	if len(replyTo) > 0 {
		msg.ReplyTo = &messaging.ReplySnapshot{}
		if err := json.Unmarshal(replyTo, msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("decode reply_to: %w", err)
		}
	}

	return &msg, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
