package messages

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

const (
	messageCollection = "messages"
	outboxCollection  = "message_outbox"
)

type outboxDoc struct {
	Seq          int64           `bson:"_id"`
	Event        messaging.Event `bson:"event"`
	CreatedAt    time.Time       `bson:"created_at"`
	DispatchedAt *time.Time      `bson:"dispatched_at"`
}

// MongoStore keeps messages in MongoDB. Multi-document transactions need a replica set.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	gen    IDGenerator
}

func ConnectMongo(ctx context.Context, cfg config.MongoConfig, gen IDGenerator) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		gen:    gen,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(outboxCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "dispatched_at", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create outbox indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) messages() *mongo.Collection { return s.db.Collection(messageCollection) }
func (s *MongoStore) outbox() *mongo.Collection   { return s.db.Collection(outboxCollection) }

func (s *MongoStore) inTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *MongoStore) appendEvent(sc mongo.SessionContext, ev messaging.Event) error {
	_, err := s.outbox().InsertOne(sc, outboxDoc{
		Seq:       s.gen.Generate(),
		Event:     ev,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	stored := stamp(s.gen, msg)

	err := s.inTx(ctx, func(sc mongo.SessionContext) error {
		if _, err := s.messages().InsertOne(sc, stored); err != nil {
			return err
		}
		return s.appendEvent(sc, messaging.NewCreatedEvent(stored))
	})
	if err != nil {
		return nil, errors.Persistence("failed to create message", err)
	}
	return stored, nil
}

func (s *MongoStore) Get(ctx context.Context, id int64) (*messaging.Message, error) {
	var msg messaging.Message
	err := s.messages().FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFound("message not found")
	}
	if err != nil {
		return nil, errors.Persistence("failed to load message", err)
	}
	return msg.Clone(), nil
}

func (s *MongoStore) Page(ctx context.Context, cursor *int64, limit int) ([]*messaging.Message, error) {
	limit = clampLimit(limit)

	filter := bson.M{}
	if cursor != nil {
		filter["_id"] = bson.M{"$lt": *cursor}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Persistence("failed to list messages", err)
	}
	defer cur.Close(ctx)

	var page []*messaging.Message
	if err := cur.All(ctx, &page); err != nil {
		return nil, errors.Persistence("failed to read messages", err)
	}
	for i, m := range page {
		page[i] = m.Clone()
	}
	if page == nil {
		page = []*messaging.Message{}
	}
	return page, nil
}

func (s *MongoStore) Delete(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(sc mongo.SessionContext) error {
		res, err := s.messages().DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return errors.ErrNotFound
		}
		return s.appendEvent(sc, messaging.NewDeletedEvent(id))
	})
	if stderrors.Is(err, errors.ErrNotFound) {
		return errors.NotFound("message not found")
	}
	if err != nil {
		return errors.Persistence("failed to delete message", err)
	}
	return nil
}

func (s *MongoStore) UpdateMedia(ctx context.Context, id int64, status messaging.MediaStatus, mediaURL string) (*messaging.Message, error) {
	if status != messaging.MediaStatusReady {
		mediaURL = ""
	}

	var updated messaging.Message
	err := s.inTx(ctx, func(sc mongo.SessionContext) error {
		var current messaging.Message
		if err := s.messages().FindOne(sc, bson.M{"_id": id}).Decode(&current); err != nil {
			if stderrors.Is(err, mongo.ErrNoDocuments) {
				return errors.ErrNotFound
			}
			return err
		}
		if !messaging.CanTransition(current.MediaStatus, status) {
			return errors.ErrValidation
		}

		set := bson.M{
			"media_status": status,
			"media_url":    mediaURL,
			"updated_at":   time.Now().UTC(),
		}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		if err := s.messages().FindOneAndUpdate(sc, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
			return err
		}
		return s.appendEvent(sc, messaging.NewUpdatedEvent(&updated))
	})
	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		return nil, errors.NotFound("message not found")
	case stderrors.Is(err, errors.ErrValidation):
		return nil, errors.Validation("invalid media status transition")
	case err != nil:
		return nil, errors.Persistence("failed to update media", err)
	}
	return updated.Clone(), nil
}

func (s *MongoStore) PendingEvents(ctx context.Context, limit int) ([]messaging.OutboxRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.outbox().Find(ctx, bson.M{"dispatched_at": nil}, opts)
	if err != nil {
		return nil, errors.Persistence("failed to read outbox", err)
	}
	defer cur.Close(ctx)

	var records []messaging.OutboxRecord
	for cur.Next(ctx) {
		var d outboxDoc
		if err := cur.Decode(&d); err != nil {
			seq, ok := cur.Current.Lookup("_id").AsInt64OK()
			if !ok {
				return nil, errors.Persistence("outbox document without a sequence", err)
			}
			records = append(records, messaging.OutboxRecord{
				Seq:       seq,
				DecodeErr: fmt.Errorf("seq %d: %w", seq, err),
			})
			continue
		}
		records = append(records, messaging.OutboxRecord{
			Seq:       d.Seq,
			Event:     d.Event,
			CreatedAt: d.CreatedAt,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Persistence("failed to read outbox", err)
	}
	return records, nil
}

func (s *MongoStore) MarkDispatched(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.outbox().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": seqs}, "dispatched_at": nil},
		bson.M{"$set": bson.M{"dispatched_at": time.Now().UTC()}},
	)
	if err != nil {
		return errors.Persistence("failed to mark events dispatched", err)
	}
	return nil
}

func (s *MongoStore) PurgeDispatched(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.outbox().DeleteMany(ctx, bson.M{"dispatched_at": bson.M{"$ne": nil, "$lt": olderThan}})
	if err != nil {
		return 0, errors.Persistence("failed to purge outbox", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return errors.Persistence("mongo unreachable", err)
	}
	return nil
}

func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}
