package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
)

type Event struct {
	ID           uuid.UUID
	Actor        string
	Action       string
	ResourceID   string
	ResourceType string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]interface{}
	Timestamp    time.Time
}

// Logger writes audit records to a dedicated named logger so they can be
// routed apart from request logs.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{
		logger: logger.Named("audit"),
	}
}

func (al *Logger) Log(ctx context.Context, event Event) {
	if al == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("resource_id", event.ResourceID),
		zap.String("resource_type", event.ResourceType),
		zap.String("ip_address", event.IPAddress),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.UserAgent))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	al.logger.Info("audit event", fields...)
}

func (al *Logger) LogMessageSent(ctx context.Context, actor, ip string, messageID int64, reply bool) {
	al.Log(ctx, Event{
		Actor:        actor,
		Action:       "message.send",
		ResourceID:   strconv.FormatInt(messageID, 10),
		ResourceType: "message",
		IPAddress:    ip,
		Metadata: map[string]interface{}{
			"reply": reply,
		},
	})
}

func (al *Logger) LogMessageDeleted(ctx context.Context, actor, ip string, messageID int64) {
	al.Log(ctx, Event{
		Actor:        actor,
		Action:       "message.delete",
		ResourceID:   strconv.FormatInt(messageID, 10),
		ResourceType: "message",
		IPAddress:    ip,
	})
}
