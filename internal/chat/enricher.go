package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/media"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

type MediaUpdater interface {
	UpdateMedia(ctx context.Context, id int64, status messaging.MediaStatus, mediaURL string) (*messaging.Message, error)
}

type EnrichmentObserver interface {
	EnrichmentFinished(kind messaging.MediaType, status messaging.MediaStatus, took time.Duration)
}

// Enricher hosts detected clips in the background. Each message gets exactly
// one attempt; any error, including the timeout, ends in "failed".
type Enricher struct {
	store    MediaUpdater
	host     media.Host
	timeout  time.Duration
	logger   *zap.Logger
	observer EnrichmentObserver
	onUpdate func(context.Context)

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Int64

	// mu orders wg.Add against the Wait in Shutdown.
	mu     sync.Mutex
	closed bool
}

func NewEnricher(store MediaUpdater, host media.Host, timeout time.Duration, logger *zap.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Enricher{
		store:   store,
		host:    host,
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (e *Enricher) SetObserver(o EnrichmentObserver) {
	e.observer = o
}

func (e *Enricher) InFlight() int {
	return int(e.inFlight.Load())
}

// Enqueue starts enrichment for a pending message. It reports false when there
// is nothing to do or the enricher is shutting down.
func (e *Enricher) Enqueue(msg *messaging.Message) bool {
	if msg == nil || msg.MediaStatus != messaging.MediaStatusPending {
		return false
	}
	kind, sourceURL, ok := messaging.DetectMedia(msg.Text)
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	e.inFlight.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.inFlight.Add(-1)
		e.enrich(msg.ID, kind, sourceURL)
	}()
	return true
}

func (e *Enricher) enrich(id int64, kind messaging.MediaType, sourceURL string) {
	logger := e.logger.With(zap.Int64("message_id", id), zap.String("media_type", string(kind)))
	start := time.Now()

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	hosted, err := e.host.Host(ctx, sourceURL, kind)
	cancel()

	status := messaging.MediaStatusReady
	if err != nil {
		status = messaging.MediaStatusFailed
		hosted = ""
		logger.Warn("media enrichment failed", zap.String("source_url", sourceURL), zap.Error(err))
	}

	// The update must land even when shutdown cancelled the host call.
	updateCtx, updateCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer updateCancel()

	if _, err := e.store.UpdateMedia(updateCtx, id, status, hosted); err != nil {
		logger.Warn("failed to record media status", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if e.onUpdate != nil {
		e.onUpdate(updateCtx)
	}
	if e.observer != nil {
		e.observer.EnrichmentFinished(kind, status, time.Since(start))
	}

	logger.Info("media enrichment finished",
		zap.String("status", string(status)),
		zap.Duration("took", time.Since(start)),
	)
}

// Shutdown stops accepting work and waits for in-flight tasks. When ctx expires
// first, the remaining host calls are cancelled and recorded as failed.
func (e *Enricher) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.logger.Warn("cancelling in-flight media enrichment", zap.Int("in_flight", e.InFlight()))
		e.cancel()
		<-done
		return ctx.Err()
	}
}
