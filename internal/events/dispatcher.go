package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/circuitbreaker"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

type Broadcaster interface {
	Broadcast(ev messaging.Event) int
}

// DispatchObserver is told how many outbox records each pass relayed.
type DispatchObserver interface {
	EventsDispatched(n int)
	OutboxPurged(n int64)
}

// Dispatcher relays committed outbox records to live subscribers. A record is
// marked dispatched only after it was handed to the hub, so a crash in between
// replays it; subscribers dedupe by message id.
type Dispatcher struct {
	outbox   messages.Outbox
	hub      Broadcaster
	cfg      config.OutboxConfig
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
	observer DispatchObserver

	notify chan struct{}
	mu     sync.Mutex
}

func NewDispatcher(outbox messages.Outbox, hub Broadcaster, cfg config.OutboxConfig, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 10 * time.Second
	}
	return &Dispatcher{
		outbox:  outbox,
		hub:     hub,
		cfg:     cfg,
		breaker: circuitbreaker.New(cfg.BreakerFailures, cfg.BreakerCooldown),
		logger:  logger,
		notify:  make(chan struct{}, 1),
	}
}

func (d *Dispatcher) SetObserver(o DispatchObserver) {
	d.observer = o
}

func (d *Dispatcher) BreakerState() circuitbreaker.State {
	return d.breaker.GetState()
}

// Notify wakes the relay loop without waiting for the next poll tick.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run relays until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()

	purgeEvery := time.Hour
	if d.cfg.Retention > 0 && d.cfg.Retention < purgeEvery {
		purgeEvery = d.cfg.Retention
	}
	purge := time.NewTicker(purgeEvery)
	defer purge.Stop()

	d.logger.Info("outbox dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-poll.C:
		case <-d.notify:
		case <-purge.C:
			if d.cfg.Retention > 0 {
				if _, err := d.Purge(ctx, time.Now().Add(-d.cfg.Retention)); err != nil {
					d.logger.Warn("outbox purge failed", zap.Error(err))
				}
			}
			continue
		}

		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			if err == circuitbreaker.ErrCircuitOpen {
				d.logger.Debug("outbox store circuit open, skipping pass")
			} else {
				d.logger.Warn("outbox dispatch failed", zap.Error(err))
			}
		}
	}
}

// DispatchPending drains the outbox in batches and returns how many records were relayed.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := 0
	for {
		var batch []messaging.OutboxRecord
		err := d.breaker.Call(func() error {
			var err error
			batch, err = d.outbox.PendingEvents(ctx, d.cfg.BatchSize)
			return err
		})
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		seqs := make([]int64, 0, len(batch))
		for _, rec := range batch {
			switch {
			case rec.DecodeErr != nil:
				d.logger.Error("skipping undecodable outbox record",
					zap.Int64("seq", rec.Seq),
					zap.Error(rec.DecodeErr),
				)
			case !rec.Event.Type.Valid():
				d.logger.Error("skipping outbox record with unknown event type",
					zap.Int64("seq", rec.Seq),
					zap.String("event_type", string(rec.Event.Type)),
				)
			default:
				d.hub.Broadcast(rec.Event)
			}
			seqs = append(seqs, rec.Seq)
		}

		if err := d.breaker.Call(func() error {
			return d.outbox.MarkDispatched(ctx, seqs)
		}); err != nil {
			return total, err
		}

		total += len(batch)
		if d.observer != nil {
			d.observer.EventsDispatched(len(batch))
		}
		if len(batch) < d.cfg.BatchSize {
			return total, nil
		}
	}
}

func (d *Dispatcher) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := d.outbox.PurgeDispatched(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("purged dispatched outbox records", zap.Int64("count", n))
	}
	if d.observer != nil {
		d.observer.OutboxPurged(n)
	}
	return n, nil
}
