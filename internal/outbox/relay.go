// Package outbox delivers the change events written alongside every
// mutation to the parts of the system that react to them.
package outbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"qms/internal/models"
	"qms/internal/store"
)

type Sink interface {
	Name() string
	Notify(ctx context.Context, event models.OutboxEvent) error
}

type RelayConfig struct {
	// Consumer names the persisted offset. An empty name starts at the
	// current tail and keeps the offset in memory only.
	Consumer  string
	Interval  time.Duration
	BatchSize int
	Logger    logrus.FieldLogger
}

type Relay struct {
	store store.Store
	sinks []Sink
	cfg   RelayConfig

	running int32
	loaded  bool
	offset  int64
}

func NewRelay(s store.Store, cfg RelayConfig, sinks ...Sink) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Relay{store: s, sinks: sinks, cfg: cfg}
}

func (r *Relay) Offset() int64 {
	return atomic.LoadInt64(&r.offset)
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
				r.cfg.Logger.WithError(err).WithField("consumer", r.cfg.Consumer).Warn("outbox poll failed")
			}
		}
	}
}

// Poll hands the next batch to every sink. An event is only passed once all
// sinks accepted it; a failing sink stops the batch and the event is retried
// on the next poll.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&r.running, 0)

	if !r.loaded {
		if err := r.loadOffset(ctx); err != nil {
			return 0, err
		}
		r.loaded = true
	}

	var events []models.OutboxEvent
	err := r.store.View(ctx, func(rd store.Reader) error {
		var err error
		events, err = rd.ListOutboxEvents(ctx, r.Offset(), r.cfg.BatchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}

	delivered := 0
	var sinkErr error
	for _, event := range events {
		if sinkErr = r.deliver(ctx, event); sinkErr != nil {
			break
		}
		atomic.StoreInt64(&r.offset, event.Seq)
		delivered++
	}

	if delivered > 0 && r.cfg.Consumer != "" {
		offset := r.Offset()
		if err := r.store.Update(ctx, func(tx store.Tx) error {
			return tx.SaveOutboxOffset(ctx, r.cfg.Consumer, offset)
		}); err != nil {
			return delivered, fmt.Errorf("save offset: %w", err)
		}
	}
	return delivered, sinkErr
}

func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) error {
	for _, sink := range r.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			return fmt.Errorf("sink %s event %d: %w", sink.Name(), event.Seq, err)
		}
	}
	return nil
}

func (r *Relay) loadOffset(ctx context.Context) error {
	return r.store.View(ctx, func(rd store.Reader) error {
		var offset int64
		var err error
		if r.cfg.Consumer == "" {
			offset, err = rd.LatestOutboxSeq(ctx)
		} else {
			offset, err = rd.GetOutboxOffset(ctx, r.cfg.Consumer)
		}
		if err != nil {
			return fmt.Errorf("load offset: %w", err)
		}
		atomic.StoreInt64(&r.offset, offset)
		return nil
	})
}

// Cleanup removes events older than retention that every persisted
// consumer has already passed.
func Cleanup(ctx context.Context, s store.Store, retention time.Duration, now time.Time, consumers ...string) (int64, error) {
	var removed int64
	err := s.Update(ctx, func(tx store.Tx) error {
		maxSeq, err := tx.LatestOutboxSeq(ctx)
		if err != nil {
			return err
		}
		for _, consumer := range consumers {
			offset, err := tx.GetOutboxOffset(ctx, consumer)
			if err != nil {
				return err
			}
			if offset < maxSeq {
				maxSeq = offset
			}
		}
		removed, err = tx.DeleteOutboxBefore(ctx, now.Add(-retention), maxSeq)
		return err
	})
	return removed, err
}
