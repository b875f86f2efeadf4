package persistence

import (
	"CDPLedger/internal/command"
	"CDPLedger/internal/observability"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutboxSource is the outbox side of store.Store.
type OutboxSource interface {
	PendingIntents(ctx context.Context, limit int) ([]command.Intent, error)
	MarkDispatched(ctx context.Context, ids []uuid.UUID) error
}

// Publisher delivers intents to collaborators; ingestion.IntentPublisher
// satisfies it.
type Publisher interface {
	PublishIntents(ctx context.Context, intents []command.Intent) error
}

// OutboxRelay drains committed intents to the publisher in commit order.
// Delivery is at-least-once: a batch published but not yet marked is
// published again after a restart, and consumers dedupe on intent ID.
type OutboxRelay struct {
	source       OutboxSource
	publisher    Publisher
	batchSize    int
	pollInterval time.Duration
	wake         <-chan struct{}
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewOutboxRelay builds a relay. wake may be nil; the relay then relies on
// polling alone.
func NewOutboxRelay(
	source OutboxSource,
	publisher Publisher,
	batchSize int,
	pollInterval time.Duration,
	wake <-chan struct{},
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &OutboxRelay{
		source:       source,
		publisher:    publisher,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		wake:         wake,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run relays until ctx is cancelled. Undelivered intents stay in the
// outbox across shutdowns, so there is no final flush.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if err := r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error().Err(err).Msg("outbox drain failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		case <-ticker.C:
		}
	}
}

// Drain publishes batches until the outbox is empty.
func (r *OutboxRelay) Drain(ctx context.Context) error {
	for {
		batch, err := r.source.PendingIntents(ctx, r.batchSize)
		if err != nil {
			r.countError("load")
			return err
		}
		if r.metrics != nil {
			r.metrics.OutboxPending.Set(float64(len(batch)))
		}
		if len(batch) == 0 {
			return nil
		}
		if err := r.flushWithRetry(ctx, batch); err != nil {
			return err
		}
		if len(batch) < r.batchSize {
			return nil
		}
	}
}

// flushWithRetry retries a batch with exponential backoff. A relay never
// skips an intent; it retries until the flush succeeds or ctx is cancelled.
func (r *OutboxRelay) flushWithRetry(ctx context.Context, batch []command.Intent) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			r.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("intents", len(batch)).
				Msg("outbox relay retry")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := r.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				r.logger.Info().Int("retries", attempt).Msg("outbox relay recovered")
			}
			return nil
		}

		r.logger.Warn().Err(err).Msg("outbox flush failed")
		if r.metrics != nil {
			r.metrics.RelayRetry.Inc()
		}
	}
}

func (r *OutboxRelay) flush(ctx context.Context, batch []command.Intent) error {
	if err := r.publisher.PublishIntents(ctx, batch); err != nil {
		r.countError("publish")
		return err
	}

	ids := make([]uuid.UUID, len(batch))
	for i, in := range batch {
		ids[i] = in.ID
	}
	if err := r.source.MarkDispatched(ctx, ids); err != nil {
		r.countError("mark")
		return err
	}

	if r.metrics != nil {
		r.metrics.RelayPublished.Add(float64(len(batch)))
		r.metrics.RelayBatchSize.Observe(float64(len(batch)))
	}
	r.logger.Debug().
		Int64("last_sequence", batch[len(batch)-1].Sequence).
		Int("intents", len(batch)).
		Msg("outbox flushed")
	return nil
}

func (r *OutboxRelay) countError(stage string) {
	if r.metrics != nil {
		r.metrics.RelayErrors.WithLabelValues(stage).Inc()
	}
}
