package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
)

const (
	defaultRelayInterval = 500 * time.Millisecond
	defaultRelayBatch    = 100
	defaultRelayLease    = 30 * time.Second
	purgeEvery           = time.Hour
)

// OutboxRelay moves committed events from the outbox to an external sink.
// A record stays pending until the sink accepts it, so delivery is
// at-least-once; consumers deduplicate on the event's dedupe key.
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	sink      events.Sink
	interval  time.Duration
	batch     int
	lease     time.Duration
	retention time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// OutboxRelayDependencies bundles collaborators of the relay.
type OutboxRelayDependencies struct {
	Outbox    repository.OutboxRepository
	Sink      events.Sink
	Interval  time.Duration
	Batch     int
	Lease     time.Duration
	// Retention enables purging of delivered records older than it.
	Retention time.Duration
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// NewOutboxRelay builds a relay; Start runs it in the background.
func NewOutboxRelay(deps OutboxRelayDependencies) *OutboxRelay {
	r := &OutboxRelay{
		outbox:    deps.Outbox,
		sink:      deps.Sink,
		interval:  deps.Interval,
		batch:     deps.Batch,
		lease:     deps.Lease,
		retention: deps.Retention,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	if r.interval <= 0 {
		r.interval = defaultRelayInterval
	}
	if r.batch <= 0 {
		r.batch = defaultRelayBatch
	}
	if r.lease <= 0 {
		r.lease = defaultRelayLease
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// RelayOnce claims one batch and hands each record to the sink. Failed
// records are released for the next pass. It returns how many were
// delivered.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	records, err := r.outbox.Claim(ctx, r.batch, r.lease)
	if err != nil {
		return 0, err
	}

	var delivered, failed int
	for _, rec := range records {
		if err := r.sink.Handle(ctx, rec.Event); err != nil {
			failed++
			r.logger.Warn("outbox relay failed",
				zap.Int64("seq", rec.Seq),
				zap.String("event_type", string(rec.Event.Type)),
				zap.String("ticket_number", rec.Event.TicketNumber),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err))
			if markErr := r.outbox.MarkFailed(ctx, rec.Seq, err); markErr != nil {
				r.logger.Warn("outbox release failed", zap.Int64("seq", rec.Seq), zap.Error(markErr))
			}
			continue
		}
		if err := r.outbox.MarkDelivered(ctx, rec.Seq); err != nil {
			// the lease lapses and the record is sent again
			r.logger.Warn("outbox settle failed", zap.Int64("seq", rec.Seq), zap.Error(err))
			continue
		}
		delivered++
	}
	r.metrics.RecordOutboxRelay(delivered, failed)
	return delivered, nil
}

// Start launches the relay loop. Stop waits for it.
func (r *OutboxRelay) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

func (r *OutboxRelay) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	lastPurge := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// drain full batches before waiting for the next tick
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("outbox claim failed", zap.Error(err))
				}
				break
			}
			if n < r.batch {
				break
			}
		}

		if r.retention > 0 && time.Since(lastPurge) >= purgeEvery {
			lastPurge = time.Now()
			purged, err := r.outbox.PurgeDelivered(ctx, lastPurge.Add(-r.retention))
			if err != nil {
				r.logger.Warn("outbox purge failed", zap.Error(err))
			} else if purged > 0 {
				r.logger.Info("outbox purged", zap.Int64("records", purged))
			}
		}
	}
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (r *OutboxRelay) Stop() {
	if r == nil || r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}
