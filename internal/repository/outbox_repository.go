package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-helpdesk/internal/events"
)

// OutboxRecord is a committed event waiting to be relayed.
type OutboxRecord struct {
	Seq      int64
	Event    events.Event
	Attempts int
}

// OutboxRepository reads and settles the event outbox. Ticket and message
// writes append to it inside their own transaction; Append covers events
// that are not tied to a row change.
type OutboxRepository interface {
	Append(ctx context.Context, evts []events.Event) error
	// Claim leases up to limit undelivered records in commit order; a
	// non-positive limit claims all. A record whose lease lapses without
	// being settled is claimable again.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]OutboxRecord, error)
	MarkDelivered(ctx context.Context, seq int64) error
	// MarkFailed releases the lease and counts the attempt.
	MarkFailed(ctx context.Context, seq int64, cause error) error
	// PurgeDelivered drops records delivered before cutoff.
	PurgeDelivered(ctx context.Context, cutoff time.Time) (int64, error)
}

type outboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository builds repository.
func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &outboxRepository{pool: pool}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, evts []events.Event) error {
	const query = `
        INSERT INTO event_outbox (event_id, event_type, ticket_id, ticket_number, actor_id, actor_system,
            dedupe_key, payload, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for i := range evts {
		evt := &evts[i]
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", evt.Type, err)
		}
		if _, err := tx.Exec(ctx, query,
			evt.ID,
			evt.Type,
			evt.TicketID,
			evt.TicketNumber,
			evt.Actor.ID,
			evt.Actor.System,
			evt.DedupeKey,
			payload,
			evt.Timestamp,
		); err != nil {
			return fmt.Errorf("insert outbox %s: %w", evt.Type, err)
		}
	}
	return nil
}

func (r *outboxRepository) Append(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertOutbox(ctx, tx, evts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *outboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]OutboxRecord, error) {
	const query = `
        UPDATE event_outbox SET claimed_until = NOW() + $2::float8 * INTERVAL '1 second'
        WHERE seq IN (
            SELECT seq FROM event_outbox
            WHERE delivered_at IS NULL AND (claimed_until IS NULL OR claimed_until < NOW())
            ORDER BY seq
            LIMIT $1
            FOR UPDATE SKIP LOCKED)
        RETURNING seq, event_id, event_type, ticket_id, ticket_number, actor_id, actor_system,
            dedupe_key, payload, occurred_at, attempts`
	var batch *int
	if limit > 0 {
		batch = &limit
	}
	rows, err := r.pool.Query(ctx, query, batch, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []OutboxRecord
	for rows.Next() {
		var (
			rec     OutboxRecord
			payload []byte
		)
		if err := rows.Scan(
			&rec.Seq,
			&rec.Event.ID,
			&rec.Event.Type,
			&rec.Event.TicketID,
			&rec.Event.TicketNumber,
			&rec.Event.Actor.ID,
			&rec.Event.Actor.System,
			&rec.Event.DedupeKey,
			&payload,
			&rec.Event.Timestamp,
			&rec.Attempts,
		); err != nil {
			return nil, err
		}
		rec.Event.Payload = json.RawMessage(payload)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, seq int64) error {
	const query = `UPDATE event_outbox SET delivered_at=NOW(), claimed_until=NULL WHERE seq=$1`
	_, err := r.pool.Exec(ctx, query, seq)
	return err
}

func (r *outboxRepository) MarkFailed(ctx context.Context, seq int64, cause error) error {
	const query = `
        UPDATE event_outbox SET attempts=attempts+1, last_error=$2, claimed_until=NULL
        WHERE seq=$1`
	_, err := r.pool.Exec(ctx, query, seq, errorText(cause))
	return err
}

func (r *outboxRepository) PurgeDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM event_outbox WHERE delivered_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
