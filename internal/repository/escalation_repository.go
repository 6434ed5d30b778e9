package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// EscalationRepository reads the append-only escalation audit trail. Rows are
// written by TicketRepository.Update in the same transaction as the level
// change.
type EscalationRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error)
}

type escalationRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationRepository builds repository.
func NewEscalationRepository(pool *pgxpool.Pool) EscalationRepository {
	return &escalationRepository{pool: pool}
}

func insertEscalations(ctx context.Context, tx pgx.Tx, escalations []domain.EscalationEvent) error {
	const query = `
        INSERT INTO ticket_escalations (ticket_id, from_level, to_level, triggered_by, actor_id, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	for i := range escalations {
		esc := &escalations[i]
		if err := tx.QueryRow(ctx, query,
			esc.TicketID,
			esc.FromLevel,
			esc.ToLevel,
			esc.TriggeredBy,
			esc.ActorID,
			esc.Reason,
			esc.Timestamp,
		).Scan(&esc.ID); err != nil {
			return fmt.Errorf("insert escalation: %w", err)
		}
	}
	return nil
}

func (r *escalationRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	const query = `
        SELECT id, ticket_id, from_level, to_level, triggered_by, actor_id, reason, created_at
        FROM ticket_escalations WHERE ticket_id=$1 ORDER BY created_at ASC, to_level ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationEvent
	for rows.Next() {
		var esc domain.EscalationEvent
		if err := rows.Scan(
			&esc.ID,
			&esc.TicketID,
			&esc.FromLevel,
			&esc.ToLevel,
			&esc.TriggeredBy,
			&esc.ActorID,
			&esc.Reason,
			&esc.Timestamp,
		); err != nil {
			return nil, err
		}
		result = append(result, esc)
	}
	return result, rows.Err()
}
