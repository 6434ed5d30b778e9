package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
)

// TicketMessageRepository manages ticket thread messages. There is no update
// or delete path.
type TicketMessageRepository interface {
	// Create stores msg and its outbox events in one transaction. A message
	// without an ID is given one.
	Create(ctx context.Context, msg *domain.TicketMessage, outbox []events.Event) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage, outbox []events.Event) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	attachments := msg.AttachmentIDs
	if attachments == nil {
		attachments = []string{}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO ticket_messages (id, ticket_id, author_type, author_id, body, is_internal, attachment_ids, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := tx.Exec(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.AuthorType,
		msg.AuthorID,
		msg.Body,
		msg.IsInternal,
		attachments,
		msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	const query = `
        SELECT id, ticket_id, author_type, author_id, body, is_internal, attachment_ids, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		var msg domain.TicketMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.AuthorType,
			&msg.AuthorID,
			&msg.Body,
			&msg.IsInternal,
			&msg.AttachmentIDs,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
