package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = pgx.ErrNoRows
	// ErrVersionConflict is returned when a compare-and-swap update lost the race.
	ErrVersionConflict = errors.New("ticket version conflict")
)

// Candidate is an open ticket together with its stored embedding.
type Candidate struct {
	Ticket    domain.Ticket
	Embedding domain.Embedding
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// Create inserts the ticket, its embedding when given, and outbox in one
	// transaction. It assigns ID, Number and Version and stamps them onto
	// the outbox events.
	Create(ctx context.Context, ticket *domain.Ticket, embedding *domain.Embedding, outbox []events.Event) error
	// Update writes ticket iff the stored version equals expectedVersion and
	// appends escalations and outbox events in the same transaction. On
	// success ticket.Version is incremented.
	Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, escalations []domain.EscalationEvent, outbox []events.Event) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	// ListExpiredDeadlines returns active, unlinked tickets whose deadline is
	// at or before now and whose terminal escalation was not yet reported.
	ListExpiredDeadlines(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	// ListOpenInDepartment returns the duplicate-detection pool for a
	// department: active, unlinked tickets that have an embedding.
	ListOpenInDepartment(ctx context.Context, departmentID string) ([]Candidate, error)
	ListDuplicatesOf(ctx context.Context, parentID string) ([]domain.Ticket, error)
	GetEmbedding(ctx context.Context, ticketID string) (*domain.Embedding, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, number, title, description, status, priority, urgency, category,
               campus_id, college_id, department_id, creator_id, assignee_id, escalation_level,
               deadline, resolved_at, linked_duplicate_of, max_escalation_notified_at, version,
               created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket, embedding *domain.Embedding, outbox []events.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO tickets (number, title, description, status, priority, urgency, category,
            campus_id, college_id, department_id, creator_id, assignee_id, escalation_level,
            deadline, resolved_at, linked_duplicate_of, version, created_at, updated_at)
        VALUES ('` + domain.TicketNumberPrefix + `-' || LPAD(nextval('ticket_number_seq')::text, 6, '0'),
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1,$16,$17)
        RETURNING id, number, version`
	if err := tx.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Urgency,
		ticket.Category,
		ticket.Scope.CampusID,
		ticket.Scope.CollegeID,
		ticket.Scope.DepartmentID,
		ticket.CreatorID,
		ticket.AssigneeID,
		ticket.Level,
		ticket.Deadline,
		ticket.ResolvedAt,
		ticket.LinkedDuplicateOf,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	).Scan(&ticket.ID, &ticket.Number, &ticket.Version); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}

	if embedding != nil {
		const embQuery = `
            INSERT INTO ticket_embeddings (ticket_id, model, vector)
            VALUES ($1,$2,$3)`
		if _, err := tx.Exec(ctx, embQuery, ticket.ID, embedding.Model, embedding.Vector); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}

	events.Stamp(outbox, ticket.ID, ticket.Number)
	if err := insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, escalations []domain.EscalationEvent, outbox []events.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        UPDATE tickets SET status=$1, priority=$2, urgency=$3, assignee_id=$4, escalation_level=$5,
            deadline=$6, resolved_at=$7, linked_duplicate_of=$8, max_escalation_notified_at=$9,
            updated_at=$10, version=version+1
        WHERE id=$11 AND version=$12`
	cmd, err := tx.Exec(ctx, query,
		ticket.Status,
		ticket.Priority,
		ticket.Urgency,
		ticket.AssigneeID,
		ticket.Level,
		ticket.Deadline,
		ticket.ResolvedAt,
		ticket.LinkedDuplicateOf,
		ticket.MaxEscalationNotifiedAt,
		ticket.UpdatedAt,
		ticket.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	if err := insertEscalations(ctx, tx, escalations); err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	ticket.Version = expectedVersion + 1
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE number=$1`
	return r.fetchSingle(ctx, query, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) ListExpiredDeadlines(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + ticketColumns + `
             FROM tickets
             WHERE status = ANY($1) AND deadline IS NOT NULL AND deadline <= $2
               AND linked_duplicate_of IS NULL AND max_escalation_notified_at IS NULL
             ORDER BY deadline ASC
             LIMIT $3`
	rows, err := r.pool.Query(ctx, query, activeStatusStrings(), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListOpenInDepartment(ctx context.Context, departmentID string) ([]Candidate, error) {
	query := `SELECT t.id, t.number, t.title, t.description, t.status, t.priority, t.urgency, t.category,
                    t.campus_id, t.college_id, t.department_id, t.creator_id, t.assignee_id, t.escalation_level,
                    t.deadline, t.resolved_at, t.linked_duplicate_of, t.max_escalation_notified_at, t.version,
                    t.created_at, t.updated_at, e.model, e.vector
             FROM tickets t
             JOIN ticket_embeddings e ON e.ticket_id = t.id
             WHERE t.department_id=$1 AND t.status = ANY($2) AND t.linked_duplicate_of IS NULL`
	rows, err := r.pool.Query(ctx, query, departmentID, activeStatusStrings())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Candidate
	for rows.Next() {
		var c Candidate
		dest := append(ticketDest(&c.Ticket), &c.Embedding.Model, &c.Embedding.Vector)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListDuplicatesOf(ctx context.Context, parentID string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE linked_duplicate_of=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) GetEmbedding(ctx context.Context, ticketID string) (*domain.Embedding, error) {
	const query = `SELECT model, vector FROM ticket_embeddings WHERE ticket_id=$1`
	var emb domain.Embedding
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(&emb.Model, &emb.Vector); err != nil {
		return nil, err
	}
	return &emb, nil
}

func ticketDest(ticket *domain.Ticket) []any {
	return []any{
		&ticket.ID,
		&ticket.Number,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Urgency,
		&ticket.Category,
		&ticket.Scope.CampusID,
		&ticket.Scope.CollegeID,
		&ticket.Scope.DepartmentID,
		&ticket.CreatorID,
		&ticket.AssigneeID,
		&ticket.Level,
		&ticket.Deadline,
		&ticket.ResolvedAt,
		&ticket.LinkedDuplicateOf,
		&ticket.MaxEscalationNotifiedAt,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	}
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(ticketDest(&ticket)...); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func activeStatusStrings() []string {
	out := make([]string, 0, len(domain.ActiveStatuses))
	for _, status := range domain.ActiveStatuses {
		out = append(out, string(status))
	}
	return out
}
