package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
)

// MemoryStore is an in-process implementation of the ticket, escalation,
// message, outbox and org repositories. It is used by tests and when no database is
// configured. Every read returns copies.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	tickets     map[string]*domain.Ticket
	byNumber    map[string]string
	embeddings  map[string]domain.Embedding
	escalations map[string][]domain.EscalationEvent
	messages    map[string][]domain.TicketMessage
	units       map[string]domain.OrgUnit
	outboxSeq   int64
	outbox      []memoryOutboxEntry
}

type memoryOutboxEntry struct {
	record       OutboxRecord
	claimedUntil time.Time
	deliveredAt  *time.Time
	lastError    string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:     make(map[string]*domain.Ticket),
		byNumber:    make(map[string]string),
		embeddings:  make(map[string]domain.Embedding),
		escalations: make(map[string][]domain.EscalationEvent),
		messages:    make(map[string][]domain.TicketMessage),
		units:       make(map[string]domain.OrgUnit),
	}
}

// Tickets exposes the store as a TicketRepository.
func (s *MemoryStore) Tickets() TicketRepository { return memoryTickets{s} }

// Escalations exposes the store as an EscalationRepository.
func (s *MemoryStore) Escalations() EscalationRepository { return memoryEscalations{s} }

// Messages exposes the store as a TicketMessageRepository.
func (s *MemoryStore) Messages() TicketMessageRepository { return memoryMessages{s} }

// Outbox exposes the store as an OutboxRepository.
func (s *MemoryStore) Outbox() OutboxRepository { return memoryOutbox{s} }

// Org exposes the store as an OrgRepository.
func (s *MemoryStore) Org() OrgRepository { return memoryOrg{s} }

type memoryTickets struct{ s *MemoryStore }

func (m memoryTickets) Create(_ context.Context, ticket *domain.Ticket, embedding *domain.Embedding, outbox []events.Event) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ticket.ID = uuid.NewString()
	ticket.Number = domain.FormatTicketNumber(s.seq)
	ticket.Version = 1
	s.tickets[ticket.ID] = ticket.Clone()
	s.byNumber[ticket.Number] = ticket.ID
	if embedding != nil {
		s.embeddings[ticket.ID] = domain.Embedding{
			Model:  embedding.Model,
			Vector: append([]float32(nil), embedding.Vector...),
		}
	}
	events.Stamp(outbox, ticket.ID, ticket.Number)
	s.appendOutboxLocked(outbox)
	return nil
}

func (m memoryTickets) Update(_ context.Context, ticket *domain.Ticket, expectedVersion int64, escalations []domain.EscalationEvent, outbox []events.Event) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tickets[ticket.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := ticket.Clone()
	next.Version = expectedVersion + 1
	// identity columns are immutable
	next.Number = stored.Number
	next.CreatedAt = stored.CreatedAt
	s.tickets[ticket.ID] = next
	for i := range escalations {
		escalations[i].ID = uuid.NewString()
		s.escalations[ticket.ID] = append(s.escalations[ticket.ID], escalations[i])
	}
	s.appendOutboxLocked(outbox)
	ticket.Version = next.Version
	return nil
}

func (m memoryTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ticket.Clone(), nil
}

func (m memoryTickets) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	m.s.mu.RLock()
	id, ok := m.s.byNumber[number]
	m.s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m memoryTickets) ListExpiredDeadlines(_ context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Ticket
	for _, ticket := range s.tickets {
		if !ticket.Status.Active() || ticket.Deadline == nil || ticket.Deadline.After(now) {
			continue
		}
		if ticket.IsLinkedDuplicate() || ticket.MaxEscalationNotifiedAt != nil {
			continue
		}
		result = append(result, *ticket.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Deadline.Before(*result[j].Deadline)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m memoryTickets) ListOpenInDepartment(_ context.Context, departmentID string) ([]Candidate, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Candidate
	for id, ticket := range s.tickets {
		if ticket.Scope.DepartmentID != departmentID || !ticket.Status.Active() || ticket.IsLinkedDuplicate() {
			continue
		}
		emb, ok := s.embeddings[id]
		if !ok {
			continue
		}
		result = append(result, Candidate{
			Ticket:    *ticket.Clone(),
			Embedding: domain.Embedding{Model: emb.Model, Vector: append([]float32(nil), emb.Vector...)},
		})
	}
	return result, nil
}

func (m memoryTickets) ListDuplicatesOf(_ context.Context, parentID string) ([]domain.Ticket, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Ticket
	for _, ticket := range s.tickets {
		if ticket.LinkedDuplicateOf != nil && *ticket.LinkedDuplicateOf == parentID {
			result = append(result, *ticket.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m memoryTickets) GetEmbedding(_ context.Context, ticketID string) (*domain.Embedding, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.embeddings[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	return &domain.Embedding{Model: emb.Model, Vector: append([]float32(nil), emb.Vector...)}, nil
}

type memoryEscalations struct{ s *MemoryStore }

func (m memoryEscalations) ListByTicket(_ context.Context, ticketID string) ([]domain.EscalationEvent, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return append([]domain.EscalationEvent(nil), m.s.escalations[ticketID]...), nil
}

type memoryMessages struct{ s *MemoryStore }

func (m memoryMessages) Create(_ context.Context, msg *domain.TicketMessage, outbox []events.Event) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[msg.TicketID]; !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	cp := *msg
	cp.AttachmentIDs = append([]string(nil), msg.AttachmentIDs...)
	s.messages[msg.TicketID] = append(s.messages[msg.TicketID], cp)
	s.appendOutboxLocked(outbox)
	return nil
}

func (m memoryMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return append([]domain.TicketMessage(nil), m.s.messages[ticketID]...), nil
}

// appendOutboxLocked must be called with s.mu held for writing.
func (s *MemoryStore) appendOutboxLocked(evts []events.Event) {
	for _, evt := range evts {
		s.outboxSeq++
		s.outbox = append(s.outbox, memoryOutboxEntry{record: OutboxRecord{Seq: s.outboxSeq, Event: evt}})
	}
}

type memoryOutbox struct{ s *MemoryStore }

func (m memoryOutbox) Append(_ context.Context, evts []events.Event) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.appendOutboxLocked(evts)
	return nil
}

func (m memoryOutbox) Claim(_ context.Context, limit int, lease time.Duration) ([]OutboxRecord, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var result []OutboxRecord
	for i := range s.outbox {
		if limit > 0 && len(result) >= limit {
			break
		}
		entry := &s.outbox[i]
		if entry.deliveredAt != nil || entry.claimedUntil.After(now) {
			continue
		}
		entry.claimedUntil = now.Add(lease)
		result = append(result, entry.record)
	}
	return result, nil
}

func (m memoryOutbox) MarkDelivered(_ context.Context, seq int64) error {
	return m.settle(seq, func(entry *memoryOutboxEntry) {
		now := time.Now()
		entry.deliveredAt = &now
	})
}

func (m memoryOutbox) MarkFailed(_ context.Context, seq int64, cause error) error {
	return m.settle(seq, func(entry *memoryOutboxEntry) {
		entry.record.Attempts++
		entry.lastError = errorText(cause)
	})
}

func (m memoryOutbox) settle(seq int64, fn func(*memoryOutboxEntry)) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].record.Seq == seq {
			s.outbox[i].claimedUntil = time.Time{}
			fn(&s.outbox[i])
			return nil
		}
	}
	return ErrNotFound
}

func (m memoryOutbox) PurgeDelivered(_ context.Context, cutoff time.Time) (int64, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	var purged int64
	for _, entry := range s.outbox {
		if entry.deliveredAt != nil && entry.deliveredAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	s.outbox = kept
	return purged, nil
}

type memoryOrg struct{ s *MemoryStore }

func (m memoryOrg) Create(_ context.Context, unit *domain.OrgUnit) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	unit.CreatedAt, unit.UpdatedAt = now, now
	if existing, ok := s.units[unit.ID]; ok {
		unit.CreatedAt = existing.CreatedAt
	}
	cp := *unit
	cp.Parent = nil
	s.units[unit.ID] = cp
	return nil
}

func (m memoryOrg) SetActive(_ context.Context, id string, active bool) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[id]
	if !ok {
		return ErrNotFound
	}
	unit.IsActive = active
	unit.UpdatedAt = time.Now().UTC()
	s.units[id] = unit
	return nil
}

func (m memoryOrg) GetByID(_ context.Context, id string) (*domain.OrgUnit, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	unit, ok := m.s.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &unit, nil
}

func (m memoryOrg) List(_ context.Context) ([]domain.OrgUnit, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	result := make([]domain.OrgUnit, 0, len(m.s.units))
	for _, unit := range m.s.units {
		result = append(result, unit)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type orgFile struct {
	Campuses []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Colleges []struct {
			ID          string `yaml:"id"`
			Name        string `yaml:"name"`
			Departments []struct {
				ID       string `yaml:"id"`
				Name     string `yaml:"name"`
				Inactive bool   `yaml:"inactive"`
			} `yaml:"departments"`
		} `yaml:"colleges"`
	} `yaml:"campuses"`
}

// ParseOrgUnits decodes a nested campuses → colleges → departments YAML
// document into flat org units.
func ParseOrgUnits(data []byte) ([]domain.OrgUnit, error) {
	var file orgFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode org units: %w", err)
	}
	var units []domain.OrgUnit
	for _, campus := range file.Campuses {
		campusID := campus.ID
		units = append(units, domain.OrgUnit{ID: campusID, Kind: domain.OrgUnitCampus, Name: campus.Name, IsActive: true})
		for _, college := range campus.Colleges {
			collegeID := college.ID
			units = append(units, domain.OrgUnit{ID: collegeID, Kind: domain.OrgUnitCollege, Name: college.Name, ParentID: &campusID, IsActive: true})
			for _, dept := range college.Departments {
				units = append(units, domain.OrgUnit{ID: dept.ID, Kind: domain.OrgUnitDepartment, Name: dept.Name, ParentID: &collegeID, IsActive: !dept.Inactive})
			}
		}
	}
	if _, err := domain.NewOrgTree(units); err != nil {
		return nil, err
	}
	return units, nil
}

// SeedOrgFile loads an org YAML file into repo.
func SeedOrgFile(ctx context.Context, repo OrgRepository, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read org file: %w", err)
	}
	units, err := ParseOrgUnits(data)
	if err != nil {
		return 0, err
	}
	for i := range units {
		if err := repo.Create(ctx, &units[i]); err != nil {
			return i, err
		}
	}
	return len(units), nil
}
