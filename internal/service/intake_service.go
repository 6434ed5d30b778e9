package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// DefaultEmbeddingTimeout bounds the synchronous embedding call.
const DefaultEmbeddingTimeout = 5 * time.Second

// Embedder computes a model-tagged text embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
}

// TicketIntakeService orchestrates creation: embed, look for a duplicate in
// the department, then either link or open a fresh ticket. Detector failures
// never block creation.
type TicketIntakeService struct {
	machine          *TicketStateMachine
	tickets          repository.TicketRepository
	detector         *DuplicateDetector
	embedder         Embedder
	departments      DepartmentResolver
	embeddingTimeout time.Duration
	logger           *zap.Logger
	metrics          *observability.Metrics
}

// IntakeDependencies bundles collaborators for intake.
type IntakeDependencies struct {
	StateMachine     *TicketStateMachine
	TicketRepo       repository.TicketRepository
	Detector         *DuplicateDetector
	Embedder         Embedder
	Departments      DepartmentResolver
	EmbeddingTimeout time.Duration
	Logger           *zap.Logger
	Metrics          *observability.Metrics
}

// NewTicketIntakeService constructs the service.
func NewTicketIntakeService(deps IntakeDependencies) *TicketIntakeService {
	s := &TicketIntakeService{
		machine:          deps.StateMachine,
		tickets:          deps.TicketRepo,
		detector:         deps.Detector,
		embedder:         deps.Embedder,
		departments:      deps.Departments,
		embeddingTimeout: deps.EmbeddingTimeout,
		logger:           deps.Logger,
		metrics:          deps.Metrics,
	}
	if s.detector == nil {
		s.detector = NewDuplicateDetector(DefaultSimilarityThreshold)
	}
	if s.embeddingTimeout <= 0 {
		s.embeddingTimeout = DefaultEmbeddingTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// IntakeRequest is a ticket submission.
type IntakeRequest struct {
	Title        string
	Description  string
	Priority     domain.TicketPriority
	Category     domain.TicketCategory
	DepartmentID string
}

// IntakeResult reports how the submission was handled.
type IntakeResult struct {
	*TransitionResult
	// Duplicate is set when the ticket was linked to an existing one.
	Duplicate       *DuplicateMatch
	DetectorSkipped bool
}

// Submit creates a ticket for actor.
func (s *TicketIntakeService) Submit(ctx context.Context, actor domain.Principal, req IntakeRequest) (*IntakeResult, error) {
	scope, err := s.departments.DepartmentScope(ctx, req.DepartmentID)
	if err != nil {
		return nil, err
	}
	in := NewTicket{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Category:    req.Category,
		Scope:       scope,
		CreatorID:   actor.UserID,
	}
	// fail before spending an embedding call
	if err := validateNewTicket(&in); err != nil {
		return nil, err
	}
	if err := s.machine.permissions.Authorize(actor, domain.CapTicketCreate, scope); err != nil {
		return nil, err
	}

	embedding, pool, detectErr := s.detect(ctx, in)
	if detectErr != nil {
		s.metrics.RecordDetectorUnavailable()
		s.logger.Warn("duplicate detection skipped",
			zap.String("department_id", scope.DepartmentID),
			zap.Error(apperrors.NewDetectorUnavailable(detectErr)))
		in.DetectorSkipped = true
	}

	if detectErr == nil {
		if match, ok := s.detector.Find(*embedding, pool); ok {
			res, err := s.machine.CreateLinked(ctx, actor, in, embedding, match.Ticket.ID, match.Score)
			switch {
			case err == nil:
				return &IntakeResult{TransitionResult: res, Duplicate: &match}, nil
			case !errors.Is(err, errLinkTargetGone):
				return nil, err
			}
			s.logger.Info("duplicate parent moved on; creating independent ticket",
				zap.String("parent_ticket_number", match.Ticket.Number))
		}
	}

	res, err := s.machine.Create(ctx, actor, in, embedding)
	if err != nil {
		return nil, err
	}
	return &IntakeResult{TransitionResult: res, DetectorSkipped: in.DetectorSkipped}, nil
}

// detect embeds the ticket text and loads the department pool. A non-nil
// embedding may be returned alongside an error when only the pool read
// failed, so it is still stored with the ticket.
func (s *TicketIntakeService) detect(ctx context.Context, in NewTicket) (*domain.Embedding, []repository.Candidate, error) {
	if s.embedder == nil {
		return nil, nil, errors.New("no embedder configured")
	}
	embedCtx, cancel := context.WithTimeout(ctx, s.embeddingTimeout)
	defer cancel()

	embedding, err := s.embedder.Embed(embedCtx, EmbeddingText(in.Title, in.Description))
	if err != nil {
		return nil, nil, err
	}
	if embedding.Model == "" || len(embedding.Vector) == 0 {
		return nil, nil, errors.New("embedder returned an empty vector")
	}
	pool, err := s.tickets.ListOpenInDepartment(ctx, in.Scope.DepartmentID)
	if err != nil {
		return &embedding, nil, err
	}
	return &embedding, pool, nil
}

// EmbeddingText is the text embedded for a ticket.
func EmbeddingText(title, description string) string {
	return title + "\n" + description
}
