package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/clock"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
)

const (
	// DefaultScanInterval bounds how long an elapsed deadline can go unnoticed.
	DefaultScanInterval = time.Minute
	defaultScanBatch    = 500
)

// Lease coordinates the scan between replicas.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// EscalationScheduler periodically escalates tickets whose SLA deadline
// elapsed. It never mutates tickets itself; every change goes through the
// state machine as the system actor.
type EscalationScheduler struct {
	tickets   repository.TicketRepository
	machine   *TicketStateMachine
	clock     clock.Clock
	interval  time.Duration
	batchSize int
	lease     Lease
	leaseTTL  time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// SchedulerDependencies bundles collaborators for the scheduler.
type SchedulerDependencies struct {
	TicketRepo   repository.TicketRepository
	StateMachine *TicketStateMachine
	Clock        clock.Clock
	Interval     time.Duration
	BatchSize    int
	// Lease is optional; without it every replica scans.
	Lease    Lease
	LeaseTTL time.Duration
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// ScanReport summarizes one pass.
type ScanReport struct {
	Expired    int
	Escalated  int
	MaxReached int
	Skipped    int
	Failed     int
	// LeaseHeldElsewhere is set when another replica owns the scan.
	LeaseHeldElsewhere bool
}

// NewEscalationScheduler constructs the scheduler.
func NewEscalationScheduler(deps SchedulerDependencies) *EscalationScheduler {
	s := &EscalationScheduler{
		tickets:   deps.TicketRepo,
		machine:   deps.StateMachine,
		clock:     deps.Clock,
		interval:  deps.Interval,
		batchSize: deps.BatchSize,
		lease:     deps.Lease,
		leaseTTL:  deps.LeaseTTL,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.interval <= 0 {
		s.interval = DefaultScanInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultScanBatch
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = 2 * s.interval
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Run scans immediately and then on every interval until ctx is done.
func (s *EscalationScheduler) Run(ctx context.Context) error {
	s.logger.Info("escalation scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.releaseLease()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("escalation scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("escalation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single scan. A failure on one ticket is logged and
// counted; the ticket is picked up again on the next pass.
func (s *EscalationScheduler) RunOnce(ctx context.Context) (ScanReport, error) {
	var report ScanReport
	if s.lease != nil {
		held, err := s.lease.Acquire(ctx, s.leaseTTL)
		switch {
		case err != nil:
			// escalation is idempotent, so scanning without the lease is safe
			s.logger.Warn("scheduler lease unavailable; scanning anyway", zap.Error(err))
		case !held:
			report.LeaseHeldElsewhere = true
			return report, nil
		}
	}

	start := time.Now()
	now := s.clock.Now()
	expired, err := s.tickets.ListExpiredDeadlines(ctx, now, s.batchSize)
	if err != nil {
		return report, err
	}
	report.Expired = len(expired)

	system := domain.SystemPrincipal()
	for i := range expired {
		if ctx.Err() != nil {
			break
		}
		ticket := &expired[i]
		res, err := s.machine.Escalate(ctx, system, ticket.ID, domain.TriggerSLABreach, SLABreachReason)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Warn("sla escalation failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("ticket_number", ticket.Number),
				zap.Error(err))
		case res.Applied:
			report.Escalated++
			s.logger.Info("sla escalation applied",
				zap.String("ticket_id", ticket.ID),
				zap.String("ticket_number", ticket.Number),
				zap.Int("level", int(res.Ticket.Level)))
		case hasEvent(res.Events, events.EventMaxEscalationReached):
			report.MaxReached++
		default:
			report.Skipped++
		}
	}

	s.metrics.ObserveScan(time.Since(start), report.Escalated, report.Failed)
	if report.Expired > 0 {
		s.logger.Info("escalation scan finished",
			zap.Int("expired", report.Expired),
			zap.Int("escalated", report.Escalated),
			zap.Int("max_reached", report.MaxReached),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (s *EscalationScheduler) releaseLease() {
	if s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx); err != nil {
		s.logger.Warn("scheduler lease release failed", zap.Error(err))
	}
}

func hasEvent(evts []events.Event, eventType events.EventType) bool {
	for _, evt := range evts {
		if evt.Type == eventType {
			return true
		}
	}
	return false
}
