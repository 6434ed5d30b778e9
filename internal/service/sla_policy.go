package service

import (
	"time"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// SLA deadlines per urgency tier.
const (
	SLAUrgent = 2 * time.Hour
	SLAHigh   = 12 * time.Hour
	SLAMedium = 24 * time.Hour
	SLALow    = 48 * time.Hour
)

// SlaPolicy maps an urgency tier onto the time a ticket may sit in an active
// state before it escalates.
type SlaPolicy struct {
	durations map[domain.Urgency]time.Duration
}

// NewSlaPolicy returns the standard policy.
func NewSlaPolicy() *SlaPolicy {
	return &SlaPolicy{durations: map[domain.Urgency]time.Duration{
		domain.UrgencyUrgent: SLAUrgent,
		domain.UrgencyHigh:   SLAHigh,
		domain.UrgencyMedium: SLAMedium,
		domain.UrgencyLow:    SLALow,
	}}
}

// Duration returns the SLA for urgency. Unknown tiers fall back to MEDIUM.
func (p *SlaPolicy) Duration(urgency domain.Urgency) time.Duration {
	if d, ok := p.durations[urgency]; ok {
		return d
	}
	return SLAMedium
}

// DeadlineFrom returns now plus the SLA for urgency.
func (p *SlaPolicy) DeadlineFrom(now time.Time, urgency domain.Urgency) time.Time {
	return now.Add(p.Duration(urgency))
}
