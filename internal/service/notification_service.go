package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/events"
)

// NotificationService turns domain events into requester and staff
// notifications. Delivery channels are stubs that log what would be sent.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketMessageAdded, n.handleTicketMessageAdded)
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleTicketEscalated)
	n.dispatcher.Subscribe(events.EventMaxEscalationReached, n.handleMaxEscalationReached)
	n.dispatcher.Subscribe(events.EventDuplicateLinked, n.handleDuplicateLinked)
	n.dispatcher.Subscribe(events.EventDuplicateUnlinked, n.handleDuplicateUnlinked)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", eventFields(event)...)
	n.sendEmail(ctx, event)
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketStatusChanged", eventFields(event)...)
	if p, ok := event.Payload.(events.TicketStatusChangedPayload); ok && p.NewStatus.Terminal() {
		n.sendEmail(ctx, event)
	}
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketAssigned", eventFields(event)...)
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketMessageAdded(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketMessageAdded", eventFields(event)...)
	// internal notes never leave the staff side
	if p, ok := event.Payload.(events.TicketMessageAddedPayload); ok && p.IsInternal {
		return nil
	}
	n.sendEmail(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketEscalated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketEscalated", eventFields(event)...)
	n.sendEmail(ctx, event)
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleMaxEscalationReached(ctx context.Context, event events.Event) error {
	n.logger.Warn("MaxEscalationReached", eventFields(event)...)
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleDuplicateLinked(ctx context.Context, event events.Event) error {
	n.logger.Info("DuplicateLinked", eventFields(event)...)
	n.sendEmail(ctx, event)
	return nil
}

func (n *NotificationService) handleDuplicateUnlinked(ctx context.Context, event events.Event) error {
	n.logger.Info("DuplicateUnlinked", eventFields(event)...)
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) sendEmail(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("email notification",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_number", event.TicketNumber),
		zap.String("event_type", string(event.Type)),
		zap.String("dedupe_key", event.DedupeKey))
}

func (n *NotificationService) sendWebhook(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("webhook notification",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_number", event.TicketNumber),
		zap.String("event_type", string(event.Type)),
		zap.String("dedupe_key", event.DedupeKey))
}

func eventFields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("ticket_id", event.TicketID),
		zap.String("ticket_number", event.TicketNumber),
		zap.String("actor_id", event.Actor.ID),
		zap.Any("payload", event.Payload),
	}
}
