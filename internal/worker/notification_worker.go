package worker

import (
	"github.com/spec-kit/campus-helpdesk/internal/service"
)

// StartNotificationWorker registers notification handlers on the in-process
// dispatcher. External delivery is handled by the outbox relay.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
}
