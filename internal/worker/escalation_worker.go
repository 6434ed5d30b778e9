package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/service"
)

// EscalationWorker runs the SLA scheduler in the background.
type EscalationWorker struct {
	scheduler *service.EscalationScheduler
	logger    *zap.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// StartEscalationWorker launches the scheduler loop. Stop waits for it.
func StartEscalationWorker(parent context.Context, scheduler *service.EscalationScheduler, logger *zap.Logger) *EscalationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	w := &EscalationWorker{scheduler: scheduler, logger: logger, cancel: cancel}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("escalation worker exited", zap.Error(err))
		}
	}()
	return w
}

// Stop cancels the loop and waits for the in-flight scan to finish.
func (w *EscalationWorker) Stop() {
	if w == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}
