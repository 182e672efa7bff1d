package temporal

import (
	"context"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/temporal/activities"
	"github.com/flexprice/dealpay/internal/temporal/workflows"
	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"
)

// Worker manages the Temporal worker instance.
type Worker struct {
	worker worker.Worker
	log    *logger.Logger
}

// RegisterWorkflowsAndActivities registers all workflows and activities with a Temporal worker.
func RegisterWorkflowsAndActivities(w worker.Registry, payments *activities.PaymentActivities) {
	// workflows - using function references (names will be the function names)
	w.RegisterWorkflow(workflows.PaymentCycleWorkflow) // "PaymentCycleWorkflow"
	w.RegisterWorkflow(workflows.DealCleanupWorkflow)  // "DealCleanupWorkflow"

	// activities - method names become activity names
	w.RegisterActivity(payments.RunPaymentCycle) // "RunPaymentCycle"
	w.RegisterActivity(payments.CleanupDeal)     // "CleanupDeal"
}

// NewWorker creates a new Temporal worker and registers workflows and activities.
func NewWorker(client *TemporalClient, cfg *config.Configuration, payments *activities.PaymentActivities, log *logger.Logger) *Worker {
	w := worker.New(client.Client, cfg.Temporal.TaskQueue, worker.Options{
		// a cycle fans out over deals itself; leave room for one cleanup beside it
		MaxConcurrentActivityExecutionSize: 2,
	})

	RegisterWorkflowsAndActivities(w, payments)

	return &Worker{
		worker: w,
		log:    log,
	}
}

// Start starts the Temporal worker.
func (w *Worker) Start() error {
	w.log.Info("Starting temporal worker...")
	return w.worker.Start()
}

// Stop stops the Temporal worker.
func (w *Worker) Stop() {
	w.log.Info("Stopping temporal worker...")
	if w.worker != nil {
		w.worker.Stop()
	}
}

// RegisterWithLifecycle registers the worker with the fx lifecycle.
func (w *Worker) RegisterWithLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				w.Stop()
				close(done)
			}()

			select {
			case <-done:
				w.log.Info("Temporal worker stopped successfully")
				return nil
			case <-ctx.Done():
				w.log.Warn("Temporal worker stop timed out")
				return ctx.Err()
			}
		},
	})
}
