package temporal

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/dealpay/internal/config"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/temporal/models"
	"github.com/flexprice/dealpay/internal/temporal/workflows"
	"github.com/flexprice/dealpay/internal/types"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Scheduler owns the interval schedule that starts payment cycles
type Scheduler struct {
	client *TemporalClient
	cfg    config.TemporalConfig
	log    *logger.Logger
}

func NewScheduler(client *TemporalClient, cfg *config.Configuration, log *logger.Logger) *Scheduler {
	return &Scheduler{client: client, cfg: cfg.Temporal, log: log}
}

func (s *Scheduler) spec() client.ScheduleSpec {
	return client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{{Every: s.cfg.ScheduleInterval}},
	}
}

func (s *Scheduler) action() *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        s.cfg.ScheduleID + "-run",
		Workflow:  workflows.PaymentCycleWorkflow,
		Args:      []interface{}{models.PaymentCycleWorkflowInput{Trigger: types.RunTriggerScheduled}},
		TaskQueue: s.cfg.TaskQueue,
		// a cycle never outlives the next tick by much; a stuck run is cut off
		WorkflowRunTimeout: 2 * s.cfg.ScheduleInterval,
	}
}

// EnsureSchedule creates the payment cycle schedule, or updates the interval
// of an existing one. Overlapping ticks are skipped.
func (s *Scheduler) EnsureSchedule(ctx context.Context) error {
	if s.cfg.ScheduleID == "" || s.cfg.ScheduleInterval <= 0 {
		s.log.Infow("payment cycle schedule disabled")
		return nil
	}

	schedules := s.client.Client.ScheduleClient()
	handle := schedules.GetHandle(ctx, s.cfg.ScheduleID)

	_, err := handle.Describe(ctx)
	var notFound *serviceerror.NotFound
	switch {
	case err == nil:
		return s.update(ctx, handle)
	case errors.As(err, &notFound):
		// create below
	default:
		return ierr.WithError(err).
			WithHint("Failed to describe the payment cycle schedule").
			Mark(ierr.ErrSystem)
	}

	_, err = schedules.Create(ctx, client.ScheduleOptions{
		ID:      s.cfg.ScheduleID,
		Spec:    s.spec(),
		Action:  s.action(),
		Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
		// missed ticks while the cluster was down are not replayed
		CatchupWindow: time.Minute,
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create the payment cycle schedule").
			WithReportableDetails(map[string]any{"schedule_id": s.cfg.ScheduleID}).
			Mark(ierr.ErrSystem)
	}

	s.log.Infow("created payment cycle schedule",
		"schedule_id", s.cfg.ScheduleID,
		"interval", s.cfg.ScheduleInterval.String())
	return nil
}

func (s *Scheduler) update(ctx context.Context, handle client.ScheduleHandle) error {
	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			schedule := input.Description.Schedule
			spec := s.spec()
			schedule.Spec = &spec
			schedule.Action = s.action()
			if schedule.Policy == nil {
				schedule.Policy = &client.SchedulePolicies{}
			}
			schedule.Policy.Overlap = enums.SCHEDULE_OVERLAP_POLICY_SKIP
			return &client.ScheduleUpdate{Schedule: &schedule}, nil
		},
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update the payment cycle schedule").
			WithReportableDetails(map[string]any{"schedule_id": s.cfg.ScheduleID}).
			Mark(ierr.ErrSystem)
	}

	s.log.Infow("updated payment cycle schedule",
		"schedule_id", s.cfg.ScheduleID,
		"interval", s.cfg.ScheduleInterval.String())
	return nil
}

// StartDealCleanup starts a cleanup workflow for a deal deleted from the CRM.
// The workflow id is derived from the deal so duplicate deletions collapse.
func (s *Scheduler) StartDealCleanup(ctx context.Context, dealID string) (string, error) {
	run, err := s.client.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       "dealpay-cleanup-" + dealID,
		TaskQueue:                s.cfg.TaskQueue,
		WorkflowExecutionTimeout: time.Hour,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}, workflows.DealCleanupWorkflow, models.DealCleanupWorkflowInput{DealID: dealID})
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to start deal cleanup workflow").
			WithReportableDetails(map[string]any{"deal_id": dealID}).
			Mark(ierr.ErrSystem)
	}
	return run.GetRunID(), nil
}
