package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/types"
)

// Client is the CRM collaborator. Implementations return an error marked
// ierr.ErrNotFound for deleted, archived or unknown deals.
type Client interface {
	GetDeal(ctx context.Context, dealID string) (*deal.Deal, error)
	SearchDeals(ctx context.Context, filter *deal.Filter) ([]*deal.Deal, error)
	UpdateDeal(ctx context.Context, dealID string, properties map[string]string) error
	CreateTask(ctx context.Context, task *Task) (*Task, error)
	AddNoteToDeal(ctx context.Context, dealID string, body string) error
	GetDealActivities(ctx context.Context, dealID string, activityType ActivityType) ([]*Activity, error)
}

// Deal properties written by the engine
const (
	PropertyDealStage         = "dealstage"
	propertyPaymentLinkPrefix = "payment_link_"
)

// PaymentLinkProperty is the deal property holding the checkout url of a leg
func PaymentLinkProperty(leg types.LegType) string {
	return propertyPaymentLinkPrefix + string(leg)
}

// ActivityType is the kind of engagement attached to a deal
type ActivityType string

const (
	ActivityTypeTask ActivityType = "tasks"
	ActivityTypeNote ActivityType = "notes"
)

// TaskKind classifies operator tasks raised by the engine
type TaskKind string

const (
	TaskKindAddressMissing  TaskKind = "address_missing"
	TaskKindWebhookRecovery TaskKind = "webhook_recovery"
	TaskKindTaxCorrection   TaskKind = "tax_correction"
	TaskKindPaymentFailure  TaskKind = "payment_failure"
)

// TaskStatus follows the CRM task status values
type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "NOT_STARTED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
)

// Task is a human visible follow-up attached to a deal
type Task struct {
	ID       string
	DealID   string
	Kind     TaskKind
	Ref      string
	Subject  string
	Body     string
	Priority string
	OwnerID  string
	DueAt    time.Time
	Status   TaskStatus
}

// Activity is a task or note already attached to a deal
type Activity struct {
	ID        string
	Type      ActivityType
	Subject   string
	Body      string
	Status    TaskStatus
	CreatedAt time.Time
}

// IsOpen reports whether the activity is a task nobody completed yet
func (a *Activity) IsOpen() bool {
	return a.Type == ActivityTypeTask && a.Status != TaskStatusCompleted
}

// Marker is the token embedded in task bodies so open tasks can be found again
func Marker(kind TaskKind, ref string) string {
	return fmt.Sprintf("[dealpay:%s:%s]", kind, ref)
}

// BodyWithMarker appends the dedup marker to the task body
func (t *Task) BodyWithMarker() string {
	marker := Marker(t.Kind, t.Ref)
	if strings.Contains(t.Body, marker) {
		return t.Body
	}
	if t.Body == "" {
		return marker
	}
	return t.Body + "\n\n" + marker
}

// HasOpenTask scans activities for an open task carrying the marker
func HasOpenTask(activities []*Activity, kind TaskKind, ref string) bool {
	marker := Marker(kind, ref)
	for _, a := range activities {
		if !a.IsOpen() {
			continue
		}
		if strings.Contains(a.Body, marker) || strings.Contains(a.Subject, marker) {
			return true
		}
	}
	return false
}

// HasTask scans activities for any task carrying the marker, completed or not
func HasTask(activities []*Activity, kind TaskKind, ref string) bool {
	marker := Marker(kind, ref)
	for _, a := range activities {
		if a.Type != ActivityTypeTask {
			continue
		}
		if strings.Contains(a.Body, marker) || strings.Contains(a.Subject, marker) {
			return true
		}
	}
	return false
}
