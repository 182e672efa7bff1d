package crm

import (
	"testing"

	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestBodyWithMarker(t *testing.T) {
	task := &Task{Kind: TaskKindWebhookRecovery, Ref: "cs_1", Body: "Session paid but not recorded"}
	body := task.BodyWithMarker()
	assert.Contains(t, body, "[dealpay:webhook_recovery:cs_1]")

	task.Body = body
	assert.Equal(t, body, task.BodyWithMarker())
}

func TestHasOpenTask(t *testing.T) {
	activities := []*Activity{
		{Type: ActivityTypeNote, Body: Marker(TaskKindWebhookRecovery, "cs_1")},
		{Type: ActivityTypeTask, Status: TaskStatusCompleted, Body: Marker(TaskKindWebhookRecovery, "cs_2")},
		{Type: ActivityTypeTask, Status: TaskStatusNotStarted, Body: "x " + Marker(TaskKindWebhookRecovery, "cs_3")},
	}

	assert.False(t, HasOpenTask(activities, TaskKindWebhookRecovery, "cs_1"), "notes are not tasks")
	assert.False(t, HasOpenTask(activities, TaskKindWebhookRecovery, "cs_2"), "completed task is not open")
	assert.True(t, HasOpenTask(activities, TaskKindWebhookRecovery, "cs_3"))
	assert.False(t, HasOpenTask(activities, TaskKindTaxCorrection, "cs_3"))

	assert.True(t, HasTask(activities, TaskKindWebhookRecovery, "cs_2"))
	assert.False(t, HasTask(activities, TaskKindWebhookRecovery, "cs_1"))
}

func TestPaymentLinkProperty(t *testing.T) {
	assert.Equal(t, "payment_link_deposit", PaymentLinkProperty(types.LegTypeDeposit))
	assert.Equal(t, "payment_link_single", PaymentLinkProperty(types.LegTypeSingle))
}
