package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flexprice/dealpay/internal/domain/crm"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/samber/lo"
)

// Engagement properties
const (
	PropertyTaskSubject  = "hs_task_subject"
	PropertyTaskBody     = "hs_task_body"
	PropertyTaskStatus   = "hs_task_status"
	PropertyTaskPriority = "hs_task_priority"
	PropertyNoteBody     = "hs_note_body"
	PropertyTimestamp    = "hs_timestamp"
	PropertyOwnerID      = "hubspot_owner_id"
	PropertyCreateDate   = "hs_createdate"
)

var activityProperties = []string{
	PropertyTaskSubject,
	PropertyTaskBody,
	PropertyTaskStatus,
	PropertyNoteBody,
	PropertyCreateDate,
}

// CreateTask creates a task associated to the deal. The dedup marker of the
// task is always part of the stored body.
func (c *Client) CreateTask(ctx context.Context, task *crm.Task) (*crm.Task, error) {
	if task == nil || task.DealID == "" {
		return nil, ierr.NewError("task must reference a deal").
			WithHint("Task deal id is required").
			Mark(ierr.ErrValidation)
	}

	due := task.DueAt
	if due.IsZero() {
		due = time.Now().UTC()
	}
	priority := lo.Ternary(task.Priority == "", "HIGH", task.Priority)

	props := map[string]string{
		PropertyTaskSubject:  task.Subject,
		PropertyTaskBody:     task.BodyWithMarker(),
		PropertyTaskStatus:   string(crm.TaskStatusNotStarted),
		PropertyTaskPriority: priority,
		PropertyTimestamp:    strconv.FormatInt(due.UnixMilli(), 10),
	}
	if task.OwnerID != "" {
		props[PropertyOwnerID] = task.OwnerID
	}

	var resp ObjectResponse
	path := fmt.Sprintf("/crm/v3/objects/%s", ObjectTasks)
	req := EngagementCreateRequest{
		Properties:   props,
		Associations: []EngagementAssociation{dealAssociation(task.DealID, AssociationTypeTaskToDeal)},
	}
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	c.logger.Infow("created hubspot task",
		"deal_id", task.DealID,
		"task_id", resp.ID,
		"kind", task.Kind,
		"ref", task.Ref)

	created := *task
	created.ID = resp.ID
	created.Body = props[PropertyTaskBody]
	created.Priority = priority
	created.DueAt = due
	created.Status = crm.TaskStatusNotStarted
	return &created, nil
}

// AddNoteToDeal attaches a note to the deal timeline
func (c *Client) AddNoteToDeal(ctx context.Context, dealID string, body string) error {
	req := EngagementCreateRequest{
		Properties: map[string]string{
			PropertyNoteBody:  body,
			PropertyTimestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
		},
		Associations: []EngagementAssociation{dealAssociation(dealID, AssociationTypeNoteToDeal)},
	}

	path := fmt.Sprintf("/crm/v3/objects/%s", ObjectNotes)
	if err := c.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return err
	}
	c.logger.Debugw("added note to hubspot deal", "deal_id", dealID)
	return nil
}

// GetDealActivities lists the tasks or notes associated to the deal
func (c *Client) GetDealActivities(ctx context.Context, dealID string, activityType crm.ActivityType) ([]*crm.Activity, error) {
	objectType := string(activityType)
	if objectType != ObjectTasks && objectType != ObjectNotes {
		return nil, ierr.NewErrorf("unsupported activity type %s", activityType).
			WithHint("Activity type must be tasks or notes").
			Mark(ierr.ErrValidation)
	}

	ids, err := c.associatedIDs(ctx, dealID, objectType)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*crm.Activity{}, nil
	}

	objects, err := c.batchRead(ctx, objectType, ids, activityProperties)
	if err != nil {
		return nil, err
	}

	return lo.Map(objects, func(obj ObjectResponse, _ int) *crm.Activity {
		return toActivity(&obj, activityType)
	}), nil
}

// associatedIDs pages through the v4 associations of a deal
func (c *Client) associatedIDs(ctx context.Context, dealID, objectType string) ([]string, error) {
	ids := make([]string, 0)
	after := ""
	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(searchPageLimit))
		if after != "" {
			query.Set("after", after)
		}

		var resp V4AssociationResponse
		path := fmt.Sprintf("/crm/v4/objects/%s/%s/associations/%s?%s",
			ObjectDeals, url.PathEscape(dealID), objectType, query.Encode())
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			ids = append(ids, strconv.FormatInt(r.ToObjectID, 10))
		}

		after = resp.Paging.NextAfter()
		if after == "" {
			return lo.Uniq(ids), nil
		}
	}
}

func dealAssociation(dealID string, typeID int) EngagementAssociation {
	return EngagementAssociation{
		To: AssociationTarget{ID: dealID},
		Types: []AssociationSpec{{
			AssociationCategory: AssociationCategoryHubSpotDefined,
			AssociationTypeID:   typeID,
		}},
	}
}

func toActivity(obj *ObjectResponse, activityType crm.ActivityType) *crm.Activity {
	p := obj.Properties
	a := &crm.Activity{
		ID:        obj.ID,
		Type:      activityType,
		CreatedAt: obj.CreatedAt,
	}
	if created := parseDate(p[PropertyCreateDate]); created != nil {
		a.CreatedAt = *created
	}

	switch activityType {
	case crm.ActivityTypeTask:
		a.Subject = p[PropertyTaskSubject]
		a.Body = p[PropertyTaskBody]
		a.Status = crm.TaskStatus(p[PropertyTaskStatus])
	case crm.ActivityTypeNote:
		a.Body = p[PropertyNoteBody]
	}
	return a
}
