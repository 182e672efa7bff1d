package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/deal"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/samber/lo"
)

// FakeCRM implements crm.Client in memory
type FakeCRM struct {
	mu sync.Mutex

	triggerProperty string
	seq             int
	deals           map[string]*deal.Deal
	updates         map[string][]map[string]string
	tasks           []*crm.Task
	notes           map[string][]string
	updateErr       error
	searchErr       error
}

// NewFakeCRM creates an empty CRM. Updates of triggerProperty are reflected in Deal.TriggerValue.
func NewFakeCRM(triggerProperty string) *FakeCRM {
	return &FakeCRM{
		triggerProperty: triggerProperty,
		deals:           make(map[string]*deal.Deal),
		updates:         make(map[string][]map[string]string),
		notes:           make(map[string][]string),
	}
}

func copyDeal(d *deal.Deal) *deal.Deal {
	c := *d
	c.Properties = make(map[string]string, len(d.Properties))
	for k, v := range d.Properties {
		c.Properties[k] = v
	}
	c.LineItems = append([]deal.LineItem(nil), d.LineItems...)
	return &c
}

// AddDeal stores or replaces a deal
func (c *FakeCRM) AddDeal(d *deal.Deal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deals[d.ID] = copyDeal(d)
}

// RemoveDeal simulates a deal deleted in the CRM
func (c *FakeCRM) RemoveDeal(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deals, id)
}

// FailUpdates makes UpdateDeal fail with err, nil clears it
func (c *FakeCRM) FailUpdates(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateErr = err
}

// FailSearch makes SearchDeals fail with err, nil clears it
func (c *FakeCRM) FailSearch(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchErr = err
}

// Deal returns the current state of a deal, nil when unknown
func (c *FakeCRM) Deal(id string) *deal.Deal {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deals[id]
	if !ok {
		return nil
	}
	return copyDeal(d)
}

// Updates returns every property update sent for a deal
func (c *FakeCRM) Updates(dealID string) []map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]string(nil), c.updates[dealID]...)
}

// Tasks returns the tasks of a deal, optionally of one kind
func (c *FakeCRM) Tasks(dealID string, kind crm.TaskKind) []*crm.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Filter(c.tasks, func(t *crm.Task, _ int) bool {
		return t.DealID == dealID && (kind == "" || t.Kind == kind)
	})
}

// CompleteTask marks a task as done by an operator
func (c *FakeCRM) CompleteTask(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks {
		if t.ID == id {
			t.Status = crm.TaskStatusCompleted
		}
	}
}

// Notes returns the notes of a deal
func (c *FakeCRM) Notes(dealID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notes[dealID]...)
}

func (c *FakeCRM) notFound(id string) error {
	return ierr.NewErrorf("deal %s not found", id).
		WithHintf("Deal %s does not exist in HubSpot", id).
		Mark(ierr.ErrNotFound)
}

func (c *FakeCRM) GetDeal(ctx context.Context, dealID string) (*deal.Deal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deals[dealID]
	if !ok || d.Archived {
		return nil, c.notFound(dealID)
	}
	return copyDeal(d), nil
}

func (c *FakeCRM) SearchDeals(ctx context.Context, filter *deal.Filter) ([]*deal.Deal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	if filter == nil {
		filter = &deal.Filter{}
	}

	out := make([]*deal.Deal, 0)
	for _, d := range c.deals {
		if d.Archived {
			continue
		}
		if filter.Pipeline != "" && d.Pipeline != filter.Pipeline {
			continue
		}
		if len(filter.Stages) > 0 && !lo.Contains(filter.Stages, d.Stage) {
			continue
		}
		if len(filter.TriggerValues) > 0 && !lo.Contains(filter.TriggerValues, d.TriggerValue) {
			continue
		}
		if len(filter.LostReasons) > 0 && !lo.Contains(filter.LostReasons, d.LostReason) {
			continue
		}
		out = append(out, copyDeal(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (c *FakeCRM) UpdateDeal(ctx context.Context, dealID string, properties map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	d, ok := c.deals[dealID]
	if !ok {
		return c.notFound(dealID)
	}

	update := make(map[string]string, len(properties))
	for k, v := range properties {
		update[k] = v
		switch k {
		case crm.PropertyDealStage:
			d.Stage = v
		case c.triggerProperty:
			d.TriggerValue = v
		}
		if d.Properties == nil {
			d.Properties = make(map[string]string)
		}
		d.Properties[k] = v
	}
	c.updates[dealID] = append(c.updates[dealID], update)
	return nil
}

func (c *FakeCRM) CreateTask(ctx context.Context, task *crm.Task) (*crm.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deals[task.DealID]; !ok {
		return nil, c.notFound(task.DealID)
	}

	c.seq++
	t := *task
	t.ID = fmt.Sprintf("task_%d", c.seq)
	t.Body = task.BodyWithMarker()
	if t.Status == "" {
		t.Status = crm.TaskStatusNotStarted
	}
	c.tasks = append(c.tasks, &t)
	created := t
	return &created, nil
}

func (c *FakeCRM) AddNoteToDeal(ctx context.Context, dealID string, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deals[dealID]; !ok {
		return c.notFound(dealID)
	}
	c.notes[dealID] = append(c.notes[dealID], body)
	return nil
}

func (c *FakeCRM) GetDealActivities(ctx context.Context, dealID string, activityType crm.ActivityType) ([]*crm.Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deals[dealID]; !ok {
		return nil, c.notFound(dealID)
	}

	out := make([]*crm.Activity, 0)
	switch activityType {
	case crm.ActivityTypeTask:
		for _, t := range c.tasks {
			if t.DealID != dealID {
				continue
			}
			out = append(out, &crm.Activity{
				ID:      t.ID,
				Type:    crm.ActivityTypeTask,
				Subject: t.Subject,
				Body:    t.Body,
				Status:  t.Status,
			})
		}
	case crm.ActivityTypeNote:
		for i, n := range c.notes[dealID] {
			out = append(out, &crm.Activity{
				ID:   fmt.Sprintf("note_%d", i+1),
				Type: crm.ActivityTypeNote,
				Body: n,
			})
		}
	}
	return out, nil
}
