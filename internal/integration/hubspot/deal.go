package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/domain/deal"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

func (c *Client) dealProperties() []string {
	props := []string{
		PropertyDealName,
		PropertyAmount,
		PropertyCurrency,
		PropertyCloseDate,
		PropertyDealStage,
		PropertyPipeline,
		PropertyLostReason,
		PropertyCustomerType,
		PropertyDiscountPercentage,
		PropertyDiscountAmount,
		PropertyBillingAddress,
		PropertyBillingCity,
		PropertyBillingPostalCode,
		PropertyBillingCountry,
	}
	if c.triggerProperty != "" {
		props = append(props, c.triggerProperty)
	}
	return props
}

var lineItemProperties = []string{
	PropertyLineItemName,
	PropertyLineItemPrice,
	PropertyLineItemQuantity,
	PropertyLineItemDiscountPercentage,
	PropertyLineItemDiscount,
}

// GetDeal fetches a deal with its line items and primary contact. Archived
// and unknown deals are reported as ierr.ErrNotFound.
func (c *Client) GetDeal(ctx context.Context, dealID string) (*deal.Deal, error) {
	query := url.Values{}
	query.Set("properties", strings.Join(c.dealProperties(), ","))
	query.Set("associations", ObjectLineItems+","+ObjectContacts)

	var obj ObjectResponse
	path := fmt.Sprintf("/crm/v3/objects/%s/%s?%s", ObjectDeals, url.PathEscape(dealID), query.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &obj); err != nil {
		return nil, err
	}
	if obj.Archived {
		return nil, ierr.NewErrorf("deal %s is archived", dealID).
			WithHintf("Deal %s was deleted in HubSpot", dealID).
			WithReportableDetails(map[string]any{"deal_id": dealID}).
			Mark(ierr.ErrNotFound)
	}

	d := c.toDeal(&obj)

	if ids := obj.AssociatedIDs(ObjectLineItems); len(ids) > 0 {
		items, err := c.batchRead(ctx, ObjectLineItems, ids, lineItemProperties)
		if err != nil {
			return nil, err
		}
		d.LineItems = lo.Map(items, func(item ObjectResponse, _ int) deal.LineItem {
			return toLineItem(&item)
		})
	}

	if ids := obj.AssociatedIDs(ObjectContacts); len(ids) > 0 {
		if err := c.attachContact(ctx, d, ids[0]); err != nil {
			c.logger.Warnw("failed to read deal contact", "deal_id", dealID, "contact_id", ids[0], "error", err)
		}
	}
	return d, nil
}

func (c *Client) attachContact(ctx context.Context, d *deal.Deal, contactID string) error {
	var contact ObjectResponse
	path := fmt.Sprintf("/crm/v3/objects/%s/%s?properties=email,firstname,lastname", ObjectContacts, url.PathEscape(contactID))
	if err := c.do(ctx, http.MethodGet, path, nil, &contact); err != nil {
		return err
	}
	d.ContactEmail = contact.Properties["email"]
	d.ContactName = strings.TrimSpace(contact.Properties["firstname"] + " " + contact.Properties["lastname"])
	return nil
}

// SearchDeals lists deals matching the filter. Every match is read again
// with GetDeal because search results carry no associations.
func (c *Client) SearchDeals(ctx context.Context, filter *deal.Filter) ([]*deal.Deal, error) {
	req := SearchRequest{
		FilterGroups: []FilterGroup{{Filters: searchFilters(filter)}},
		Properties:   []string{PropertyDealName},
		Limit:        searchPageLimit,
	}

	ids := make([]string, 0)
	for {
		var resp SearchResponse
		path := fmt.Sprintf("/crm/v3/objects/%s/search", ObjectDeals)
		if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			ids = append(ids, r.ID)
		}

		after := resp.Paging.NextAfter()
		if after == "" || (filter.Limit > 0 && len(ids) >= filter.Limit) {
			break
		}
		req.After = after
	}
	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}

	deals := make([]*deal.Deal, 0, len(ids))
	for _, id := range ids {
		d, err := c.GetDeal(ctx, id)
		if err != nil {
			if ierr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		deals = append(deals, d)
	}

	c.logger.Debugw("searched hubspot deals",
		"pipeline", filter.Pipeline,
		"stages", filter.Stages,
		"count", len(deals))
	return deals, nil
}

func searchFilters(filter *deal.Filter) []Filter {
	filters := make([]Filter, 0, 4)
	if filter.Pipeline != "" {
		filters = append(filters, Filter{PropertyName: PropertyPipeline, Operator: "EQ", Value: filter.Pipeline})
	}
	if len(filter.Stages) > 0 {
		filters = append(filters, Filter{PropertyName: PropertyDealStage, Operator: "IN", Values: filter.Stages})
	}
	if filter.TriggerProperty != "" && len(filter.TriggerValues) > 0 {
		filters = append(filters, Filter{PropertyName: filter.TriggerProperty, Operator: "IN", Values: filter.TriggerValues})
	}
	if len(filter.LostReasons) > 0 {
		filters = append(filters, Filter{PropertyName: PropertyLostReason, Operator: "IN", Values: filter.LostReasons})
	}
	return filters
}

// UpdateDeal patches deal properties
func (c *Client) UpdateDeal(ctx context.Context, dealID string, properties map[string]string) error {
	path := fmt.Sprintf("/crm/v3/objects/%s/%s", ObjectDeals, url.PathEscape(dealID))
	if err := c.do(ctx, http.MethodPatch, path, UpdateRequest{Properties: properties}, nil); err != nil {
		return err
	}
	c.logger.Infow("updated hubspot deal", "deal_id", dealID, "properties", lo.Keys(properties))
	return nil
}

func (c *Client) toDeal(obj *ObjectResponse) *deal.Deal {
	p := obj.Properties
	d := &deal.Deal{
		ID:           obj.ID,
		Name:         p[PropertyDealName],
		Pipeline:     p[PropertyPipeline],
		Stage:        p[PropertyDealStage],
		Amount:       parseDecimal(p[PropertyAmount]),
		Currency:     strings.ToUpper(strings.TrimSpace(p[PropertyCurrency])),
		CloseDate:    parseDate(p[PropertyCloseDate]),
		CustomerType: customerType(p[PropertyCustomerType]),
		LostReason:   p[PropertyLostReason],
		Discount:     discount(p[PropertyDiscountPercentage], p[PropertyDiscountAmount]),
		Address: deal.Address{
			Line:       p[PropertyBillingAddress],
			City:       p[PropertyBillingCity],
			PostalCode: p[PropertyBillingPostalCode],
			Country:    p[PropertyBillingCountry],
		},
		Properties: p,
		Archived:   obj.Archived,
	}
	if d.Currency == "" {
		// portals with a single company currency leave the deal currency empty
		d.Currency = c.defaultCurrency
	}
	if c.triggerProperty != "" {
		d.TriggerValue = p[c.triggerProperty]
	}
	return d
}

func toLineItem(obj *ObjectResponse) deal.LineItem {
	p := obj.Properties
	return deal.LineItem{
		ID:       obj.ID,
		Name:     p[PropertyLineItemName],
		Price:    parseDecimal(p[PropertyLineItemPrice]),
		Quantity: parseDecimal(p[PropertyLineItemQuantity]),
		Discount: discount(p[PropertyLineItemDiscountPercentage], p[PropertyLineItemDiscount]),
	}
}

func customerType(value string) types.CustomerType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case CustomerTypeCompany, string(types.CustomerTypeOrganization):
		return types.CustomerTypeOrganization
	}
	return types.CustomerTypeIndividual
}

// discount prefers a percentage over a fixed amount when both are set
func discount(percentage, amount string) *deal.Discount {
	if pct := parseDecimal(percentage); pct.IsPositive() {
		return &deal.Discount{Type: types.DiscountTypePercentage, Value: pct}
	}
	if fixed := parseDecimal(amount); fixed.IsPositive() {
		return &deal.Discount{Type: types.DiscountTypeFixed, Value: fixed}
	}
	return nil
}

func parseDecimal(value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseDate accepts RFC 3339 timestamps, plain dates and epoch milliseconds
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	return nil
}
