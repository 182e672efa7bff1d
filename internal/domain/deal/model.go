package deal

import (
	"strings"
	"time"

	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

// Deal is a CRM deal as seen by the payment engine. Deals are owned by the
// CRM and fetched on demand; the engine never stores them.
type Deal struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Pipeline string `json:"pipeline"`
	Stage    string `json:"stage"`

	// Amount is the deal value used when the deal has no line items
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// CloseDate is the expected close (booking) date, nil when unset
	CloseDate *time.Time `json:"close_date,omitempty"`

	CustomerType types.CustomerType `json:"customer_type"`
	TriggerValue string             `json:"trigger_value"`
	LostReason   string             `json:"lost_reason"`

	Discount  *Discount  `json:"discount,omitempty"`
	LineItems []LineItem `json:"line_items,omitempty"`
	Address   Address    `json:"address"`

	ContactEmail string `json:"contact_email"`
	ContactName  string `json:"contact_name"`

	// Properties holds the raw CRM properties the deal was built from
	Properties map[string]string `json:"properties,omitempty"`
	Archived   bool              `json:"archived"`
}

// Discount is either a percentage of the price or a fixed amount off it
type Discount struct {
	Type  types.DiscountType `json:"type"`
	Value decimal.Decimal    `json:"value"`
}

// LineItem is a product attached to a deal
type LineItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Discount *Discount       `json:"discount,omitempty"`
}

// Address is the billing address used for tax jurisdiction
type Address struct {
	Line       string `json:"line"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsComplete reports whether every address field is filled in
func (a Address) IsComplete() bool {
	return strings.TrimSpace(a.Line) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.PostalCode) != "" &&
		strings.TrimSpace(a.Country) != ""
}

// RequiresAddress reports whether session creation needs a billing address
func (d *Deal) RequiresAddress() bool {
	return d.CustomerType == types.CustomerTypeOrganization
}

// IsActive reports whether the deal can be operated on
func (d *Deal) IsActive() bool {
	return d != nil && !d.Archived
}

// Subtotal is the sum of line item prices or the deal amount without line items
func (d *Deal) Subtotal() decimal.Decimal {
	if len(d.LineItems) == 0 {
		return d.Amount
	}
	total := decimal.Zero
	for _, li := range d.LineItems {
		total = total.Add(li.Total())
	}
	return total
}

// HasProductDiscount reports whether any line item carries its own discount
func (d *Deal) HasProductDiscount() bool {
	for _, li := range d.LineItems {
		if li.Discount != nil && li.Discount.Value.IsPositive() {
			return true
		}
	}
	return false
}

// Total is price times quantity, a zero quantity counts as one
func (li LineItem) Total() decimal.Decimal {
	qty := li.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	return li.Price.Mul(qty)
}

// Apply returns the amount left after the discount, never below zero
func (d *Discount) Apply(amount decimal.Decimal) decimal.Decimal {
	if d == nil || !d.Value.IsPositive() {
		return amount
	}
	var result decimal.Decimal
	switch d.Type {
	case types.DiscountTypePercentage:
		result = amount.Sub(amount.Mul(d.Value).Div(decimal.NewFromInt(100)))
	case types.DiscountTypeFixed:
		result = amount.Sub(d.Value)
	default:
		return amount
	}
	if result.IsNegative() {
		return decimal.Zero
	}
	return result
}

func (d *Deal) Validate() error {
	if d.ID == "" {
		return ierr.NewError("deal id is required").
			WithHint("Deal ID is required").
			Mark(ierr.ErrValidation)
	}
	if len(strings.TrimSpace(d.Currency)) != 3 {
		return ierr.NewError("deal currency is invalid").
			WithHintf("Deal %s has no valid currency", d.ID).
			WithReportableDetails(map[string]any{
				"deal_id":  d.ID,
				"currency": d.Currency,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Filter selects deals from the CRM
type Filter struct {
	Pipeline        string
	Stages          []string
	TriggerProperty string
	TriggerValues   []string
	LostReasons     []string
	Limit           int
}
