package hubspot

import "time"

// WebhookEvent represents a HubSpot webhook event payload
type WebhookEvent struct {
	EventID          int64  `json:"eventId"`
	SubscriptionID   int64  `json:"subscriptionId"`
	PortalID         int64  `json:"portalId"`
	AppID            int64  `json:"appId"`
	OccurredAt       int64  `json:"occurredAt"`
	SubscriptionType string `json:"subscriptionType"`
	AttemptNumber    int    `json:"attemptNumber"`
	ObjectID         int64  `json:"objectId"`
	PropertyName     string `json:"propertyName,omitempty"`
	PropertyValue    string `json:"propertyValue,omitempty"`
	ChangeSource     string `json:"changeSource,omitempty"`
}

// WebhookPayload represents the array of webhook events
type WebhookPayload []WebhookEvent

// ObjectResponse is any CRM object with its requested properties
type ObjectResponse struct {
	ID           string                         `json:"id"`
	Properties   map[string]string              `json:"properties"`
	Associations map[string]AssociationResponse `json:"associations,omitempty"`
	CreatedAt    time.Time                      `json:"createdAt"`
	UpdatedAt    time.Time                      `json:"updatedAt"`
	Archived     bool                           `json:"archived"`
}

// AssociatedIDs returns the ids of associated objects of one type
func (o *ObjectResponse) AssociatedIDs(objectType string) []string {
	assoc, ok := o.Associations[objectType]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(assoc.Results))
	seen := make(map[string]struct{}, len(assoc.Results))
	for _, r := range assoc.Results {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}
	return ids
}

// AssociationResponse represents associations of an object to one object type
type AssociationResponse struct {
	Results []AssociationResult `json:"results"`
}

// AssociationResult represents a single association between objects
type AssociationResult struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// V4AssociationResponse is the v4 associations list payload
type V4AssociationResponse struct {
	Results []struct {
		ToObjectID int64 `json:"toObjectId"`
	} `json:"results"`
	Paging *Paging `json:"paging,omitempty"`
}

// Paging carries the cursor of the next page
type Paging struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next,omitempty"`
}

// NextAfter returns the cursor of the next page, empty on the last page
func (p *Paging) NextAfter() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

// SearchRequest is the body of a CRM search call
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Sorts        []string      `json:"sorts,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	After        string        `json:"after,omitempty"`
}

// FilterGroup filters are ANDed; groups are ORed
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// Filter is one search condition
type Filter struct {
	PropertyName string   `json:"propertyName"`
	Operator     string   `json:"operator"`
	Value        string   `json:"value,omitempty"`
	Values       []string `json:"values,omitempty"`
}

// SearchResponse is one page of search results
type SearchResponse struct {
	Total   int              `json:"total"`
	Results []ObjectResponse `json:"results"`
	Paging  *Paging          `json:"paging,omitempty"`
}

// BatchReadRequest reads several objects by id
type BatchReadRequest struct {
	Properties []string       `json:"properties"`
	Inputs     []BatchReadRef `json:"inputs"`
}

type BatchReadRef struct {
	ID string `json:"id"`
}

// BatchReadResponse holds the objects of a batch read
type BatchReadResponse struct {
	Status  string           `json:"status"`
	Results []ObjectResponse `json:"results"`
}

// UpdateRequest patches object properties
type UpdateRequest struct {
	Properties map[string]string `json:"properties"`
}

// EngagementCreateRequest creates a task or a note associated to a deal
type EngagementCreateRequest struct {
	Properties   map[string]string       `json:"properties"`
	Associations []EngagementAssociation `json:"associations"`
}

// EngagementAssociation associates a new engagement with one object
type EngagementAssociation struct {
	To    AssociationTarget `json:"to"`
	Types []AssociationSpec `json:"types"`
}

type AssociationTarget struct {
	ID string `json:"id"`
}

type AssociationSpec struct {
	AssociationCategory AssociationCategory `json:"associationCategory"`
	AssociationTypeID   int                 `json:"associationTypeId"`
}

// errorResponse is the HubSpot API error body
type errorResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	Category      string `json:"category"`
	CorrelationID string `json:"correlationId"`
}
