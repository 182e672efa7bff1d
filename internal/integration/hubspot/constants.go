package hubspot

// HubSpot webhook subscription types
type SubscriptionType string

const (
	SubscriptionTypeDealPropertyChange SubscriptionType = "deal.propertyChange"
	SubscriptionTypeDealCreation       SubscriptionType = "deal.creation"
	SubscriptionTypeDealDeletion       SubscriptionType = "deal.deletion"
)

// Standard HubSpot deal properties
const (
	PropertyDealName   = "dealname"
	PropertyAmount     = "amount"
	PropertyCurrency   = "deal_currency_code"
	PropertyCloseDate  = "closedate"
	PropertyDealStage  = "dealstage"
	PropertyPipeline   = "pipeline"
	PropertyLostReason = "closed_lost_reason"
)

// Custom deal properties the booking portal maintains
const (
	PropertyCustomerType       = "customer_type"
	PropertyDiscountPercentage = "discount_percentage"
	PropertyDiscountAmount     = "discount_amount"
	PropertyBillingAddress     = "billing_address"
	PropertyBillingCity        = "billing_city"
	PropertyBillingPostalCode  = "billing_postal_code"
	PropertyBillingCountry     = "billing_country"
)

// Line item properties
const (
	PropertyLineItemName               = "name"
	PropertyLineItemPrice              = "price"
	PropertyLineItemQuantity           = "quantity"
	PropertyLineItemDiscountPercentage = "hs_discount_percentage"
	PropertyLineItemDiscount           = "discount"
)

// Customer type values of PropertyCustomerType
const (
	CustomerTypeCompany = "company"
	CustomerTypePerson  = "person"
)

// HubSpot object types used in paths
const (
	ObjectDeals     = "deals"
	ObjectContacts  = "contacts"
	ObjectLineItems = "line_items"
	ObjectTasks     = "tasks"
	ObjectNotes     = "notes"
)

// HubSpot Association Categories
type AssociationCategory string

const (
	AssociationCategoryHubSpotDefined AssociationCategory = "HUBSPOT_DEFINED"
)

// HubSpot Association Type IDs
// Reference: https://developers.hubspot.com/docs/api/crm/associations
const (
	AssociationTypeNoteToDeal = 214
	AssociationTypeTaskToDeal = 216
)

// searchPageLimit is the maximum page size of the CRM search API
const searchPageLimit = 100

// batchReadLimit is the maximum number of ids per batch read
const batchReadLimit = 100
