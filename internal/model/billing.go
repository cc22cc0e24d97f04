// Package model defines the shared types for the billing reconciliation engine.
package model

// Subscription statuses we reconcile. Other statuses (canceled, past_due, etc.)
// are never fetched.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
)

// CustomerSnapshot is the billing provider's view of a customer at fetch time.
type CustomerSnapshot struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Name     string            `json:"name,omitempty"`
	Phone    string            `json:"phone,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Deleted  bool              `json:"deleted,omitempty"`
}

// SubscriptionSnapshot is one external subscription as returned by the billing
// provider, flattened to the fields the reconciler needs.
type SubscriptionSnapshot struct {
	SubscriptionID   string           `json:"subscription_id"`
	CustomerID       string           `json:"customer_id"`
	PriceID          string           `json:"price_id"`
	AmountMinorUnits int64            `json:"amount_minor_units"`
	BillingInterval  string           `json:"billing_interval"`
	Status           string           `json:"status"`
	Customer         CustomerSnapshot `json:"customer"`
}

// ExternalBillingIdentity is the identifying slice of a customer snapshot that
// the resolver matches against internal entities. Constructed fresh per pass
// and never mutated.
type ExternalBillingIdentity struct {
	ExternalCustomerID string            `json:"external_customer_id"`
	Email              string            `json:"email,omitempty"`
	DisplayName        string            `json:"display_name,omitempty"`
	Phone              string            `json:"phone,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// MetadataBusinessNameKey is the customer metadata key under which the billing
// checkout flow records the business name the buyer typed in.
const MetadataBusinessNameKey = "businessName"

// BusinessName returns the declared business name for matching: the
// businessName metadata entry when present, else the customer display name.
func (id ExternalBillingIdentity) BusinessName() string {
	if v, ok := id.Metadata[MetadataBusinessNameKey]; ok && v != "" {
		return v
	}
	return id.DisplayName
}

// IdentityFromSubscription builds the matching identity for one subscription.
func IdentityFromSubscription(sub SubscriptionSnapshot) ExternalBillingIdentity {
	return ExternalBillingIdentity{
		ExternalCustomerID: sub.Customer.ID,
		Email:              sub.Customer.Email,
		DisplayName:        sub.Customer.Name,
		Phone:              sub.Customer.Phone,
		Metadata:           sub.Customer.Metadata,
	}
}
