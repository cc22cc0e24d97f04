package model

import "time"

// Tier is the internal pricing tier derived from the subscription amount.
type Tier string

// Pricing tiers.
const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// BusinessEntity is the internal record (a restaurant) that a billing identity
// is reconciled against. The matching engine only reads it; the single
// exception is the (Tier, ExternalSubscriptionID, ExternalCustomerID) triple,
// written once a match is confirmed.
type BusinessEntity struct {
	ID                     string    `json:"id" db:"id"`
	Name                   string    `json:"name" db:"name"`
	Email                  string    `json:"email,omitempty" db:"email"`
	Phone                  string    `json:"phone,omitempty" db:"phone"`
	Website                string    `json:"website,omitempty" db:"website"`
	OwnerID                string    `json:"owner_id,omitempty" db:"owner_id"`
	ExternalCustomerID     string    `json:"external_customer_id,omitempty" db:"external_customer_id"`
	ExternalSubscriptionID string    `json:"external_subscription_id,omitempty" db:"external_subscription_id"`
	Tier                   Tier      `json:"tier,omitempty" db:"tier"`
	Active                 bool      `json:"active" db:"active"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}

// Linked reports whether the entity already carries a billing link.
func (e BusinessEntity) Linked() bool {
	return e.ExternalSubscriptionID != ""
}

// OwnerAccount is the user account that owns one or more business entities.
// Checkout sometimes stores the billing customer id on the account rather
// than the entity, so the resolver consults it as a direct-identifier source.
type OwnerAccount struct {
	ID                string    `json:"id" db:"id"`
	Email             string    `json:"email,omitempty" db:"email"`
	BillingCustomerID string    `json:"billing_customer_id,omitempty" db:"billing_customer_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
