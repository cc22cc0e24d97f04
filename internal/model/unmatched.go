package model

import "time"

// UnmatchedStatus is the review state of an unmatched-ledger record.
type UnmatchedStatus string

// Ledger statuses.
const (
	UnmatchedPending UnmatchedStatus = "pending"
	UnmatchedMatched UnmatchedStatus = "matched"
	UnmatchedIgnored UnmatchedStatus = "ignored"
)

// Well-known MatchedBy values. Anything else is a human reviewer id.
const (
	MatchedByAuto      = "auto"
	MatchedByReconcile = "reconcile"
)

// UnmatchedRecord is the durable, auditable record of one subscription's
// reconciliation outcome, keyed by the external subscription id so re-runs
// update rather than duplicate. Once Status is matched it is never silently
// downgraded; transitions happen only through an explicit confirm.
type UnmatchedRecord struct {
	ExternalSubscriptionID string          `json:"external_subscription_id" db:"external_subscription_id"`
	ExternalCustomerID     string          `json:"external_customer_id" db:"external_customer_id"`
	CustomerEmail          string          `json:"customer_email,omitempty" db:"customer_email"`
	CustomerName           string          `json:"customer_name,omitempty" db:"customer_name"`
	CustomerPhone          string          `json:"customer_phone,omitempty" db:"customer_phone"`
	DeclaredBusinessName   string          `json:"declared_business_name,omitempty" db:"declared_business_name"`
	AmountMinorUnits       int64           `json:"amount_minor_units" db:"amount_minor_units"`
	BillingInterval        string          `json:"billing_interval,omitempty" db:"billing_interval"`
	MatchAttempts          []MatchAttempt  `json:"match_attempts"`
	Status                 UnmatchedStatus `json:"status" db:"status"`
	MatchedEntityID        string          `json:"matched_entity_id,omitempty" db:"matched_entity_id"`
	MatchedAt              *time.Time      `json:"matched_at,omitempty" db:"matched_at"`
	MatchedBy              string          `json:"matched_by,omitempty" db:"matched_by"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}
