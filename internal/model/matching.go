package model

import "time"

// MatchMethod identifies the strategy that produced a match attempt.
type MatchMethod string

// Match methods, in decreasing order of intrinsic trust.
const (
	MethodSubscriptionLink MatchMethod = "subscription_link"
	MethodCustomerID       MatchMethod = "customer_id"
	MethodOwnerCustomerID  MatchMethod = "owner_customer_id"
	MethodEmailExact       MatchMethod = "email_match"
	MethodOwnerEmail       MatchMethod = "owner_email"
	MethodDomainMatch      MatchMethod = "domain_match"
	MethodEmailKeywords    MatchMethod = "email_keywords"
	MethodPhoneMatch       MatchMethod = "phone_match"
	MethodNameFuzzy        MatchMethod = "name_fuzzy"
)

// MatchAttempt records one strategy's outcome. Attempts are append-only; the
// ordered list for a resolution is the audit trail.
type MatchAttempt struct {
	Method            MatchMethod `json:"method"`
	SearchedValue     string      `json:"searched_value,omitempty"`
	Found             bool        `json:"found"`
	MatchedEntityID   string      `json:"matched_entity_id,omitempty"`
	MatchedEntityName string      `json:"matched_entity_name,omitempty"`
	Confidence        int         `json:"confidence"`
	Timestamp         time.Time   `json:"timestamp"`
}

// MatchResult is the terminal output of one resolution.
//
// Invariant: if Matched is true, the last attempt has Found=true and its
// Confidence equals Confidence here.
type MatchResult struct {
	Matched    bool           `json:"matched"`
	EntityID   string         `json:"entity_id,omitempty"`
	EntityName string         `json:"entity_name,omitempty"`
	Confidence int            `json:"confidence"`
	Method     MatchMethod    `json:"method,omitempty"`
	Attempts   []MatchAttempt `json:"attempts"`
}
