package model

import "time"

// MatchedItem is one newly linked subscription in a reconciliation report.
type MatchedItem struct {
	SubscriptionID string      `json:"subscription_id"`
	EntityID       string      `json:"entity_id"`
	EntityName     string      `json:"entity_name"`
	Method         MatchMethod `json:"method"`
	Confidence     int         `json:"confidence"`
	Tier           Tier        `json:"tier"`
}

// ReconciliationReport summarizes one batch reconciliation pass.
type ReconciliationReport struct {
	RunID         string        `json:"run_id"`
	Total         int           `json:"total"`
	AlreadyLinked int           `json:"already_linked"`
	Skipped       int           `json:"skipped"`
	NewlyMatched  []MatchedItem `json:"newly_matched"`
	Unmatched     []string      `json:"unmatched"`
	Errors        []string      `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}
