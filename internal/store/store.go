// Package store persists business entities, owner accounts, and the
// unmatched-ledger records behind the reconciliation engine.
package store

import (
	"context"

	"github.com/tablescout/billing-cli/internal/model"
)

// Store is the persistence interface for the reconciliation engine. The
// lookup half doubles as the resolver's entity directory; the mutation half
// is limited to the billing-link triple and the unmatched ledger.
type Store interface {
	// Entity directory (read-only, used by the resolver).
	EntityByExternalSubscriptionID(ctx context.Context, subscriptionID string) (*model.BusinessEntity, error)
	EntityByExternalCustomerID(ctx context.Context, customerID string) (*model.BusinessEntity, error)
	EntityByEmail(ctx context.Context, email string) (*model.BusinessEntity, error)
	EntitiesByOwner(ctx context.Context, ownerID string) ([]model.BusinessEntity, error)
	ActiveEntities(ctx context.Context) ([]model.BusinessEntity, error)
	OwnerByBillingCustomerID(ctx context.Context, customerID string) (*model.OwnerAccount, error)
	OwnerByEmail(ctx context.Context, email string) (*model.OwnerAccount, error)

	// Reconciliation driver support.
	ListLinkedSubscriptionIDs(ctx context.Context) (map[string]bool, error)
	// LinkEntityBilling writes the (tier, subscription id, customer id)
	// triple onto an entity. The write is conditional on the entity being
	// unlinked, so two parallel workers cannot claim the same entity; it
	// returns false when the entity was already linked.
	LinkEntityBilling(ctx context.Context, entityID string, tier model.Tier, subscriptionID, customerID string) (bool, error)

	// Unmatched ledger.
	UpsertUnmatched(ctx context.Context, rec *model.UnmatchedRecord) error
	// ConfirmMatch transitions a ledger record to matched, stamping the
	// entity, time, and actor exactly once. Re-confirming is a no-op.
	ConfirmMatch(ctx context.Context, subscriptionID, entityID, matchedBy string) error
	IgnoreUnmatched(ctx context.Context, subscriptionID string) error
	GetUnmatched(ctx context.Context, subscriptionID string) (*model.UnmatchedRecord, error)
	ListUnmatched(ctx context.Context, status model.UnmatchedStatus, limit int) ([]model.UnmatchedRecord, error)

	// Entity/owner writes for dev seeding and the platform sync job.
	UpsertEntity(ctx context.Context, e *model.BusinessEntity) error
	UpsertOwner(ctx context.Context, o *model.OwnerAccount) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
