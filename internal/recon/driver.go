// Package recon runs the batch reconciliation pass: fetch active external
// subscriptions, resolve each against the entity store, link confident
// matches, and record the rest in the unmatched ledger.
package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tablescout/billing-cli/internal/model"
	"github.com/tablescout/billing-cli/internal/store"
)

// BillingProvider lists external subscriptions by status. Implementations
// handle pagination, retry, and rate limiting internally.
type BillingProvider interface {
	ListSubscriptions(ctx context.Context, statuses []string) ([]model.SubscriptionSnapshot, error)
}

// Resolver matches one external billing identity against the entity store.
type Resolver interface {
	Resolve(ctx context.Context, identity model.ExternalBillingIdentity, priorSubscriptionID string) (*model.MatchResult, error)
}

// Config carries the driver's policy knobs.
type Config struct {
	ConsumerPriceIDs           []string
	PromoterPriceIDs           []string
	PremiumThresholdMinorUnits int64
	// Concurrency bounds parallel per-subscription resolution. Values <= 1
	// run sequentially, which keeps log ordering deterministic.
	Concurrency int
}

// Driver orchestrates one reconciliation pass.
type Driver struct {
	provider   BillingProvider
	store      store.Store
	resolver   Resolver
	classifier *Classifier
	cfg        Config
	log        *zap.Logger
	newRunID   func() string
}

// NewDriver wires a driver over the provider, store, and resolver.
func NewDriver(provider BillingProvider, st store.Store, res Resolver, cfg Config) *Driver {
	return &Driver{
		provider:   provider,
		store:      st,
		resolver:   res,
		classifier: NewClassifier(cfg.ConsumerPriceIDs, cfg.PromoterPriceIDs),
		cfg:        cfg,
		log:        zap.L().With(zap.String("component", "recon")),
		newRunID:   uuid.NewString,
	}
}

// itemOutcome is the result of processing one subscription.
type itemOutcome struct {
	matched   *model.MatchedItem
	unmatched string
	err       string
}

// Reconcile runs the pass. Only provider or store failures at the top of the
// run are fatal; per-subscription failures land in the report's Errors list
// and the run continues.
func (d *Driver) Reconcile(ctx context.Context) (*model.ReconciliationReport, error) {
	report := &model.ReconciliationReport{
		RunID:     d.newRunID(),
		StartedAt: time.Now().UTC(),
	}
	log := d.log.With(zap.String("run_id", report.RunID))

	subs, err := d.provider.ListSubscriptions(ctx,
		[]string{model.SubscriptionStatusActive, model.SubscriptionStatusTrialing})
	if err != nil {
		return nil, eris.Wrap(err, "recon: list subscriptions")
	}
	report.Total = len(subs)

	linked, err := d.store.ListLinkedSubscriptionIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "recon: list linked subscriptions")
	}

	// Partition up front: already-linked subscriptions are counted and never
	// re-matched, excluded products are counted as skipped.
	var pending []model.SubscriptionSnapshot
	for _, sub := range subs {
		switch {
		case linked[sub.SubscriptionID]:
			report.AlreadyLinked++
		case d.classifier.Excluded(sub.PriceID):
			report.Skipped++
			log.Debug("skipping non-restaurant product",
				zap.String("subscription_id", sub.SubscriptionID),
				zap.String("price_id", sub.PriceID))
		default:
			pending = append(pending, sub)
		}
	}

	outcomes := make([]itemOutcome, len(pending))
	if d.cfg.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.cfg.Concurrency)
		var mu sync.Mutex
		for i, sub := range pending {
			g.Go(func() error {
				out := d.processOne(gctx, sub, log)
				mu.Lock()
				outcomes[i] = out
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrap(err, "recon: worker pool")
		}
	} else {
		for i, sub := range pending {
			outcomes[i] = d.processOne(ctx, sub, log)
		}
	}

	for _, out := range outcomes {
		switch {
		case out.err != "":
			report.Errors = append(report.Errors, out.err)
		case out.matched != nil:
			report.NewlyMatched = append(report.NewlyMatched, *out.matched)
		case out.unmatched != "":
			report.Unmatched = append(report.Unmatched, out.unmatched)
		}
	}

	report.FinishedAt = time.Now().UTC()
	log.Info("reconciliation pass complete",
		zap.Int("total", report.Total),
		zap.Int("already_linked", report.AlreadyLinked),
		zap.Int("skipped", report.Skipped),
		zap.Int("newly_matched", len(report.NewlyMatched)),
		zap.Int("unmatched", len(report.Unmatched)),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (d *Driver) processOne(ctx context.Context, sub model.SubscriptionSnapshot, log *zap.Logger) itemOutcome {
	if sub.Customer.ID == "" || sub.Customer.Deleted {
		return itemOutcome{err: fmt.Sprintf("subscription %s: customer record missing or deleted", sub.SubscriptionID)}
	}

	identity := model.IdentityFromSubscription(sub)
	result, err := d.resolver.Resolve(ctx, identity, sub.SubscriptionID)
	if err != nil {
		return itemOutcome{err: fmt.Sprintf("subscription %s: resolve: %v", sub.SubscriptionID, err)}
	}

	// Every processed subscription gets a ledger record carrying the attempt
	// trail; a confirmed match transitions it right after.
	rec := &model.UnmatchedRecord{
		ExternalSubscriptionID: sub.SubscriptionID,
		ExternalCustomerID:     sub.Customer.ID,
		CustomerEmail:          sub.Customer.Email,
		CustomerName:           sub.Customer.Name,
		CustomerPhone:          sub.Customer.Phone,
		DeclaredBusinessName:   identity.BusinessName(),
		AmountMinorUnits:       sub.AmountMinorUnits,
		BillingInterval:        sub.BillingInterval,
		MatchAttempts:          result.Attempts,
	}
	if err := d.store.UpsertUnmatched(ctx, rec); err != nil {
		return itemOutcome{err: fmt.Sprintf("subscription %s: record attempt: %v", sub.SubscriptionID, err)}
	}

	if !result.Matched {
		log.Info("no match",
			zap.String("subscription_id", sub.SubscriptionID),
			zap.String("customer_id", sub.Customer.ID),
			zap.Int("attempts", len(result.Attempts)))
		return itemOutcome{unmatched: sub.SubscriptionID}
	}

	tier := TierFor(sub.AmountMinorUnits, d.cfg.PremiumThresholdMinorUnits)
	ok, err := d.store.LinkEntityBilling(ctx, result.EntityID, tier, sub.SubscriptionID, sub.Customer.ID)
	if err != nil {
		return itemOutcome{err: fmt.Sprintf("subscription %s: link entity %s: %v", sub.SubscriptionID, result.EntityID, err)}
	}
	if !ok {
		// The entity was claimed between resolution and linking. The ledger
		// record stays pending for manual review.
		return itemOutcome{err: fmt.Sprintf("subscription %s: entity %s already linked", sub.SubscriptionID, result.EntityID)}
	}

	if err := d.store.ConfirmMatch(ctx, sub.SubscriptionID, result.EntityID, model.MatchedByReconcile); err != nil {
		return itemOutcome{err: fmt.Sprintf("subscription %s: confirm match: %v", sub.SubscriptionID, err)}
	}

	log.Info("matched",
		zap.String("subscription_id", sub.SubscriptionID),
		zap.String("entity_id", result.EntityID),
		zap.String("method", string(result.Method)),
		zap.Int("confidence", result.Confidence),
		zap.String("tier", string(tier)))
	return itemOutcome{matched: &model.MatchedItem{
		SubscriptionID: sub.SubscriptionID,
		EntityID:       result.EntityID,
		EntityName:     result.EntityName,
		Method:         result.Method,
		Confidence:     result.Confidence,
		Tier:           tier,
	}}
}
