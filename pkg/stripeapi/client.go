// Package stripeapi implements the billing provider over the Stripe API:
// paginated subscription listing with customer expansion, rate limiting, and
// retry on transient failures.
package stripeapi

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/subscription"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tablescout/billing-cli/internal/model"
	"github.com/tablescout/billing-cli/internal/resilience"
)

// pageSize is Stripe's maximum list page size.
const pageSize = 100

// Config holds client settings.
type Config struct {
	// APIKey is the Stripe secret key (sk_test_... or sk_live_...).
	APIKey string
	// RequestsPerSecond throttles outbound calls. Default: 10.
	RequestsPerSecond float64
	// RequestTimeout bounds each listing call. Default: 60s.
	RequestTimeout time.Duration
	// Retry overrides the default retry policy when non-zero.
	Retry resilience.RetryConfig
}

// Client lists subscriptions for the reconciliation driver.
type Client struct {
	limiter *rate.Limiter
	timeout time.Duration
	retry   resilience.RetryConfig
	log     *zap.Logger
}

// NewClient configures the Stripe SDK and returns a client. The SDK key is
// process-global; the CLI only ever talks to one Stripe account.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("stripeapi: api key is required")
	}
	stripe.Key = cfg.APIKey

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	retry := cfg.Retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = isRetryable
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("stripe", "list_subscriptions")
	}

	return &Client{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		timeout: timeout,
		retry:   retry,
		log:     zap.L().With(zap.String("component", "stripeapi")),
	}, nil
}

// ListSubscriptions fetches all subscriptions in the given statuses, customer
// expanded, merged into one slice. Each status listing is retried as a unit
// on transient failure.
func (c *Client) ListSubscriptions(ctx context.Context, statuses []string) ([]model.SubscriptionSnapshot, error) {
	var out []model.SubscriptionSnapshot
	for _, status := range statuses {
		snaps, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]model.SubscriptionSnapshot, error) {
			return c.listByStatus(ctx, status)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "stripeapi: list %s subscriptions", status)
		}
		c.log.Debug("fetched subscriptions",
			zap.String("status", status),
			zap.Int("count", len(snaps)))
		out = append(out, snaps...)
	}
	return out, nil
}

func (c *Client) listByStatus(ctx context.Context, status string) ([]model.SubscriptionSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Status: stripe.String(status),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(pageSize)
	params.AddExpand("data.customer")

	var out []model.SubscriptionSnapshot
	iter := subscription.List(params)
	for iter.Next() {
		out = append(out, snapshotFromSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// snapshotFromSubscription flattens a Stripe subscription to the reconciler's
// view. Missing pieces (no expanded customer, no items) map to zero values;
// the driver validates the customer before resolving.
func snapshotFromSubscription(sub *stripe.Subscription) model.SubscriptionSnapshot {
	snap := model.SubscriptionSnapshot{
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if price := sub.Items.Data[0].Price; price != nil {
			snap.PriceID = price.ID
			snap.AmountMinorUnits = price.UnitAmount
			if price.Recurring != nil {
				snap.BillingInterval = string(price.Recurring.Interval)
			}
		}
	}

	if cust := sub.Customer; cust != nil {
		snap.CustomerID = cust.ID
		snap.Customer = model.CustomerSnapshot{
			ID:       cust.ID,
			Email:    cust.Email,
			Name:     cust.Name,
			Phone:    cust.Phone,
			Metadata: cust.Metadata,
			Deleted:  cust.Deleted,
		}
	}

	return snap
}

// isRetryable classifies Stripe API errors: rate limits and 5xx are
// transient, everything else (auth, invalid request) is permanent. Non-Stripe
// errors fall through to the generic network classification.
func isRetryable(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return resilience.IsTransientHTTPStatus(stripeErr.HTTPStatusCode)
	}
	return resilience.IsTransient(err)
}
