package recon

import "github.com/tablescout/billing-cli/internal/model"

// DefaultPremiumThresholdMinorUnits is the monthly amount, in minor currency
// units, at or above which a subscription maps to the premium tier.
const DefaultPremiumThresholdMinorUnits = 19900

// Classifier excludes subscriptions for products that are not restaurant
// plans. The platform also sells a consumer plan and a self-promoter plan;
// both are identified by price id and must never be matched to an entity.
type Classifier struct {
	excluded map[string]bool
}

// NewClassifier builds a classifier from the two price-id allow-lists.
func NewClassifier(consumerPriceIDs, promoterPriceIDs []string) *Classifier {
	excluded := make(map[string]bool, len(consumerPriceIDs)+len(promoterPriceIDs))
	for _, id := range consumerPriceIDs {
		if id != "" {
			excluded[id] = true
		}
	}
	for _, id := range promoterPriceIDs {
		if id != "" {
			excluded[id] = true
		}
	}
	return &Classifier{excluded: excluded}
}

// Excluded reports whether the price id belongs to a non-restaurant product.
func (c *Classifier) Excluded(priceID string) bool {
	return c.excluded[priceID]
}

// TierFor derives the pricing tier from the subscription amount. A
// non-positive threshold falls back to the default.
func TierFor(amountMinorUnits, thresholdMinorUnits int64) model.Tier {
	if thresholdMinorUnits <= 0 {
		thresholdMinorUnits = DefaultPremiumThresholdMinorUnits
	}
	if amountMinorUnits >= thresholdMinorUnits {
		return model.TierPremium
	}
	return model.TierStandard
}
