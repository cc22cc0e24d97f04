// Package resolver implements the layered billing-to-entity match cascade.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tablescout/billing-cli/internal/match"
	"github.com/tablescout/billing-cli/internal/model"
)

// EntityDirectory is the read-only view of the entity store the resolver
// needs: point lookups plus a full scan of active entities. Keeping it narrow
// lets an index-backed implementation replace the scanning store without
// touching the cascade.
type EntityDirectory interface {
	EntityByExternalSubscriptionID(ctx context.Context, subscriptionID string) (*model.BusinessEntity, error)
	EntityByExternalCustomerID(ctx context.Context, customerID string) (*model.BusinessEntity, error)
	EntityByEmail(ctx context.Context, email string) (*model.BusinessEntity, error)
	EntitiesByOwner(ctx context.Context, ownerID string) ([]model.BusinessEntity, error)
	ActiveEntities(ctx context.Context) ([]model.BusinessEntity, error)
	OwnerByBillingCustomerID(ctx context.Context, customerID string) (*model.OwnerAccount, error)
	OwnerByEmail(ctx context.Context, email string) (*model.OwnerAccount, error)
}

// Resolver executes the ordered match cascade for one external billing
// identity. It never mutates the entity store.
type Resolver struct {
	dir    EntityDirectory
	policy Policy
	now    func() time.Time
}

// New creates a Resolver over the given directory.
func New(dir EntityDirectory, policy Policy) *Resolver {
	return &Resolver{
		dir:    dir,
		policy: policy,
		now:    time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// trail accumulates the ordered attempt log for one resolution.
type trail struct {
	attempts []model.MatchAttempt
}

func (t *trail) miss(method model.MatchMethod, searched string, ts time.Time) {
	t.attempts = append(t.attempts, model.MatchAttempt{
		Method:        method,
		SearchedValue: searched,
		Found:         false,
		Timestamp:     ts,
	})
}

func (t *trail) hit(method model.MatchMethod, searched string, e *model.BusinessEntity, confidence int, ts time.Time) *model.MatchResult {
	t.attempts = append(t.attempts, model.MatchAttempt{
		Method:            method,
		SearchedValue:     searched,
		Found:             true,
		MatchedEntityID:   e.ID,
		MatchedEntityName: e.Name,
		Confidence:        confidence,
		Timestamp:         ts,
	})
	return &model.MatchResult{
		Matched:    true,
		EntityID:   e.ID,
		EntityName: e.Name,
		Confidence: confidence,
		Method:     method,
		Attempts:   t.attempts,
	}
}

// Resolve runs the match layers in decreasing-trust order and returns on the
// first hit. Layers whose inputs are absent (no email, no phone, ...) are
// skipped entirely; layers that run and find nothing still leave a
// Found=false attempt in the audit trail.
//
// priorSubscriptionID, when non-empty, is the external subscription id being
// reconciled; an entity already linked to it is the strongest possible match.
func (r *Resolver) Resolve(ctx context.Context, identity model.ExternalBillingIdentity, priorSubscriptionID string) (*model.MatchResult, error) {
	log := zap.L().With(
		zap.String("component", "resolver"),
		zap.String("external_customer_id", identity.ExternalCustomerID),
	)
	t := &trail{}

	// Layer 1: direct identifiers.
	if res, err := r.resolveDirect(ctx, identity, priorSubscriptionID, t); err != nil {
		return nil, err
	} else if res != nil {
		log.Debug("resolved by direct identifier", zap.String("method", string(res.Method)))
		return res, nil
	}

	// Layer 2: email.
	if identity.Email != "" {
		if res, err := r.resolveEmail(ctx, identity, t); err != nil {
			return nil, err
		} else if res != nil {
			log.Debug("resolved by email strategy",
				zap.String("method", string(res.Method)),
				zap.Int("confidence", res.Confidence),
			)
			return res, nil
		}
	}

	// Layer 3: phone.
	if identity.Phone != "" {
		if res, err := r.resolvePhone(ctx, identity, t); err != nil {
			return nil, err
		} else if res != nil {
			log.Debug("resolved by phone", zap.String("entity_id", res.EntityID))
			return res, nil
		}
	}

	// Layer 4: fuzzy business name.
	if name := identity.BusinessName(); name != "" {
		if res, err := r.resolveName(ctx, name, t); err != nil {
			return nil, err
		} else if res != nil {
			log.Debug("resolved by fuzzy name",
				zap.String("entity_id", res.EntityID),
				zap.Int("confidence", res.Confidence),
			)
			return res, nil
		}
	}

	log.Debug("no match found", zap.Int("attempts", len(t.attempts)))
	return &model.MatchResult{
		Matched:    false,
		Confidence: 0,
		Attempts:   t.attempts,
	}, nil
}

func (r *Resolver) resolveDirect(ctx context.Context, identity model.ExternalBillingIdentity, priorSubscriptionID string, t *trail) (*model.MatchResult, error) {
	if priorSubscriptionID != "" {
		e, err := r.dir.EntityByExternalSubscriptionID(ctx, priorSubscriptionID)
		if err != nil {
			return nil, eris.Wrap(err, "resolver: lookup by subscription id")
		}
		if e != nil {
			return t.hit(model.MethodSubscriptionLink, priorSubscriptionID, e, r.policy.SubscriptionLink, r.now()), nil
		}
		t.miss(model.MethodSubscriptionLink, priorSubscriptionID, r.now())
	}

	e, err := r.dir.EntityByExternalCustomerID(ctx, identity.ExternalCustomerID)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: lookup by customer id")
	}
	if e != nil {
		return t.hit(model.MethodCustomerID, identity.ExternalCustomerID, e, r.policy.CustomerID, r.now()), nil
	}
	t.miss(model.MethodCustomerID, identity.ExternalCustomerID, r.now())

	owner, err := r.dir.OwnerByBillingCustomerID(ctx, identity.ExternalCustomerID)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: lookup owner by customer id")
	}
	if owner != nil {
		candidate, err := r.ownedEntity(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		if candidate != nil {
			return t.hit(model.MethodOwnerCustomerID, identity.ExternalCustomerID, candidate, r.policy.OwnerCustomerID, r.now()), nil
		}
	}
	t.miss(model.MethodOwnerCustomerID, identity.ExternalCustomerID, r.now())

	return nil, nil
}

// ownedEntity picks the entity an owner-account match should resolve to:
// the owner's sole entity, or the first still-unlinked one when the owner has
// several. Multiple entities all linked elsewhere is treated as ambiguous.
func (r *Resolver) ownedEntity(ctx context.Context, ownerID string) (*model.BusinessEntity, error) {
	entities, err := r.dir.EntitiesByOwner(ctx, ownerID)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: entities by owner %s", ownerID)
	}
	if len(entities) == 1 {
		return &entities[0], nil
	}
	for i := range entities {
		if !entities[i].Linked() {
			return &entities[i], nil
		}
	}
	return nil, nil
}

func (r *Resolver) resolveEmail(ctx context.Context, identity model.ExternalBillingIdentity, t *trail) (*model.MatchResult, error) {
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	// 2a: exact email on the entity.
	e, err := r.dir.EntityByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: lookup by email")
	}
	if e != nil {
		return t.hit(model.MethodEmailExact, email, e, r.policy.EmailExact, r.now()), nil
	}
	t.miss(model.MethodEmailExact, email, r.now())

	// 2b: email belongs to an owner account with a single entity.
	owner, err := r.dir.OwnerByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: lookup owner by email")
	}
	if owner != nil {
		entities, err := r.dir.EntitiesByOwner(ctx, owner.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "resolver: entities by owner %s", owner.ID)
		}
		if len(entities) == 1 {
			return t.hit(model.MethodOwnerEmail, email, &entities[0], r.policy.OwnerEmail, r.now()), nil
		}
	}
	t.miss(model.MethodOwnerEmail, email, r.now())

	// 2c: email domain equals an entity's website domain. Skipped entirely
	// for generic consumer mail domains, which carry no ownership signal.
	if domain := match.ExtractEmailDomain(email); domain != "" {
		entities, err := r.dir.ActiveEntities(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "resolver: scan entities for domain match")
		}
		for i := range entities {
			if entities[i].Website == "" {
				continue
			}
			if match.ExtractWebsiteDomain(entities[i].Website) == domain {
				return t.hit(model.MethodDomainMatch, domain, &entities[i], r.policy.DomainMatch, r.now()), nil
			}
		}
		t.miss(model.MethodDomainMatch, domain, r.now())
	}

	// 2d: local-part keywords vs entity names. Unlike the other sub-steps
	// this compares every candidate and emits a single best-of attempt.
	if keywords := match.ExtractEmailKeywords(email); len(keywords) > 0 {
		entities, err := r.dir.ActiveEntities(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "resolver: scan entities for keyword match")
		}

		searched := strings.Join(keywords, " ")
		var best *model.BusinessEntity
		bestScore := 0
		for i := range entities {
			score := keywordScore(keywords, entities[i].Name, r.policy.KeywordScale)
			if score > bestScore {
				best, bestScore = &entities[i], score
			}
		}
		if best != nil && bestScore >= r.policy.KeywordMin {
			return t.hit(model.MethodEmailKeywords, searched, best, bestScore, r.now()), nil
		}
		t.miss(model.MethodEmailKeywords, searched, r.now())
	}

	return nil, nil
}

// keywordScore scores how much of the keyword set appears in the entity name,
// scaled to the policy ceiling. A keyword counts when it equals a name token
// or is contained in the space-stripped normalized name, so a fused token
// like "luckydog" still matches "lucky dog".
func keywordScore(keywords []string, entityName string, scale int) int {
	norm := match.NormalizeBusinessName(entityName)
	if norm == "" {
		return 0
	}
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(norm) {
		tokens[tok] = true
	}
	fused := strings.ReplaceAll(norm, " ", "")

	matched := 0
	for _, kw := range keywords {
		if tokens[kw] || strings.Contains(fused, kw) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return int(float64(matched)/float64(len(keywords))*float64(scale) + 0.5)
}

func (r *Resolver) resolvePhone(ctx context.Context, identity model.ExternalBillingIdentity, t *trail) (*model.MatchResult, error) {
	normalized := match.NormalizePhone(identity.Phone)
	if normalized == "" {
		return nil, nil
	}

	entities, err := r.dir.ActiveEntities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: scan entities for phone match")
	}

	// First hit wins: phone collisions across entities are assumed rare.
	for i := range entities {
		if entities[i].Phone == "" {
			continue
		}
		if match.PhonesMatch(identity.Phone, entities[i].Phone) {
			return t.hit(model.MethodPhoneMatch, normalized, &entities[i], r.policy.PhoneMatch, r.now()), nil
		}
	}
	t.miss(model.MethodPhoneMatch, normalized, r.now())
	return nil, nil
}

func (r *Resolver) resolveName(ctx context.Context, businessName string, t *trail) (*model.MatchResult, error) {
	entities, err := r.dir.ActiveEntities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: scan entities for name match")
	}

	var best *model.BusinessEntity
	bestScore := 0
	for i := range entities {
		score := match.NamesMatch(businessName, entities[i].Name)
		if score > bestScore {
			best, bestScore = &entities[i], score
		}
	}
	if best != nil && bestScore >= r.policy.NameFuzzyMin {
		return t.hit(model.MethodNameFuzzy, businessName, best, bestScore, r.now()), nil
	}
	t.miss(model.MethodNameFuzzy, businessName, r.now())
	return nil, nil
}
