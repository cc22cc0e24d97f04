package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablescout/billing-cli/internal/model"
)

// fakeDirectory is an in-memory EntityDirectory for cascade tests.
type fakeDirectory struct {
	entities []model.BusinessEntity
	owners   []model.OwnerAccount
}

func (d *fakeDirectory) EntityByExternalSubscriptionID(_ context.Context, subID string) (*model.BusinessEntity, error) {
	for i := range d.entities {
		if d.entities[i].ExternalSubscriptionID == subID && subID != "" {
			return &d.entities[i], nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) EntityByExternalCustomerID(_ context.Context, custID string) (*model.BusinessEntity, error) {
	for i := range d.entities {
		if d.entities[i].ExternalCustomerID == custID && custID != "" {
			return &d.entities[i], nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) EntityByEmail(_ context.Context, email string) (*model.BusinessEntity, error) {
	for i := range d.entities {
		if d.entities[i].Email != "" && strings.EqualFold(d.entities[i].Email, email) {
			return &d.entities[i], nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) EntitiesByOwner(_ context.Context, ownerID string) ([]model.BusinessEntity, error) {
	var out []model.BusinessEntity
	for _, e := range d.entities {
		if e.OwnerID == ownerID && ownerID != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ActiveEntities(_ context.Context) ([]model.BusinessEntity, error) {
	var out []model.BusinessEntity
	for _, e := range d.entities {
		if e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *fakeDirectory) OwnerByBillingCustomerID(_ context.Context, custID string) (*model.OwnerAccount, error) {
	for i := range d.owners {
		if d.owners[i].BillingCustomerID == custID && custID != "" {
			return &d.owners[i], nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) OwnerByEmail(_ context.Context, email string) (*model.OwnerAccount, error) {
	for i := range d.owners {
		if d.owners[i].Email != "" && strings.EqualFold(d.owners[i].Email, email) {
			return &d.owners[i], nil
		}
	}
	return nil, nil
}

func newTestResolver(dir *fakeDirectory) *Resolver {
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	return New(dir, DefaultPolicy()).WithNow(func() time.Time { return fixed })
}

func luckyDogEntity() model.BusinessEntity {
	return model.BusinessEntity{
		ID:      "r1",
		Name:    "Lucky Dog Bar & Grill",
		Website: "luckydog.com",
		Active:  true,
	}
}

func TestResolveDirectIdentifiers(t *testing.T) {
	t.Run("prior subscription link wins at full confidence", func(t *testing.T) {
		e := luckyDogEntity()
		e.ExternalSubscriptionID = "sub_1"
		r := newTestResolver(&fakeDirectory{entities: []model.BusinessEntity{e}})

		res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{ExternalCustomerID: "cus_9"}, "sub_1")
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, model.MethodSubscriptionLink, res.Method)
		assert.Equal(t, 100, res.Confidence)
		assert.Equal(t, "r1", res.EntityID)
	})

	t.Run("stored customer id", func(t *testing.T) {
		e := luckyDogEntity()
		e.ExternalCustomerID = "cus_1"
		r := newTestResolver(&fakeDirectory{entities: []model.BusinessEntity{e}})

		res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{ExternalCustomerID: "cus_1"}, "")
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, model.MethodCustomerID, res.Method)
		assert.Equal(t, 100, res.Confidence)
	})

	t.Run("owner billing customer id", func(t *testing.T) {
		e := luckyDogEntity()
		e.OwnerID = "u1"
		dir := &fakeDirectory{
			entities: []model.BusinessEntity{e},
			owners:   []model.OwnerAccount{{ID: "u1", BillingCustomerID: "cus_1"}},
		}
		r := newTestResolver(dir)

		res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{ExternalCustomerID: "cus_1"}, "")
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, model.MethodOwnerCustomerID, res.Method)
		assert.Equal(t, 95, res.Confidence)
	})

	t.Run("owner with several linked entities is ambiguous", func(t *testing.T) {
		a := luckyDogEntity()
		a.OwnerID = "u1"
		a.ExternalSubscriptionID = "sub_a"
		b := model.BusinessEntity{ID: "r2", Name: "Second Spot", OwnerID: "u1", ExternalSubscriptionID: "sub_b", Active: true}
		dir := &fakeDirectory{
			entities: []model.BusinessEntity{a, b},
			owners:   []model.OwnerAccount{{ID: "u1", BillingCustomerID: "cus_1"}},
		}
		r := newTestResolver(dir)

		res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{ExternalCustomerID: "cus_1"}, "")
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})
}

// End-to-end scenario: a business-domain email matches the entity's website
// domain at the domain layer.
func TestResolveDomainMatch(t *testing.T) {
	dir := &fakeDirectory{entities: []model.BusinessEntity{luckyDogEntity()}}
	r := newTestResolver(dir)

	res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
		ExternalCustomerID: "cus_1",
		Email:              "jack@luckydog.com",
	}, "")
	require.NoError(t, err)

	assert.True(t, res.Matched)
	assert.Equal(t, model.MethodDomainMatch, res.Method)
	assert.Equal(t, 85, res.Confidence)
	assert.Equal(t, "r1", res.EntityID)
	assert.Equal(t, "Lucky Dog Bar & Grill", res.EntityName)

	// The failed direct and email sub-steps must still be on the trail.
	methods := attemptMethods(res)
	assert.Equal(t, []model.MatchMethod{
		model.MethodCustomerID,
		model.MethodOwnerCustomerID,
		model.MethodEmailExact,
		model.MethodOwnerEmail,
		model.MethodDomainMatch,
	}, methods)

	last := res.Attempts[len(res.Attempts)-1]
	assert.True(t, last.Found)
	assert.Equal(t, res.Confidence, last.Confidence)
}

// End-to-end scenario: a gmail address carries no domain signal, so the
// domain sub-step is skipped and the fused local-part token "luckydog" is
// matched against the space-stripped entity name by the keyword layer.
func TestResolveKeywordMatchGenericDomain(t *testing.T) {
	dir := &fakeDirectory{entities: []model.BusinessEntity{luckyDogEntity()}}
	r := newTestResolver(dir)

	res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
		ExternalCustomerID: "cus_2",
		Email:              "luckydog@gmail.com",
	}, "")
	require.NoError(t, err)

	assert.True(t, res.Matched)
	assert.Equal(t, model.MethodEmailKeywords, res.Method)
	// Single keyword, fully matched: round(1/1 * 75) = 75.
	assert.Equal(t, 75, res.Confidence)

	// No domain_match attempt may appear: gmail never reaches that sub-step.
	for _, a := range res.Attempts {
		assert.NotEqual(t, model.MethodDomainMatch, a.Method)
	}
}

func TestResolvePhoneMatch(t *testing.T) {
	e := luckyDogEntity()
	e.Phone = "(717) 555-0134"
	dir := &fakeDirectory{entities: []model.BusinessEntity{e}}
	r := newTestResolver(dir)

	res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
		ExternalCustomerID: "cus_3",
		Phone:              "+1 717 555 0134",
	}, "")
	require.NoError(t, err)

	assert.True(t, res.Matched)
	assert.Equal(t, model.MethodPhoneMatch, res.Method)
	assert.Equal(t, 80, res.Confidence)
}

func TestResolveFuzzyName(t *testing.T) {
	t.Run("declared business name from metadata", func(t *testing.T) {
		dir := &fakeDirectory{entities: []model.BusinessEntity{luckyDogEntity()}}
		r := newTestResolver(dir)

		res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
			ExternalCustomerID: "cus_4",
			Metadata:           map[string]string{"businessName": "Lucky Dog Bar and Grill LLC"},
		}, "")
		require.NoError(t, err)

		assert.True(t, res.Matched)
		assert.Equal(t, model.MethodNameFuzzy, res.Method)
		assert.GreaterOrEqual(t, res.Confidence, 70)
	})

	t.Run("display name below threshold stays unmatched", func(t *testing.T) {
		dir := &fakeDirectory{entities: []model.BusinessEntity{luckyDogEntity()}}
		r := newTestResolver(dir)

		res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
			ExternalCustomerID: "cus_5",
			DisplayName:        "Totally Different Place",
		}, "")
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})

	t.Run("highest scoring candidate wins", func(t *testing.T) {
		other := model.BusinessEntity{ID: "r9", Name: "Lucky Duck Diner", Active: true}
		dir := &fakeDirectory{entities: []model.BusinessEntity{other, luckyDogEntity()}}
		r := newTestResolver(dir)

		res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
			ExternalCustomerID: "cus_6",
			DisplayName:        "Lucky Dog Bar & Grill",
		}, "")
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, "r1", res.EntityID)
	})
}

// End-to-end scenario: nothing overlaps, so every attempted strategy appears
// on the trail with Found=false and the result carries zero confidence.
func TestResolveNoMatch(t *testing.T) {
	dir := &fakeDirectory{entities: []model.BusinessEntity{luckyDogEntity()}}
	r := newTestResolver(dir)

	res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
		ExternalCustomerID: "cus_7",
		Email:              "nobody@unrelated.io",
		Phone:              "212-555-0000",
		DisplayName:        "Galactic Noodle Concern",
	}, "sub_missing")
	require.NoError(t, err)

	assert.False(t, res.Matched)
	assert.Equal(t, 0, res.Confidence)
	assert.Empty(t, res.Method)

	// subscription_link, customer_id, owner_customer_id, email_match,
	// owner_email, domain_match, email_keywords, phone_match, name_fuzzy.
	require.Len(t, res.Attempts, 9)
	for _, a := range res.Attempts {
		assert.False(t, a.Found, "attempt %s should not have found anything", a.Method)
	}
}

// Identical store state and identity must produce identical results,
// attempt-for-attempt.
func TestResolveDeterministic(t *testing.T) {
	dir := &fakeDirectory{entities: []model.BusinessEntity{luckyDogEntity()}}
	r := newTestResolver(dir)
	identity := model.ExternalBillingIdentity{
		ExternalCustomerID: "cus_1",
		Email:              "jack@luckydog.com",
		Phone:              "717-555-0134",
	}

	first, err := r.Resolve(context.Background(), identity, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), identity, "")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// An identity that could match through two layers must resolve through the
// earlier (higher-trust) one.
func TestResolveLayerPrecedence(t *testing.T) {
	e := luckyDogEntity()
	e.ExternalCustomerID = "cus_1"
	e.Email = "jack@luckydog.com"
	dir := &fakeDirectory{entities: []model.BusinessEntity{e}}
	r := newTestResolver(dir)

	res, err := r.Resolve(context.Background(), model.ExternalBillingIdentity{
		ExternalCustomerID: "cus_1",
		Email:              "jack@luckydog.com",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, model.MethodCustomerID, res.Method)
	assert.Equal(t, 100, res.Confidence)
	assert.Len(t, res.Attempts, 1)
}

func attemptMethods(res *model.MatchResult) []model.MatchMethod {
	out := make([]model.MatchMethod, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		out = append(out, a.Method)
	}
	return out
}
