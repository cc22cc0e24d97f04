package resolver

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy is the per-layer confidence table. The values are operational policy
// rather than derived quantities, so they live in one tunable block instead of
// being scattered through the cascade.
type Policy struct {
	// Layer 1: direct identifier matches.
	SubscriptionLink int `yaml:"subscription_link"`
	CustomerID       int `yaml:"customer_id"`
	OwnerCustomerID  int `yaml:"owner_customer_id"`

	// Layer 2: email-based matches.
	EmailExact   int `yaml:"email_exact"`
	OwnerEmail   int `yaml:"owner_email"`
	DomainMatch  int `yaml:"domain_match"`
	KeywordScale int `yaml:"keyword_scale"` // full-overlap keyword score
	KeywordMin   int `yaml:"keyword_min"`   // acceptance floor for keyword matches

	// Layer 3: phone matching.
	PhoneMatch int `yaml:"phone_match"`

	// Layer 4: fuzzy business-name matching.
	NameFuzzyMin int `yaml:"name_fuzzy_min"`
}

// DefaultPolicy returns the production confidence table.
func DefaultPolicy() Policy {
	return Policy{
		SubscriptionLink: 100,
		CustomerID:       100,
		OwnerCustomerID:  95,
		EmailExact:       90,
		OwnerEmail:       85,
		DomainMatch:      85,
		KeywordScale:     75,
		KeywordMin:       60,
		PhoneMatch:       80,
		NameFuzzyMin:     70,
	}
}

// LoadPolicy reads a confidence table from a YAML file. Zero-valued fields
// fall back to the defaults, so a policy file only needs to name the layers
// it tunes.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()

	raw, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "resolver: read policy %s", path)
	}

	var override Policy
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return p, eris.Wrapf(err, "resolver: parse policy %s", path)
	}

	merge := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	merge(&p.SubscriptionLink, override.SubscriptionLink)
	merge(&p.CustomerID, override.CustomerID)
	merge(&p.OwnerCustomerID, override.OwnerCustomerID)
	merge(&p.EmailExact, override.EmailExact)
	merge(&p.OwnerEmail, override.OwnerEmail)
	merge(&p.DomainMatch, override.DomainMatch)
	merge(&p.KeywordScale, override.KeywordScale)
	merge(&p.KeywordMin, override.KeywordMin)
	merge(&p.PhoneMatch, override.PhoneMatch)
	merge(&p.NameFuzzyMin, override.NameFuzzyMin)

	return p, nil
}
