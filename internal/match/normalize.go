// Package match provides the pure normalization and similarity primitives
// used by the billing-to-entity resolver.
package match

import (
	"net/url"
	"regexp"
	"strings"
)

// genericMailDomains lists consumer mail providers whose domains carry no
// business-ownership signal. An email domain is only useful for matching when
// it is plausibly the business's own domain.
var genericMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"ymail.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"mac.com":        true,
	"aol.com":        true,
	"comcast.net":    true,
	"verizon.net":    true,
	"att.net":        true,
	"proton.me":      true,
	"protonmail.com": true,
}

// rolePrefixes are mailbox local-part prefixes that name a role, not the
// business, and are stripped before keyword extraction.
var rolePrefixes = []string{
	"info", "contact", "admin", "support", "sales", "booking", "reservations",
	"hello", "office",
}

// keywordStopWords are tokens too generic to identify a restaurant.
var keywordStopWords = map[string]bool{
	"the": true, "and": true, "llc": true, "inc": true,
	"bar": true, "restaurant": true, "cafe": true, "pub": true,
	"grill": true, "kitchen": true,
}

// legalSuffixes are legal-entity suffixes stripped as whole words during
// business-name normalization.
var legalSuffixes = map[string]bool{
	"llc": true, "llp": true, "inc": true, "incorporated": true,
	"corp": true, "corporation": true, "co": true, "ltd": true,
	"limited": true, "lp": true, "pllc": true, "plc": true,
}

var (
	nonAlnumSpaceRe  = regexp.MustCompile(`[^a-z0-9 ]+`)
	multiSpaceRe     = regexp.MustCompile(`\s{2,}`)
	nonDigitRe       = regexp.MustCompile(`\D+`)
	trailingDigitsRe = regexp.MustCompile(`\d+$`)
	keywordSplitRe   = regexp.MustCompile(`[._-]+`)
)

// ExtractEmailDomain returns the lower-cased domain of an email address, or
// "" when the address has no domain or the domain belongs to a generic
// consumer mail provider.
func ExtractEmailDomain(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain := email[at+1:]
	if genericMailDomains[domain] {
		return ""
	}
	return domain
}

// ExtractWebsiteDomain returns the lower-cased host of a website URL with any
// leading "www." stripped. A missing scheme is tolerated. Returns "" when the
// URL cannot be parsed to a host.
func ExtractWebsiteDomain(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// ExtractEmailKeywords extracts business-name candidate tokens from an email
// local part. Role prefixes and trailing digits are stripped, the remainder is
// split on "."/"_"/"-", and short tokens and stop words are dropped.
//
// Tokens are not re-split on dictionary or case boundaries: "luckydog" stays a
// single token. The keyword matcher compensates by also checking tokens
// against the space-stripped normalized entity name.
func ExtractEmailKeywords(email string) []string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return nil
	}
	local := email[:at]

	for _, prefix := range rolePrefixes {
		if local == prefix {
			return nil
		}
		for _, sep := range []string{".", "_", "-"} {
			local = strings.TrimPrefix(local, prefix+sep)
		}
	}
	local = trailingDigitsRe.ReplaceAllString(local, "")

	var keywords []string
	for _, tok := range keywordSplitRe.Split(local, -1) {
		if len(tok) <= 2 || keywordStopWords[tok] {
			continue
		}
		keywords = append(keywords, tok)
	}
	return keywords
}

// NormalizePhone reduces a phone number to a bare 10-digit US dial string.
// An 11-digit number with a leading country code 1 has the 1 dropped; longer
// numbers keep their final 10 digits. Returns "" when fewer than 7 digits
// remain, which is too short to be a dialable number.
func NormalizePhone(phone string) string {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	switch {
	case len(digits) < 7:
		return ""
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return digits[1:]
	case len(digits) > 10:
		return digits[len(digits)-10:]
	default:
		return digits
	}
}

// PhonesMatch reports whether two phone numbers normalize to the same
// non-empty dial string.
func PhonesMatch(a, b string) bool {
	na := NormalizePhone(a)
	return na != "" && na == NormalizePhone(b)
}

// NormalizeBusinessName standardizes a business name for comparison:
// lower-cased, legal-entity suffixes and a leading "the" dropped as whole
// words, punctuation stripped, whitespace collapsed.
func NormalizeBusinessName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}

	name = nonAlnumSpaceRe.ReplaceAllString(name, " ")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	words := strings.Fields(name)
	kept := words[:0]
	for i, w := range words {
		if i == 0 && w == "the" {
			continue
		}
		if legalSuffixes[w] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}
