package classifier

import (
	"net/url"
	"regexp"
	"strings"

	"commentguard/internal/models"
)

// Identifier is a payment handle, contact method or URL found in a comment.
type Identifier struct {
	Kind       models.IdentifierKind `json:"kind"`
	Platform   string                `json:"platform"`
	Value      string                `json:"value"`
	Normalized string                `json:"normalized"`
}

type extractor struct {
	kind     models.IdentifierKind
	platform string
	re       *regexp.Regexp
	// group selects the submatch holding the value; 0 is the whole match.
	group int
}

var extractors = []extractor{
	{kind: models.IdentifierURL, platform: "web", re: regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+|\bwww\.[^\s<>"']+`)},
	{kind: models.IdentifierContact, platform: "email", re: regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)},
	{kind: models.IdentifierContact, platform: "phone", re: regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)},
	{kind: models.IdentifierPayment, platform: "cashapp", re: regexp.MustCompile(`(?:^|[\s(])(\$[A-Za-z][A-Za-z0-9_]{1,19})\b`), group: 1},
	{kind: models.IdentifierPayment, platform: "venmo", re: regexp.MustCompile(`(?i)\bvenmo\s*(?:me\s*)?[:\-]?\s*@?([a-z0-9_-]{3,30})`), group: 1},
	{kind: models.IdentifierPayment, platform: "paypal", re: regexp.MustCompile(`(?i)\bpaypal\.me/([a-z0-9_.-]+)`), group: 1},
	{kind: models.IdentifierPayment, platform: "bitcoin", re: regexp.MustCompile(`\b(bc1[ac-hj-np-z02-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`), group: 1},
	{kind: models.IdentifierPayment, platform: "ethereum", re: regexp.MustCompile(`\b(0x[a-fA-F0-9]{40})\b`), group: 1},
	{kind: models.IdentifierHandle, platform: "telegram", re: regexp.MustCompile(`(?i)\b(?:t\.me/|telegram\s*[:\-]?\s*@)([a-z0-9_]{4,32})`), group: 1},
}

var phoneDigits = regexp.MustCompile(`\D`)

// NormalizeIdentifier case-folds and canonicalizes value for cross-account matching.
// It returns "" when nothing meaningful remains.
func NormalizeIdentifier(kind models.IdentifierKind, platform, value string) string {
	v := strings.TrimSpace(value)
	platform = strings.ToLower(strings.TrimSpace(platform))
	if v == "" {
		return ""
	}

	switch {
	case kind == models.IdentifierURL:
		v = normalizeURL(v)
	case platform == "phone":
		v = phoneDigits.ReplaceAllString(v, "")
	case platform == "ethereum" || platform == "email":
		v = strings.ToLower(v)
	case platform == "bitcoin":
		// legacy base58 addresses are case-sensitive
		if strings.HasPrefix(strings.ToLower(v), "bc1") {
			v = strings.ToLower(v)
		}
	default:
		v = strings.ToLower(strings.TrimLeft(v, "@$"))
	}
	v = strings.TrimRight(v, ".,;:!?)")
	if v == "" {
		return ""
	}
	if platform == "" {
		platform = "unknown"
	}
	return string(kind) + ":" + platform + ":" + v
}

func normalizeURL(raw string) string {
	raw = strings.TrimRight(raw, ".,;:!?)")
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	return host + path
}

// ExtractIdentifiers finds identifiers in text with pattern matching.
func ExtractIdentifiers(text string) []Identifier {
	var out []Identifier
	for _, ex := range extractors {
		for _, m := range ex.re.FindAllStringSubmatch(text, -1) {
			if ex.group >= len(m) {
				continue
			}
			out = append(out, Identifier{Kind: ex.kind, Platform: ex.platform, Value: strings.TrimSpace(m[ex.group])})
		}
	}
	return out
}

// mergeIdentifiers normalizes every identifier, drops empties and duplicates.
func mergeIdentifiers(sets ...[]Identifier) []Identifier {
	seen := make(map[string]struct{})
	var out []Identifier
	for _, set := range sets {
		for _, id := range set {
			if id.Kind == "" {
				id.Kind = models.IdentifierHandle
			}
			norm := NormalizeIdentifier(id.Kind, id.Platform, id.Value)
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			id.Normalized = norm
			if id.Platform == "" {
				id.Platform = "unknown"
			}
			id.Platform = strings.ToLower(id.Platform)
			out = append(out, id)
		}
	}
	return out
}
