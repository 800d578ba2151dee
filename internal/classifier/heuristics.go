package classifier

import (
	"regexp"

	"commentguard/internal/models"
)

const benign = models.CategoryBenign

// heuristic pairs two independent signals; both must fire.
type heuristic struct {
	category models.Category
	first    *regexp.Regexp
	second   *regexp.Regexp
}

var heuristics = []heuristic{
	{
		category: models.CategoryBlackmail,
		first:    regexp.MustCompile(`(?i)(\bcash\s?app\b|\bvenmo\b|\bpaypal\b|\bzelle\b|\bbitcoin\b|\bbtc\b|\busdt\b|\bcrypto\b|\bwallet\b|\bgift\s?cards?\b|\$[a-z][a-z0-9_]{2,}|\bsend\s+\$?\d+)`),
		second:   regexp.MustCompile(`(?i)(\bor\s+else\b|\bunless\b|\bif\s+you\s+don'?t\b|\bor\s+i('|\s+wi)ll\b|\b(leak|expose|release|post|share|send)\s+(your|the|those|these)\b|\beveryone\s+will\s+see\b|\bbefore\s+i\b)`),
	},
	{
		category: models.CategoryThreat,
		first:    regexp.MustCompile(`(?i)\b(kill|hurt|shoot|stab|beat|burn|find|hunt|destroy)\b`),
		second:   regexp.MustCompile(`(?i)\b(you|your\s+(family|house|kids|wife|husband|home))\b.{0,40}\b(dead|pay|regret|sorry|tonight|soon|address|know\s+where)\b|\bi\s+know\s+where\s+you\s+live\b`),
	},
	{
		category: models.CategorySpam,
		first:    regexp.MustCompile(`(?i)(https?://|www\.|\b[a-z0-9-]+\.(ly|io|xyz|top|shop|link)\b)`),
		second:   regexp.MustCompile(`(?i)\b(dm\s+me|check\s+my\s+(bio|profile)|giveaway|promo|discount|free\s+followers|earn\s+\$?\d+|click|limited\s+offer)\b`),
	},
}

// suspectedCategories returns the categories whose heuristics fire on text, most severe first.
func suspectedCategories(text string) []models.Category {
	var out []models.Category
	for _, h := range heuristics {
		if h.first.MatchString(text) && h.second.MatchString(text) {
			out = append(out, h.category)
		}
	}
	return out
}

// secondaryCandidate returns the heuristic category to re-check, if any is more
// severe than what the primary pass produced.
func secondaryCandidate(text string, primary models.Category) (models.Category, bool) {
	for _, c := range suspectedCategories(text) {
		if c.Rank() > primary.Rank() {
			return c, true
		}
	}
	return "", false
}
