package classifier

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxInputRunes caps comment text sent to the model.
const DefaultMaxInputRunes = 2000

const redacted = "[redacted]"

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+|any\s+|the\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|prompts?|rules?|messages?)`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)\b(new|updated|real)\s+(system\s+)?instructions?\s*:`),
	regexp.MustCompile(`(?i)\bsystem\s+prompt\b`),
	regexp.MustCompile(`(?i)\b(respond|answer|reply|output)\s+(only\s+)?with\s+.{0,20}\bbenign\b`),
	regexp.MustCompile(`(?i)\bclassify\s+(this|me|it)\s+as\b`),
	regexp.MustCompile(`(?i)<\|?(im_start|im_end|system|assistant|user|endoftext)\|?>`),
	regexp.MustCompile(`(?i)\[/?(INST|SYS)\]`),
	regexp.MustCompile(`(?i)<<\s*/?SYS\s*>>`),
	regexp.MustCompile(`(?im)^\s*(###\s*)?(system|assistant)\s*:`),
}

// Sanitize caps text at maxRunes, strips control characters and redacts known
// prompt-injection phrasings. It reports whether anything was redacted.
func Sanitize(text string, maxRunes int) (string, bool) {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxInputRunes
	}

	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\u200b' || r == '\u200e' || r == '\u200f' || r == '\ufeff' {
			return -1
		}
		return r
	}, text)

	if r := []rune(clean); len(r) > maxRunes {
		clean = string(r[:maxRunes])
	}

	injected := false
	for _, re := range injectionPatterns {
		if re.MatchString(clean) {
			injected = true
			clean = re.ReplaceAllString(clean, redacted)
		}
	}
	return strings.TrimSpace(clean), injected
}

var guardPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(as|per)\s+(instructed|requested|directed)\b`),
	regexp.MustCompile(`(?i)\bfollow(ing|ed)?\s+(the\s+|your\s+|these\s+|new\s+)?instructions?\b`),
	regexp.MustCompile(`(?i)\b(the\s+)?(comment|user|text)\s+(asked|told|instructed)\s+me\b`),
	regexp.MustCompile(`(?i)\bignor(e|ed|ing)\s+(the\s+)?(previous|prior|system)\b`),
	regexp.MustCompile(`(?i)\bi\s+(was|am|have\s+been)\s+(told|instructed)\b`),
}

// perfectConfidence is treated as a sign the model was steered.
const perfectConfidence = 0.999

// responseSuspicious reports whether the model's answer shows signs that an
// injection succeeded.
func responseSuspicious(r rawResponse) bool {
	for _, re := range guardPatterns {
		if re.MatchString(r.Rationale) {
			return true
		}
	}
	cat, _ := parseCategory(r.Category)
	return cat == benign && r.Confidence >= perfectConfidence
}
