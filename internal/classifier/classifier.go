// Package classifier turns comment text into a moderation judgment using an LLM,
// with input sanitization, response screening, owner rules and bounded retries.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/observability"
	"commentguard/internal/retry"

	"go.opentelemetry.io/otel/attribute"
)

// ErrInvalidCategory is returned when the model names a category outside the fixed set.
var ErrInvalidCategory = errors.New("model returned an invalid category")

var errMalformed = errors.New("model returned malformed JSON")

const (
	// FallbackConfidence is the confidence of the degraded default verdict.
	FallbackConfidence = 0.5
	// GuardConfidence is the confidence forced on a result suspected of injection.
	GuardConfidence = 0.3
	// RuleConfidence is the minimum confidence of a custom-rule match.
	RuleConfidence = 0.85
	ruleSeverity   = 50
)

// Rule is an enabled custom filter as presented to the model.
type Rule struct {
	ID       uint
	Name     string
	Prompt   string
	Category models.Category
}

// RulesFromFilters keeps enabled filters with a valid category.
func RulesFromFilters(filters []models.CustomFilter) []Rule {
	rules := make([]Rule, 0, len(filters))
	for _, f := range filters {
		if !f.Enabled || !f.Category.Valid() || strings.TrimSpace(f.Prompt) == "" {
			continue
		}
		rules = append(rules, Rule{ID: f.ID, Name: f.Name, Prompt: f.Prompt, Category: f.Category})
	}
	return rules
}

// SimilarityHint tells the model a near-duplicate was already adjudicated.
type SimilarityHint struct {
	Similarity float64
	Verdict    models.ReviewActionType
}

// Input is one classification request.
type Input struct {
	Text          string
	Rules         []Rule
	Hint          *SimilarityHint
	SecondaryPass bool
}

// Result is the classifier's judgment plus what is needed to audit it.
type Result struct {
	Category           models.Category
	Severity           int
	Confidence         float64
	Rationale          string
	Identifiers        []Identifier
	MatchedRuleIDs     []uint
	Model              string
	Source             models.DecisionSource
	Degraded           bool
	InjectionSuspected bool
	InputRedacted      bool
	Attempts           int
	RequestPayload     string
	ResponsePayload    string
}

// Config tunes a Classifier.
type Config struct {
	Model         string
	MaxInputRunes int
	MaxTokens     int
	// Retry bounds re-asking the model after transport, parse or category failures.
	Retry retry.Policy
}

// DefaultConfig retries twice, waiting 500ms and then 1s.
func DefaultConfig(model string) Config {
	return Config{
		Model:         model,
		MaxInputRunes: DefaultMaxInputRunes,
		MaxTokens:     400,
		Retry:         retry.Linear(500*time.Millisecond, 2),
	}
}

// Classifier classifies comment text.
type Classifier struct {
	llm LLM
	cfg Config
}

// New returns a Classifier backed by llm.
func New(llm LLM, cfg Config) *Classifier {
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = DefaultMaxInputRunes
	}
	return &Classifier{llm: llm, cfg: cfg}
}

type rawIdentifier struct {
	Kind     string `json:"kind"`
	Platform string `json:"platform"`
	Value    string `json:"value"`
}

type rawResponse struct {
	Category     string          `json:"category"`
	Severity     float64         `json:"severity"`
	Confidence   float64         `json:"confidence"`
	Rationale    string          `json:"rationale"`
	Identifiers  []rawIdentifier `json:"identifiers"`
	MatchedRules []uint          `json:"matched_rules"`
}

type secondaryResponse struct {
	Matches    bool    `json:"matches"`
	Severity   float64 `json:"severity"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func parseCategory(s string) (models.Category, bool) {
	return models.ParseCategory(s)
}

// decodeJSON tolerates markdown fences around the object.
func decodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

func clampSeverity(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}

// clampConfidence accepts 0-1 or a 0-100 percentage.
func clampConfidence(v float64) float64 {
	if v > 1 && v <= 100 {
		v /= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCategory):
		return "invalid_category"
	case errors.Is(err, errMalformed):
		return "parse"
	default:
		return "transport"
	}
}

func (c *Classifier) policy(stage string) retry.Policy {
	p := c.cfg.Retry
	p.Notify = func(err error, wait time.Duration) {
		observability.ClassificationRetries.WithLabelValues(retryReason(err)).Inc()
		middleware.Logger.Warn("classification retry",
			slog.String("stage", stage), slog.String("reason", retryReason(err)), slog.Duration("wait", wait), slog.String("error", err.Error()))
	}
	return p
}

// Classify always returns a decision. When the model cannot produce a usable
// answer within the retry budget the result is a degraded benign verdict.
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	ctx, span := observability.StartSpan(ctx, "classifier", "classify",
		attribute.Int("rules", len(in.Rules)),
		attribute.Bool("hint", in.Hint != nil),
	)
	defer span.End()

	text, redacted := Sanitize(in.Text, c.cfg.MaxInputRunes)
	if redacted {
		observability.InjectionSuspected.WithLabelValues("input").Inc()
	}

	msgs := buildPrimaryMessages(text, in.Rules, in.Hint)
	req := CompletionRequest{Messages: msgs, JSON: true, MaxTokens: c.cfg.MaxTokens}
	reqPayload, _ := json.Marshal(req)

	res := Result{
		Model:          c.cfg.Model,
		Source:         models.SourceClassifier,
		InputRedacted:  redacted,
		RequestPayload: string(reqPayload),
	}

	var raw rawResponse
	var lastContent string
	err := retry.Do(ctx, c.policy("primary"), func(attempt int) error {
		res.Attempts = attempt + 1
		resp, err := c.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		lastContent = resp.Content
		if resp.Model != "" {
			res.Model = resp.Model
		}
		var r rawResponse
		if err := decodeJSON(resp.Content, &r); err != nil {
			return err
		}
		if _, ok := parseCategory(r.Category); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidCategory, r.Category)
		}
		raw = r
		return nil
	})
	res.ResponsePayload = lastContent

	if err != nil {
		observability.DegradedDecisions.Inc()
		span.RecordError(err)
		middleware.Logger.WarnContext(ctx, "classification degraded to fallback verdict",
			slog.Int("attempts", res.Attempts), slog.String("error", err.Error()))
		res.Category = benign
		res.Severity = 0
		res.Confidence = FallbackConfidence
		res.Rationale = "classification unavailable; safe default applied"
		res.Degraded = true
		res.Source = models.SourceFallback
		res.Identifiers = mergeIdentifiers(ExtractIdentifiers(in.Text))
		return res
	}

	res.Category, _ = parseCategory(raw.Category)
	res.Severity = clampSeverity(raw.Severity)
	res.Confidence = clampConfidence(raw.Confidence)
	res.Rationale = strings.TrimSpace(raw.Rationale)
	res.Identifiers = mergeIdentifiers(ExtractIdentifiers(in.Text), fromRaw(raw.Identifiers))

	if responseSuspicious(raw) || (redacted && res.Category == benign) {
		observability.InjectionSuspected.WithLabelValues("response").Inc()
		middleware.Logger.WarnContext(ctx, "classification result suspected of prompt injection",
			slog.String("model_category", string(res.Category)), slog.Float64("model_confidence", res.Confidence))
		res.Category = benign
		res.Confidence = GuardConfidence
		res.InjectionSuspected = true
		res.Source = models.SourceInjectionGuard
		return res
	}

	c.applyRules(&res, in.Rules, raw.MatchedRules)

	if in.SecondaryPass {
		c.secondaryPass(ctx, text, &res)
	}
	return res
}

func fromRaw(ids []rawIdentifier) []Identifier {
	out := make([]Identifier, 0, len(ids))
	for _, id := range ids {
		out = append(out, Identifier{
			Kind:     models.IdentifierKind(strings.ToLower(strings.TrimSpace(id.Kind))),
			Platform: id.Platform,
			Value:    id.Value,
		})
	}
	return out
}

// applyRules forces the most severe matched rule category.
func (c *Classifier) applyRules(res *Result, rules []Rule, matched []uint) {
	if len(rules) == 0 || len(matched) == 0 {
		return
	}
	byID := make(map[uint]Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	var cats []models.Category
	seen := make(map[uint]struct{})
	for _, id := range matched {
		r, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		res.MatchedRuleIDs = append(res.MatchedRuleIDs, id)
		cats = append(cats, r.Category)
	}
	if len(cats) == 0 {
		return
	}

	res.Category = models.MostSevere(cats...)
	res.Confidence = max(res.Confidence, RuleConfidence)
	if res.Category.Harmful() {
		res.Severity = max(res.Severity, ruleSeverity)
	}
	res.Source = models.SourceCustomFilter
}

// secondaryPass re-checks one heuristic category the primary pass missed. Its
// failures leave the primary result untouched.
func (c *Classifier) secondaryPass(ctx context.Context, text string, res *Result) {
	cat, ok := secondaryCandidate(text, res.Category)
	if !ok {
		return
	}

	req := CompletionRequest{Messages: buildSecondaryMessages(text, cat), JSON: true, MaxTokens: c.cfg.MaxTokens}
	var sec secondaryResponse
	var content string
	err := retry.Do(ctx, c.policy("secondary"), func(int) error {
		resp, err := c.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		content = resp.Content
		return decodeJSON(resp.Content, &sec)
	})
	if err != nil {
		middleware.Logger.WarnContext(ctx, "secondary classification pass failed",
			slog.String("category", string(cat)), slog.String("error", err.Error()))
		return
	}
	res.ResponsePayload += "\n" + content
	if !sec.Matches {
		return
	}

	confidence := clampConfidence(sec.Confidence)
	if guarded(sec.Rationale) {
		return
	}
	res.Category = cat
	res.Severity = clampSeverity(sec.Severity)
	res.Confidence = confidence
	if r := strings.TrimSpace(sec.Rationale); r != "" {
		res.Rationale = r
	}
}

func guarded(rationale string) bool {
	for _, re := range guardPatterns {
		if re.MatchString(rationale) {
			return true
		}
	}
	return false
}

// GenerateFilterPrompt writes the natural-language description for a custom
// filter minted from a review. It falls back to a template when the model fails.
func (c *Classifier) GenerateFilterPrompt(ctx context.Context, text string, cat models.Category, action models.ReviewActionType) string {
	clean, _ := Sanitize(text, 500)
	req := CompletionRequest{Messages: buildFilterMessages(clean, cat, action), MaxTokens: 120, Temperature: 0.2}

	resp, err := c.llm.Complete(ctx, req)
	if err == nil {
		if p := strings.TrimSpace(resp.Content); p != "" && !guarded(p) {
			return p
		}
	} else {
		middleware.Logger.WarnContext(ctx, "filter prompt generation failed, using template", slog.String("error", err.Error()))
	}
	return templatePrompt(clean, cat)
}

func templatePrompt(text string, cat models.Category) string {
	excerpt := []rune(text)
	if len(excerpt) > 160 {
		excerpt = excerpt[:160]
	}
	return fmt.Sprintf("Comments closely resembling %q, treated as %s.", string(excerpt), cat)
}
