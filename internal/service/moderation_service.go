package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"commentguard/internal/alerting"
	"commentguard/internal/cache"
	"commentguard/internal/classifier"
	"commentguard/internal/featureflags"
	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/notifications"
	"commentguard/internal/observability"
	"commentguard/internal/repository"
	"commentguard/internal/risk"
	"commentguard/internal/similarity"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// hintSimilarity is the floor for telling the model about a near-allowed comment.
	hintSimilarity   = 0.5
	thresholdSamples = 200
	thresholdPairs   = 500
	excerptRunes     = 140
)

// ModerationDeps wires a ModerationService.
type ModerationDeps struct {
	Accounts   repository.AccountRepository
	Comments   repository.CommentRepository
	Decisions  repository.DecisionRepository
	Reviews    repository.ReviewRepository
	Similarity repository.SimilarityRepository
	Classifier *classifier.Classifier
	// Embedder may be nil; precedent matching is then skipped.
	Embedder   similarity.Embedder
	Suspicious *SuspiciousService
	Executor   *ActionExecutor
	Policy     risk.Policy
	Flags      *featureflags.Manager
	Alerter    alerting.Alerter
	Publisher  notifications.Publisher
}

// ModerationService classifies comments, scores and enforces the result.
type ModerationService struct {
	ModerationDeps
	now func() time.Time
}

// NewModerationService returns a new ModerationService.
func NewModerationService(d ModerationDeps) *ModerationService {
	if d.Alerter == nil {
		d.Alerter = alerting.Noop{}
	}
	if d.Policy.Categories == nil {
		d.Policy = risk.DefaultPolicy()
	}
	return &ModerationService{ModerationDeps: d, now: time.Now}
}

// Outcome reports what Moderate did with one comment.
type Outcome struct {
	Decision *models.ModerationDecision `json:"decision,omitempty"`
	Status   models.ModerationStatus    `json:"status"`
	Skipped  bool                       `json:"skipped"`
}

// judgment is what either the classifier or a precedent concluded.
type judgment struct {
	result    classifier.Result
	precedent *similarity.Match
	filters   []models.CustomFilter
}

// Moderate runs one NEW comment through classification and enforcement. Comments in
// any other status are skipped. A comment whose text already has a decision resumes
// that decision instead of classifying again.
func (s *ModerationService) Moderate(ctx context.Context, commentID uint) (out *Outcome, err error) {
	ctx, span := observability.StartSpan(ctx, "moderation", "moderate",
		attribute.Int64("comment_id", int64(commentID)))
	defer func() { observability.EndSpan(span, err) }()

	c, err := s.Comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.StatusNew {
		return &Outcome{Status: c.Status, Skipped: true}, nil
	}

	ok, err := s.Comments.TransitionStatus(ctx, c.ID, models.StatusClassifying, models.StatusNew)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Outcome{Status: models.StatusClassifying, Skipped: true}, nil
	}
	c.Status = models.StatusClassifying
	defer func() {
		if err == nil {
			return
		}
		if _, rerr := s.Comments.TransitionStatus(context.WithoutCancel(ctx), c.ID, models.StatusNew, models.StatusClassifying); rerr != nil {
			middleware.Logger.ErrorContext(ctx, "failed to return comment to NEW",
				slog.Uint64("comment_id", uint64(c.ID)), slog.String("error", rerr.Error()))
		}
	}()

	account, err := s.Accounts.GetByID(ctx, c.AccountID)
	if err != nil {
		return nil, err
	}

	latest, err := s.Decisions.Latest(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load latest decision: %w", err)
	}
	if latest != nil && latest.TextHash == c.TextHash {
		status, err := s.Executor.Execute(ctx, account, c, latest, Payloads{})
		if err != nil {
			return nil, err
		}
		return &Outcome{Decision: latest, Status: status}, nil
	}

	s.ensureEmbedding(ctx, c)

	j, err := s.judge(ctx, c)
	if err != nil {
		return nil, err
	}

	history, err := s.Suspicious.History(ctx, c)
	if err != nil {
		return nil, err
	}
	now := s.now()
	trace := risk.Score(history.Inputs(j.result.Severity, j.result.Confidence, now))

	action, err := s.decide(ctx, c.AccountID, j, trace)
	if err != nil {
		return nil, err
	}

	d := &models.ModerationDecision{
		CommentID:          c.ID,
		AccountID:          c.AccountID,
		Category:           j.result.Category,
		Severity:           j.result.Severity,
		Confidence:         j.result.Confidence,
		Rationale:          j.result.Rationale,
		RiskScore:          trace.RiskScore,
		FormulaTrace:       trace,
		ActionTaken:        action,
		ModelName:          j.result.Model,
		Source:             j.result.Source,
		IsDegradedMode:     j.result.Degraded,
		InjectionSuspected: j.result.InjectionSuspected,
		CustomFilterIDs:    j.result.MatchedRuleIDs,
		TextHash:           c.TextHash,
	}
	if j.precedent != nil {
		id := j.precedent.Candidate.ID
		d.PrecedentID = &id
	}
	if err := s.Decisions.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("store decision: %w", err)
	}

	if err := s.Suspicious.SaveIdentifiers(ctx, c, j.result.Identifiers); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to store identifiers",
			slog.Uint64("comment_id", uint64(c.ID)), slog.String("error", err.Error()))
	}
	if err := s.Suspicious.Record(ctx, c, d, history.Velocity); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to update commenter history",
			slog.String("commenter_id", c.CommenterID), slog.String("error", err.Error()))
	}

	status, err := s.Executor.Execute(ctx, account, c, d, Payloads{
		Request:  j.result.RequestPayload,
		Response: j.result.ResponsePayload,
	})
	if err != nil {
		return nil, err
	}

	observability.Decisions.WithLabelValues(string(d.Category), string(d.ActionTaken), string(d.Source)).Inc()
	s.escalate(ctx, c, d)
	s.publish(ctx, c, d, status)

	middleware.Logger.InfoContext(ctx, "comment moderated",
		slog.Uint64("comment_id", uint64(c.ID)),
		slog.String("category", string(d.Category)),
		slog.Int("risk_score", d.RiskScore),
		slog.String("action", string(d.ActionTaken)),
		slog.String("status", string(status)),
		slog.String("source", string(d.Source)),
	)
	return &Outcome{Decision: d, Status: status}, nil
}

// EmbedBatch embeds every NEW comment among ids that lacks a vector with a single
// Embedder call. Moderate falls back to one call per comment for anything this
// leaves unembedded.
func (s *ModerationService) EmbedBatch(ctx context.Context, ids []uint) {
	if s.Embedder == nil || len(ids) == 0 {
		return
	}
	comments, err := s.Comments.ListUnembedded(ctx, ids)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to list comments to embed", slog.String("error", err.Error()))
		return
	}
	if len(comments) == 0 {
		return
	}
	texts := make([]string, len(comments))
	for i, c := range comments {
		texts[i] = c.Text
	}
	vecs, err := s.Embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(comments) {
		if err == nil {
			err = fmt.Errorf("got %d vectors for %d texts", len(vecs), len(comments))
		}
		middleware.Logger.WarnContext(ctx, "batch embedding failed, falling back per comment",
			slog.Int("comments", len(comments)), slog.String("error", err.Error()))
		return
	}
	for i, c := range comments {
		if len(vecs[i]) == 0 {
			continue
		}
		if err := s.Comments.SaveEmbedding(ctx, c.ID, vecs[i]); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to store embedding",
				slog.Uint64("comment_id", uint64(c.ID)), slog.String("error", err.Error()))
		}
	}
}

func (s *ModerationService) ensureEmbedding(ctx context.Context, c *models.Comment) {
	if s.Embedder == nil || len(c.EmbeddingSlice()) > 0 {
		return
	}
	vecs, err := s.Embedder.Embed(ctx, []string{c.Text})
	if err != nil || len(vecs) != 1 || len(vecs[0]) == 0 {
		if err != nil {
			middleware.Logger.WarnContext(ctx, "embedding failed, continuing without precedents",
				slog.Uint64("comment_id", uint64(c.ID)), slog.String("error", err.Error()))
		}
		return
	}
	if err := s.Comments.SaveEmbedding(ctx, c.ID, vecs[0]); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to store embedding",
			slog.Uint64("comment_id", uint64(c.ID)), slog.String("error", err.Error()))
	}
	c.SetEmbedding(vecs[0])
}

// judge short-circuits on a matching precedent, otherwise asks the classifier.
func (s *ModerationService) judge(ctx context.Context, c *models.Comment) (judgment, error) {
	vec := c.EmbeddingSlice()

	var candidates []similarity.Candidate
	if len(vec) > 0 {
		var err error
		candidates, err = s.precedents(ctx, c.AccountID)
		if err != nil {
			return judgment{}, err
		}
	}

	if len(candidates) > 0 && s.Flags.EnabledOr(featureflags.PrecedentShortCircuit, c.AccountID, true) {
		fallback, err := s.threshold(ctx, c.AccountID)
		if err != nil {
			return judgment{}, err
		}
		if m, ok := similarity.MatchPrecedent(vec, candidates, fallback); ok {
			observability.PrecedentHits.WithLabelValues(string(m.Candidate.Action)).Inc()
			return judgment{result: precedentResult(m), precedent: &m}, nil
		}
	}

	filters, err := s.filters(ctx, c.AccountID)
	if err != nil {
		return judgment{}, err
	}

	res := s.Classifier.Classify(ctx, classifier.Input{
		Text:          c.Text,
		Rules:         classifier.RulesFromFilters(filters),
		Hint:          allowHint(vec, candidates),
		SecondaryPass: s.Flags.EnabledOr(featureflags.SecondaryPass, c.AccountID, true),
	})
	return judgment{result: res, filters: matchedFilters(filters, res.MatchedRuleIDs)}, nil
}

func precedentResult(m similarity.Match) classifier.Result {
	res := classifier.Result{
		Category:   m.Candidate.Category,
		Confidence: m.Similarity,
		Source:     models.SourcePrecedent,
		Rationale:  fmt.Sprintf("matched reviewed precedent %d at similarity %.3f", m.Candidate.ID, m.Similarity),
	}
	if m.Candidate.Action.Enforcement() != models.ActionAllow {
		res.Severity = 100
	} else {
		res.Category = models.CategoryBenign
	}
	if !res.Category.Valid() {
		res.Category = models.CategorySpam
	}
	return res
}

// allowHint returns the closest allow-similar precedent that did not reach its
// threshold but is still close enough to mention.
func allowHint(vec []float32, candidates []similarity.Candidate) *classifier.SimilarityHint {
	var best *classifier.SimilarityHint
	for _, cand := range candidates {
		if cand.Action != models.ReviewAllowSimilar {
			continue
		}
		sim := similarity.Cosine(vec, cand.Embedding)
		if sim < hintSimilarity {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &classifier.SimilarityHint{Similarity: sim, Verdict: cand.Action}
		}
	}
	return best
}

func matchedFilters(filters []models.CustomFilter, ids []uint) []models.CustomFilter {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.CustomFilter
	for _, f := range filters {
		if _, ok := want[f.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (s *ModerationService) decide(ctx context.Context, accountID uint, j judgment, trace risk.Result) (models.ActionType, error) {
	if j.precedent != nil {
		return j.precedent.Candidate.Action.Enforcement(), nil
	}
	override, err := s.Accounts.CategorySetting(ctx, accountID, j.result.Category)
	if err != nil {
		return "", fmt.Errorf("load category setting: %w", err)
	}
	settings := s.Policy.Resolve(j.result.Category, override).WithFilters(j.filters)
	return risk.Decide(risk.Judgment{
		Category:           j.result.Category,
		Confidence:         j.result.Confidence,
		Degraded:           j.result.Degraded,
		InjectionSuspected: j.result.InjectionSuspected,
	}, trace, settings), nil
}

func (s *ModerationService) precedents(ctx context.Context, accountID uint) ([]similarity.Candidate, error) {
	var out []similarity.Candidate
	err := cache.Aside(ctx, cache.PrecedentsKey(accountID), &out, cache.PrecedentsTTL, func() error {
		ps, err := s.Reviews.ListPrecedents(ctx, accountID)
		if err != nil {
			return err
		}
		out = similarity.FromPrecedents(ps)
		return nil
	})
	return out, err
}

func (s *ModerationService) threshold(ctx context.Context, accountID uint) (float64, error) {
	return accountThreshold(ctx, s.Similarity, accountID)
}

// accountThreshold is the sampled similarity threshold of an account, cached.
func accountThreshold(ctx context.Context, repo repository.SimilarityRepository, accountID uint) (float64, error) {
	var out float64
	err := cache.Aside(ctx, cache.ThresholdKey(accountID), &out, cache.ThresholdTTL, func() error {
		vecs, err := repo.SampleEmbeddings(ctx, accountID, thresholdSamples)
		if err != nil {
			return err
		}
		rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		out = similarity.DynamicThreshold(vecs, thresholdPairs, rng)
		return nil
	})
	return out, err
}

func (s *ModerationService) filters(ctx context.Context, accountID uint) ([]models.CustomFilter, error) {
	var out []models.CustomFilter
	err := cache.Aside(ctx, cache.FiltersKey(accountID), &out, cache.FiltersTTL, func() error {
		var err error
		out, err = s.Reviews.ListFilters(ctx, accountID)
		return err
	})
	return out, err
}

func (s *ModerationService) escalate(ctx context.Context, c *models.Comment, d *models.ModerationDecision) {
	if !d.FormulaTrace.ShouldEscalate || !s.Flags.EnabledOr(featureflags.EscalationAlerts, c.AccountID, true) {
		return
	}
	s.Alerter.Escalate(ctx, alerting.Escalation{
		AccountID:     c.AccountID,
		CommentID:     c.ID,
		CommenterName: c.CommenterName,
		Category:      string(d.Category),
		RiskScore:     d.RiskScore,
		Action:        string(d.ActionTaken),
		Excerpt:       excerpt(c.Text),
	})
}

func (s *ModerationService) publish(ctx context.Context, c *models.Comment, d *models.ModerationDecision, status models.ModerationStatus) {
	if s.Publisher == nil || !status.Reviewable() {
		return
	}
	typ := notifications.EventCommentFlagged
	if status == models.StatusFlaggedForReview && (d.ActionTaken == models.ActionHide || d.ActionTaken == models.ActionDelete) {
		typ = notifications.EventActionFailed
	}
	err := s.Publisher.PublishReviewEvent(ctx, notifications.ReviewEvent{
		Type:      typ,
		AccountID: c.AccountID,
		CommentID: c.ID,
		Status:    string(status),
		Category:  string(d.Category),
		RiskScore: d.RiskScore,
		Action:    string(d.ActionTaken),
		Excerpt:   excerpt(c.Text),
	})
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish review event",
			slog.Uint64("comment_id", uint64(c.ID)), slog.String("error", err.Error()))
	}
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptRunes {
		return text
	}
	return string(r[:excerptRunes]) + "…"
}
