package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"commentguard/internal/alerting"
	"commentguard/internal/classifier"
	"commentguard/internal/featureflags"
	"commentguard/internal/models"
	"commentguard/internal/notifications"
	"commentguard/internal/observability"
	"commentguard/internal/repository"
	"commentguard/internal/retry"
	"commentguard/internal/risk"
	"commentguard/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const benignReply = `{"category":"benign","severity":0,"confidence":0.95,"rationale":"friendly remark"}`

type recordingAlerter struct {
	mu   sync.Mutex
	sent []alerting.Escalation
}

func (a *recordingAlerter) Escalate(_ context.Context, e alerting.Escalation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, e)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.ReviewEvent
}

func (p *recordingPublisher) PublishReviewEvent(_ context.Context, ev notifications.ReviewEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	account  *models.Account
	platform *testutil.PlatformStub
	llm      *testutil.LLMStub
	embedder *testutil.EmbedderStub
	alerter  *recordingAlerter
	events   *recordingPublisher

	accounts   repository.AccountRepository
	posts      repository.PostRepository
	comments   repository.CommentRepository
	decisions  repository.DecisionRepository
	reviews    repository.ReviewRepository
	suspicious repository.SuspiciousRepository

	sync       *SyncService
	executor   *ActionExecutor
	moderation *ModerationService
	review     *ReviewService
	worker     *AccountWorker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)

	f := &fixture{
		db:       db,
		platform: testutil.NewPlatformStub(),
		llm:      testutil.NewLLMReply(benignReply),
		embedder: testutil.NewEmbedderStub(nil),
		alerter:  &recordingAlerter{},
		events:   &recordingPublisher{},

		accounts:   repository.NewAccountRepository(db),
		posts:      repository.NewPostRepository(db),
		comments:   repository.NewCommentRepository(db),
		decisions:  repository.NewDecisionRepository(db),
		reviews:    repository.NewReviewRepository(db),
		suspicious: repository.NewSuspiciousRepository(db),
	}

	f.account = &models.Account{ExternalID: "ig-1", DisplayName: "brand", SealedToken: "token", IsActive: true}
	require.NoError(t, db.Create(f.account).Error)

	tokens := NewTokenSource(nil)
	cfg := classifier.DefaultConfig("test-model")
	cfg.Retry = retry.Linear(time.Millisecond, 2)
	cls := classifier.New(f.llm, cfg)
	simRepo := repository.NewSimilarityRepository(db)

	f.sync = NewSyncService(f.accounts, f.posts, f.comments, f.platform, tokens,
		SyncConfig{DeepCheckWindow: 2, HybridWindow: 10, DeepSyncWindow: 50})
	f.executor = NewActionExecutor(f.comments, f.decisions, f.platform, tokens)
	f.moderation = NewModerationService(ModerationDeps{
		Accounts:   f.accounts,
		Comments:   f.comments,
		Decisions:  f.decisions,
		Reviews:    f.reviews,
		Similarity: simRepo,
		Classifier: cls,
		Embedder:   f.embedder,
		Suspicious: NewSuspiciousService(f.suspicious, f.comments),
		Executor:   f.executor,
		Policy:     risk.DefaultPolicy(),
		Flags:      featureflags.NewManager(""),
		Alerter:    f.alerter,
		Publisher:  f.events,
	})
	f.review = NewReviewService(f.accounts, f.comments, f.decisions, f.reviews, simRepo, f.executor, cls, f.events)
	f.worker = NewAccountWorker(f.accounts, f.comments, f.sync, f.moderation, f.platform, tokens)
	return f
}

// replyBy answers primary and secondary classifier prompts separately.
func replyBy(primary, secondary string) func(classifier.CompletionRequest) (classifier.CompletionResponse, error) {
	return func(req classifier.CompletionRequest) (classifier.CompletionResponse, error) {
		content := primary
		if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "re-checking") {
			content = secondary
		}
		return classifier.CompletionResponse{Content: content, Model: "stub-model"}, nil
	}
}

func (f *fixture) seedPost(t *testing.T, external string) *models.Post {
	t.Helper()
	p := &models.Post{AccountID: f.account.ID, ExternalID: external, PostedAt: time.Now()}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

// seedComment stores a comment in status with an optional embedding.
func (f *fixture) seedComment(t *testing.T, post *models.Post, external, text string, status models.ModerationStatus, vec []float32) *models.Comment {
	t.Helper()
	c := &models.Comment{
		AccountID:     f.account.ID,
		PostID:        post.ID,
		ExternalID:    external,
		Text:          text,
		CommenterID:   "u-" + external,
		CommenterName: "user " + external,
		CommentedAt:   time.Now(),
		Status:        status,
	}
	c.SetEmbedding(vec)
	require.NoError(t, f.comments.Create(context.Background(), c))
	return c
}

func (f *fixture) reload(t *testing.T, id uint) *models.Comment {
	t.Helper()
	c, err := f.comments.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

// platformSamples is the number of successful calls of op recorded so far.
func platformSamples(t *testing.T, op string) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, observability.PlatformCallLatency.WithLabelValues(op, "ok").(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}
