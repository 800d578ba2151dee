package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"commentguard/internal/classifier"
	"commentguard/internal/config"
	"commentguard/internal/coordinator"
	"commentguard/internal/featureflags"
	"commentguard/internal/models"
	"commentguard/internal/notifications"
	"commentguard/internal/repository"
	"commentguard/internal/retry"
	"commentguard/internal/risk"
	"commentguard/internal/service"
	"commentguard/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

type apiFixture struct {
	db       *gorm.DB
	account  *models.Account
	platform *testutil.PlatformStub
	locks    *coordinator.LocalLockSet
	coord    *coordinator.Coordinator
	comments repository.CommentRepository
	app      *fiber.App
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)

	f := &apiFixture{
		db:       db,
		platform: testutil.NewPlatformStub(),
		locks:    coordinator.NewLocalLockSet(),
		comments: repository.NewCommentRepository(db),
	}
	f.account = &models.Account{ExternalID: "ig-1", DisplayName: "brand", SealedToken: "token", IsActive: true}
	require.NoError(t, db.Create(f.account).Error)

	accounts := repository.NewAccountRepository(db)
	decisions := repository.NewDecisionRepository(db)
	reviews := repository.NewReviewRepository(db)
	suspicious := repository.NewSuspiciousRepository(db)
	simRepo := repository.NewSimilarityRepository(db)
	tokens := service.NewTokenSource(nil)

	cfg := classifier.DefaultConfig("test-model")
	cfg.Retry = retry.Linear(time.Millisecond, 2)
	cls := classifier.New(testutil.NewLLMReply(`{"category":"benign","severity":0,"confidence":0.9}`), cfg)

	hub := notifications.NewHub()
	executor := service.NewActionExecutor(f.comments, decisions, f.platform, tokens)
	suspiciousSvc := service.NewSuspiciousService(suspicious, f.comments)
	syncSvc := service.NewSyncService(accounts, repository.NewPostRepository(db), f.comments, f.platform, tokens,
		service.SyncConfig{DeepCheckWindow: 2, HybridWindow: 10, DeepSyncWindow: 50})
	moderation := service.NewModerationService(service.ModerationDeps{
		Accounts:   accounts,
		Comments:   f.comments,
		Decisions:  decisions,
		Reviews:    reviews,
		Similarity: simRepo,
		Classifier: cls,
		Embedder:   testutil.NewEmbedderStub(nil),
		Suspicious: suspiciousSvc,
		Executor:   executor,
		Policy:     risk.DefaultPolicy(),
		Flags:      featureflags.NewManager(""),
		Publisher:  hub,
	})
	f.coord = coordinator.New(f.locks, 2, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.coord.Shutdown(ctx)
	})

	s := NewServer(&config.Config{JWTSecret: testSecret, Port: "0"}, Deps{
		DB:          db,
		Accounts:    accounts,
		Review:      service.NewReviewService(accounts, f.comments, decisions, reviews, simRepo, executor, cls, hub),
		Suspicious:  suspiciousSvc,
		Fraud:       service.NewFraudService(suspicious),
		Worker:      service.NewAccountWorker(accounts, f.comments, syncSvc, moderation, f.platform, tokens),
		Coordinator: f.coord,
		Flags:       featureflags.NewManager("precedent_shortcircuit=false,secondary_pass=true"),
		Hub:         hub,
	})
	f.app = s.NewApp()
	return f
}

func bearer(reviewerID uint) string {
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(reviewerID), 10),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	str, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	return str
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+bearer(42))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (f *apiFixture) queued(t *testing.T, external string, status models.ModerationStatus) *models.Comment {
	t.Helper()
	post := &models.Post{AccountID: f.account.ID, ExternalID: "post-" + external, PostedAt: time.Now()}
	require.NoError(t, f.db.Create(post).Error)
	c := &models.Comment{
		AccountID:   f.account.ID,
		PostID:      post.ID,
		ExternalID:  external,
		Text:        "follow me for free followers",
		CommenterID: "u-" + external,
		CommentedAt: time.Now(),
		Status:      status,
	}
	c.SetEmbedding(testutil.Vec(0.6, 0.8))
	require.NoError(t, f.comments.Create(context.Background(), c))
	return c
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "Token abc"},
		{"wrong secret", "Bearer " + func() string {
			str, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("other"))
			return str
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/accounts/%d/comments", f.account.ID), nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := f.app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestAPI_ListAccountComments(t *testing.T) {
	f := newAPIFixture(t)
	f.queued(t, "c1", models.StatusFlaggedForReview)
	f.queued(t, "c2", models.StatusAllowed)

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/comments?filter=flagged", f.account.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Comments []models.Comment `json:"comments"`
		Total    int64            `json:"total"`
	}
	decode(t, resp, &body)
	assert.EqualValues(t, 1, body.Total)
	require.Len(t, body.Comments, 1)
	assert.Equal(t, "c1", body.Comments[0].ExternalID)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/comments?filter=spicy", f.account.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/accounts/999/comments", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_SubmitReviewHidesComment(t *testing.T) {
	f := newAPIFixture(t)
	c := f.queued(t, "c1", models.StatusFlaggedForReview)

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/comments/%d/review", c.ID), ReviewRequest{Action: "hide_this", Notes: "spam"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res service.ReviewResult
	decode(t, resp, &res)
	assert.Equal(t, models.StatusReviewedHidden, res.Status)
	require.NotNil(t, res.Action)
	assert.EqualValues(t, 42, res.Action.ReviewerID)
	assert.True(t, f.platform.HiddenChanges["c1"])

	stored, err := f.comments.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewedHidden, stored.Status)
}

func TestAPI_SubmitReviewErrors(t *testing.T) {
	f := newAPIFixture(t)
	allowed := f.queued(t, "c1", models.StatusAllowed)
	queued := f.queued(t, "c2", models.StatusFlaggedForReview)

	tests := []struct {
		name     string
		id       uint
		body     any
		expected int
	}{
		{"not reviewable", allowed.ID, ReviewRequest{Action: "hide_this"}, http.StatusConflict},
		{"unknown action", queued.ID, ReviewRequest{Action: "ban"}, http.StatusBadRequest},
		{"threshold out of range", queued.ID, map[string]any{"action": "allow_similar", "similarity_threshold": 1.5}, http.StatusBadRequest},
		{"control characters in notes", queued.ID, ReviewRequest{Action: "hide_this", Notes: "bad\x00note"}, http.StatusBadRequest},
		{"unknown comment", 9999, ReviewRequest{Action: "hide_this"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/comments/%d/review", tt.id), tt.body)
			assert.Equal(t, tt.expected, resp.StatusCode)
		})
	}
}

func TestAPI_SubmitReviewEnforcementFailureIsBadGateway(t *testing.T) {
	f := newAPIFixture(t)
	f.platform.DeleteFn = func(string) (bool, error) { return false, errors.New("permission revoked") }
	c := f.queued(t, "c1", models.StatusFlaggedForReview)

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/comments/%d/review", c.ID), ReviewRequest{Action: "delete_this"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body struct {
		Error  string               `json:"error"`
		Result service.ReviewResult `json:"result"`
	}
	decode(t, resp, &body)
	assert.Contains(t, body.Error, "permission revoked")
	require.NotNil(t, body.Result.Action)
	assert.Contains(t, body.Result.Action.EnforcementError, "permission revoked")
	assert.Equal(t, models.StatusFlaggedForReview, body.Result.Status)
}

func TestAPI_TriggerSync(t *testing.T) {
	f := newAPIFixture(t)
	path := fmt.Sprintf("/api/accounts/%d/sync", f.account.ID)

	resp := f.do(t, http.MethodPost, path+"?mode=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	key := fmt.Sprintf("sync:%d", f.account.ID)
	ok, err := f.locks.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)

	resp = f.do(t, http.MethodPost, path+"?mode=deep", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, f.locks.Release(context.Background(), key))
	resp = f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "sync_hybrid", body["job"])
}

func TestAPI_EvidenceAndSimilar(t *testing.T) {
	f := newAPIFixture(t)
	target := f.queued(t, "c1", models.StatusFlaggedForReview)
	twin := f.queued(t, "c2", models.StatusNew)

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/comments/%d/similar?threshold=0.9", target.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var similar struct {
		Similar []struct {
			Comment    models.Comment `json:"comment"`
			Similarity float64        `json:"similarity"`
		} `json:"similar"`
	}
	decode(t, resp, &similar)
	require.Len(t, similar.Similar, 1)
	assert.Equal(t, twin.ID, similar.Similar[0].Comment.ID)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/comments/%d/similar?threshold=2", target.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/comments/%d/evidence", target.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bundle service.EvidenceBundle
	decode(t, resp, &bundle)
	assert.Equal(t, target.ID, bundle.Comment.ID)
	assert.Empty(t, bundle.Decisions)
}

func TestAPI_SuspiciousAndFraudClusters(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.db.Create(&models.SuspiciousAccount{
		AccountID:    f.account.ID,
		CommenterID:  "scammer",
		FlaggedCount: 3,
		PeakRisk:     80,
		FirstSeenAt:  time.Now(),
		LastSeenAt:   time.Now(),
	}).Error)
	require.NoError(t, f.db.Create(&[]models.ExtractedIdentifier{
		{CommentID: 1, AccountID: f.account.ID, CommenterID: "scammer", Kind: models.IdentifierPayment, Value: "$win", Normalized: "cashapp:win"},
		{CommentID: 2, AccountID: f.account.ID, CommenterID: "scammer-2", Kind: models.IdentifierPayment, Value: "$WIN", Normalized: "cashapp:win"},
	}).Error)

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/suspicious", f.account.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sus struct {
		Suspicious []models.SuspiciousAccount `json:"suspicious"`
	}
	decode(t, resp, &sus)
	require.Len(t, sus.Suspicious, 1)
	assert.Equal(t, "scammer", sus.Suspicious[0].CommenterID)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/fraud-clusters", f.account.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fraud struct {
		Clusters []struct {
			Members     []map[string]any `json:"members"`
			Identifiers []string         `json:"identifiers"`
		} `json:"clusters"`
	}
	decode(t, resp, &fraud)
	require.Len(t, fraud.Clusters, 1)
	assert.Len(t, fraud.Clusters[0].Members, 2)
	assert.Equal(t, []string{"cashapp:win"}, fraud.Clusters[0].Identifiers)
}

func TestAPI_FeatureFlags(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/feature-flags", f.account.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Evaluated map[string]bool `json:"evaluated"`
	}
	decode(t, resp, &body)
	assert.False(t, body.Evaluated["precedent_shortcircuit"])
	assert.True(t, body.Evaluated["secondary_pass"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, path, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Equal(t, "unavailable", body.Checks["redis"])
}

func TestReviewFeed_RejectsPlainHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/review", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/review?token="+bearer(7), nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.NotEmpty(t, resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}
