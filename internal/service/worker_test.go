package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"commentguard/internal/coordinator"
	"commentguard/internal/models"
	"commentguard/internal/platform"
	"commentguard/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunSyncModeratesEnqueuedComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.platform.SetPosts("ig-1", platform.Post{ID: "p1", CommentCount: 2, PostedAt: t0})
	f.platform.SetComments("p1", remoteComment("c1", "", "nice"), remoteComment("c2", "c1", "thanks"))

	report, err := f.worker.RunSync(ctx, f.account.ID, ModeHybrid)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Moderated)
	assert.Zero(t, report.Failed)

	for _, ext := range []string{"c1", "c2"} {
		c, err := f.comments.FindByExternalID(ctx, f.account.ID, ext)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAllowed, c.Status, ext)
	}

	again, err := f.worker.RunSync(ctx, f.account.ID, ModeHybrid)
	require.NoError(t, err)
	assert.Zero(t, again.Moderated, "nothing changed remotely")
}

func TestWorker_RunSyncEmbedsEnqueuedCommentsInOneCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.Default = testutil.Vec(0.2, 0.9)
	f.platform.SetPosts("ig-1", platform.Post{ID: "p1", CommentCount: 3, PostedAt: t0})
	f.platform.SetComments("p1",
		remoteComment("c1", "", "love this"),
		remoteComment("c2", "c1", "same"),
		remoteComment("c3", "", "where was this taken"),
	)

	report, err := f.worker.RunSync(ctx, f.account.ID, ModeHybrid)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Moderated)
	assert.Equal(t, 1, f.embedder.Calls)

	for _, ext := range []string{"c1", "c2", "c3"} {
		c, err := f.comments.FindByExternalID(ctx, f.account.ID, ext)
		require.NoError(t, err)
		assert.Len(t, f.reload(t, c.ID).EmbeddingSlice(), models.EmbeddingDimensions, ext)
	}
}

func TestWorker_BatchEmbeddingFailureFallsBackPerComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.embedder.Err = errors.New("embedding quota")
	f.platform.SetPosts("ig-1", platform.Post{ID: "p1", CommentCount: 2, PostedAt: t0})
	f.platform.SetComments("p1", remoteComment("c1", "", "nice"), remoteComment("c2", "", "cool"))

	report, err := f.worker.RunSync(ctx, f.account.ID, ModeHybrid)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Moderated)
	assert.Equal(t, 3, f.embedder.Calls, "one batch attempt, then one call per comment")
}

func TestWorker_PicksUpLeftoverNewComments(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t, "p-old")
	left := f.seedComment(t, post, "c-old", "left behind", models.StatusNew, nil)

	report, err := f.worker.RunSync(context.Background(), f.account.ID, ModeHybrid)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Moderated)
	assert.Equal(t, models.StatusAllowed, f.reload(t, left.ID).Status)
}

func TestWorker_RefreshStats(t *testing.T) {
	f := newFixture(t)
	f.platform.SetStats("ig-1", platform.AccountStats{FollowerCount: 1234})

	require.NoError(t, f.worker.RefreshStats(context.Background(), f.account.ID))

	acc, err := f.accounts.GetByID(context.Background(), f.account.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, acc.FollowerCount)
	assert.NotNil(t, acc.FollowerCountAt)
}

type blockingModerator struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (m *blockingModerator) Moderate(context.Context, uint) (*Outcome, error) {
	m.once.Do(func() { close(m.started) })
	<-m.release
	return &Outcome{Status: models.StatusAllowed}, nil
}

func TestWorker_LockedAccountIsSkippedOthersRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &models.Account{ExternalID: "ig-2", SealedToken: "token", IsActive: true}
	require.NoError(t, f.db.Create(other).Error)

	f.platform.SetPosts("ig-1", platform.Post{ID: "p1", CommentCount: 1, PostedAt: t0})
	f.platform.SetComments("p1", remoteComment("c1", "", "hold"))

	mod := &blockingModerator{started: make(chan struct{}), release: make(chan struct{})}
	worker := NewAccountWorker(f.accounts, f.comments, f.sync, mod, f.platform, NewTokenSource(nil))
	coord := coordinator.New(coordinator.NewLocalLockSet(), 4, 4)
	job := worker.SyncJob(ModeHybrid)

	first := coord.Dispatch(ctx, job, []uint{f.account.ID})
	require.Equal(t, []uint{f.account.ID}, first.Dispatched)

	select {
	case <-mod.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached moderation")
	}

	second := coord.Dispatch(ctx, job, []uint{f.account.ID, other.ID})
	assert.Equal(t, []uint{f.account.ID}, second.Skipped)
	assert.Equal(t, []uint{other.ID}, second.Dispatched)
	require.NoError(t, second.Wait())

	_, err := coord.TryDispatch(ctx, worker.SyncJob(ModeDeep), f.account.ID)
	assert.True(t, errors.Is(err, coordinator.ErrLocked), "deep sync shares the sync lock")

	close(mod.release)
	require.NoError(t, first.Wait())
	require.NoError(t, coord.Shutdown(ctx))
}

func TestFraud_ClustersSpanAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &models.Account{ExternalID: "ig-2", SealedToken: "token", IsActive: true}
	require.NoError(t, f.db.Create(other).Error)

	ids := []models.ExtractedIdentifier{
		{CommentID: 1, AccountID: f.account.ID, CommenterID: "scammer-a", Kind: models.IdentifierPayment, Value: "$PayMe", Normalized: "cashapp:payme"},
		{CommentID: 2, AccountID: other.ID, CommenterID: "scammer-b", Kind: models.IdentifierPayment, Value: "$payme", Normalized: "cashapp:payme"},
		{CommentID: 3, AccountID: other.ID, CommenterID: "loner", Kind: models.IdentifierURL, Value: "x.io", Normalized: "url:x.io"},
	}
	require.NoError(t, f.suspicious.SaveIdentifiers(ctx, ids))

	svc := NewFraudService(f.suspicious)
	clusters, err := svc.Clusters(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 2)
	assert.Equal(t, []string{"cashapp:payme"}, clusters[0].Identifiers)

	none, err := svc.Clusters(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSuspicious_RecordFoldsDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewSuspiciousService(f.suspicious, f.comments)
	post := f.seedPost(t, "p1")
	c := f.seedComment(t, post, "c1", "spam spam", models.StatusNew, nil)

	require.NoError(t, svc.Record(ctx, c, &models.ModerationDecision{ActionTaken: models.ActionAllow, RiskScore: 5}, 1))
	rec, err := f.suspicious.Get(ctx, f.account.ID, c.CommenterID)
	require.NoError(t, err)
	assert.Nil(t, rec, "clean commenters are not tracked")

	require.NoError(t, svc.Record(ctx, c, &models.ModerationDecision{Category: models.CategorySpam, ActionTaken: models.ActionFlag, RiskScore: 40}, 2))
	require.NoError(t, svc.Record(ctx, c, &models.ModerationDecision{Category: models.CategoryBenign, ActionTaken: models.ActionAllow, RiskScore: 10}, 3))

	rec, err = f.suspicious.Get(ctx, f.account.ID, c.CommenterID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.TotalComments)
	assert.Equal(t, 1, rec.FlaggedCount)
	assert.Equal(t, 40, rec.PeakRisk)
	assert.InDelta(t, 25.0, rec.AverageRisk, 1e-9)
	assert.Equal(t, 1, rec.CategoryCounts["spam"])
	assert.Equal(t, 3.0, rec.Velocity)

	hist, err := svc.History(ctx, c)
	require.NoError(t, err)
	in := hist.Inputs(50, 0.5, time.Now())
	assert.Equal(t, 1, in.RepeatOffenderCount)
	assert.Equal(t, 1.0, in.CommentVelocity)
}
