package seed

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"commentguard/internal/credentials"
	"commentguard/internal/models"
	"commentguard/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCounts_Default(t *testing.T) {
	benign, spam, abusive := computeCounts(10, defaultMix)
	assert.Equal(t, 7, benign)
	assert.Equal(t, 2, spam)
	assert.Equal(t, 1, abusive)
}

func TestComputeCounts_RemaindersSumToN(t *testing.T) {
	benign, spam, abusive := computeCounts(7, Mix{Benign: 34, Spam: 33, Abusive: 33})
	assert.Equal(t, 7, benign+spam+abusive)
	assert.Equal(t, 3, benign)
}

func TestComputeCounts_EmptyMix(t *testing.T) {
	benign, spam, abusive := computeCounts(5, Mix{})
	assert.Equal(t, 5, benign)
	assert.Zero(t, spam+abusive)
}

func TestBuildComment_Kinds(t *testing.T) {
	f := NewFactory(nil, Options{DryRun: true, RandSeed: 42}, nil)
	account, err := f.CreateAccount(context.Background())
	require.NoError(t, err)
	post := f.BuildPost(account)

	spam := f.BuildComment(post, KindSpam)
	assert.True(t, strings.HasPrefix(spam.CommenterID, "spam-"))
	assert.Equal(t, models.HashText(spam.Text), spam.TextHash)
	assert.Equal(t, models.StatusNew, spam.Status)
	assert.False(t, spam.CommentedAt.Before(post.PostedAt))

	abusive := f.BuildComment(post, KindAbusive)
	assert.Contains(t, abusive.Text, "@")
}

func TestBuildAccount_SealsToken(t *testing.T) {
	sealer, err := credentials.NewSealer(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
	require.NoError(t, err)
	f := NewFactory(nil, Options{DryRun: true}, sealer)

	account, err := f.BuildAccount()
	require.NoError(t, err)
	plain, err := sealer.Open(account.SealedToken)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, "demo-"))
}

func TestRun_CreatesDataset(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	opts := Options{Accounts: 2, PostsPerAccount: 3, CommentsPerPost: 10, RandSeed: 7}

	sum, err := Run(ctx, db, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Accounts: 2, Posts: 6, Comments: 60}, sum)

	var comments int64
	require.NoError(t, db.Model(&models.Comment{}).Where("status = ?", models.StatusNew).Count(&comments).Error)
	assert.EqualValues(t, 60, comments)

	var spam int64
	require.NoError(t, db.Model(&models.Comment{}).Where("commenter_id LIKE ?", "spam-%").Count(&spam).Error)
	assert.EqualValues(t, 12, spam)
}

func TestRun_SkipsPopulatedDatabase(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Account{ExternalID: "existing", IsActive: true}).Error)

	sum, err := Run(ctx, db, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.True(t, sum.Skipped)

	var accounts int64
	require.NoError(t, db.Model(&models.Account{}).Count(&accounts).Error)
	assert.EqualValues(t, 1, accounts)
}

func TestRun_CleanReplacesData(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Account{ExternalID: "existing", IsActive: true}).Error)

	opts := Options{Accounts: 1, PostsPerAccount: 1, CommentsPerPost: 2, Clean: true}
	_, err := Run(ctx, db, opts, nil)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Account{}).Where("external_id = ?", "existing").Count(&count).Error)
	assert.Zero(t, count)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	sum, err := Run(context.Background(), db, Options{Accounts: 1, PostsPerAccount: 2, CommentsPerPost: 3, DryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Comments)

	var count int64
	require.NoError(t, db.Model(&models.Comment{}).Count(&count).Error)
	assert.Zero(t, count)
}
