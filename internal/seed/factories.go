// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log"
	"time"

	"commentguard/internal/credentials"
	"commentguard/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// CommentKind is the flavor of a generated comment.
type CommentKind string

const (
	KindBenign  CommentKind = "benign"
	KindSpam    CommentKind = "spam"
	KindAbusive CommentKind = "abusive"
)

// Mix is the percentage of each comment kind. Values should sum to 100.
type Mix struct {
	Benign  int
	Spam    int
	Abusive int
}

var defaultMix = Mix{Benign: 70, Spam: 20, Abusive: 10}

var spamTemplates = []string{
	"Want %d free followers? DM me now 💰 %s",
	"I made $%d from home last week, link in bio %s",
	"Promote your page with us! %d%% off today only %s",
	"Crypto giveaway: send 1 get %d back %s",
}

var abusiveTemplates = []string{
	"nobody asked for your opinion %s, log off",
	"this is the dumbest post I have seen all week %s",
	"%s you are a clown and everyone knows it",
	"delete your account %s, seriously",
}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by Run and tests.
type Factory struct {
	db      *gorm.DB
	faker   *gofakeit.Faker
	sealer  *credentials.Sealer
	maxDays int
	dryRun  bool
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a Factory bound to db. A nil sealer stores demo tokens as
// plaintext.
func NewFactory(db *gorm.DB, opts Options, sealer *credentials.Sealer) *Factory {
	var faker *gofakeit.Faker
	if opts.RandSeed != 0 {
		faker = gofakeit.New(opts.RandSeed)
	} else {
		faker = gofakeit.New(time.Now().UnixNano())
	}
	maxDays := opts.MaxDays
	if maxDays <= 0 {
		maxDays = 30
	}
	return &Factory{db: db, faker: faker, sealer: sealer, maxDays: maxDays, dryRun: opts.DryRun, nextID: 1000}
}

func (f *Factory) syntheticID() uint {
	f.nextID++
	return f.nextID
}

// pastTime returns a timestamp spread over the last maxDays.
func (f *Factory) pastTime() time.Time {
	back := time.Duration(f.faker.Number(0, f.maxDays*24*60)) * time.Minute
	return time.Now().UTC().Add(-back)
}

// BuildAccount constructs an account with a sealed demo token.
func (f *Factory) BuildAccount(overrides ...func(*models.Account)) (*models.Account, error) {
	token := "demo-" + f.faker.UUID()
	if f.sealer != nil {
		sealed, err := f.sealer.Seal(token)
		if err != nil {
			return nil, err
		}
		token = sealed
	}
	account := &models.Account{
		Platform:      "instagram",
		ExternalID:    fmt.Sprintf("178%014d", f.faker.Number(1, 99999999)),
		DisplayName:   f.faker.Username(),
		SealedToken:   token,
		IsActive:      true,
		FollowerCount: int64(f.faker.Number(500, 250000)),
	}
	for _, override := range overrides {
		override(account)
	}
	return account, nil
}

// CreateAccount constructs and persists an account.
func (f *Factory) CreateAccount(ctx context.Context, overrides ...func(*models.Account)) (*models.Account, error) {
	account, err := f.BuildAccount(overrides...)
	if err != nil {
		return nil, err
	}
	if f.dryRun {
		account.ID = f.syntheticID()
		log.Printf("[dry-run] CreateAccount: external_id=%s name=%s", account.ExternalID, account.DisplayName)
		return account, nil
	}
	if err := f.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

// BuildPost constructs a post for account without persisting it.
func (f *Factory) BuildPost(account *models.Account, overrides ...func(*models.Post)) *models.Post {
	post := &models.Post{
		AccountID:  account.ID,
		ExternalID: f.faker.UUID(),
		Caption:    f.faker.Sentence(12),
		PostedAt:   f.pastTime(),
	}
	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePostsBatch persists multiple posts in a single DB call.
func (f *Factory) CreatePostsBatch(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	if f.dryRun {
		for _, p := range posts {
			p.ID = f.syntheticID()
		}
		log.Printf("[dry-run] CreatePostsBatch: %d posts (no DB write)", len(posts))
		return nil
	}
	return f.db.WithContext(ctx).Create(&posts).Error
}

// CommentText generates a comment body of the given kind.
func (f *Factory) CommentText(kind CommentKind) string {
	switch kind {
	case KindSpam:
		tpl := spamTemplates[f.faker.Number(0, len(spamTemplates)-1)]
		return fmt.Sprintf(tpl, f.faker.Number(100, 10000), f.faker.URL())
	case KindAbusive:
		tpl := abusiveTemplates[f.faker.Number(0, len(abusiveTemplates)-1)]
		return fmt.Sprintf(tpl, "@"+f.faker.Username())
	default:
		return f.faker.Sentence(f.faker.Number(3, 14))
	}
}

// BuildComment constructs an unmoderated comment on post. Spam comments reuse a
// small pool of commenter IDs so the demo data contains repeat offenders.
func (f *Factory) BuildComment(post *models.Post, kind CommentKind, overrides ...func(*models.Comment)) *models.Comment {
	text := f.CommentText(kind)
	commenterID := fmt.Sprintf("%d", f.faker.Number(100000, 999999999))
	if kind == KindSpam {
		commenterID = fmt.Sprintf("spam-%d", f.faker.Number(1, 5))
	}
	commentedAt := post.PostedAt.Add(time.Duration(f.faker.Number(1, 72*60)) * time.Minute)
	if now := time.Now().UTC(); commentedAt.After(now) {
		commentedAt = now
	}
	comment := &models.Comment{
		AccountID:     post.AccountID,
		PostID:        post.ID,
		ExternalID:    f.faker.UUID(),
		Text:          text,
		TextHash:      models.HashText(text),
		CommenterID:   commenterID,
		CommenterName: f.faker.Username(),
		CommentedAt:   commentedAt,
		Status:        models.StatusNew,
	}
	for _, override := range overrides {
		override(comment)
	}
	return comment
}

// CreateCommentsBatch persists multiple comments in a single DB call.
func (f *Factory) CreateCommentsBatch(ctx context.Context, comments []*models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	if f.dryRun {
		for _, c := range comments {
			c.ID = f.syntheticID()
		}
		log.Printf("[dry-run] CreateCommentsBatch: %d comments (no DB write)", len(comments))
		return nil
	}
	return f.db.WithContext(ctx).Create(&comments).Error
}

// computeCounts splits n across the mix using largest remainders so the
// result always sums to n.
func computeCounts(n int, mix Mix) (benign, spam, abusive int) {
	total := mix.Benign + mix.Spam + mix.Abusive
	if n <= 0 || total <= 0 {
		return n, 0, 0
	}
	shares := [3]int{mix.Benign, mix.Spam, mix.Abusive}
	var counts, rems [3]int
	assigned := 0
	for i, s := range shares {
		counts[i] = n * s / total
		rems[i] = n * s % total
		assigned += counts[i]
	}
	for assigned < n {
		best := 0
		for i := 1; i < len(rems); i++ {
			if rems[i] > rems[best] {
				best = i
			}
		}
		counts[best]++
		rems[best] = -1
		assigned++
	}
	return counts[0], counts[1], counts[2]
}
