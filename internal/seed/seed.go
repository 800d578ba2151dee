package seed

import (
	"context"
	"fmt"
	"log"
	"slices"

	"commentguard/internal/credentials"
	"commentguard/internal/database"
	"commentguard/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	Accounts        int
	PostsPerAccount int
	CommentsPerPost int
	Mix             Mix
	// MaxDays bounds how far back posts are dated.
	MaxDays int
	// Clean wipes every persistent table first. Without it, Run is a no-op on a
	// database that already has accounts.
	Clean    bool
	DryRun   bool
	RandSeed int64
}

// DefaultOptions is the demo dataset used by development startup.
func DefaultOptions() Options {
	return Options{
		Accounts:        2,
		PostsPerAccount: 5,
		CommentsPerPost: 12,
		Mix:             defaultMix,
		MaxDays:         14,
	}
}

// Summary counts what Run created.
type Summary struct {
	Accounts int
	Posts    int
	Comments int
	Skipped  bool
}

// Run fills db with fake accounts, posts and unmoderated comments.
func Run(ctx context.Context, db *gorm.DB, opts Options, sealer *credentials.Sealer) (*Summary, error) {
	if opts.Mix == (Mix{}) {
		opts.Mix = defaultMix
	}
	sum := &Summary{}

	if !opts.DryRun {
		if opts.Clean {
			if err := clearData(ctx, db); err != nil {
				return nil, fmt.Errorf("clean: %w", err)
			}
		} else {
			var existing int64
			if err := db.WithContext(ctx).Model(&models.Account{}).Count(&existing).Error; err != nil {
				return nil, err
			}
			if existing > 0 {
				log.Printf("seed: %d accounts already present, skipping", existing)
				sum.Skipped = true
				return sum, nil
			}
		}
	}

	f := NewFactory(db, opts, sealer)
	for i := 0; i < opts.Accounts; i++ {
		account, err := f.CreateAccount(ctx)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		sum.Accounts++

		posts := make([]*models.Post, 0, opts.PostsPerAccount)
		for j := 0; j < opts.PostsPerAccount; j++ {
			posts = append(posts, f.BuildPost(account))
		}
		if err := f.CreatePostsBatch(ctx, posts); err != nil {
			return nil, fmt.Errorf("posts for account %d: %w", account.ID, err)
		}
		sum.Posts += len(posts)

		for _, post := range posts {
			comments := buildComments(f, post, opts.CommentsPerPost, opts.Mix)
			if err := f.CreateCommentsBatch(ctx, comments); err != nil {
				return nil, fmt.Errorf("comments for post %d: %w", post.ID, err)
			}
			sum.Comments += len(comments)
		}
	}

	log.Printf("seed: created %d accounts, %d posts, %d comments", sum.Accounts, sum.Posts, sum.Comments)
	return sum, nil
}

func buildComments(f *Factory, post *models.Post, n int, mix Mix) []*models.Comment {
	benign, spam, abusive := computeCounts(n, mix)
	out := make([]*models.Comment, 0, n)
	for _, batch := range []struct {
		kind  CommentKind
		count int
	}{{KindBenign, benign}, {KindSpam, spam}, {KindAbusive, abusive}} {
		for k := 0; k < batch.count; k++ {
			out = append(out, f.BuildComment(post, batch.kind))
		}
	}
	f.faker.ShuffleAnySlice(out)
	return out
}

// clearData deletes every row of every persistent table, children first.
func clearData(ctx context.Context, db *gorm.DB) error {
	tables := database.PersistentModels()
	slices.Reverse(tables)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range tables {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
