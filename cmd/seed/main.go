// Command seed fills the database with fake accounts, posts and comments.
package main

import (
	"context"
	"flag"
	"log"

	"commentguard/internal/config"
	"commentguard/internal/credentials"
	"commentguard/internal/database"
	"commentguard/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	accounts := flag.Int("accounts", defaults.Accounts, "Number of accounts to create")
	posts := flag.Int("posts", defaults.PostsPerAccount, "Posts per account")
	comments := flag.Int("comments", defaults.CommentsPerPost, "Comments per post")
	spam := flag.Int("spam", defaults.Mix.Spam, "Percentage of spam comments")
	abusive := flag.Int("abusive", defaults.Mix.Abusive, "Percentage of abusive comments")
	shouldClean := flag.Bool("clean", false, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Generate data without writing it")
	randSeed := flag.Int64("seed", 0, "Random seed for reproducible data (0 = time based)")
	flag.Parse()

	if *spam+*abusive > 100 || *spam < 0 || *abusive < 0 {
		log.Fatal("-spam and -abusive must be non-negative and sum to at most 100")
	}

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d accounts, %d posts each, %d comments per post, clean=%v\n", *accounts, *posts, *comments, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *shouldClean && cfg.IsProduction() {
		log.Fatal("❌ -clean is not allowed in production")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var sealer *credentials.Sealer
	if cfg.CredentialsKey != "" {
		if sealer, err = credentials.NewSealer(cfg.CredentialsKey); err != nil {
			log.Fatalf("Invalid CREDENTIALS_KEY: %v", err)
		}
	}

	sum, err := seed.Run(context.Background(), db, seed.Options{
		Accounts:        *accounts,
		PostsPerAccount: *posts,
		CommentsPerPost: *comments,
		Mix:             seed.Mix{Benign: 100 - *spam - *abusive, Spam: *spam, Abusive: *abusive},
		MaxDays:         defaults.MaxDays,
		Clean:           *shouldClean,
		DryRun:          *dryRun,
		RandSeed:        *randSeed,
	}, sealer)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}
	if sum.Skipped {
		log.Println("Database already has accounts; rerun with -clean to replace them.")
		return
	}

	log.Println("✨ All done! New comments are queued for the next moderation poll.")
}
