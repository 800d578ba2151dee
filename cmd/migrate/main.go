// Command migrate manages the comment store schema outside of server startup.
//
//	migrate up            apply pending SQL migrations
//	migrate auto          run AutoMigrate for the moderation models
//	migrate status        print the schema policy and pending migrations
//	migrate down VERSION  revert the newest applied migration
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"
	"time"

	"commentguard/internal/config"
	"commentguard/internal/database"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "upper bound for the whole command")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	switch args[0] {
	case "up":
		n, err := database.MigrateUp(ctx, db)
		if err != nil {
			return err
		}
		log.Printf("applied %d migration(s)", n)
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return err
		}
		log.Println("moderation models auto-migrated")
	case "status":
		st, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return err
		}
		vector := st.Vector
		if vector == "" {
			vector = "missing"
		}
		log.Printf("mode=%s env=%s sql=%t auto=%t pgvector=%s applied=%v", st.Mode, st.Environment, st.RunSQL, st.RunAuto, vector, st.Applied)
		for _, m := range st.Pending {
			log.Printf("pending %s", m)
		}
	case "down":
		if len(args) < 2 {
			return errUsage
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("version %q: %w", args[1], err)
		}
		if err := database.MigrateDown(ctx, db, version); err != nil {
			return err
		}
		log.Printf("reverted migration %06d", version)
	default:
		return errUsage
	}
	return nil
}

var errUsage = errors.New("usage: migrate [-timeout d] <up|auto|status|down VERSION>")
