package database

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"commentguard/internal/config"
	"commentguard/internal/middleware"

	"gorm.io/gorm"
)

// DB_SCHEMA_MODE values. Hybrid runs the SQL migrations everywhere and also
// AutoMigrate outside production-like environments.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaStatus describes what ApplySchema would do against a database.
type SchemaStatus struct {
	Mode        string
	Environment string
	RunSQL      bool
	RunAuto     bool
	Applied     []int
	Pending     []Migration
	// Vector is the installed pgvector version, empty when missing or not on Postgres.
	Vector string
}

var prodLikeEnvs = []string{"production", "prod", "staging", "stage"}

func schemaMode(cfg *config.Config) string {
	if mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode)); mode != "" {
		return mode
	}
	return SchemaModeHybrid
}

func schemaPolicy(cfg *config.Config) (runSQL, runAuto bool, err error) {
	prodLike := slices.Contains(prodLikeEnvs, strings.ToLower(strings.TrimSpace(cfg.Env)))

	switch mode := schemaMode(cfg); mode {
	case SchemaModeSQL:
		return true, false, nil
	case SchemaModeHybrid:
		return true, !prodLike, nil
	case SchemaModeAuto:
		if prodLike && !cfg.DBAutoMigrateAllowDestructive {
			return false, false, fmt.Errorf("DB_SCHEMA_MODE=auto in %q needs DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		return false, true, nil
	default:
		return false, false, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
}

// ApplySchema brings the comment store up to date according to DB_SCHEMA_MODE.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return err
	}

	if runSQL {
		n, err := MigrateUp(ctx, db)
		if err != nil {
			return fmt.Errorf("sql migrations: %w", err)
		}
		middleware.Logger.InfoContext(ctx, "schema migrations done", slog.Int("applied", n))
	}
	if !runAuto {
		return nil
	}

	if cfg.DBAutoMigrateAllowDestructive {
		middleware.Logger.WarnContext(ctx, "AutoMigrate allowed in a production-like environment, check the schema diff",
			slog.String("env", cfg.Env))
	}
	// Embedding columns are vector(1536); AutoMigrate cannot create them before
	// the extension exists.
	if IsPostgres(db) {
		if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("enable pgvector: %w", err)
		}
	}
	middleware.Logger.InfoContext(ctx, "running AutoMigrate for moderation models",
		slog.String("mode", schemaMode(cfg)), slog.Int("models", len(PersistentModels())))
	if err := db.WithContext(ctx).AutoMigrate(PersistentModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// GetSchemaStatus reports the schema policy for cfg and the migrations still pending.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return nil, err
	}
	status := &SchemaStatus{
		Mode:        schemaMode(cfg),
		Environment: cfg.Env,
		RunSQL:      runSQL,
		RunAuto:     runAuto,
	}

	if IsPostgres(db) {
		var versions []string
		if err := db.WithContext(ctx).Raw("SELECT extversion FROM pg_extension WHERE extname = 'vector'").
			Scan(&versions).Error; err != nil {
			return nil, fmt.Errorf("read pgvector version: %w", err)
		}
		if len(versions) > 0 {
			status.Vector = versions[0]
		}
	}

	if status.Applied, err = AppliedVersions(ctx, db); err != nil {
		return nil, err
	}
	ms, err := Migrations()
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if !slices.Contains(status.Applied, m.Version) {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}
