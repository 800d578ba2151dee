package database

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"commentguard/internal/middleware"

	"gorm.io/gorm"
)

// SchemaVersion records one applied migration.
type SchemaVersion struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime;index"`
}

func (SchemaVersion) TableName() string {
	return "schema_versions"
}

// AppliedVersions lists the recorded schema versions, oldest first. A database
// that never ran a migration has none.
func AppliedVersions(ctx context.Context, db *gorm.DB) ([]int, error) {
	if !db.WithContext(ctx).Migrator().HasTable(&SchemaVersion{}) {
		return []int{}, nil
	}
	var versions []int
	if err := db.WithContext(ctx).Model(&SchemaVersion{}).Order("version").Pluck("version", &versions).Error; err != nil {
		return nil, fmt.Errorf("read schema versions: %w", err)
	}
	return versions, nil
}

// MigrateUp applies every embedded migration that is not yet recorded and
// returns how many ran.
func MigrateUp(ctx context.Context, db *gorm.DB) (int, error) {
	ms, err := Migrations()
	if err != nil {
		return 0, err
	}
	return migrateUp(ctx, db, ms)
}

// migrateUp runs each pending script and its version record in one
// transaction, so a failed script leaves no record behind.
func migrateUp(ctx context.Context, db *gorm.DB, ms []Migration) (int, error) {
	if err := db.WithContext(ctx).AutoMigrate(&SchemaVersion{}); err != nil {
		return 0, fmt.Errorf("create schema_versions: %w", err)
	}
	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}
	if err := checkKnownVersions(applied, ms); err != nil {
		return 0, err
	}

	ran := 0
	for _, m := range ms {
		if slices.Contains(applied, m.Version) {
			continue
		}
		start := time.Now()
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(m.UpScript).Error; err != nil {
				return err
			}
			return tx.Create(&SchemaVersion{Version: m.Version, Name: m.Name}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("migration %s: %w", m, err)
		}
		ran++
		middleware.Logger.InfoContext(ctx, "schema migration applied",
			slog.String("migration", m.String()),
			slog.Duration("took", time.Since(start)),
		)
	}
	return ran, nil
}

// checkKnownVersions rejects a database already migrated by a newer build.
func checkKnownVersions(applied []int, ms []Migration) error {
	var unknown []string
	for _, v := range applied {
		if !slices.ContainsFunc(ms, func(m Migration) bool { return m.Version == v }) {
			unknown = append(unknown, fmt.Sprintf("%06d", v))
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("schema_versions has versions this build does not know: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// MigrateDown reverts version, which must be the newest applied migration.
func MigrateDown(ctx context.Context, db *gorm.DB, version int) error {
	m, err := FindMigration(version)
	if err != nil {
		return err
	}
	return migrateDown(ctx, db, m)
}

func migrateDown(ctx context.Context, db *gorm.DB, m Migration) error {
	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return err
	}
	if len(applied) == 0 || applied[len(applied)-1] != m.Version {
		return fmt.Errorf("migration %s is not the newest applied version", m)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.DownScript).Error; err != nil {
			return err
		}
		return tx.Where("version = ?", m.Version).Delete(&SchemaVersion{}).Error
	})
	if err != nil {
		return fmt.Errorf("revert %s: %w", m, err)
	}
	middleware.Logger.InfoContext(ctx, "schema migration reverted", slog.String("migration", m.String()))
	return nil
}
