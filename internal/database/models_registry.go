package database

import "commentguard/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.Post{},
		&models.Comment{},
		&models.ModerationDecision{},
		&models.EvidenceRecord{},
		&models.CustomFilter{},
		&models.ReviewAction{},
		&models.Precedent{},
		&models.SuspiciousAccount{},
		&models.ExtractedIdentifier{},
		&models.AccountCategorySetting{},
	}
}
