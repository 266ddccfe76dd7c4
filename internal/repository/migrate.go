package repository

import (
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/models"
)

// Models lists every table owned by the engine.
func Models() []any {
	return []any{
		&models.Project{},
		&models.Run{},
		&models.Message{},
		&models.SceneVersion{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := enableUUIDExtension(db); err != nil {
		return err
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	for _, m := range []func(*gorm.DB) error{addActiveRunIndex} {
		if err := m(db); err != nil {
			return err
		}
	}
	return nil
}

func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addActiveRunIndex keeps at most one RUNNING or PAUSED run per project and user.
func addActiveRunIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_active_project_user
		ON runs(project_id, user_id)
		WHERE status IN ('RUNNING', 'PAUSED')
	`).Error
}
