package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kairoslabs/kairos-agent/internal/models"
)

// Migrate creates or updates the schema for all agent tables. On Postgres
// the pgvector extension is required for the reviews.embedding column.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	return db.AutoMigrate(
		&models.Restaurant{},
		&models.Review{},
		&models.UserProfile{},
		&models.Interaction{},
	)
}
