package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/grade-insight-api/internal/models"
	"github.com/noah-isme/grade-insight-api/internal/repository"
)

// Migrate creates or updates the gradebook schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.Teacher{},
		&models.Student{},
		&models.Assignment{},
		&models.Grade{},
		&models.ImportBatch{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Bootstrap makes sure the default tenant exists so a fresh install can accept uploads.
func Bootstrap(ctx context.Context, repo repository.GradebookRepository, tenantID string) error {
	name := "Administrator"
	if tenantID != models.DefaultTenantID {
		name = tenantID
	}
	if _, err := repo.EnsureTenant(ctx, tenantID, name); err != nil {
		return fmt.Errorf("failed to bootstrap tenant %s: %w", tenantID, err)
	}
	return nil
}
