package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/grade-insight-api/internal/models"
)

// ImportBatchFilter narrows import history queries.
type ImportBatchFilter struct {
	TenantID string
	Page     int
	PageSize int
}

// ImportBatchRepository persists the audit trail of CSV uploads.
type ImportBatchRepository interface {
	Create(ctx context.Context, batch *models.ImportBatch) error
	List(ctx context.Context, filter ImportBatchFilter) ([]models.ImportBatch, int64, error)
}

type importBatchRepository struct {
	db *gorm.DB
}

// NewImportBatchRepository constructs a repository for import batches.
func NewImportBatchRepository(db *gorm.DB) ImportBatchRepository {
	return &importBatchRepository{db: db}
}

func (r *importBatchRepository) Create(ctx context.Context, batch *models.ImportBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *importBatchRepository) List(ctx context.Context, filter ImportBatchFilter) ([]models.ImportBatch, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ImportBatch{}).Where("tenant_id = ?", filter.TenantID)

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		offset := (page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var batches []models.ImportBatch
	if err := query.Order("created_at DESC").Order("id DESC").Find(&batches).Error; err != nil {
		return nil, 0, err
	}

	return batches, total, nil
}
