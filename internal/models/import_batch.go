package models

import (
	"time"

	"gorm.io/datatypes"
)

// ImportBatch records the outcome of one CSV upload.
type ImportBatch struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	TenantID      string            `gorm:"size:63;not null;index" json:"tenant_id"`
	TeacherName   string            `gorm:"size:255;not null" json:"teacher_name"`
	ClassTag      string            `gorm:"size:100" json:"class_tag"`
	FileName      string            `gorm:"size:255;not null" json:"file_name"`
	Checksum      string            `gorm:"size:64;index" json:"checksum"`
	SizeBytes     int64             `json:"size_bytes"`
	TotalRows     int               `json:"total_rows"`
	ImportedCount int               `json:"imported_count"`
	SkippedCount  int               `json:"skipped_count"`
	WarningCount  int               `json:"warning_count"`
	Details       datatypes.JSONMap `gorm:"type:json" json:"details"`
	CreatedAt     time.Time         `json:"created_at"`
}
