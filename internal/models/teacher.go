package models

import "time"

// Teacher uploads grade files. Teachers are created on first upload by name.
type Teacher struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"size:63;not null;uniqueIndex:idx_teachers_tenant_name" json:"tenant_id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_teachers_tenant_name" json:"name"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
