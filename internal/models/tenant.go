package models

import "time"

// DefaultTenantID identifies the tenant bootstrapped on an empty database.
const DefaultTenantID = "admin"

// Tenant is an isolated school scope; every gradebook row belongs to exactly one tenant.
type Tenant struct {
	ID        string    `gorm:"primaryKey;size:63" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
