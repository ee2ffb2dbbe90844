package models

import (
	"strings"
	"time"
)

// Student is identified by email (case-insensitive) within a tenant.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"size:63;not null;uniqueIndex:idx_students_tenant_email" json:"tenant_id"`
	FirstName string    `gorm:"size:255" json:"first_name"`
	LastName  string    `gorm:"size:255" json:"last_name"`
	Email     string    `gorm:"size:255;not null;uniqueIndex:idx_students_tenant_email" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail canonicalises an email for identity comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FullName renders "First Last", skipping blank parts.
func (s Student) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

// SortName renders "Last, First" as displayed on the teacher dashboard.
func (s Student) SortName() string {
	switch {
	case s.LastName == "":
		return s.FirstName
	case s.FirstName == "":
		return s.LastName
	default:
		return s.LastName + ", " + s.FirstName
	}
}
