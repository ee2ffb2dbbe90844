package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// DateLayout is the canonical calendar date format used for assignment dates.
const DateLayout = "2006-01-02"

// Assignment is identified by (name, date) within a tenant. Two rows sharing a
// name but carrying different dates are distinct assignments.
type Assignment struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TenantID  string         `gorm:"size:63;not null;uniqueIndex:idx_assignments_identity" json:"tenant_id"`
	Name      string         `gorm:"size:255;not null;uniqueIndex:idx_assignments_identity" json:"name"`
	DateKey   string         `gorm:"size:10;not null;default:'';uniqueIndex:idx_assignments_identity" json:"-"`
	Date      *time.Time     `json:"date"`
	MaxPoints float64        `gorm:"not null" json:"max_points"`
	Tags      datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AssignmentDateKey renders the identity component for an optional date.
func AssignmentDateKey(date *time.Time) string {
	if date == nil || date.IsZero() {
		return ""
	}
	return date.UTC().Format(DateLayout)
}

// SetTags serializes the normalised tag list into the JSON storage column.
func (a *Assignment) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		a.Tags = datatypes.JSON([]byte("[]"))
		return
	}
	a.Tags = datatypes.JSON(data)
}

// TagList deserializes the stored tags.
func (a Assignment) TagList() []string {
	if len(a.Tags) == 0 {
		return []string{}
	}

	var tags []string
	if err := json.Unmarshal(a.Tags, &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

// DateString returns the ISO date or an empty string when the assignment is undated.
func (a Assignment) DateString() string {
	return AssignmentDateKey(a.Date)
}
