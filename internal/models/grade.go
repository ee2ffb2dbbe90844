package models

import (
	"math"
	"time"
)

// Grade is a single score keyed by (student, assignment) within a tenant.
// Re-importing the same pair replaces the stored values.
type Grade struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TenantID     string     `gorm:"size:63;not null;uniqueIndex:idx_grades_identity" json:"tenant_id"`
	StudentID    uint       `gorm:"not null;uniqueIndex:idx_grades_identity" json:"student_id"`
	AssignmentID uint       `gorm:"not null;uniqueIndex:idx_grades_identity" json:"assignment_id"`
	TeacherID    *uint      `json:"teacher_id"`
	Score        float64    `gorm:"not null" json:"score"`
	MaxPoints    float64    `gorm:"not null" json:"max_points"`
	Date         *time.Time `json:"date"`
	ClassTag     string     `gorm:"size:100" json:"class_tag"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Letter grades.
const (
	LetterA = "A"
	LetterB = "B"
	LetterC = "C"
	LetterD = "D"
	LetterF = "F"
)

// Grade styling buckets.
const (
	GradeClassGood   = "good"
	GradeClassMedium = "medium"
	GradeClassPoor   = "poor"
)

// maxPercentage caps ratios that would not fit in an int.
const maxPercentage = math.MaxInt32

// Percentage returns round(score/maxPoints*100), or 0 when maxPoints is not
// positive. Results beyond maxPercentage are clamped.
func Percentage(score, maxPoints float64) int {
	if maxPoints <= 0 || math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	ratio := math.Round(score / maxPoints * 100)
	switch {
	case math.IsNaN(ratio):
		return 0
	case ratio >= maxPercentage:
		return maxPercentage
	case ratio <= -maxPercentage:
		return -maxPercentage
	}
	return int(ratio)
}

// LetterGrade maps a percentage onto the five letter scale.
func LetterGrade(percentage int) string {
	switch {
	case percentage >= 90:
		return LetterA
	case percentage >= 80:
		return LetterB
	case percentage >= 70:
		return LetterC
	case percentage >= 60:
		return LetterD
	default:
		return LetterF
	}
}

// GradeClass maps a percentage onto the coarse good/medium/poor styling bucket.
func GradeClass(percentage int) string {
	switch {
	case percentage >= 80:
		return GradeClassGood
	case percentage >= 60:
		return GradeClassMedium
	default:
		return GradeClassPoor
	}
}
