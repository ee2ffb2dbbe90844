package dto

import "time"

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// ImportRequest carries one CSV upload into the importer.
type ImportRequest struct {
	TenantID    string   `validate:"required,max=63"`
	FileName    string   `validate:"required,max=255"`
	Content     []byte   `validate:"-"`
	TeacherName string   `validate:"required,max=255"`
	ClassTag    string   `validate:"omitempty,max=100"`
	Tags        []string `validate:"omitempty,dive,max=100"`
}

// SkippedRow reports a data row that was not imported.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportWarning reports an imported row that deserves attention.
type ImportWarning struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportResult summarises a completed import.
type ImportResult struct {
	Message            string          `json:"message"`
	ImportedCount      int             `json:"imported_count"`
	SkippedRows        []SkippedRow    `json:"skipped_rows"`
	Warnings           []ImportWarning `json:"warnings"`
	Errors             []string        `json:"errors"`
	BatchID            uint            `json:"batch_id"`
	StudentsTouched    int             `json:"students_touched"`
	AssignmentsTouched int             `json:"assignments_touched"`
}

// GradesTableFilter narrows the grades table. Search removes student rows,
// AssignmentFilter removes assignment columns.
type GradesTableFilter struct {
	Search           string `query:"search" validate:"max=255"`
	AssignmentFilter string `query:"assignment" validate:"max=255"`
}

// GradeCell is one rendered grade.
type GradeCell struct {
	AssignmentID uint     `json:"assignment_id"`
	Assignment   string   `json:"assignment"`
	Date         *string  `json:"date"`
	Score        float64  `json:"score"`
	MaxPoints    float64  `json:"max_points"`
	Percentage   int      `json:"percentage"`
	LetterGrade  string   `json:"letter_grade"`
	GradeClass   string   `json:"grade_class"`
	Tags         []string `json:"tags"`
	TeacherName  string   `json:"teacher_name"`
	ClassTag     string   `json:"class_tag"`
}

// StudentInfo identifies a student in read responses.
type StudentInfo struct {
	ID        uint   `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// GradesTableRow is one student row of the grades table.
type GradesTableRow struct {
	StudentInfo
	Grades []GradeCell `json:"grades"`
}

// AssignmentColumn is one visible column of the grades table.
type AssignmentColumn struct {
	ID           uint     `json:"id"`
	Name         string   `json:"name"`
	Date         *string  `json:"date"`
	MaxPoints    float64  `json:"max_points"`
	Tags         []string `json:"tags"`
	StudentCount int      `json:"student_count"`
}

// GradesTableResponse is the teacher dashboard table.
type GradesTableResponse struct {
	Students           []GradesTableRow   `json:"students"`
	Assignments        []AssignmentColumn `json:"assignments"`
	TotalStudents      int                `json:"total_students"`
	VisibleAssignments int                `json:"visible_assignments"`
}

// GradeSummary aggregates a set of grades.
type GradeSummary struct {
	TotalPoints       float64 `json:"total_points"`
	MaxPossible       float64 `json:"max_possible"`
	OverallPercentage int     `json:"overall_percentage"`
	LetterGrade       string  `json:"letter_grade"`
	GradeClass        string  `json:"grade_class"`
}

// StudentGradesResponse is the single-student view. TotalAssignments counts
// every graded assignment; VisibleAssignments counts those left by the tag filter.
type StudentGradesResponse struct {
	Student            StudentInfo  `json:"student"`
	Grades             []GradeCell  `json:"grades"`
	TotalAssignments   int          `json:"total_assignments"`
	VisibleAssignments int          `json:"visible_assignments"`
	Summary            GradeSummary `json:"summary"`
	AvailableTags      []string     `json:"available_tags"`
}

// StudentOverview lists a student with aggregate statistics.
type StudentOverview struct {
	StudentInfo
	TotalAssignments  int     `json:"total_assignments"`
	TotalPoints       float64 `json:"total_points"`
	MaxPossible       float64 `json:"max_possible"`
	AveragePercentage int     `json:"average_percentage"`
}

// AssignmentOverview lists an assignment with score statistics.
type AssignmentOverview struct {
	ID                uint     `json:"id"`
	Name              string   `json:"name"`
	Date              *string  `json:"date"`
	MaxPoints         float64  `json:"max_points"`
	Tags              []string `json:"tags"`
	StudentCount      int      `json:"student_count"`
	AverageScore      float64  `json:"average_score"`
	AveragePercentage int      `json:"average_percentage"`
	HighestScore      float64  `json:"highest_score"`
	LowestScore       float64  `json:"lowest_score"`
}

// ImportBatchResponse serialises one import history entry.
type ImportBatchResponse struct {
	ID            uint                   `json:"id"`
	TeacherName   string                 `json:"teacher_name"`
	ClassTag      string                 `json:"class_tag"`
	FileName      string                 `json:"file_name"`
	Checksum      string                 `json:"checksum"`
	SizeBytes     int64                  `json:"size_bytes"`
	TotalRows     int                    `json:"total_rows"`
	ImportedCount int                    `json:"imported_count"`
	SkippedCount  int                    `json:"skipped_count"`
	WarningCount  int                    `json:"warning_count"`
	Details       map[string]interface{} `json:"details"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ImportHistoryRequest pages through import history.
type ImportHistoryRequest struct {
	Page     int `validate:"gte=0"`
	PageSize int `validate:"gte=0,lte=100"`
}

// ImportHistoryResponse wraps a page of import batches.
type ImportHistoryResponse struct {
	Items      []ImportBatchResponse `json:"items"`
	Pagination PaginationMeta        `json:"pagination"`
}
