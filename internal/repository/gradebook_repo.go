package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/grade-insight-api/internal/models"
	"github.com/noah-isme/grade-insight-api/internal/utils"
)

// ErrDanglingReference indicates a grade upsert referenced a student or assignment
// that does not exist in the tenant.
var ErrDanglingReference = errors.New("grade references unknown student or assignment")

// StudentUpsert carries the mutable student fields from one import row.
type StudentUpsert struct {
	Email     string
	FirstName string
	LastName  string
}

// AssignmentUpsert carries the assignment identity plus the values to merge.
type AssignmentUpsert struct {
	Name      string
	Date      *time.Time
	MaxPoints float64
	Tags      []string
}

// GradeUpsert carries a single (student, assignment) score.
type GradeUpsert struct {
	StudentID    uint
	AssignmentID uint
	TeacherID    *uint
	Score        float64
	MaxPoints    float64
	Date         *time.Time
	ClassTag     string
}

// GradebookSnapshot is a point-in-time copy of one tenant's gradebook.
type GradebookSnapshot struct {
	TenantID    string
	Students    []models.Student
	Assignments []models.Assignment
	Grades      []models.Grade
	Teachers    []models.Teacher
}

// GradebookWriter performs upserts inside an import transaction.
type GradebookWriter interface {
	UpsertTeacher(ctx context.Context, name string) (models.Teacher, error)
	UpsertStudent(ctx context.Context, input StudentUpsert) (models.Student, error)
	UpsertAssignment(ctx context.Context, input AssignmentUpsert) (models.Assignment, error)
	UpsertGrade(ctx context.Context, input GradeUpsert) (models.Grade, error)
}

// GradebookRepository owns the canonical student, assignment and grade tables.
type GradebookRepository interface {
	EnsureTenant(ctx context.Context, id, name string) (models.Tenant, error)
	WithinTransaction(ctx context.Context, tenantID string, fn func(GradebookWriter) error) error
	Snapshot(ctx context.Context, tenantID string) (GradebookSnapshot, error)
}

type gradebookRepository struct {
	db *gorm.DB
}

// NewGradebookRepository instantiates a GORM-backed gradebook store.
func NewGradebookRepository(db *gorm.DB) GradebookRepository {
	return &gradebookRepository{db: db}
}

func (r *gradebookRepository) EnsureTenant(ctx context.Context, id, name string) (models.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Tenant{}, fmt.Errorf("tenant id must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}

	var tenant models.Tenant
	result := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&tenant)
	if result.Error != nil {
		return models.Tenant{}, result.Error
	}
	if result.RowsAffected > 0 {
		return tenant, nil
	}

	tenant = models.Tenant{ID: id, Name: name}
	if err := r.db.WithContext(ctx).Create(&tenant).Error; err != nil {
		return models.Tenant{}, err
	}
	return tenant, nil
}

func (r *gradebookRepository) WithinTransaction(ctx context.Context, tenantID string, fn func(GradebookWriter) error) error {
	if _, err := r.EnsureTenant(ctx, tenantID, ""); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gradebookWriter{tx: tx, tenantID: tenantID})
	})
}

func (r *gradebookRepository) Snapshot(ctx context.Context, tenantID string) (GradebookSnapshot, error) {
	snapshot := GradebookSnapshot{TenantID: tenantID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&snapshot.Students).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&snapshot.Assignments).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&snapshot.Grades).Error; err != nil {
			return err
		}
		return tx.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&snapshot.Teachers).Error
	}, r.snapshotTxOptions())
	if err != nil {
		return GradebookSnapshot{}, err
	}

	return snapshot, nil
}

// snapshotTxOptions asks postgres for a single consistent view across the four reads.
// SQLite transactions are already serialisable and reject explicit isolation levels.
func (r *gradebookRepository) snapshotTxOptions() *sql.TxOptions {
	if r.db.Dialector != nil && r.db.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

type gradebookWriter struct {
	tx       *gorm.DB
	tenantID string
}

func (w *gradebookWriter) UpsertTeacher(ctx context.Context, name string) (models.Teacher, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Teacher{}, fmt.Errorf("teacher name must not be empty")
	}

	var teacher models.Teacher
	result := w.tx.WithContext(ctx).
		Where("tenant_id = ? AND name = ?", w.tenantID, name).
		Limit(1).
		Find(&teacher)
	if result.Error != nil {
		return models.Teacher{}, result.Error
	}
	if result.RowsAffected > 0 {
		return teacher, nil
	}

	teacher = models.Teacher{TenantID: w.tenantID, Name: name}
	if err := w.tx.WithContext(ctx).Create(&teacher).Error; err != nil {
		return models.Teacher{}, err
	}
	return teacher, nil
}

func (w *gradebookWriter) UpsertStudent(ctx context.Context, input StudentUpsert) (models.Student, error) {
	email := models.NormalizeEmail(input.Email)
	if email == "" {
		return models.Student{}, fmt.Errorf("student email must not be empty")
	}

	var student models.Student
	result := w.tx.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", w.tenantID, email).
		Limit(1).
		Find(&student)
	if result.Error != nil {
		return models.Student{}, result.Error
	}

	if result.RowsAffected == 0 {
		student = models.Student{
			TenantID:  w.tenantID,
			Email:     email,
			FirstName: strings.TrimSpace(input.FirstName),
			LastName:  strings.TrimSpace(input.LastName),
		}
		if err := w.tx.WithContext(ctx).Create(&student).Error; err != nil {
			return models.Student{}, err
		}
		return student, nil
	}

	changed := false
	if first := strings.TrimSpace(input.FirstName); first != "" && first != student.FirstName {
		student.FirstName = first
		changed = true
	}
	if last := strings.TrimSpace(input.LastName); last != "" && last != student.LastName {
		student.LastName = last
		changed = true
	}
	if changed {
		if err := w.tx.WithContext(ctx).Save(&student).Error; err != nil {
			return models.Student{}, err
		}
	}

	return student, nil
}

func (w *gradebookWriter) UpsertAssignment(ctx context.Context, input AssignmentUpsert) (models.Assignment, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return models.Assignment{}, fmt.Errorf("assignment name must not be empty")
	}
	dateKey := models.AssignmentDateKey(input.Date)

	var assignment models.Assignment
	result := w.tx.WithContext(ctx).
		Where("tenant_id = ? AND name = ? AND date_key = ?", w.tenantID, name, dateKey).
		Limit(1).
		Find(&assignment)
	if result.Error != nil {
		return models.Assignment{}, result.Error
	}

	if result.RowsAffected == 0 {
		assignment = models.Assignment{
			TenantID:  w.tenantID,
			Name:      name,
			DateKey:   dateKey,
			Date:      normalizeDate(input.Date),
			MaxPoints: input.MaxPoints,
		}
		assignment.SetTags(utils.MergeTags(input.Tags))
		if err := w.tx.WithContext(ctx).Create(&assignment).Error; err != nil {
			return models.Assignment{}, err
		}
		return assignment, nil
	}

	// max_points follows the latest import; tags accumulate.
	assignment.MaxPoints = input.MaxPoints
	assignment.SetTags(utils.MergeTags(assignment.TagList(), input.Tags))
	if err := w.tx.WithContext(ctx).Save(&assignment).Error; err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (w *gradebookWriter) UpsertGrade(ctx context.Context, input GradeUpsert) (models.Grade, error) {
	if err := w.ensureReferences(ctx, input.StudentID, input.AssignmentID); err != nil {
		return models.Grade{}, err
	}

	var grade models.Grade
	result := w.tx.WithContext(ctx).
		Where("tenant_id = ? AND student_id = ? AND assignment_id = ?", w.tenantID, input.StudentID, input.AssignmentID).
		Limit(1).
		Find(&grade)
	if result.Error != nil {
		return models.Grade{}, result.Error
	}

	grade.TenantID = w.tenantID
	grade.StudentID = input.StudentID
	grade.AssignmentID = input.AssignmentID
	grade.TeacherID = input.TeacherID
	grade.Score = input.Score
	grade.MaxPoints = input.MaxPoints
	grade.Date = normalizeDate(input.Date)
	grade.ClassTag = strings.TrimSpace(input.ClassTag)

	if result.RowsAffected == 0 {
		if err := w.tx.WithContext(ctx).Create(&grade).Error; err != nil {
			return models.Grade{}, err
		}
		return grade, nil
	}

	if err := w.tx.WithContext(ctx).Save(&grade).Error; err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (w *gradebookWriter) ensureReferences(ctx context.Context, studentID, assignmentID uint) error {
	var students int64
	if err := w.tx.WithContext(ctx).Model(&models.Student{}).
		Where("tenant_id = ? AND id = ?", w.tenantID, studentID).
		Count(&students).Error; err != nil {
		return err
	}

	var assignments int64
	if err := w.tx.WithContext(ctx).Model(&models.Assignment{}).
		Where("tenant_id = ? AND id = ?", w.tenantID, assignmentID).
		Count(&assignments).Error; err != nil {
		return err
	}

	if students == 0 || assignments == 0 {
		return fmt.Errorf("student %d, assignment %d: %w", studentID, assignmentID, ErrDanglingReference)
	}
	return nil
}

func normalizeDate(date *time.Time) *time.Time {
	if date == nil || date.IsZero() {
		return nil
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}
