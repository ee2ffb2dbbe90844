package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/grade-insight-api/internal/dto"
	"github.com/noah-isme/grade-insight-api/internal/models"
	"github.com/noah-isme/grade-insight-api/internal/observability"
	"github.com/noah-isme/grade-insight-api/internal/repository"
	"github.com/noah-isme/grade-insight-api/internal/utils"
)

// ErrStudentNotFound indicates the tenant has no student with the requested email.
var ErrStudentNotFound = errors.New("student not found")

// Query names used for cache keys and metrics.
const (
	queryGradesTable = "grades_table"
	queryStudent     = "student"
	queryStudents    = "students"
	queryAssignments = "assignments"
	queryTags        = "tags"
	queryExport      = "export"
)

var exportHeader = []string{
	"student_email",
	"student_name",
	"assignment",
	"date",
	"score",
	"max_points",
	"percentage",
	"letter_grade",
	"tags",
}

// GradebookQueryService serves read models over a tenant's gradebook.
type GradebookQueryService interface {
	GetGradesTable(ctx context.Context, tenantID string, filter dto.GradesTableFilter) (dto.GradesTableResponse, error)
	GetStudentGrades(ctx context.Context, tenantID, email string, tags []string) (dto.StudentGradesResponse, error)
	ListStudents(ctx context.Context, tenantID, search string) ([]dto.StudentOverview, error)
	ListAssignments(ctx context.Context, tenantID string) ([]dto.AssignmentOverview, error)
	ListTags(ctx context.Context, tenantID string) ([]string, error)
	ExportGradesCSV(ctx context.Context, tenantID string) ([]byte, error)
	ListImports(ctx context.Context, tenantID string, req dto.ImportHistoryRequest) (dto.ImportHistoryResponse, error)
}

type gradebookQueryService struct {
	gradebook repository.GradebookRepository
	batches   repository.ImportBatchRepository
	cache     *GradebookCache
	validate  *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewGradebookQueryService constructs the read side of the gradebook.
func NewGradebookQueryService(gradebook repository.GradebookRepository, batches repository.ImportBatchRepository, cache *GradebookCache, validate *validator.Validate, logger zerolog.Logger) GradebookQueryService {
	if validate == nil {
		validate = validator.New()
	}
	return &gradebookQueryService{
		gradebook: gradebook,
		batches:   batches,
		cache:     cache,
		validate:  validate,
		logger:    logger.With().Str("component", "gradebook_query_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/grade-insight-api/internal/service/gradebook"),
	}
}

// cached loads a read model from the cache or builds it from a fresh snapshot.
func (s *gradebookQueryService) cached(ctx context.Context, tenantID, query string, dest interface{}, build func(repository.GradebookSnapshot) error, params ...string) error {
	ctx, span := s.tracer.Start(ctx, "gradebook."+query)
	defer span.End()
	span.SetAttributes(attribute.String("gradebook.tenant_id", tenantID))

	start := time.Now()
	defer func() {
		observability.QueryDuration().WithLabelValues(query).Observe(time.Since(start).Seconds())
	}()

	key, cacheable := s.cache.Key(ctx, tenantID, query, params...)
	if cacheable && s.cache.Load(ctx, query, key, dest) {
		span.SetAttributes(attribute.Bool("gradebook.cache_hit", true))
		return nil
	}

	snapshot, err := s.gradebook.Snapshot(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		return err
	}
	if err := build(snapshot); err != nil {
		if !errors.Is(err, ErrStudentNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "build failed")
		}
		return err
	}

	if cacheable {
		s.cache.Store(ctx, query, key, dest)
	}
	return nil
}

func (s *gradebookQueryService) GetGradesTable(ctx context.Context, tenantID string, filter dto.GradesTableFilter) (dto.GradesTableResponse, error) {
	if err := s.validate.Struct(filter); err != nil {
		return dto.GradesTableResponse{}, err
	}

	var response dto.GradesTableResponse
	err := s.cached(ctx, tenantID, queryGradesTable, &response, func(snapshot repository.GradebookSnapshot) error {
		response = BuildGradesTable(snapshot, filter)
		return nil
	}, strings.ToLower(strings.TrimSpace(filter.Search)), strings.ToLower(strings.TrimSpace(filter.AssignmentFilter)))
	if err != nil {
		return dto.GradesTableResponse{}, err
	}
	return response, nil
}

func (s *gradebookQueryService) GetStudentGrades(ctx context.Context, tenantID, email string, tags []string) (dto.StudentGradesResponse, error) {
	email = models.NormalizeEmail(email)
	wanted := utils.NormalizeTags(tags)

	var response dto.StudentGradesResponse
	err := s.cached(ctx, tenantID, queryStudent, &response, func(snapshot repository.GradebookSnapshot) error {
		built, ok := BuildStudentGrades(snapshot, email, wanted)
		if !ok {
			return fmt.Errorf("%s: %w", email, ErrStudentNotFound)
		}
		response = built
		return nil
	}, email, strings.Join(wanted, ","))
	if err != nil {
		return dto.StudentGradesResponse{}, err
	}
	return response, nil
}

func (s *gradebookQueryService) ListStudents(ctx context.Context, tenantID, search string) ([]dto.StudentOverview, error) {
	var response []dto.StudentOverview
	err := s.cached(ctx, tenantID, queryStudents, &response, func(snapshot repository.GradebookSnapshot) error {
		response = BuildStudentOverviews(snapshot, search)
		return nil
	}, strings.ToLower(strings.TrimSpace(search)))
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (s *gradebookQueryService) ListAssignments(ctx context.Context, tenantID string) ([]dto.AssignmentOverview, error) {
	var response []dto.AssignmentOverview
	err := s.cached(ctx, tenantID, queryAssignments, &response, func(snapshot repository.GradebookSnapshot) error {
		response = BuildAssignmentOverviews(snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (s *gradebookQueryService) ListTags(ctx context.Context, tenantID string) ([]string, error) {
	var response []string
	err := s.cached(ctx, tenantID, queryTags, &response, func(snapshot repository.GradebookSnapshot) error {
		response = CollectTags(snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (s *gradebookQueryService) ExportGradesCSV(ctx context.Context, tenantID string) ([]byte, error) {
	var table dto.GradesTableResponse
	err := s.cached(ctx, tenantID, queryExport, &table, func(snapshot repository.GradebookSnapshot) error {
		table = BuildGradesTable(snapshot, dto.GradesTableFilter{})
		return nil
	})
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, row := range table.Students {
		name := strings.TrimSpace(row.FirstName + " " + row.LastName)
		for _, cell := range row.Grades {
			date := ""
			if cell.Date != nil {
				date = *cell.Date
			}
			record := []string{
				row.Email,
				name,
				cell.Assignment,
				date,
				formatPoints(cell.Score),
				formatPoints(cell.MaxPoints),
				strconv.Itoa(cell.Percentage),
				cell.LetterGrade,
				strings.Join(cell.Tags, ","),
			}
			if err := writer.Write(record); err != nil {
				return nil, err
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *gradebookQueryService) ListImports(ctx context.Context, tenantID string, req dto.ImportHistoryRequest) (dto.ImportHistoryResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return dto.ImportHistoryResponse{}, err
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	batches, total, err := s.batches.List(ctx, repository.ImportBatchFilter{
		TenantID: tenantID,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return dto.ImportHistoryResponse{}, err
	}

	items := make([]dto.ImportBatchResponse, 0, len(batches))
	for _, batch := range batches {
		details := map[string]interface{}(batch.Details)
		if details == nil {
			details = map[string]interface{}{}
		}
		items = append(items, dto.ImportBatchResponse{
			ID:            batch.ID,
			TeacherName:   batch.TeacherName,
			ClassTag:      batch.ClassTag,
			FileName:      batch.FileName,
			Checksum:      batch.Checksum,
			SizeBytes:     batch.SizeBytes,
			TotalRows:     batch.TotalRows,
			ImportedCount: batch.ImportedCount,
			SkippedCount:  batch.SkippedCount,
			WarningCount:  batch.WarningCount,
			Details:       details,
			CreatedAt:     batch.CreatedAt,
		})
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	return dto.ImportHistoryResponse{
		Items: items,
		Pagination: dto.PaginationMeta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	}, nil
}

func formatPoints(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func roundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
