package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/encoding/charmap"
	"gorm.io/datatypes"

	"github.com/noah-isme/grade-insight-api/internal/dto"
	"github.com/noah-isme/grade-insight-api/internal/models"
	"github.com/noah-isme/grade-insight-api/internal/observability"
	"github.com/noah-isme/grade-insight-api/internal/repository"
	"github.com/noah-isme/grade-insight-api/internal/utils"
)

var (
	// ErrInvalidImportFile indicates the upload cannot be read as a grade CSV. Nothing is persisted.
	ErrInvalidImportFile = errors.New("invalid import file")
	// ErrImportTooLarge indicates the payload exceeded the configured limit.
	ErrImportTooLarge = errors.New("file exceeds maximum allowed size")
)

// Row skip reasons.
const (
	ReasonInvalidEmail      = "invalid email"
	ReasonMissingAssignment = "missing assignment name"
	ReasonInvalidScore      = "invalid score"
	ReasonInvalidMaxPoints  = "invalid max_points"
	ReasonInvalidDate       = "invalid date"
)

const (
	warningZeroMaxPoints = "max_points is 0; percentage will be 0"
	importSuccessMessage = "CSV uploaded and processed successfully"
)

var importDateLayouts = []string{
	models.DateLayout,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
}

// canonical column -> accepted header spellings after normalisation.
var columnAliases = map[string][]string{
	"first_name": {"first_name", "firstname", "first"},
	"last_name":  {"last_name", "lastname", "last"},
	"email":      {"email", "student_email", "e_mail"},
	"assignment": {"assignment", "assignment_name", "name"},
	"score":      {"score", "points", "grade"},
	"max_points": {"max_points", "maxpoints", "possible", "out_of"},
	"date":       {"date", "assignment_date", "due_date"},
	"tags":       {"tags", "tag"},
}

var requiredColumns = []string{"email", "assignment", "score", "max_points"}

// ImportEvent is published on NATS after a committed import.
type ImportEvent struct {
	TenantID      string    `json:"tenant_id"`
	BatchID       uint      `json:"batch_id"`
	TeacherName   string    `json:"teacher_name"`
	ClassTag      string    `json:"class_tag"`
	FileName      string    `json:"file_name"`
	ImportedCount int       `json:"imported_count"`
	SkippedCount  int       `json:"skipped_count"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ImportService turns uploaded grade CSVs into gradebook upserts.
type ImportService interface {
	Import(ctx context.Context, req dto.ImportRequest) (dto.ImportResult, error)
}

// ImportServiceConfig tunes the importer.
type ImportServiceConfig struct {
	MaxSizeMB     int
	SubjectPrefix string
}

type importService struct {
	gradebook repository.GradebookRepository
	batches   repository.ImportBatchRepository
	locker    TenantLocker
	cache     *GradebookCache
	nats      *nats.Conn
	subject   string
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	maxSize   int64
	tracer    trace.Tracer
	now       func() time.Time
}

// NewImportService constructs the CSV importer.
func NewImportService(
	gradebook repository.GradebookRepository,
	batches repository.ImportBatchRepository,
	locker TenantLocker,
	cache *GradebookCache,
	natsConn *nats.Conn,
	validate *validator.Validate,
	cfg ImportServiceConfig,
	logger zerolog.Logger,
) ImportService {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	subject := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if subject == "" {
		subject = "gradebook"
	}
	if validate == nil {
		validate = validator.New()
	}
	if locker == nil {
		locker = NewTenantLocker(nil, 0)
	}

	return &importService{
		gradebook: gradebook,
		batches:   batches,
		locker:    locker,
		cache:     cache,
		nats:      natsConn,
		subject:   subject,
		validate:  validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "import_service").Logger(),
		maxSize:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		tracer:    otel.Tracer("github.com/noah-isme/grade-insight-api/internal/service/import"),
		now:       time.Now,
	}
}

// parsedRow is a validated data row ready for upsert.
type parsedRow struct {
	line      int
	email     string
	firstName string
	lastName  string
	name      string
	score     float64
	maxPoints float64
	date      *time.Time
	tags      []string
}

type parsedFile struct {
	rows     []parsedRow
	skipped  []dto.SkippedRow
	warnings []dto.ImportWarning
	total    int
}

func (s *importService) Import(ctx context.Context, req dto.ImportRequest) (dto.ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "gradebook.import")
	defer span.End()

	start := s.now()
	defer func() {
		observability.ImportDuration().Observe(time.Since(start).Seconds())
	}()

	req.TeacherName = s.sanitize(req.TeacherName)
	req.ClassTag = strings.ToLower(s.sanitize(req.ClassTag))
	req.FileName = strings.TrimSpace(filepath.Base(req.FileName))
	span.SetAttributes(
		attribute.String("import.tenant_id", req.TenantID),
		attribute.String("import.file_name", req.FileName),
		attribute.Int("import.size_bytes", len(req.Content)),
	)

	if err := s.validate.Struct(req); err != nil {
		observability.Imports().WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.ImportResult{}, err
	}

	parsed, err := s.parse(req)
	if err != nil {
		observability.Imports().WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid file")
		return dto.ImportResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, req.TenantID)
	if err != nil {
		observability.Imports().WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		return dto.ImportResult{}, err
	}
	defer unlock()

	formTags := utils.MergeTags(utils.NormalizeTags(req.Tags), utils.NormalizeTags(req.ClassTag))
	students := make(map[uint]struct{})
	assignments := make(map[uint]struct{})

	err = s.gradebook.WithinTransaction(ctx, req.TenantID, func(w repository.GradebookWriter) error {
		teacher, err := w.UpsertTeacher(ctx, req.TeacherName)
		if err != nil {
			return err
		}

		for _, row := range parsed.rows {
			student, err := w.UpsertStudent(ctx, repository.StudentUpsert{
				Email:     row.email,
				FirstName: row.firstName,
				LastName:  row.lastName,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", row.line, err)
			}

			assignment, err := w.UpsertAssignment(ctx, repository.AssignmentUpsert{
				Name:      row.name,
				Date:      row.date,
				MaxPoints: row.maxPoints,
				Tags:      utils.MergeTags(row.tags, formTags),
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", row.line, err)
			}

			teacherID := teacher.ID
			if _, err := w.UpsertGrade(ctx, repository.GradeUpsert{
				StudentID:    student.ID,
				AssignmentID: assignment.ID,
				TeacherID:    &teacherID,
				Score:        row.score,
				MaxPoints:    row.maxPoints,
				Date:         row.date,
				ClassTag:     req.ClassTag,
			}); err != nil {
				return fmt.Errorf("line %d: %w", row.line, err)
			}

			students[student.ID] = struct{}{}
			assignments[assignment.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		observability.Imports().WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.ImportResult{}, fmt.Errorf("import grades: %w", err)
	}

	result := dto.ImportResult{
		Message:            importSuccessMessage,
		ImportedCount:      len(parsed.rows),
		SkippedRows:        parsed.skipped,
		Warnings:           parsed.warnings,
		Errors:             []string{},
		StudentsTouched:    len(students),
		AssignmentsTouched: len(assignments),
	}

	batch := s.recordBatch(ctx, req, parsed, result)
	if batch != nil {
		result.BatchID = batch.ID
	}

	s.cache.Bump(ctx, req.TenantID)
	s.publish(req, result)

	observability.Imports().WithLabelValues("success").Inc()
	observability.ImportRows().WithLabelValues("imported").Add(float64(result.ImportedCount))
	observability.ImportRows().WithLabelValues("skipped").Add(float64(len(result.SkippedRows)))
	span.SetAttributes(
		attribute.Int("import.imported", result.ImportedCount),
		attribute.Int("import.skipped", len(result.SkippedRows)),
	)
	span.SetStatus(codes.Ok, "imported")

	s.logger.Info().
		Str("tenant_id", req.TenantID).
		Str("file_name", req.FileName).
		Int("imported", result.ImportedCount).
		Int("skipped", len(result.SkippedRows)).
		Int("warnings", len(result.Warnings)).
		Msg("grade import completed")

	return result, nil
}

func (s *importService) parse(req dto.ImportRequest) (parsedFile, error) {
	if !strings.EqualFold(filepath.Ext(req.FileName), ".csv") {
		return parsedFile{}, fmt.Errorf("%w: only .csv files are accepted", ErrInvalidImportFile)
	}
	if len(req.Content) == 0 {
		return parsedFile{}, fmt.Errorf("%w: CSV file is empty", ErrInvalidImportFile)
	}
	if int64(len(req.Content)) > s.maxSize {
		return parsedFile{}, ErrImportTooLarge
	}
	if !isTextMime(mimetype.Detect(req.Content)) {
		return parsedFile{}, fmt.Errorf("%w: file is not a text CSV", ErrInvalidImportFile)
	}

	content, err := decodeCSVText(req.Content)
	if err != nil {
		return parsedFile{}, fmt.Errorf("%w: %v", ErrInvalidImportFile, err)
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return parsedFile{}, fmt.Errorf("%w: CSV file is empty", ErrInvalidImportFile)
	}
	if err != nil {
		return parsedFile{}, fmt.Errorf("%w: %v", ErrInvalidImportFile, err)
	}

	columns, missing := mapColumns(header)
	if len(missing) > 0 {
		return parsedFile{}, fmt.Errorf("%w: missing required columns: %s", ErrInvalidImportFile, strings.Join(missing, ", "))
	}

	parsed := parsedFile{
		skipped:  []dto.SkippedRow{},
		warnings: []dto.ImportWarning{},
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return parsedFile{}, fmt.Errorf("%w: %v", ErrInvalidImportFile, err)
		}
		if blankRecord(record) {
			continue
		}

		line, _ := reader.FieldPos(0)
		parsed.total++

		row, reason := s.parseRow(record, columns, line)
		if reason != "" {
			parsed.skipped = append(parsed.skipped, dto.SkippedRow{Line: line, Reason: reason})
			continue
		}
		if row.maxPoints == 0 {
			parsed.warnings = append(parsed.warnings, dto.ImportWarning{Line: line, Message: warningZeroMaxPoints})
		}
		parsed.rows = append(parsed.rows, row)
	}

	if parsed.total == 0 {
		return parsedFile{}, fmt.Errorf("%w: CSV file is empty", ErrInvalidImportFile)
	}

	return parsed, nil
}

func (s *importService) parseRow(record []string, columns map[string]int, line int) (parsedRow, string) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	row := parsedRow{
		line:      line,
		email:     models.NormalizeEmail(cell("email")),
		firstName: s.sanitize(cell("first_name")),
		lastName:  s.sanitize(cell("last_name")),
		name:      s.sanitize(cell("assignment")),
		tags:      utils.NormalizeTags(cell("tags")),
	}

	if !validEmail(row.email) {
		return parsedRow{}, ReasonInvalidEmail
	}
	if row.name == "" {
		return parsedRow{}, ReasonMissingAssignment
	}

	score, ok := parsePoints(cell("score"))
	if !ok {
		return parsedRow{}, ReasonInvalidScore
	}
	maxPoints, ok := parsePoints(cell("max_points"))
	if !ok {
		return parsedRow{}, ReasonInvalidMaxPoints
	}
	row.score = score
	row.maxPoints = maxPoints

	if raw := cell("date"); raw != "" {
		date, ok := parseImportDate(raw)
		if !ok {
			return parsedRow{}, ReasonInvalidDate
		}
		row.date = &date
	}

	return row, ""
}

func (s *importService) sanitize(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(strings.TrimSpace(value))))
}

func (s *importService) recordBatch(ctx context.Context, req dto.ImportRequest, parsed parsedFile, result dto.ImportResult) *models.ImportBatch {
	if s.batches == nil {
		return nil
	}

	checksum := sha256.Sum256(req.Content)
	details := datatypes.JSONMap{
		"skipped_rows": result.SkippedRows,
		"warnings":     result.Warnings,
		"tags":         utils.NormalizeTags(req.Tags),
	}
	batch := &models.ImportBatch{
		TenantID:      req.TenantID,
		TeacherName:   req.TeacherName,
		ClassTag:      req.ClassTag,
		FileName:      req.FileName,
		Checksum:      hex.EncodeToString(checksum[:]),
		SizeBytes:     int64(len(req.Content)),
		TotalRows:     parsed.total,
		ImportedCount: result.ImportedCount,
		SkippedCount:  len(result.SkippedRows),
		WarningCount:  len(result.Warnings),
		Details:       details,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", req.TenantID).Msg("failed to record import batch")
		return nil
	}
	return batch
}

func (s *importService) publish(req dto.ImportRequest, result dto.ImportResult) {
	if s.nats == nil {
		return
	}

	payload, err := json.Marshal(ImportEvent{
		TenantID:      req.TenantID,
		BatchID:       result.BatchID,
		TeacherName:   req.TeacherName,
		ClassTag:      req.ClassTag,
		FileName:      req.FileName,
		ImportedCount: result.ImportedCount,
		SkippedCount:  len(result.SkippedRows),
		OccurredAt:    s.now().UTC(),
	})
	if err != nil {
		return
	}

	subject := ImportSubject(s.subject, req.TenantID)
	if err := s.nats.Publish(subject, payload); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish import event")
	}
}

// ImportSubject returns the NATS subject for a tenant's import events.
func ImportSubject(prefix, tenantID string) string {
	return fmt.Sprintf("%s.%s.imported", prefix, tenantID)
}

func isTextMime(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") || m.Is("text/csv") {
			return true
		}
	}
	return false
}

func decodeCSVText(content []byte) ([]byte, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if utf8.Valid(content) {
		return content, nil
	}
	return charmap.ISO8859_1.NewDecoder().Bytes(content)
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

// mapColumns resolves header positions. Exact canonical names claim their
// column first; aliases only fill columns still unmapped, so an extra
// "name" column cannot shadow a later "assignment" column.
func mapColumns(header []string) (map[string]int, []string) {
	normalized := make([]string, len(header))
	for idx, raw := range header {
		normalized[idx] = normalizeHeader(raw)
	}

	columns := make(map[string]int)
	claimed := make(map[int]bool)
	for idx, name := range normalized {
		if _, known := columnAliases[name]; !known {
			continue
		}
		if _, seen := columns[name]; !seen {
			columns[name] = idx
			claimed[idx] = true
		}
	}

	lookup := make(map[string]string)
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			lookup[alias] = canonical
		}
	}
	for idx, name := range normalized {
		if claimed[idx] {
			continue
		}
		canonical, ok := lookup[name]
		if !ok {
			continue
		}
		if _, seen := columns[canonical]; !seen {
			columns[canonical] = idx
			claimed[idx] = true
		}
	}

	missing := make([]string, 0)
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return columns, missing
}

func blankRecord(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

func validEmail(email string) bool {
	if strings.Count(email, "@") != 1 || strings.ContainsAny(email, " \t") {
		return false
	}
	local, domain, _ := strings.Cut(email, "@")
	return local != "" && domain != ""
}

func parsePoints(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, false
	}
	return value, true
}

func parseImportDate(raw string) (time.Time, bool) {
	for _, layout := range importDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
