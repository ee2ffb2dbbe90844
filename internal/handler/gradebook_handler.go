package handler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/grade-insight-api/internal/dto"
	"github.com/noah-isme/grade-insight-api/internal/middleware"
	"github.com/noah-isme/grade-insight-api/internal/service"
	"github.com/noah-isme/grade-insight-api/internal/utils"
)

// GradesTableEnvelope keeps the legacy top-level table fields next to the standard envelope.
type GradesTableEnvelope struct {
	utils.APIResponse
	Students    []dto.GradesTableRow   `json:"students"`
	Assignments []dto.AssignmentColumn `json:"assignments"`
}

// StudentGradesEnvelope keeps the legacy flat student fields next to the standard envelope.
type StudentGradesEnvelope struct {
	utils.APIResponse
	dto.StudentInfo
	TotalAssignments int             `json:"total_assignments"`
	Grades           []dto.GradeCell `json:"grades"`
}

// GradebookHandler serves the read side of the gradebook.
type GradebookHandler struct {
	service   service.GradebookQueryService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradebookHandler constructs a gradebook handler.
func NewGradebookHandler(service service.GradebookQueryService, validate *validator.Validate, logger zerolog.Logger) *GradebookHandler {
	return &GradebookHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "gradebook_handler").Logger(),
	}
}

// Register wires gradebook read routes. Guards run before every route.
func (h *GradebookHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	get := func(path string, handler fiber.Handler) {
		router.Get(path, withGuards(guards, handler)...)
	}

	get("/grades-table", h.gradesTable)
	get("/student/:email", h.student)
	get("/students", h.students)
	get("/assignments", h.assignments)
	get("/tags", h.tags)
	get("/imports", h.imports)
	get("/export/grades.csv", h.export)
}

func (h *GradebookHandler) gradesTable(c *fiber.Ctx) error {
	var filter dto.GradesTableFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	if h.validator != nil {
		if err := h.validator.Struct(filter); err != nil {
			return utils.Fail(c, fiber.StatusBadRequest, "invalid query parameters", validationDetails(err))
		}
	}

	table, err := h.service.GetGradesTable(c.UserContext(), middleware.TenantID(c), filter)
	if err != nil {
		return h.handleError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(GradesTableEnvelope{
		APIResponse: utils.APIResponse{
			Success: true,
			Data:    table,
			Message: "grades table retrieved",
		},
		Students:    table.Students,
		Assignments: table.Assignments,
	})
}

func (h *GradebookHandler) student(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil || strings.TrimSpace(email) == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid student email")
	}

	tags := splitAndTrim(c.Query("tags"))
	response, err := h.service.GetStudentGrades(c.UserContext(), middleware.TenantID(c), email, tags)
	if err != nil {
		return h.handleError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(StudentGradesEnvelope{
		APIResponse: utils.APIResponse{
			Success: true,
			Data:    response,
			Message: "student grades retrieved",
		},
		StudentInfo:      response.Student,
		TotalAssignments: response.TotalAssignments,
		Grades:           response.Grades,
	})
}

func (h *GradebookHandler) students(c *fiber.Ctx) error {
	students, err := h.service.ListStudents(c.UserContext(), middleware.TenantID(c), c.Query("search"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "students retrieved", students)
}

func (h *GradebookHandler) assignments(c *fiber.Ctx) error {
	assignments, err := h.service.ListAssignments(c.UserContext(), middleware.TenantID(c))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "assignments retrieved", assignments)
}

func (h *GradebookHandler) tags(c *fiber.Ctx) error {
	tags, err := h.service.ListTags(c.UserContext(), middleware.TenantID(c))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "tags retrieved", tags)
}

func (h *GradebookHandler) imports(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "page must be a number")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "page_size must be a number")
	}

	history, err := h.service.ListImports(c.UserContext(), middleware.TenantID(c), dto.ImportHistoryRequest{
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "import history retrieved", history)
}

func (h *GradebookHandler) export(c *fiber.Ctx) error {
	tenant := middleware.TenantID(c)
	payload, err := h.service.ExportGradesCSV(c.UserContext(), tenant)
	if err != nil {
		return h.handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "grades-"+tenant+".csv"))
	return c.Status(fiber.StatusOK).Send(payload)
}

func (h *GradebookHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrStudentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "student not found")
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "invalid query parameters", validationDetails(err))
	default:
		requestLogger(h.logger, c).Error().Err(err).Str("tenant_id", middleware.TenantID(c)).Msg("gradebook query failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load gradebook")
	}
}
