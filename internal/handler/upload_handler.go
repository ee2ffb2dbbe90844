package handler

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/grade-insight-api/internal/dto"
	"github.com/noah-isme/grade-insight-api/internal/middleware"
	"github.com/noah-isme/grade-insight-api/internal/service"
	"github.com/noah-isme/grade-insight-api/internal/utils"
)

// UploadResponse keeps the legacy top-level counters next to the standard envelope.
type UploadResponse struct {
	utils.APIResponse
	ImportedCount int              `json:"importedCount"`
	SkippedRows   []dto.SkippedRow `json:"skippedRows"`
}

// UploadHandler accepts grade CSV uploads.
type UploadHandler struct {
	service  service.ImportService
	logger   zerolog.Logger
	maxBytes int64
}

// NewUploadHandler constructs an upload handler.
func NewUploadHandler(service service.ImportService, maxSizeMB int, logger zerolog.Logger) *UploadHandler {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &UploadHandler{
		service:  service,
		logger:   logger.With().Str("component", "upload_handler").Logger(),
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
	}
}

// Register wires upload routes.
func (h *UploadHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	router.Post("", withGuards(guards, h.upload)...)
}

func (h *UploadHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}
	if file.Size > h.maxBytes {
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, service.ErrImportTooLarge.Error())
	}

	handle, err := file.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read uploaded file")
	}
	defer handle.Close()

	content, err := io.ReadAll(io.LimitReader(handle, h.maxBytes+1))
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read uploaded file")
	}

	req := dto.ImportRequest{
		TenantID:    middleware.TenantID(c),
		FileName:    file.Filename,
		Content:     content,
		TeacherName: c.FormValue("teacher_name"),
		ClassTag:    c.FormValue("class_tag"),
		Tags:        formTags(c),
	}

	result, err := h.service.Import(c.UserContext(), req)
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.Fail(c, fiber.StatusBadRequest, "invalid upload request", validationDetails(err))
		case errors.Is(err, service.ErrImportTooLarge):
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, service.ErrInvalidImportFile):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrImportLockTimeout):
			return utils.SendError(c, fiber.StatusConflict, "another import for this school is still running")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("grade import failed")
			return utils.SendError(c, fiber.StatusInternalServerError, "import failed")
		}
	}

	return c.Status(fiber.StatusOK).JSON(UploadResponse{
		APIResponse: utils.APIResponse{
			Success: true,
			Data:    result,
			Message: result.Message,
		},
		ImportedCount: result.ImportedCount,
		SkippedRows:   result.SkippedRows,
	})
}

// formTags accepts repeated tags fields as well as comma separated values.
func formTags(c *fiber.Ctx) []string {
	var raw []string
	if form, err := c.MultipartForm(); err == nil && form != nil {
		raw = form.Value["tags"]
	}
	if len(raw) == 0 {
		if value := c.FormValue("tags"); value != "" {
			raw = []string{value}
		}
	}

	tags := make([]string, 0, len(raw))
	for _, value := range raw {
		tags = append(tags, splitAndTrim(value)...)
	}
	return tags
}
