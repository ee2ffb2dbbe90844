package contract_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grade-insight-api/internal/dto"
	"github.com/noah-isme/grade-insight-api/internal/handler"
	"github.com/noah-isme/grade-insight-api/internal/middleware"
	"github.com/noah-isme/grade-insight-api/internal/service"
)

type stubQueryService struct {
	service.GradebookQueryService
	table   dto.GradesTableResponse
	student dto.StudentGradesResponse
}

func (s stubQueryService) GetGradesTable(context.Context, string, dto.GradesTableFilter) (dto.GradesTableResponse, error) {
	return s.table, nil
}

func (s stubQueryService) GetStudentGrades(context.Context, string, string, []string) (dto.StudentGradesResponse, error) {
	return s.student, nil
}

type stubImportService struct {
	result dto.ImportResult
}

func (s stubImportService) Import(context.Context, dto.ImportRequest) (dto.ImportResult, error) {
	return s.result, nil
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()

	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func decodePayload(t *testing.T, resp *http.Response) interface{} {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload
}

func sampleCell() dto.GradeCell {
	date := "2024-09-03"
	return dto.GradeCell{
		AssignmentID: 4,
		Assignment:   "Essay 1",
		Date:         &date,
		Score:        45,
		MaxPoints:    50,
		Percentage:   90,
		LetterGrade:  "A",
		GradeClass:   "good",
		Tags:         []string{"period-1", "writing"},
		TeacherName:  "Ms. Rivera",
		ClassTag:     "period-1",
	}
}

func gradebookApp(query service.GradebookQueryService) *fiber.App {
	app := fiber.New()
	app.Use(middleware.Tenant("north-high"))
	handler.NewGradebookHandler(query, nil, zerolog.Nop()).Register(app.Group("/api"))
	return app
}

func TestGradesTableContract(t *testing.T) {
	schema := compileSchema(t, "grades_table.schema.json")

	cell := sampleCell()
	query := stubQueryService{table: dto.GradesTableResponse{
		Students: []dto.GradesTableRow{
			{
				StudentInfo: dto.StudentInfo{ID: 1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.edu"},
				Grades:      []dto.GradeCell{cell},
			},
			{
				StudentInfo: dto.StudentInfo{ID: 2, FirstName: "Alan", LastName: "Turing", Email: "alan@example.edu"},
				Grades:      []dto.GradeCell{},
			},
		},
		Assignments: []dto.AssignmentColumn{
			{ID: 4, Name: "Essay 1", Date: cell.Date, MaxPoints: 50, Tags: cell.Tags, StudentCount: 1},
			{ID: 5, Name: "Participation", MaxPoints: 10, Tags: []string{}, StudentCount: 0},
		},
		TotalStudents:      2,
		VisibleAssignments: 2,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/grades-table?search=ada", nil)
	resp, err := gradebookApp(query).Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := decodePayload(t, resp)
	require.NoError(t, schema.Validate(payload))

	body := payload.(map[string]interface{})
	students, ok := body["students"].([]interface{})
	require.True(t, ok, "students must be served at the top level")
	require.Len(t, students, 2)
	require.Equal(t, "ada@example.edu", students[0].(map[string]interface{})["email"])
	require.Len(t, body["assignments"], 2)
}

func TestStudentGradesContract(t *testing.T) {
	schema := compileSchema(t, "student_grades.schema.json")

	query := stubQueryService{student: dto.StudentGradesResponse{
		Student:            dto.StudentInfo{ID: 1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.edu"},
		Grades:             []dto.GradeCell{sampleCell()},
		TotalAssignments:   2,
		VisibleAssignments: 1,
		Summary: dto.GradeSummary{
			TotalPoints:       45,
			MaxPossible:       50,
			OverallPercentage: 90,
			LetterGrade:       "A",
			GradeClass:        "good",
		},
		AvailableTags: []string{"period-1", "writing"},
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/student/ada%40example.edu?tags=writing", nil)
	resp, err := gradebookApp(query).Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := decodePayload(t, resp)
	require.NoError(t, schema.Validate(payload))

	body := payload.(map[string]interface{})
	require.Equal(t, "ada@example.edu", body["email"])
	require.Equal(t, "Ada", body["first_name"])
	require.Equal(t, float64(2), body["total_assignments"])
	require.Len(t, body["grades"], 1)
}

func TestUploadContract(t *testing.T) {
	schema := compileSchema(t, "import_result.schema.json")

	imports := stubImportService{result: dto.ImportResult{
		Message:            "CSV uploaded and processed successfully",
		ImportedCount:      3,
		SkippedRows:        []dto.SkippedRow{{Line: 4, Reason: service.ReasonInvalidEmail}},
		Warnings:           []dto.ImportWarning{{Line: 5, Message: "max points is zero"}},
		Errors:             []string{},
		BatchID:            7,
		StudentsTouched:    2,
		AssignmentsTouched: 2,
	}}

	app := fiber.New()
	app.Use(middleware.Tenant("north-high"))
	handler.NewUploadHandler(imports, 1, zerolog.Nop()).Register(app.Group("/api/upload"))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "grades.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Student Email,Assignment Name,Score\nada@example.edu,Essay 1,45\n"))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("teacher_name", "Ms. Rivera"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NoError(t, schema.Validate(decodePayload(t, resp)))
}
