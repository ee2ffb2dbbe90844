package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grade-insight-api/internal/dto"
	"github.com/noah-isme/grade-insight-api/internal/models"
	"github.com/noah-isme/grade-insight-api/internal/repository"
)

func dayPtr(year int, month time.Month, d int) *time.Time {
	value := time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
	return &value
}

func testAssignment(id uint, name string, date *time.Time, maxPoints float64, tags ...string) models.Assignment {
	a := models.Assignment{ID: id, TenantID: "t", Name: name, Date: date, DateKey: models.AssignmentDateKey(date), MaxPoints: maxPoints}
	a.SetTags(tags)
	return a
}

func sampleSnapshot() repository.GradebookSnapshot {
	teacherID := uint(1)
	return repository.GradebookSnapshot{
		TenantID: "t",
		Teachers: []models.Teacher{{ID: teacherID, Name: "Ms. Frizzle"}},
		Students: []models.Student{
			{ID: 1, FirstName: "Zoe", LastName: "Adams", Email: "zoe@school.edu"},
			{ID: 2, FirstName: "Amy", LastName: "Baker", Email: "amy@school.edu"},
			{ID: 3, FirstName: "Al", LastName: "Adams", Email: "al@school.edu"},
		},
		Assignments: []models.Assignment{
			testAssignment(10, "Test March", dayPtr(2024, 3, 1), 100, "test"),
			testAssignment(11, "Quiz Z", nil, 10, "quiz"),
			testAssignment(12, "Quiz January", dayPtr(2024, 1, 15), 10, "quiz", "unit-1"),
			testAssignment(13, "quiz a", nil, 10),
		},
		Grades: []models.Grade{
			{StudentID: 1, AssignmentID: 10, Score: 95, MaxPoints: 100, TeacherID: &teacherID, ClassTag: "p1"},
			{StudentID: 1, AssignmentID: 12, Score: 5, MaxPoints: 10},
			{StudentID: 2, AssignmentID: 10, Score: 70, MaxPoints: 100},
			{StudentID: 2, AssignmentID: 11, Score: 0, MaxPoints: 0},
		},
	}
}

func TestSortAssignmentsPlacesUndatedTierFirst(t *testing.T) {
	snapshot := sampleSnapshot()
	SortAssignments(snapshot.Assignments)

	names := make([]string, 0, len(snapshot.Assignments))
	for _, a := range snapshot.Assignments {
		names = append(names, a.Name)
	}
	require.Equal(t, []string{"quiz a", "Quiz Z", "Quiz January", "Test March"}, names)
}

func TestSortAssignmentsBreaksDateTiesByName(t *testing.T) {
	list := []models.Assignment{
		testAssignment(1, "Lab B", dayPtr(2024, 2, 1), 10),
		testAssignment(2, "lab a", dayPtr(2024, 2, 1), 10),
	}
	SortAssignments(list)
	require.Equal(t, "lab a", list[0].Name)
}

func TestBuildGradesTableOrdersStudentsAndColumns(t *testing.T) {
	table := BuildGradesTable(sampleSnapshot(), dto.GradesTableFilter{})

	require.Equal(t, 3, table.TotalStudents)
	require.Equal(t, 4, table.VisibleAssignments)
	require.Equal(t, "al@school.edu", table.Students[0].Email)
	require.Equal(t, "zoe@school.edu", table.Students[1].Email)
	require.Equal(t, "amy@school.edu", table.Students[2].Email)

	require.Equal(t, "Quiz January", table.Assignments[2].Name)
	require.Equal(t, "2024-01-15", *table.Assignments[2].Date)
	require.Nil(t, table.Assignments[0].Date)
	require.Equal(t, 2, table.Assignments[3].StudentCount)

	zoe := table.Students[1]
	require.Len(t, zoe.Grades, 2)
	require.Equal(t, "Quiz January", zoe.Grades[0].Assignment)
	require.Equal(t, 50, zoe.Grades[0].Percentage)
	require.Equal(t, models.LetterF, zoe.Grades[0].LetterGrade)
	require.Equal(t, 95, zoe.Grades[1].Percentage)
	require.Equal(t, models.LetterA, zoe.Grades[1].LetterGrade)
	require.Equal(t, models.GradeClassGood, zoe.Grades[1].GradeClass)
	require.Equal(t, "Ms. Frizzle", zoe.Grades[1].TeacherName)
	require.Equal(t, "p1", zoe.Grades[1].ClassTag)

	require.Empty(t, table.Students[0].Grades, "students without grades keep their row")
}

func TestBuildGradesTableZeroMaxPointsIsZeroPercent(t *testing.T) {
	table := BuildGradesTable(sampleSnapshot(), dto.GradesTableFilter{Search: "amy"})
	require.Len(t, table.Students, 1)

	var bonus dto.GradeCell
	for _, cell := range table.Students[0].Grades {
		if cell.Assignment == "Quiz Z" {
			bonus = cell
		}
	}
	require.Equal(t, 0, bonus.Percentage)
	require.Equal(t, models.LetterF, bonus.LetterGrade)
}

func TestBuildGradesTableSearchMatchesNamesAndEmail(t *testing.T) {
	cases := map[string]int{
		"ADAMS":          2,
		"adams, zoe":     1,
		"amy baker":      1,
		"@school.edu":    3,
		"nobody":         0,
		"  zoe@school  ": 1,
	}
	for search, expected := range cases {
		table := BuildGradesTable(sampleSnapshot(), dto.GradesTableFilter{Search: search})
		require.Equal(t, expected, table.TotalStudents, search)
		require.Equal(t, 4, table.VisibleAssignments, "search never removes columns")
	}
}

func TestBuildGradesTableAssignmentFilterRemovesColumnsOnly(t *testing.T) {
	table := BuildGradesTable(sampleSnapshot(), dto.GradesTableFilter{AssignmentFilter: "UNIT"})

	require.Equal(t, 3, table.TotalStudents)
	require.Equal(t, 1, table.VisibleAssignments)
	require.Equal(t, "Quiz January", table.Assignments[0].Name)
	for _, row := range table.Students {
		for _, cell := range row.Grades {
			require.Equal(t, uint(12), cell.AssignmentID)
		}
	}

	table = BuildGradesTable(sampleSnapshot(), dto.GradesTableFilter{AssignmentFilter: "quiz"})
	require.Equal(t, 3, table.VisibleAssignments)
}

func TestBuildStudentGradesFiltersByAnyTag(t *testing.T) {
	response, ok := BuildStudentGrades(sampleSnapshot(), " ZOE@school.edu ", nil)
	require.True(t, ok)
	require.Equal(t, 2, response.TotalAssignments)
	require.Equal(t, 2, response.VisibleAssignments)
	require.Equal(t, 100.0, response.Summary.TotalPoints)
	require.Equal(t, 110.0, response.Summary.MaxPossible)
	require.Equal(t, 91, response.Summary.OverallPercentage)
	require.Equal(t, models.LetterA, response.Summary.LetterGrade)
	require.Equal(t, []string{"quiz", "test", "unit-1"}, response.AvailableTags)

	filtered, ok := BuildStudentGrades(sampleSnapshot(), "zoe@school.edu", []string{"Quiz", "missing"})
	require.True(t, ok)
	require.Equal(t, 2, filtered.TotalAssignments, "total ignores the tag filter")
	require.Equal(t, 1, filtered.VisibleAssignments)
	require.Len(t, filtered.Grades, 1)
	require.Equal(t, 50, filtered.Summary.OverallPercentage)
	require.Equal(t, models.GradeClassPoor, filtered.Summary.GradeClass)
	require.Equal(t, response.AvailableTags, filtered.AvailableTags)
}

func TestBuildStudentGradesHandlesUnknownAndEmptyStudents(t *testing.T) {
	_, ok := BuildStudentGrades(sampleSnapshot(), "ghost@school.edu", nil)
	require.False(t, ok)

	response, ok := BuildStudentGrades(sampleSnapshot(), "al@school.edu", nil)
	require.True(t, ok)
	require.Empty(t, response.Grades)
	require.NotNil(t, response.Grades)
	require.Equal(t, 0, response.Summary.OverallPercentage)
	require.Equal(t, models.LetterF, response.Summary.LetterGrade)
}

func TestBuildAssignmentOverviewsComputesStatistics(t *testing.T) {
	overviews := BuildAssignmentOverviews(sampleSnapshot())
	require.Len(t, overviews, 4)

	march := overviews[3]
	require.Equal(t, "Test March", march.Name)
	require.Equal(t, 2, march.StudentCount)
	require.Equal(t, 82.5, march.AverageScore)
	require.Equal(t, 83, march.AveragePercentage)
	require.Equal(t, 95.0, march.HighestScore)
	require.Equal(t, 70.0, march.LowestScore)

	require.Zero(t, overviews[0].StudentCount)
}

func TestBuildStudentOverviewsAndTags(t *testing.T) {
	overviews := BuildStudentOverviews(sampleSnapshot(), "")
	require.Len(t, overviews, 3)
	require.Equal(t, "zoe@school.edu", overviews[1].Email)
	require.Equal(t, 2, overviews[1].TotalAssignments)
	require.Equal(t, 91, overviews[1].AveragePercentage)

	require.Equal(t, []string{"quiz", "test", "unit-1"}, CollectTags(sampleSnapshot()))
}
