package service

import (
	"sort"
	"strings"

	"github.com/noah-isme/grade-insight-api/internal/dto"
	"github.com/noah-isme/grade-insight-api/internal/models"
	"github.com/noah-isme/grade-insight-api/internal/repository"
	"github.com/noah-isme/grade-insight-api/internal/utils"
)

// gradebookIndex is the lookup structure shared by every read model.
type gradebookIndex struct {
	assignments []models.Assignment
	byID        map[uint]models.Assignment
	students    []models.Student
	grades      map[uint]map[uint]models.Grade
	teachers    map[uint]string
	graded      map[uint]int
}

func indexSnapshot(snapshot repository.GradebookSnapshot) gradebookIndex {
	idx := gradebookIndex{
		assignments: append([]models.Assignment(nil), snapshot.Assignments...),
		byID:        make(map[uint]models.Assignment, len(snapshot.Assignments)),
		students:    append([]models.Student(nil), snapshot.Students...),
		grades:      make(map[uint]map[uint]models.Grade, len(snapshot.Students)),
		teachers:    make(map[uint]string, len(snapshot.Teachers)),
		graded:      make(map[uint]int, len(snapshot.Assignments)),
	}

	SortAssignments(idx.assignments)
	sortStudents(idx.students)

	for _, assignment := range snapshot.Assignments {
		idx.byID[assignment.ID] = assignment
	}
	for _, teacher := range snapshot.Teachers {
		idx.teachers[teacher.ID] = teacher.Name
	}
	for _, grade := range snapshot.Grades {
		if _, ok := idx.byID[grade.AssignmentID]; !ok {
			continue
		}
		row, ok := idx.grades[grade.StudentID]
		if !ok {
			row = make(map[uint]models.Grade)
			idx.grades[grade.StudentID] = row
		}
		row[grade.AssignmentID] = grade
		idx.graded[grade.AssignmentID]++
	}

	return idx
}

// SortAssignments orders undated assignments first by name, then dated
// assignments ascending by date with ties broken by name.
func SortAssignments(assignments []models.Assignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		a, b := assignments[i], assignments[j]
		aDated, bDated := a.Date != nil, b.Date != nil
		if aDated != bDated {
			return !aDated
		}
		if aDated && !a.Date.Equal(*b.Date) {
			return a.Date.Before(*b.Date)
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
}

func sortStudents(students []models.Student) {
	sort.SliceStable(students, func(i, j int) bool {
		a, b := students[i], students[j]
		if al, bl := strings.ToLower(a.LastName), strings.ToLower(b.LastName); al != bl {
			return al < bl
		}
		if af, bf := strings.ToLower(a.FirstName), strings.ToLower(b.FirstName); af != bf {
			return af < bf
		}
		return a.Email < b.Email
	})
}

// matchesStudentSearch performs a case-insensitive substring match on the
// student's display names and email.
func matchesStudentSearch(student models.Student, search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	candidates := []string{
		student.FullName(),
		student.SortName(),
		student.Email,
	}
	for _, candidate := range candidates {
		if strings.Contains(strings.ToLower(candidate), search) {
			return true
		}
	}
	return false
}

// matchesAssignmentFilter matches on the assignment name or any of its tags.
func matchesAssignmentFilter(assignment models.Assignment, filter string) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return true
	}
	if strings.Contains(strings.ToLower(assignment.Name), filter) {
		return true
	}
	for _, tag := range assignment.TagList() {
		if strings.Contains(tag, filter) {
			return true
		}
	}
	return false
}

func studentInfo(student models.Student) dto.StudentInfo {
	return dto.StudentInfo{
		ID:        student.ID,
		FirstName: student.FirstName,
		LastName:  student.LastName,
		Email:     student.Email,
	}
}

func dateString(assignment models.Assignment) *string {
	if assignment.Date == nil {
		return nil
	}
	value := assignment.DateString()
	return &value
}

func (idx gradebookIndex) cell(grade models.Grade, assignment models.Assignment) dto.GradeCell {
	percentage := models.Percentage(grade.Score, grade.MaxPoints)
	teacher := ""
	if grade.TeacherID != nil {
		teacher = idx.teachers[*grade.TeacherID]
	}
	return dto.GradeCell{
		AssignmentID: assignment.ID,
		Assignment:   assignment.Name,
		Date:         dateString(assignment),
		Score:        grade.Score,
		MaxPoints:    grade.MaxPoints,
		Percentage:   percentage,
		LetterGrade:  models.LetterGrade(percentage),
		GradeClass:   models.GradeClass(percentage),
		Tags:         assignment.TagList(),
		TeacherName:  teacher,
		ClassTag:     grade.ClassTag,
	}
}

// BuildGradesTable renders the teacher dashboard table. The search removes
// student rows; the assignment filter removes columns and never rows.
func BuildGradesTable(snapshot repository.GradebookSnapshot, filter dto.GradesTableFilter) dto.GradesTableResponse {
	idx := indexSnapshot(snapshot)

	columns := make([]dto.AssignmentColumn, 0, len(idx.assignments))
	visible := make([]models.Assignment, 0, len(idx.assignments))
	for _, assignment := range idx.assignments {
		if !matchesAssignmentFilter(assignment, filter.AssignmentFilter) {
			continue
		}
		visible = append(visible, assignment)
		columns = append(columns, dto.AssignmentColumn{
			ID:           assignment.ID,
			Name:         assignment.Name,
			Date:         dateString(assignment),
			MaxPoints:    assignment.MaxPoints,
			Tags:         assignment.TagList(),
			StudentCount: idx.graded[assignment.ID],
		})
	}

	rows := make([]dto.GradesTableRow, 0, len(idx.students))
	for _, student := range idx.students {
		if !matchesStudentSearch(student, filter.Search) {
			continue
		}
		cells := make([]dto.GradeCell, 0, len(visible))
		for _, assignment := range visible {
			if grade, ok := idx.grades[student.ID][assignment.ID]; ok {
				cells = append(cells, idx.cell(grade, assignment))
			}
		}
		rows = append(rows, dto.GradesTableRow{StudentInfo: studentInfo(student), Grades: cells})
	}

	return dto.GradesTableResponse{
		Students:           rows,
		Assignments:        columns,
		TotalStudents:      len(rows),
		VisibleAssignments: len(columns),
	}
}

// BuildStudentGrades renders one student's grades filtered by tags (any-match).
// ok is false when the email is unknown in the tenant.
func BuildStudentGrades(snapshot repository.GradebookSnapshot, email string, tags []string) (dto.StudentGradesResponse, bool) {
	email = models.NormalizeEmail(email)
	idx := indexSnapshot(snapshot)

	var (
		student models.Student
		found   bool
	)
	for _, candidate := range idx.students {
		if candidate.Email == email {
			student, found = candidate, true
			break
		}
	}
	if !found {
		return dto.StudentGradesResponse{}, false
	}

	wanted := utils.NormalizeTags(tags)
	available := make([]string, 0)
	cells := make([]dto.GradeCell, 0)
	var summary dto.GradeSummary
	graded := 0

	for _, assignment := range idx.assignments {
		grade, ok := idx.grades[student.ID][assignment.ID]
		if !ok {
			continue
		}
		graded++
		assignmentTags := assignment.TagList()
		available = utils.MergeTags(available, assignmentTags)
		if !utils.HasAnyTag(assignmentTags, wanted) {
			continue
		}
		cells = append(cells, idx.cell(grade, assignment))
		summary.TotalPoints += grade.Score
		summary.MaxPossible += grade.MaxPoints
	}
	sort.Strings(available)

	summary.OverallPercentage = models.Percentage(summary.TotalPoints, summary.MaxPossible)
	summary.LetterGrade = models.LetterGrade(summary.OverallPercentage)
	summary.GradeClass = models.GradeClass(summary.OverallPercentage)

	return dto.StudentGradesResponse{
		Student:            studentInfo(student),
		Grades:             cells,
		TotalAssignments:   graded,
		VisibleAssignments: len(cells),
		Summary:            summary,
		AvailableTags:      available,
	}, true
}

// BuildStudentOverviews lists students matching search with aggregate statistics.
func BuildStudentOverviews(snapshot repository.GradebookSnapshot, search string) []dto.StudentOverview {
	idx := indexSnapshot(snapshot)

	overviews := make([]dto.StudentOverview, 0, len(idx.students))
	for _, student := range idx.students {
		if !matchesStudentSearch(student, search) {
			continue
		}
		overview := dto.StudentOverview{StudentInfo: studentInfo(student)}
		for _, grade := range idx.grades[student.ID] {
			overview.TotalAssignments++
			overview.TotalPoints += grade.Score
			overview.MaxPossible += grade.MaxPoints
		}
		overview.AveragePercentage = models.Percentage(overview.TotalPoints, overview.MaxPossible)
		overviews = append(overviews, overview)
	}
	return overviews
}

// BuildAssignmentOverviews lists assignments in display order with score statistics.
func BuildAssignmentOverviews(snapshot repository.GradebookSnapshot) []dto.AssignmentOverview {
	idx := indexSnapshot(snapshot)

	type stats struct {
		count     int
		score     float64
		maxPoints float64
		high      float64
		low       float64
	}
	perAssignment := make(map[uint]*stats, len(idx.assignments))
	for _, row := range idx.grades {
		for assignmentID, grade := range row {
			st, ok := perAssignment[assignmentID]
			if !ok {
				st = &stats{high: grade.Score, low: grade.Score}
				perAssignment[assignmentID] = st
			}
			st.count++
			st.score += grade.Score
			st.maxPoints += grade.MaxPoints
			if grade.Score > st.high {
				st.high = grade.Score
			}
			if grade.Score < st.low {
				st.low = grade.Score
			}
		}
	}

	overviews := make([]dto.AssignmentOverview, 0, len(idx.assignments))
	for _, assignment := range idx.assignments {
		overview := dto.AssignmentOverview{
			ID:        assignment.ID,
			Name:      assignment.Name,
			Date:      dateString(assignment),
			MaxPoints: assignment.MaxPoints,
			Tags:      assignment.TagList(),
		}
		if st, ok := perAssignment[assignment.ID]; ok {
			overview.StudentCount = st.count
			overview.AverageScore = roundTo(st.score/float64(st.count), 2)
			overview.AveragePercentage = models.Percentage(st.score, st.maxPoints)
			overview.HighestScore = st.high
			overview.LowestScore = st.low
		}
		overviews = append(overviews, overview)
	}
	return overviews
}

// CollectTags returns every tag used by any assignment, sorted.
func CollectTags(snapshot repository.GradebookSnapshot) []string {
	tags := make([]string, 0)
	for _, assignment := range snapshot.Assignments {
		tags = utils.MergeTags(tags, assignment.TagList())
	}
	sort.Strings(tags)
	return tags
}
