package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
)

type mockEnrollmentLister struct {
	enrollments []models.EnrollmentDetail
}

func (m *mockEnrollmentLister) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if filter.Page > 1 {
		return nil, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(m.enrollments)}, nil
	}
	return m.enrollments, &models.Pagination{Page: 1, PageSize: filter.PageSize, TotalCount: len(m.enrollments)}, nil
}

type mockTimetableReader struct {
	sessions []models.SessionDetail
}

func (m *mockTimetableReader) StudentTimetable(ctx context.Context, studentID, from, to string) ([]models.SessionDetail, error) {
	return m.sessions, nil
}

func (m *mockTimetableReader) TrainerTimetable(ctx context.Context, trainerID, from, to string) ([]models.SessionDetail, error) {
	return m.sessions, nil
}

func TestExportEnrollmentsCSV(t *testing.T) {
	lister := &mockEnrollmentLister{enrollments: []models.EnrollmentDetail{
		{
			Enrollment:   models.Enrollment{ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusConfirmed, EnrolledAt: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)},
			StudentName:  "Alice Martin",
			StudentEmail: "alice@cfm.test",
			CourseCode:   "GO101",
			CourseTitle:  "Intro to Go",
		},
	}}
	svc := NewExportService(lister, &mockTimetableReader{}, zap.NewNop(), nil, nil)

	payload, filename, err := svc.EnrollmentsCSV(context.Background(), models.EnrollmentFilter{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filename, "enrollments_"))
	assert.True(t, strings.HasSuffix(filename, ".csv"))

	content := string(payload)
	assert.Contains(t, content, "Enrollment ID")
	assert.Contains(t, content, "Alice Martin")
	assert.Contains(t, content, "GO101")
	assert.Contains(t, content, "CONFIRMED")
}

func TestExportStudentTimetablePDF(t *testing.T) {
	trainer := "Bob Leroy"
	timetables := &mockTimetableReader{sessions: []models.SessionDetail{
		{
			Session:     models.Session{ID: "sess-1", CourseID: "c1", Date: "2025-09-01", StartTime: "10:00", EndTime: "12:00", Room: "A1", Kind: models.SessionKindLecture},
			CourseCode:  "GO101",
			CourseTitle: "Intro to Go",
			TrainerName: &trainer,
		},
	}}
	svc := NewExportService(&mockEnrollmentLister{}, timetables, zap.NewNop(), nil, nil)

	payload, filename, err := svc.StudentTimetablePDF(context.Background(), "s1", "2025-09-01", "2025-09-07")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".pdf"))
	assert.True(t, len(payload) > 0)
	assert.Equal(t, "%PDF", string(payload[:4]))
}
