package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
	"github.com/formacenter/cfm-api/pkg/export"
)

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
}

type timetableReader interface {
	StudentTimetable(ctx context.Context, studentID, from, to string) ([]models.SessionDetail, error)
	TrainerTimetable(ctx context.Context, trainerID, from, to string) ([]models.SessionDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders enrollments and timetables into downloadable files.
type ExportService struct {
	enrollments enrollmentLister
	timetables  timetableReader
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(enrollments enrollmentLister, timetables timetableReader, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{enrollments: enrollments, timetables: timetables, csv: csv, pdf: pdf, logger: logger}
}

// EnrollmentsCSV renders the filtered enrollments as a CSV document.
func (s *ExportService) EnrollmentsCSV(ctx context.Context, filter models.EnrollmentFilter) ([]byte, string, error) {
	// Export the full result set, not a page.
	filter.Page = 1
	filter.PageSize = 100

	var all []models.EnrollmentDetail
	for {
		page, pagination, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return nil, "", err
		}
		all = append(all, page...)
		if len(all) >= pagination.TotalCount || len(page) == 0 {
			break
		}
		filter.Page++
	}

	rows := make([]map[string]string, 0, len(all))
	for _, e := range all {
		rows = append(rows, map[string]string{
			"Enrollment ID": e.ID,
			"Student":       e.StudentName,
			"Email":         e.StudentEmail,
			"Course Code":   e.CourseCode,
			"Course Title":  e.CourseTitle,
			"Status":        string(e.Status),
			"Enrolled At":   e.EnrolledAt.UTC().Format(time.RFC3339),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Enrollment ID", "Student", "Email", "Course Code", "Course Title", "Status", "Enrolled At"},
		Rows:    rows,
	}

	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("enrollments_%s.csv", time.Now().UTC().Format("20060102_150405"))
	return payload, filename, nil
}

// StudentTimetablePDF renders a student's timetable as a PDF document.
func (s *ExportService) StudentTimetablePDF(ctx context.Context, studentID, from, to string) ([]byte, string, error) {
	sessions, err := s.timetables.StudentTimetable(ctx, studentID, from, to)
	if err != nil {
		return nil, "", err
	}
	title := fmt.Sprintf("Student Timetable %s to %s", from, to)
	return s.renderTimetablePDF(sessions, title, "student", studentID)
}

// TrainerTimetablePDF renders a trainer's timetable as a PDF document.
func (s *ExportService) TrainerTimetablePDF(ctx context.Context, trainerID, from, to string) ([]byte, string, error) {
	sessions, err := s.timetables.TrainerTimetable(ctx, trainerID, from, to)
	if err != nil {
		return nil, "", err
	}
	title := fmt.Sprintf("Trainer Timetable %s to %s", from, to)
	return s.renderTimetablePDF(sessions, title, "trainer", trainerID)
}

func (s *ExportService) renderTimetablePDF(sessions []models.SessionDetail, title, kind, ownerID string) ([]byte, string, error) {
	rows := make([]map[string]string, 0, len(sessions))
	for _, sess := range sessions {
		trainer := ""
		if sess.TrainerName != nil {
			trainer = *sess.TrainerName
		}
		rows = append(rows, map[string]string{
			"Date":    sess.Date,
			"Start":   sess.StartTime,
			"End":     sess.EndTime,
			"Course":  fmt.Sprintf("%s %s", sess.CourseCode, sess.CourseTitle),
			"Room":    sess.Room,
			"Kind":    string(sess.Kind),
			"Trainer": trainer,
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Start", "End", "Course", "Room", "Kind", "Trainer"},
		Rows:    rows,
	}

	payload, err := s.pdf.Render(dataset, title)
	if err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("timetable_%s_%s_%s.pdf", kind, ownerID, time.Now().UTC().Format("20060102_150405"))
	return payload, filename, nil
}
