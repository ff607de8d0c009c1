package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
	appErrors "github.com/formacenter/cfm-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments  map[string]models.Enrollment
	trainerName  *string
	trainerEmail *string
	created      *models.Enrollment
	confirmed    map[string]string
	cancelled    []string
	deleted      []string
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for _, e := range m.enrollments {
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, len(out), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e, TrainerName: m.trainerName, TrainerEmail: m.trainerEmail}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsByStudentAndCourse(ctx context.Context, studentID, courseID string) (bool, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if enrollment.ID == "" {
		enrollment.ID = "new-enroll"
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	m.enrollments[enrollment.ID] = *enrollment
	m.created = enrollment
	return nil
}

func (m *mockEnrollmentRepo) Confirm(ctx context.Context, id, studentID, groupID string) error {
	if m.confirmed == nil {
		m.confirmed = make(map[string]string)
	}
	m.confirmed[id] = groupID
	if e, ok := m.enrollments[id]; ok {
		e.Status = models.EnrollmentStatusConfirmed
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentRepo) Cancel(ctx context.Context, id, studentID, courseID string) error {
	m.cancelled = append(m.cancelled, id)
	if e, ok := m.enrollments[id]; ok {
		e.Status = models.EnrollmentStatusCancelled
		m.enrollments[id] = e
	}
	return nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id, studentID, courseID string) error {
	m.deleted = append(m.deleted, id)
	delete(m.enrollments, id)
	return nil
}

func (m *mockEnrollmentRepo) CountConfirmedByCourse(ctx context.Context, courseID string) (int, error) {
	count := 0
	for _, e := range m.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusConfirmed {
			count++
		}
	}
	return count, nil
}

type trainerNote struct {
	enrollmentID string
	trainerEmail string
	isNew        bool
}

type mockNotifier struct {
	requested []string
	trainer   []trainerNote
}

func (m *mockNotifier) EnrollmentRequested(ctx context.Context, enrollment models.EnrollmentDetail) error {
	m.requested = append(m.requested, enrollment.ID)
	return nil
}

func (m *mockNotifier) TrainerEnrollmentChange(ctx context.Context, enrollment models.EnrollmentDetail, isNew bool) error {
	email := ""
	if enrollment.TrainerEmail != nil {
		email = *enrollment.TrainerEmail
	}
	m.trainer = append(m.trainer, trainerNote{enrollmentID: enrollment.ID, trainerEmail: email, isNew: isNew})
	return nil
}

func newEnrollmentServiceForTest(repo *mockEnrollmentRepo, students *mockStudentReader, courses *mockCourseReader, notifier *mockNotifier) *EnrollmentService {
	return NewEnrollmentService(repo, students, courses, notifier, nil, validator.New(), zap.NewNop())
}

func TestEnrollmentRequest(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	notifier := &mockNotifier{}
	svc := newEnrollmentServiceForTest(repo, students, courses, notifier)

	detail, err := svc.Request(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, detail.Status)
	assert.NotNil(t, repo.created)
	assert.Contains(t, notifier.requested, detail.ID)
	// No trainer on the course, so no trainer notification.
	assert.Empty(t, notifier.trainer)
}

func TestEnrollmentRequestNotifiesTrainer(t *testing.T) {
	repo := &mockEnrollmentRepo{trainerName: strptr("Bob Leroy"), trainerEmail: strptr("bob@cfm.test")}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}}}
	notifier := &mockNotifier{}
	svc := newEnrollmentServiceForTest(repo, students, courses, notifier)

	detail, err := svc.Request(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, notifier.trainer, 1)
	assert.Equal(t, detail.ID, notifier.trainer[0].enrollmentID)
	assert.Equal(t, "bob@cfm.test", notifier.trainer[0].trainerEmail)
	assert.True(t, notifier.trainer[0].isNew)
}

func TestEnrollmentRequestDuplicate(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusCancelled},
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	// The pair already has an enrollment, even a cancelled one blocks.
	_, err := svc.Request(context.Background(), EnrollRequest{StudentID: "s1", CourseID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyExists.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentRequestUnknownStudent(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	_, err := svc.Request(context.Background(), EnrollRequest{StudentID: "missing", CourseID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentConfirmAssignsFirstGroup(t *testing.T) {
	repo := &mockEnrollmentRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusPending},
		},
		trainerEmail: strptr("bob@cfm.test"),
	}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{
		courses: map[string]*models.Course{"c1": {ID: "c1"}},
		groups:  map[string][]string{"c1": {"g1", "g2"}},
	}
	notifier := &mockNotifier{}
	svc := newEnrollmentServiceForTest(repo, students, courses, notifier)

	detail, err := svc.Confirm(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusConfirmed, detail.Status)
	assert.Equal(t, "g1", repo.confirmed["e1"])
	require.Len(t, notifier.trainer, 1)
	assert.Equal(t, "e1", notifier.trainer[0].enrollmentID)
	assert.False(t, notifier.trainer[0].isNew)
}

func TestEnrollmentConfirmKeepsCourseGroup(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusPending},
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1", GroupID: strptr("g2")}}}
	courses := &mockCourseReader{
		courses: map[string]*models.Course{"c1": {ID: "c1"}},
		groups:  map[string][]string{"c1": {"g1", "g2"}},
	}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	// Already in one of the course's groups, so no reassignment.
	_, err := svc.Confirm(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "", repo.confirmed["e1"])
}

func TestEnrollmentConfirmOverwritesUnrelatedGroup(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusPending},
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1", GroupID: strptr("g9")}}}
	courses := &mockCourseReader{
		courses: map[string]*models.Course{"c1": {ID: "c1"}},
		groups:  map[string][]string{"c1": {"g1"}},
	}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	// g9 is not one of the course's groups, so the student moves into g1.
	_, err := svc.Confirm(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "g1", repo.confirmed["e1"])
}

func TestEnrollmentConfirmRequiresPending(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusConfirmed},
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	_, err := svc.Confirm(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCancel(t *testing.T) {
	repo := &mockEnrollmentRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusConfirmed},
		},
		trainerEmail: strptr("bob@cfm.test"),
	}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	notifier := &mockNotifier{}
	svc := newEnrollmentServiceForTest(repo, students, courses, notifier)

	detail, err := svc.Cancel(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)
	assert.Contains(t, repo.cancelled, "e1")
	require.Len(t, notifier.trainer, 1)
	assert.Equal(t, "e1", notifier.trainer[0].enrollmentID)
	assert.False(t, notifier.trainer[0].isNew)
}

func TestEnrollmentCancelTwice(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusCancelled},
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	_, err := svc.Cancel(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentDelete(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusPending},
	}}
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	require.NoError(t, svc.Delete(context.Background(), "e1"))
	assert.Contains(t, repo.deleted, "e1")

	err := svc.Delete(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentCountConfirmed(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusConfirmed},
		"e2": {ID: "e2", StudentID: "s2", CourseID: "c1", Status: models.EnrollmentStatusPending},
	}}
	students := &mockStudentReader{}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newEnrollmentServiceForTest(repo, students, courses, &mockNotifier{})

	total, err := svc.CountConfirmed(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
