package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
	appErrors "github.com/formacenter/cfm-api/pkg/errors"
)

type scheduledSlot struct {
	session   models.Session
	trainerID string
	groupIDs  []string
}

type mockSessionRepo struct {
	slots   []scheduledSlot
	created *models.Session
	updated *models.Session
	deleted []string
}

func overlaps(s models.Session, date, start, end string) bool {
	return s.Date == date && s.StartTime < end && s.EndTime > start
}

func (m *mockSessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	var out []models.Session
	for _, slot := range m.slots {
		out = append(out, slot.session)
	}
	return out, len(out), nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.Session, error) {
	for _, slot := range m.slots {
		if slot.session.ID == id {
			s := slot.session
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	var out []models.Session
	for _, slot := range m.slots {
		if slot.session.CourseID == courseID {
			out = append(out, slot.session)
		}
	}
	return out, nil
}

func (m *mockSessionRepo) FindTrainerConflicts(ctx context.Context, trainerID, date, start, end string) ([]models.Session, error) {
	var out []models.Session
	for _, slot := range m.slots {
		if slot.trainerID == trainerID && overlaps(slot.session, date, start, end) {
			out = append(out, slot.session)
		}
	}
	return out, nil
}

func (m *mockSessionRepo) FindRoomConflicts(ctx context.Context, room, date, start, end string) ([]models.Session, error) {
	var out []models.Session
	for _, slot := range m.slots {
		if slot.session.Room == room && overlaps(slot.session, date, start, end) {
			out = append(out, slot.session)
		}
	}
	return out, nil
}

func (m *mockSessionRepo) FindGroupConflicts(ctx context.Context, groupIDs []string, date, start, end string) ([]models.Session, error) {
	wanted := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = struct{}{}
	}
	var out []models.Session
	for _, slot := range m.slots {
		if !overlaps(slot.session, date, start, end) {
			continue
		}
		for _, g := range slot.groupIDs {
			if _, ok := wanted[g]; ok {
				out = append(out, slot.session)
				break
			}
		}
	}
	return out, nil
}

func (m *mockSessionRepo) ListByTrainerAndDateRange(ctx context.Context, trainerID, from, to string) ([]models.SessionDetail, error) {
	var out []models.SessionDetail
	for _, slot := range m.slots {
		if slot.trainerID == trainerID && slot.session.Date >= from && slot.session.Date <= to {
			out = append(out, models.SessionDetail{Session: slot.session})
		}
	}
	return out, nil
}

func (m *mockSessionRepo) ListByStudentAndDateRange(ctx context.Context, studentID, from, to string) ([]models.SessionDetail, error) {
	var out []models.SessionDetail
	for _, slot := range m.slots {
		if slot.session.Date >= from && slot.session.Date <= to {
			out = append(out, models.SessionDetail{Session: slot.session})
		}
	}
	return out, nil
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = "new-session"
	}
	m.created = session
	m.slots = append(m.slots, scheduledSlot{session: *session})
	return nil
}

func (m *mockSessionRepo) Update(ctx context.Context, session *models.Session) error {
	m.updated = session
	return nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockCourseReader struct {
	courses map[string]*models.Course
	groups  map[string][]string
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseReader) GroupIDs(ctx context.Context, courseID string) ([]string, error) {
	return m.groups[courseID], nil
}

type mockStudentReader struct {
	students map[string]*models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockTrainerReader struct {
	trainers map[string]*models.Trainer
}

func (m *mockTrainerReader) FindByID(ctx context.Context, id string) (*models.Trainer, error) {
	if tr, ok := m.trainers[id]; ok {
		return tr, nil
	}
	return nil, sql.ErrNoRows
}

func strptr(s string) *string { return &s }

func newSessionServiceForTest(repo *mockSessionRepo, courses *mockCourseReader) *SessionService {
	students := &mockStudentReader{students: map[string]*models.Student{"s1": {ID: "s1"}}}
	trainers := &mockTrainerReader{trainers: map[string]*models.Trainer{"t1": {ID: "t1"}}}
	cacheSvc := NewCacheService(nil, nil, 0, zap.NewNop(), false)
	return NewSessionService(repo, courses, students, trainers, cacheSvc, nil, 0, validator.New(), zap.NewNop())
}

func existingSlot(id, courseID, trainerID, room, date, start, end string, groups ...string) scheduledSlot {
	return scheduledSlot{
		session: models.Session{
			ID: id, CourseID: courseID, Date: date,
			StartTime: start, EndTime: end, Room: room, Kind: models.SessionKindLecture,
		},
		trainerID: trainerID,
		groupIDs:  groups,
	}
}

func TestScheduleSessionSuccess(t *testing.T) {
	repo := &mockSessionRepo{}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}}}
	svc := newSessionServiceForTest(repo, courses)

	session, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-01", StartTime: "10:00", EndTime: "12:00", Room: "A1", Kind: "LECTURE",
	})
	require.NoError(t, err)
	assert.NotNil(t, repo.created)
	assert.Equal(t, "c1", session.CourseID)
	assert.Equal(t, models.SessionKindLecture, session.Kind)
}

func TestScheduleTrainerConflict(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c0", "t1", "A1", "2025-09-01", "10:00", "11:00"),
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}}}
	svc := newSessionServiceForTest(repo, courses)

	// Different room, same trainer, overlapping slot.
	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-01", StartTime: "10:30", EndTime: "11:30", Room: "B2", Kind: "LECTURE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	var conflictErr *models.SessionConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, "trainer", conflictErr.Resource)
	assert.Equal(t, "sess-1", conflictErr.Conflict.SessionID)
	assert.Nil(t, repo.created)
}

func TestScheduleRoomConflict(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c0", "t9", "A1", "2025-09-01", "10:00", "11:00"),
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}}}
	svc := newSessionServiceForTest(repo, courses)

	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-01", StartTime: "10:30", EndTime: "11:30", Room: "A1", Kind: "LAB",
	})
	require.Error(t, err)

	var conflictErr *models.SessionConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, "room", conflictErr.Resource)
}

func TestScheduleGroupConflict(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c0", "t9", "A1", "2025-09-01", "10:00", "11:00", "g1"),
	}}
	courses := &mockCourseReader{
		courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}},
		groups:  map[string][]string{"c1": {"g1", "g2"}},
	}
	svc := newSessionServiceForTest(repo, courses)

	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-01", StartTime: "10:30", EndTime: "11:30", Room: "B2", Kind: "TUTORIAL",
	})
	require.Error(t, err)

	var conflictErr *models.SessionConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, "groups", conflictErr.Resource)
}

func TestScheduleBackToBackSlotsDoNotConflict(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c1", "t1", "A1", "2025-09-01", "10:00", "11:00"),
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}}}
	svc := newSessionServiceForTest(repo, courses)

	// End of one slot equals start of the next: intervals are half-open.
	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-01", StartTime: "11:00", EndTime: "12:00", Room: "A1", Kind: "LECTURE",
	})
	require.NoError(t, err)
	assert.NotNil(t, repo.created)
}

func TestScheduleSameSlotDifferentDateDoesNotConflict(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c1", "t1", "A1", "2025-09-01", "10:00", "11:00"),
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}}}
	svc := newSessionServiceForTest(repo, courses)

	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-02", StartTime: "10:00", EndTime: "11:00", Room: "A1", Kind: "LECTURE",
	})
	require.NoError(t, err)
}

func TestScheduleInvalidInterval(t *testing.T) {
	repo := &mockSessionRepo{}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newSessionServiceForTest(repo, courses)

	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-01", StartTime: "12:00", EndTime: "10:00", Room: "A1", Kind: "LECTURE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidInterval.Code, appErrors.FromError(err).Code)

	_, err = svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "2025-09-01", StartTime: "10:00", EndTime: "10:00", Room: "A1", Kind: "LECTURE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidInterval.Code, appErrors.FromError(err).Code)
}

func TestScheduleBadTimeFormat(t *testing.T) {
	repo := &mockSessionRepo{}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1"}}}
	svc := newSessionServiceForTest(repo, courses)

	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "c1", Date: "01/09/2025", StartTime: "10:00", EndTime: "11:00", Room: "A1", Kind: "LECTURE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestScheduleCourseNotFound(t *testing.T) {
	repo := &mockSessionRepo{}
	courses := &mockCourseReader{}
	svc := newSessionServiceForTest(repo, courses)

	_, err := svc.Schedule(context.Background(), ScheduleSessionRequest{
		CourseID: "missing", Date: "2025-09-01", StartTime: "10:00", EndTime: "11:00", Room: "A1", Kind: "LECTURE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUpdateSessionIgnoresItself(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c1", "t1", "A1", "2025-09-01", "10:00", "11:00"),
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{"c1": {ID: "c1", TrainerID: strptr("t1")}}}
	svc := newSessionServiceForTest(repo, courses)

	// Shifting the session within its own occupied window must not count the
	// session as its own conflict.
	session, err := svc.Update(context.Background(), "sess-1", UpdateSessionRequest{
		Date: "2025-09-01", StartTime: "10:30", EndTime: "11:30", Room: "A1", Kind: "LECTURE",
	})
	require.NoError(t, err)
	require.NotNil(t, repo.updated)
	assert.Equal(t, "10:30", session.StartTime)
}

func TestHasConflict(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c1", "t1", "A1", "2025-09-01", "10:00", "11:00", "g1"),
	}}
	courses := &mockCourseReader{}
	svc := newSessionServiceForTest(repo, courses)

	conflict, err := svc.HasConflict(context.Background(), models.ResourceRoom, []string{"A1"}, "2025-09-01", "10:30", "11:30")
	require.NoError(t, err)
	assert.True(t, conflict)

	conflict, err = svc.HasConflict(context.Background(), models.ResourceRoom, []string{"A1"}, "2025-09-01", "11:00", "12:00")
	require.NoError(t, err)
	assert.False(t, conflict)

	conflict, err = svc.HasConflict(context.Background(), models.ResourceGroup, []string{"g1", "g9"}, "2025-09-01", "10:30", "11:30")
	require.NoError(t, err)
	assert.True(t, conflict)

	_, err = svc.HasConflict(context.Background(), models.ResourceTrainer, nil, "2025-09-01", "10:00", "11:00")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentTimetableUnknownStudent(t *testing.T) {
	repo := &mockSessionRepo{}
	svc := newSessionServiceForTest(repo, &mockCourseReader{})

	_, err := svc.StudentTimetable(context.Background(), "missing", "2025-09-01", "2025-09-07")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTrainerTimetable(t *testing.T) {
	repo := &mockSessionRepo{slots: []scheduledSlot{
		existingSlot("sess-1", "c1", "t1", "A1", "2025-09-01", "10:00", "11:00"),
		existingSlot("sess-2", "c1", "t1", "A1", "2025-09-10", "10:00", "11:00"),
	}}
	svc := newSessionServiceForTest(repo, &mockCourseReader{})

	sessions, err := svc.TrainerTimetable(context.Background(), "t1", "2025-09-01", "2025-09-07")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)
}
