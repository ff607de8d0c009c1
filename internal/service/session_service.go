package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
	appErrors "github.com/formacenter/cfm-api/pkg/errors"
)

type sessionRepository interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Session, error)
	FindTrainerConflicts(ctx context.Context, trainerID, date, start, end string) ([]models.Session, error)
	FindRoomConflicts(ctx context.Context, room, date, start, end string) ([]models.Session, error)
	FindGroupConflicts(ctx context.Context, groupIDs []string, date, start, end string) ([]models.Session, error)
	ListByTrainerAndDateRange(ctx context.Context, trainerID, from, to string) ([]models.SessionDetail, error)
	ListByStudentAndDateRange(ctx context.Context, studentID, from, to string) ([]models.SessionDetail, error)
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	GroupIDs(ctx context.Context, courseID string) ([]string, error)
}

type trainerReader interface {
	FindByID(ctx context.Context, id string) (*models.Trainer, error)
}

// ScheduleSessionRequest describes payload for scheduling a session.
type ScheduleSessionRequest struct {
	CourseID  string `json:"course_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Room      string `json:"room" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=LECTURE TUTORIAL LAB EXAM"`
}

// UpdateSessionRequest moves an existing session to a new slot.
type UpdateSessionRequest struct {
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Room      string `json:"room" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=LECTURE TUTORIAL LAB EXAM"`
}

// SessionService validates proposed slots against trainer, room and group
// occupancy and commits conflict-free sessions.
type SessionService struct {
	repo         sessionRepository
	courses      courseReader
	students     studentReader
	trainers     trainerReader
	cache        *CacheService
	metrics      *MetricsService
	timetableTTL time.Duration
	validator    *validator.Validate
	logger       *zap.Logger

	// mu serializes the conflict check and insert so two concurrent
	// proposals for the same resource cannot both pass.
	mu sync.Mutex
}

// NewSessionService instantiates SessionService.
func NewSessionService(repo sessionRepository, courses courseReader, students studentReader, trainers trainerReader, cache *CacheService, metrics *MetricsService, timetableTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timetableTTL <= 0 {
		timetableTTL = 5 * time.Minute
	}
	return &SessionService{repo: repo, courses: courses, students: students, trainers: trainers, cache: cache, metrics: metrics, timetableTTL: timetableTTL, validator: validate, logger: logger}
}

// List returns sessions with pagination metadata.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return sessions, pagination, nil
}

// ListByCourse returns the sessions of a course.
func (s *SessionService) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	sessions, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course sessions")
	}
	return sessions, nil
}

// HasConflict reports whether an existing session overlaps the half-open
// interval [start, end) on the given date for the resource. It never mutates
// state and is safe to call concurrently.
func (s *SessionService) HasConflict(ctx context.Context, kind models.ResourceKind, resourceIDs []string, date, start, end string) (bool, error) {
	if err := validateSlot(date, start, end); err != nil {
		return false, err
	}
	if len(resourceIDs) == 0 {
		return false, appErrors.Clone(appErrors.ErrValidation, "at least one resource id is required")
	}

	var (
		conflicts []models.Session
		err       error
	)
	switch kind {
	case models.ResourceTrainer:
		conflicts, err = s.repo.FindTrainerConflicts(ctx, resourceIDs[0], date, start, end)
	case models.ResourceRoom:
		conflicts, err = s.repo.FindRoomConflicts(ctx, resourceIDs[0], date, start, end)
	case models.ResourceGroup:
		conflicts, err = s.repo.FindGroupConflicts(ctx, resourceIDs, date, start, end)
	default:
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown resource kind %q", kind))
	}
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check conflicts")
	}
	return len(conflicts) > 0, nil
}

// Schedule validates a proposed session against all resources it would occupy
// and persists it if every check passes.
func (s *SessionService) Schedule(ctx context.Context, req ScheduleSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if err := validateSlot(req.Date, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	groupIDs, err := s.courses.GroupIDs(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course groups")
	}

	session := models.Session{
		CourseID:  course.ID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Room:      req.Room,
		Kind:      models.SessionKind(req.Kind),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureNoConflict(ctx, course, groupIDs, session, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, &session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.invalidateTimetables(ctx)
	return &session, nil
}

// Update moves an existing session to a new slot, re-running every conflict
// check while ignoring the session itself.
func (s *SessionService) Update(ctx context.Context, id string, req UpdateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if err := validateSlot(req.Date, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	course, err := s.courses.FindByID(ctx, existing.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	groupIDs, err := s.courses.GroupIDs(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course groups")
	}

	updated := models.Session{
		ID:        existing.ID,
		CourseID:  existing.CourseID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Room:      req.Room,
		Kind:      models.SessionKind(req.Kind),
		CreatedAt: existing.CreatedAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureNoConflict(ctx, course, groupIDs, updated, existing.ID); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	s.invalidateTimetables(ctx)
	return &updated, nil
}

// Delete removes a session.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	s.invalidateTimetables(ctx)
	return nil
}

// StudentTimetable returns the sessions a student's group attends between two
// dates, served from cache when possible.
func (s *SessionService) StudentTimetable(ctx context.Context, studentID, from, to string) ([]models.SessionDetail, error) {
	if err := validateDateRange(from, to); err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	key := fmt.Sprintf("timetable:student:%s:%s:%s", studentID, from, to)
	var cached []models.SessionDetail
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	sessions, err := s.repo.ListByStudentAndDateRange(ctx, studentID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student timetable")
	}
	if err := s.cache.Set(ctx, key, sessions, s.timetableTTL); err != nil {
		s.logger.Warn("failed to cache student timetable", zap.String("student_id", studentID), zap.Error(err))
	}
	return sessions, nil
}

// TrainerTimetable returns a trainer's sessions between two dates, served
// from cache when possible.
func (s *SessionService) TrainerTimetable(ctx context.Context, trainerID, from, to string) ([]models.SessionDetail, error) {
	if err := validateDateRange(from, to); err != nil {
		return nil, err
	}
	if _, err := s.trainers.FindByID(ctx, trainerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trainer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trainer")
	}
	key := fmt.Sprintf("timetable:trainer:%s:%s:%s", trainerID, from, to)
	var cached []models.SessionDetail
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	sessions, err := s.repo.ListByTrainerAndDateRange(ctx, trainerID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trainer timetable")
	}
	if err := s.cache.Set(ctx, key, sessions, s.timetableTTL); err != nil {
		s.logger.Warn("failed to cache trainer timetable", zap.String("trainer_id", trainerID), zap.Error(err))
	}
	return sessions, nil
}

// ensureNoConflict runs the resource checks in order: trainer, room, groups.
// The first failing resource aborts the whole proposal.
func (s *SessionService) ensureNoConflict(ctx context.Context, course *models.Course, groupIDs []string, session models.Session, ignoreID string) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveDBQuery("session_conflict_check", time.Since(start))
		}
	}()

	if course.TrainerID != nil {
		conflicts, err := s.repo.FindTrainerConflicts(ctx, *course.TrainerID, session.Date, session.StartTime, session.EndTime)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check trainer conflicts")
		}
		if existing := firstOther(conflicts, ignoreID); existing != nil {
			return s.wrapConflict("trainer", "trainer already has a session in this slot", *existing)
		}
	}

	conflicts, err := s.repo.FindRoomConflicts(ctx, session.Room, session.Date, session.StartTime, session.EndTime)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check room conflicts")
	}
	if existing := firstOther(conflicts, ignoreID); existing != nil {
		return s.wrapConflict("room", "room already booked in this slot", *existing)
	}

	if len(groupIDs) > 0 {
		conflicts, err := s.repo.FindGroupConflicts(ctx, groupIDs, session.Date, session.StartTime, session.EndTime)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check group conflicts")
		}
		if existing := firstOther(conflicts, ignoreID); existing != nil {
			return s.wrapConflict("groups", "one or more student groups already have a session in this slot", *existing)
		}
	}
	return nil
}

func (s *SessionService) wrapConflict(resource, message string, existing models.Session) error {
	if s.metrics != nil {
		s.metrics.RecordSessionConflict(resource)
	}
	conflict := models.SessionConflict{
		SessionID: existing.ID,
		CourseID:  existing.CourseID,
		Date:      existing.Date,
		StartTime: existing.StartTime,
		EndTime:   existing.EndTime,
		Room:      existing.Room,
		Resource:  resource,
	}
	domainErr := &models.SessionConflictError{Resource: resource, Message: message, Conflict: conflict}
	return appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, fmt.Sprintf("session conflict: %s", message))
}

func (s *SessionService) invalidateTimetables(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "timetable:*"); err != nil {
		s.logger.Warn("failed to invalidate timetable cache", zap.Error(err))
	}
}

func firstOther(sessions []models.Session, ignoreID string) *models.Session {
	for i := range sessions {
		if sessions[i].ID == ignoreID {
			continue
		}
		return &sessions[i]
	}
	return nil
}

// validateSlot checks date/time formats and the start < end invariant.
// Times are zero-padded HH:MM so lexicographic order matches clock order.
func validateSlot(date, start, end string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}
	for _, value := range []string{start, end} {
		if _, err := time.Parse("15:04", value); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "times must be formatted HH:MM")
		}
	}
	if start >= end {
		return appErrors.Clone(appErrors.ErrInvalidInterval, "")
	}
	return nil
}

func validateDateRange(from, to string) error {
	for _, value := range []string{from, to} {
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "dates must be formatted YYYY-MM-DD")
		}
	}
	if from > to {
		return appErrors.Clone(appErrors.ErrValidation, "from date must not be after to date")
	}
	return nil
}
