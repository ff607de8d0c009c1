package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
	appErrors "github.com/formacenter/cfm-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsByStudentAndCourse(ctx context.Context, studentID, courseID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Confirm(ctx context.Context, id, studentID, groupID string) error
	Cancel(ctx context.Context, id, studentID, courseID string) error
	Delete(ctx context.Context, id, studentID, courseID string) error
	CountConfirmedByCourse(ctx context.Context, courseID string) (int, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// Notifier delivers enrollment lifecycle notifications. EnrollmentRequested
// addresses the student; TrainerEnrollmentChange addresses the course's
// trainer, with isNew distinguishing a fresh request from a status change.
// Delivery failures never fail the triggering operation.
type Notifier interface {
	EnrollmentRequested(ctx context.Context, enrollment models.EnrollmentDetail) error
	TrainerEnrollmentChange(ctx context.Context, enrollment models.EnrollmentDetail, isNew bool) error
}

// EnrollRequest is the payload for requesting an enrollment.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// EnrollmentService drives the enrollment lifecycle: request, confirm,
// cancel and delete, with group membership side effects on confirmation.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	courses   courseReader
	notifier  Notifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService instantiates EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, courses courseReader, notifier Notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, courses: courses, notifier: notifier, metrics: metrics, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}

// Get returns a single enrollment with student and course context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Request creates a PENDING enrollment for the (student, course) pair. A pair
// may only ever have one enrollment regardless of its status.
func (s *EnrollmentService) Request(ctx context.Context, req EnrollRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	exists, err := s.repo.ExistsByStudentAndCourse(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyExists, "student already enrolled in this course")
	}

	enrollment := models.Enrollment{
		StudentID: req.StudentID,
		CourseID:  req.CourseID,
		Status:    models.EnrollmentStatusPending,
	}
	if err := s.repo.Create(ctx, &enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	if s.metrics != nil {
		s.metrics.RecordEnrollmentTransition(string(models.EnrollmentStatusPending))
	}

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	s.notifyRequested(ctx, *detail)
	s.notifyTrainer(ctx, *detail, true)
	return detail, nil
}

// Confirm transitions a PENDING enrollment to CONFIRMED and assigns the
// student to the course's first group unless they already sit in one of the
// course's groups.
func (s *EnrollmentService) Confirm(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending enrollments can be confirmed")
	}

	groupID, err := s.groupToAssign(ctx, enrollment.StudentID, enrollment.CourseID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Confirm(ctx, id, enrollment.StudentID, groupID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm enrollment")
	}
	if s.metrics != nil {
		s.metrics.RecordEnrollmentTransition(string(models.EnrollmentStatusConfirmed))
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	s.notifyTrainer(ctx, *detail, false)
	return detail, nil
}

// Cancel transitions an enrollment to CANCELLED and clears the student's
// group when it belongs to the cancelled course. CANCELLED is terminal:
// cancelling twice is an error.
func (s *EnrollmentService) Cancel(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already cancelled")
	}

	if err := s.repo.Cancel(ctx, id, enrollment.StudentID, enrollment.CourseID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	if s.metrics != nil {
		s.metrics.RecordEnrollmentTransition(string(models.EnrollmentStatusCancelled))
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	s.notifyTrainer(ctx, *detail, false)
	return detail, nil
}

// Delete removes an enrollment permanently, reversing group membership the
// same way Cancel does.
func (s *EnrollmentService) Delete(ctx context.Context, id string) error {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.Delete(ctx, id, enrollment.StudentID, enrollment.CourseID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	return nil
}

// CountConfirmed returns the number of CONFIRMED enrollments for a course.
func (s *EnrollmentService) CountConfirmed(ctx context.Context, courseID string) (int, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	total, err := s.repo.CountConfirmedByCourse(ctx, courseID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	return total, nil
}

// groupToAssign returns the course's first group unless the student already
// belongs to one of the course's groups. Membership in an unrelated group
// does not suppress the write: conflict protection follows the course's
// groups, so confirmation moves the student in regardless.
func (s *EnrollmentService) groupToAssign(ctx context.Context, studentID, courseID string) (string, error) {
	groupIDs, err := s.courses.GroupIDs(ctx, courseID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course groups")
	}
	if len(groupIDs) == 0 {
		return "", nil
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.GroupID != nil {
		for _, groupID := range groupIDs {
			if groupID == *student.GroupID {
				return "", nil
			}
		}
	}
	return groupIDs[0], nil
}

func (s *EnrollmentService) notifyRequested(ctx context.Context, detail models.EnrollmentDetail) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnrollmentRequested(ctx, detail); err != nil {
		s.logger.Warn("enrollment notification failed", zap.String("enrollment_id", detail.ID), zap.Error(err))
	}
}

// notifyTrainer is a no-op when the course has no trainer assigned.
func (s *EnrollmentService) notifyTrainer(ctx context.Context, detail models.EnrollmentDetail, isNew bool) {
	if s.notifier == nil || detail.TrainerEmail == nil {
		return
	}
	if err := s.notifier.TrainerEnrollmentChange(ctx, detail, isNew); err != nil {
		s.logger.Warn("trainer notification failed", zap.String("enrollment_id", detail.ID), zap.Error(err))
	}
}
