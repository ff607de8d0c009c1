package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
	appErrors "github.com/formacenter/cfm-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	GroupIDs(ctx context.Context, courseID string) ([]string, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
}

type groupLister interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Group, error)
}

// CourseService provides course catalogue reads.
type CourseService struct {
	repo   courseRepository
	groups groupLister
	logger *zap.Logger
}

// NewCourseService instantiates CourseService.
func NewCourseService(repo courseRepository, groups groupLister, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, groups: groups, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
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
	return courses, pagination, nil
}

// Get returns a course with trainer context.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return detail, nil
}

// Groups returns the groups bound to a course in join-table order.
func (s *CourseService) Groups(ctx context.Context, courseID string) ([]models.Group, error) {
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	groups, err := s.groups.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course groups")
	}
	return groups, nil
}
