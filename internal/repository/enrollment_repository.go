package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/formacenter/cfm-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments and the group
// membership writes coupled to their lifecycle.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id
LEFT JOIN trainers t ON t.id = c.trainer_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.full_name",
		"course_title": "c.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.enrolled_at, e.status,
        s.full_name AS student_name, s.email AS student_email, c.code AS course_code, c.title AS course_title,
        t.full_name AS trainer_name, t.email AS trainer_email
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, enrolled_at, status FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info, including the
// course's trainer when one is assigned.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.enrolled_at, e.status,
        s.full_name AS student_name, s.email AS student_email, c.code AS course_code, c.title AS course_title,
        t.full_name AS trainer_name, t.email AS trainer_email
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        LEFT JOIN trainers t ON t.id = c.trainer_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsByStudentAndCourse reports whether any enrollment exists for the
// (student, course) pair, regardless of status.
func (r *EnrollmentRepository) ExistsByStudentAndCourse(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, enrolled_at, status)
        VALUES (:id, :student_id, :course_id, :enrolled_at, :status)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Confirm sets the enrollment CONFIRMED and, when groupID is non-empty,
// assigns the student to that group in the same transaction.
func (r *EnrollmentRepository) Confirm(ctx context.Context, id, studentID, groupID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin confirm: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $2 WHERE id = $1`, id, models.EnrollmentStatusConfirmed); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("confirm enrollment: %w", err)
	}
	if groupID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE students SET group_id = $2, updated_at = $3 WHERE id = $1`, studentID, groupID, time.Now().UTC()); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("assign student group: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm: %w", err)
	}
	return nil
}

// Cancel sets the enrollment CANCELLED and clears the student's group when it
// belongs to the cancelled course, atomically.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id, studentID, courseID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET status = $2 WHERE id = $1`, id, models.EnrollmentStatusCancelled); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	if err := clearCourseGroupMembership(ctx, tx, studentID, courseID); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}
	return nil
}

// Delete reverses course group membership like Cancel, then removes the
// enrollment record permanently.
func (r *EnrollmentRepository) Delete(ctx context.Context, id, studentID, courseID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	if err := clearCourseGroupMembership(ctx, tx, studentID, courseID); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// CountConfirmedByCourse returns the number of CONFIRMED enrollments.
func (r *EnrollmentRepository) CountConfirmedByCourse(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	var total int
	if err := r.db.GetContext(ctx, &total, query, courseID, models.EnrollmentStatusConfirmed); err != nil {
		return 0, fmt.Errorf("count confirmed enrollments: %w", err)
	}
	return total, nil
}

func clearCourseGroupMembership(ctx context.Context, tx *sqlx.Tx, studentID, courseID string) error {
	const query = `UPDATE students SET group_id = NULL, updated_at = $3 WHERE id = $1
        AND group_id IN (SELECT group_id FROM course_groups WHERE course_id = $2)`
	if _, err := tx.ExecContext(ctx, query, studentID, courseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear student group: %w", err)
	}
	return nil
}
