package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/formacenter/cfm-api/internal/models"
)

// SessionRepository provides persistence for timetabled sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = "id, course_id, session_date, start_time, end_time, room, kind, created_at, updated_at"

// List returns sessions with optional filtering and pagination.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	base := "FROM sessions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Date != "" {
		conditions = append(conditions, fmt.Sprintf("session_date = $%d", len(args)+1))
		args = append(args, filter.Date)
	}
	if filter.DateFrom != "" {
		conditions = append(conditions, fmt.Sprintf("session_date >= $%d", len(args)+1))
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		conditions = append(conditions, fmt.Sprintf("session_date <= $%d", len(args)+1))
		args = append(args, filter.DateTo)
	}
	if filter.Room != "" {
		conditions = append(conditions, fmt.Sprintf("room = $%d", len(args)+1))
		args = append(args, filter.Room)
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, filter.Kind)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"session_date": true,
		"start_time":   true,
		"room":         true,
		"created_at":   true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "session_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, start_time ASC LIMIT %d OFFSET %d", sessionColumns, base, sortBy, order, size, offset)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	return sessions, total, nil
}

// FindByID loads a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1", sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListByCourse returns the sessions of a course ordered chronologically.
func (r *SessionRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE course_id = $1 ORDER BY session_date, start_time", sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, courseID); err != nil {
		return nil, fmt.Errorf("list course sessions: %w", err)
	}
	return sessions, nil
}

// FindTrainerConflicts returns sessions of the trainer's courses that overlap
// the half-open interval [start, end) on the given date.
func (r *SessionRepository) FindTrainerConflicts(ctx context.Context, trainerID, date, start, end string) ([]models.Session, error) {
	const query = `SELECT s.id, s.course_id, s.session_date, s.start_time, s.end_time, s.room, s.kind, s.created_at, s.updated_at
        FROM sessions s
        JOIN courses c ON c.id = s.course_id
        WHERE c.trainer_id = $1 AND s.session_date = $2 AND s.start_time < $4 AND s.end_time > $3`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, trainerID, date, start, end); err != nil {
		return nil, fmt.Errorf("find trainer conflicts: %w", err)
	}
	return sessions, nil
}

// FindRoomConflicts returns sessions occupying the room over an overlapping
// interval. Room matching is a case-sensitive exact string comparison.
func (r *SessionRepository) FindRoomConflicts(ctx context.Context, room, date, start, end string) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions
        WHERE room = $1 AND session_date = $2 AND start_time < $4 AND end_time > $3`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, room, date, start, end); err != nil {
		return nil, fmt.Errorf("find room conflicts: %w", err)
	}
	return sessions, nil
}

// FindGroupConflicts returns sessions whose course shares at least one of the
// given group ids, overlapping the interval on the given date.
func (r *SessionRepository) FindGroupConflicts(ctx context.Context, groupIDs []string, date, start, end string) ([]models.Session, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(groupIDs))
	args := make([]interface{}, 0, len(groupIDs)+3)
	for i, id := range groupIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	args = append(args, date, start, end)
	query := fmt.Sprintf(`SELECT DISTINCT s.id, s.course_id, s.session_date, s.start_time, s.end_time, s.room, s.kind, s.created_at, s.updated_at
        FROM sessions s
        JOIN course_groups cg ON cg.course_id = s.course_id
        WHERE cg.group_id IN (%s) AND s.session_date = $%d AND s.start_time < $%d AND s.end_time > $%d`,
		strings.Join(placeholders, ","), len(groupIDs)+1, len(groupIDs)+3, len(groupIDs)+2)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("find group conflicts: %w", err)
	}
	return sessions, nil
}

// ListByTrainerAndDateRange returns a trainer's timetable between two dates.
func (r *SessionRepository) ListByTrainerAndDateRange(ctx context.Context, trainerID, from, to string) ([]models.SessionDetail, error) {
	const query = `SELECT s.id, s.course_id, s.session_date, s.start_time, s.end_time, s.room, s.kind, s.created_at, s.updated_at,
        c.code AS course_code, c.title AS course_title, t.full_name AS trainer_name
        FROM sessions s
        JOIN courses c ON c.id = s.course_id
        LEFT JOIN trainers t ON t.id = c.trainer_id
        WHERE c.trainer_id = $1 AND s.session_date BETWEEN $2 AND $3
        ORDER BY s.session_date, s.start_time`
	var sessions []models.SessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, trainerID, from, to); err != nil {
		return nil, fmt.Errorf("list trainer timetable: %w", err)
	}
	return sessions, nil
}

// ListByStudentAndDateRange returns the timetable of a student's current
// group between two dates.
func (r *SessionRepository) ListByStudentAndDateRange(ctx context.Context, studentID, from, to string) ([]models.SessionDetail, error) {
	const query = `SELECT DISTINCT s.id, s.course_id, s.session_date, s.start_time, s.end_time, s.room, s.kind, s.created_at, s.updated_at,
        c.code AS course_code, c.title AS course_title, t.full_name AS trainer_name
        FROM sessions s
        JOIN courses c ON c.id = s.course_id
        JOIN course_groups cg ON cg.course_id = s.course_id
        JOIN students st ON st.group_id = cg.group_id
        LEFT JOIN trainers t ON t.id = c.trainer_id
        WHERE st.id = $1 AND s.session_date BETWEEN $2 AND $3
        ORDER BY s.session_date, s.start_time`
	var sessions []models.SessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, studentID, from, to); err != nil {
		return nil, fmt.Errorf("list student timetable: %w", err)
	}
	return sessions, nil
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO sessions (id, course_id, session_date, start_time, end_time, room, kind, created_at, updated_at)
        VALUES (:id, :course_id, :session_date, :start_time, :end_time, :room, :kind, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Update modifies slot, room and kind of an existing session.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sessions SET session_date = :session_date, start_time = :start_time, end_time = :end_time,
        room = :room, kind = :kind, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
