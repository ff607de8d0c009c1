package models

import "time"

// SessionKind classifies a scheduled session.
type SessionKind string

// Possible session kinds.
const (
	SessionKindLecture  SessionKind = "LECTURE"
	SessionKindTutorial SessionKind = "TUTORIAL"
	SessionKindLab      SessionKind = "LAB"
	SessionKindExam     SessionKind = "EXAM"
)

// ResourceKind identifies the resource dimension a conflict check runs against.
type ResourceKind string

// Resource dimensions consumed by a session.
const (
	ResourceTrainer ResourceKind = "TRAINER"
	ResourceRoom    ResourceKind = "ROOM"
	ResourceGroup   ResourceKind = "GROUP"
)

// Session is a single timetabled occurrence of a course. Dates use
// YYYY-MM-DD and times HH:MM; the occupied interval is half-open
// [start_time, end_time).
type Session struct {
	ID        string      `db:"id" json:"id"`
	CourseID  string      `db:"course_id" json:"course_id"`
	Date      string      `db:"session_date" json:"date"`
	StartTime string      `db:"start_time" json:"start_time"`
	EndTime   string      `db:"end_time" json:"end_time"`
	Room      string      `db:"room" json:"room"`
	Kind      SessionKind `db:"kind" json:"kind"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// SessionDetail enriches Session with course context.
type SessionDetail struct {
	Session
	CourseCode  string  `db:"course_code" json:"course_code"`
	CourseTitle string  `db:"course_title" json:"course_title"`
	TrainerName *string `db:"trainer_name" json:"trainer_name,omitempty"`
}

// SessionFilter describes query params for listing sessions.
type SessionFilter struct {
	CourseID  string
	Date      string
	DateFrom  string
	DateTo    string
	Room      string
	Kind      SessionKind
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// SessionConflict describes an existing session that blocks a proposed slot.
type SessionConflict struct {
	SessionID string `json:"session_id"`
	CourseID  string `json:"course_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Room      string `json:"room"`
	Resource  string `json:"resource"`
}

// SessionConflictError is returned when a proposed session collides with an
// existing booking on one of its resources.
type SessionConflictError struct {
	Resource string          `json:"resource"`
	Message  string          `json:"message"`
	Conflict SessionConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *SessionConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
