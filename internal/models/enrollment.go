package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. CANCELLED is terminal.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusConfirmed EnrollmentStatus = "CONFIRMED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment captures a student's registration to a course. At most one
// enrollment exists per (student, course) pair.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	Status     EnrollmentStatus `db:"status" json:"status"`
}

// EnrollmentDetail enriches Enrollment with student, course and trainer info.
// Trainer fields are nil when the course has no trainer assigned.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string  `db:"student_name" json:"student_name"`
	StudentEmail string  `db:"student_email" json:"student_email"`
	CourseCode   string  `db:"course_code" json:"course_code"`
	CourseTitle  string  `db:"course_title" json:"course_title"`
	TrainerName  *string `db:"trainer_name" json:"trainer_name,omitempty"`
	TrainerEmail *string `db:"trainer_email" json:"trainer_email,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
