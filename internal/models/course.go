package models

import "time"

// Course represents a taught course owned by an optional trainer and
// associated with zero or more student groups.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	Credits     *int      `db:"credits" json:"credits,omitempty"`
	TrainerID   *string   `db:"trainer_id" json:"trainer_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with trainer info.
type CourseDetail struct {
	Course
	TrainerName  *string `db:"trainer_name" json:"trainer_name,omitempty"`
	TrainerEmail *string `db:"trainer_email" json:"trainer_email,omitempty"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	TrainerID string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
