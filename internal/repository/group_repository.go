package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/formacenter/cfm-api/internal/models"
)

// GroupRepository provides group reads. Membership is the students.group_id
// column and is written only inside the enrollment transactions.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// ListByCourse returns the groups bound to a course in join-table order.
func (r *GroupRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Group, error) {
	const query = `SELECT g.id, g.name, g.level, g.created_at, g.updated_at
        FROM groups g
        JOIN course_groups cg ON cg.group_id = g.id
        WHERE cg.course_id = $1
        ORDER BY cg.position, g.id`
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query, courseID); err != nil {
		return nil, fmt.Errorf("list course groups: %w", err)
	}
	return groups, nil
}
