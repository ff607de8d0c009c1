package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formacenter/cfm-api/internal/models"
)

func TestEnrollmentRepositoryFindDetailIncludesTrainer(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	columns := []string{"id", "student_id", "course_id", "enrolled_at", "status",
		"student_name", "student_email", "course_code", "course_title", "trainer_name", "trainer_email"}
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN trainers t ON t.id = c.trainer_id")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("e1", "s1", "c1", time.Now().UTC(), models.EnrollmentStatusPending,
				"Alice Martin", "alice@cfm.test", "GO101", "Intro to Go", "Bob Leroy", "bob@cfm.test"))

	detail, err := repo.FindDetailByID(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, detail.TrainerName)
	assert.Equal(t, "Bob Leroy", *detail.TrainerName)
	require.NotNil(t, detail.TrainerEmail)
	assert.Equal(t, "bob@cfm.test", *detail.TrainerEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsByStudentAndCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("s1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsByStudentAndCourse(context.Background(), "s1", "c1")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("s2", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err = repo.ExistsByStudentAndCourse(context.Background(), "s2", "c1")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryConfirmAssignsGroupInOneTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("e1", models.EnrollmentStatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET group_id = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("s1", "g1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Confirm(context.Background(), "e1", "s1", "g1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryConfirmWithoutGroup(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("e1", models.EnrollmentStatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Confirm(context.Background(), "e1", "s1", ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCancelClearsCourseGroupMembership(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("e1", models.EnrollmentStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("group_id IN (SELECT group_id FROM course_groups WHERE course_id = $2)")).
		WithArgs("s1", "c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Cancel(context.Background(), "e1", "s1", "c1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCancelRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("e1", models.EnrollmentStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("group_id IN (SELECT group_id FROM course_groups WHERE course_id = $2)")).
		WithArgs("s1", "c1", sqlmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	require.Error(t, repo.Cancel(context.Background(), "e1", "s1", "c1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("group_id IN (SELECT group_id FROM course_groups WHERE course_id = $2)")).
		WithArgs("s1", "c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE id = $1")).
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "e1", "s1", "c1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountConfirmedByCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2")).
		WithArgs("c1", models.EnrollmentStatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := repo.CountConfirmedByCourse(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
