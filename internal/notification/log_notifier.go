package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/formacenter/cfm-api/internal/models"
)

// LogNotifier records enrollment notifications in the application log. It
// stands in for a mail or messaging integration; callers treat delivery as
// best effort either way.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// EnrollmentRequested notifies the student that their request was received.
func (n *LogNotifier) EnrollmentRequested(_ context.Context, enrollment models.EnrollmentDetail) error {
	n.logger.Info("enrollment requested",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student", enrollment.StudentName),
		zap.String("student_email", enrollment.StudentEmail),
		zap.String("course", enrollment.CourseTitle),
	)
	return nil
}

// TrainerEnrollmentChange notifies the course trainer of a new request or a
// status transition.
func (n *LogNotifier) TrainerEnrollmentChange(_ context.Context, enrollment models.EnrollmentDetail, isNew bool) error {
	trainerName, trainerEmail := "", ""
	if enrollment.TrainerName != nil {
		trainerName = *enrollment.TrainerName
	}
	if enrollment.TrainerEmail != nil {
		trainerEmail = *enrollment.TrainerEmail
	}
	n.logger.Info("trainer enrollment notification",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("trainer", trainerName),
		zap.String("trainer_email", trainerEmail),
		zap.String("student", enrollment.StudentName),
		zap.String("course", enrollment.CourseTitle),
		zap.String("status", string(enrollment.Status)),
		zap.Bool("is_new", isNew),
	)
	return nil
}
