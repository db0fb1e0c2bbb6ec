package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/pelita-edu/pelita-go-api/internal/models"
)

// ErrRevisionConflict indicates a conditional write lost a race: the stored
// revision no longer matched the expected one, so nothing was written.
var ErrRevisionConflict = errors.New("attempt revision conflict")

// AttemptMutator computes the next attempt state from the current one. The
// repository owns ID, QuizID, StudentID, StartedAt and Revision; mutators must
// leave them alone.
type AttemptMutator func(current models.QuizAttempt) (models.QuizAttempt, error)

// AttemptRepository persists quiz attempts. All mutations after creation go
// through ConditionalUpdate, a compare-and-swap keyed on the revision counter.
type AttemptRepository interface {
	GetByID(ctx context.Context, id uint) (models.QuizAttempt, error)
	GetByQuizAndStudent(ctx context.Context, quizID, studentID uint) (models.QuizAttempt, error)
	ListByStudent(ctx context.Context, studentID uint) ([]models.QuizAttempt, error)
	Create(ctx context.Context, attempt *models.QuizAttempt) error
	ConditionalUpdate(ctx context.Context, id uint, expectedRevision int64, mutate AttemptMutator) (models.QuizAttempt, error)
	CreateHistory(ctx context.Context, history *models.AttemptGradeHistory) error
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository instantiates the repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.QuizAttempt{}).
		Preload("Quiz").
		Preload("History", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("graded_at DESC")
		})
}

func (r *attemptRepository) GetByID(ctx context.Context, id uint) (models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	if err := r.baseQuery(ctx).First(&attempt, id).Error; err != nil {
		return models.QuizAttempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) GetByQuizAndStudent(ctx context.Context, quizID, studentID uint) (models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	if err := r.baseQuery(ctx).
		Where("quiz_id = ?", quizID).
		Where("student_id = ?", studentID).
		First(&attempt).Error; err != nil {
		return models.QuizAttempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) ListByStudent(ctx context.Context, studentID uint) ([]models.QuizAttempt, error) {
	var attempts []models.QuizAttempt
	if err := r.baseQuery(ctx).
		Where("student_id = ?", studentID).
		Order("started_at DESC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}

	return attempts, nil
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// ConditionalUpdate reads the attempt, applies the mutator to a copy and writes
// the result back guarded by "WHERE revision = ?". Exactly one of two racing
// writers with the same expected revision succeeds; the other gets
// ErrRevisionConflict and must re-read before retrying.
func (r *attemptRepository) ConditionalUpdate(ctx context.Context, id uint, expectedRevision int64, mutate AttemptMutator) (models.QuizAttempt, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return models.QuizAttempt{}, err
	}

	if current.Revision != expectedRevision {
		return models.QuizAttempt{}, ErrRevisionConflict
	}

	next, err := mutate(current)
	if err != nil {
		return models.QuizAttempt{}, err
	}

	result := r.db.WithContext(ctx).Model(&models.QuizAttempt{}).
		Where("id = ?", id).
		Where("revision = ?", expectedRevision).
		Updates(map[string]interface{}{
			"status":       next.Status,
			"answers":      next.AnswersRaw,
			"submitted_at": next.SubmittedAt,
			"grade":        next.Grade,
			"feedback":     next.Feedback,
			"graded_by":    next.GradedBy,
			"graded_at":    next.GradedAt,
			"revision":     expectedRevision + 1,
		})
	if result.Error != nil {
		return models.QuizAttempt{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.QuizAttempt{}, ErrRevisionConflict
	}

	next.ID = current.ID
	next.QuizID = current.QuizID
	next.StudentID = current.StudentID
	next.StartedAt = current.StartedAt
	next.Revision = expectedRevision + 1

	return next, nil
}

func (r *attemptRepository) CreateHistory(ctx context.Context, history *models.AttemptGradeHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}
