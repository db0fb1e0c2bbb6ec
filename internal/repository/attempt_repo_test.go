package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pelita-edu/pelita-go-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Student{}, &models.Quiz{}, &models.QuizAttempt{}, &models.AttemptGradeHistory{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM attempt_grade_histories")
		db.Exec("DELETE FROM quiz_attempts")
		db.Exec("DELETE FROM quizzes")
		db.Exec("DELETE FROM students")
	})
	return db
}

func seedAttempt(t *testing.T, db *gorm.DB) models.QuizAttempt {
	t.Helper()

	quiz := models.Quiz{Title: "Checkpoint", DueDate: time.Now().Add(time.Hour), TimeLimitMinutes: 30}
	require.NoError(t, quiz.SetQuestions([]models.QuizQuestion{{Type: models.QuestionTypeEssay, Prompt: "Explain."}}))
	require.NoError(t, db.Create(&quiz).Error)

	student := models.Student{Name: "Alice Johnson", Email: "alice@example.com"}
	require.NoError(t, db.Create(&student).Error)

	attempt := models.QuizAttempt{
		QuizID:    quiz.ID,
		StudentID: student.ID,
		Status:    models.AttemptStatusInProgress,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, attempt.SetAnswers([]models.AttemptAnswer{}))
	require.NoError(t, db.Create(&attempt).Error)
	return attempt
}

func TestAttemptRepositoryConditionalUpdateBumpsRevision(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	attempt := seedAttempt(t, db)

	updated, err := repo.ConditionalUpdate(context.Background(), attempt.ID, 0, func(current models.QuizAttempt) (models.QuizAttempt, error) {
		next := current
		require.NoError(t, next.SetAnswers([]models.AttemptAnswer{{QuestionIndex: 0, Answer: "draft"}}))
		return next, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.Revision)

	stored, err := repo.GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Revision)
	require.Len(t, stored.Answers(), 1)
}

func TestAttemptRepositoryConditionalUpdateStaleRevision(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	attempt := seedAttempt(t, db)

	_, err := repo.ConditionalUpdate(context.Background(), attempt.ID, 0, func(current models.QuizAttempt) (models.QuizAttempt, error) {
		return current, nil
	})
	require.NoError(t, err)

	// Revision moved to 1, so a writer still holding 0 must be rejected.
	_, err = repo.ConditionalUpdate(context.Background(), attempt.ID, 0, func(current models.QuizAttempt) (models.QuizAttempt, error) {
		next := current
		next.Status = models.AttemptStatusSubmitted
		return next, nil
	})
	require.ErrorIs(t, err, ErrRevisionConflict)

	stored, err := repo.GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusInProgress, stored.Status)
	require.Equal(t, int64(1), stored.Revision)
}

func TestAttemptRepositoryMutatorErrorWritesNothing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	attempt := seedAttempt(t, db)

	sentinel := gorm.ErrInvalidData
	_, err := repo.ConditionalUpdate(context.Background(), attempt.ID, 0, func(current models.QuizAttempt) (models.QuizAttempt, error) {
		return models.QuizAttempt{}, sentinel
	})
	require.ErrorIs(t, err, sentinel)

	stored, err := repo.GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), stored.Revision)
}

func TestAttemptRepositoryHistoryOrderedNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	attempt := seedAttempt(t, db)

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.CreateHistory(context.Background(), &models.AttemptGradeHistory{
		AttemptID: attempt.ID, Score: 70, GradedBy: 10, GradedAt: base.Add(-time.Hour), Revision: 1,
	}))
	require.NoError(t, repo.CreateHistory(context.Background(), &models.AttemptGradeHistory{
		AttemptID: attempt.ID, Score: 85, GradedBy: 11, GradedAt: base, Revision: 2,
	}))

	stored, err := repo.GetByID(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	require.Equal(t, 85.0, stored.History[0].Score)
	require.Equal(t, int64(2), stored.History[0].Revision)
}

func TestAttemptRepositoryUniquePerQuizAndStudent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)
	attempt := seedAttempt(t, db)

	duplicate := models.QuizAttempt{
		QuizID:    attempt.QuizID,
		StudentID: attempt.StudentID,
		Status:    models.AttemptStatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	err := repo.Create(context.Background(), &duplicate)
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	found, err := repo.GetByQuizAndStudent(context.Background(), attempt.QuizID, attempt.StudentID)
	require.NoError(t, err)
	require.Equal(t, attempt.ID, found.ID)
}
