package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pelita-edu/pelita-go-api/internal/dto"
	"github.com/pelita-edu/pelita-go-api/internal/models"
	"github.com/pelita-edu/pelita-go-api/internal/observability"
	"github.com/pelita-edu/pelita-go-api/internal/repository"
)

// ErrQuizNotFound indicates the quiz definition does not exist.
var ErrQuizNotFound = errors.New("quiz not found")

// ErrAttemptNotFound indicates the attempt does not exist.
var ErrAttemptNotFound = errors.New("attempt not found")

// ErrAttemptForbidden indicates the attempt belongs to another student.
var ErrAttemptForbidden = errors.New("attempt owned by another student")

// ErrAlreadyAttempted indicates the student already holds an attempt for this quiz.
var ErrAlreadyAttempted = errors.New("quiz already attempted")

// ErrPastDeadline indicates the quiz due date passed before the attempt was started.
var ErrPastDeadline = errors.New("quiz due date has passed")

// ErrTimeExpired indicates the attempt's time window is over. The caller is
// expected to follow up with a submit, which is still accepted exactly once.
var ErrTimeExpired = errors.New("attempt time window expired")

// ErrInvalidAttemptState indicates the attempt status does not allow the operation.
var ErrInvalidAttemptState = errors.New("attempt state does not allow this operation")

// AttemptService owns the quiz attempt lifecycle. All timing decisions use the
// injected server clock; client timestamps are never consulted.
type AttemptService interface {
	Start(ctx context.Context, quizID, studentID uint) (dto.AttemptStartResponse, error)
	Autosave(ctx context.Context, attemptID, studentID uint, payload dto.AttemptAutosaveRequest) (dto.AttemptAutosaveResponse, error)
	Submit(ctx context.Context, attemptID, studentID uint, payload dto.AttemptSubmitRequest) (dto.AttemptSubmitResponse, error)
	Get(ctx context.Context, attemptID, studentID uint) (dto.AttemptResponse, error)
}

type attemptService struct {
	attempts  repository.AttemptRepository
	quizzes   repository.QuizRepository
	events    AttemptEventPublisher
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAttemptService builds the attempt lifecycle service.
func NewAttemptService(attempts repository.AttemptRepository, quizzes repository.QuizRepository, events AttemptEventPublisher, validate *validator.Validate, logger zerolog.Logger) AttemptService {
	return &attemptService{
		attempts:  attempts,
		quizzes:   quizzes,
		events:    events,
		validator: validate,
		logger:    logger.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

func (s *attemptService) Start(ctx context.Context, quizID, studentID uint) (dto.AttemptStartResponse, error) {
	quiz, err := s.quizzes.GetByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptStartResponse{}, ErrQuizNotFound
		}
		return dto.AttemptStartResponse{}, err
	}

	now := s.serverTime()
	if quiz.IsPastDue(now) {
		return dto.AttemptStartResponse{}, ErrPastDeadline
	}

	if _, err := s.attempts.GetByQuizAndStudent(ctx, quizID, studentID); err == nil {
		return dto.AttemptStartResponse{}, ErrAlreadyAttempted
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AttemptStartResponse{}, err
	}

	attempt := models.QuizAttempt{
		QuizID:    quizID,
		StudentID: studentID,
		Status:    models.AttemptStatusInProgress,
		StartedAt: now,
	}
	if err := attempt.SetAnswers([]models.AttemptAnswer{}); err != nil {
		return dto.AttemptStartResponse{}, err
	}

	if err := s.attempts.Create(ctx, &attempt); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.AttemptStartResponse{}, ErrAlreadyAttempted
		}
		return dto.AttemptStartResponse{}, err
	}

	s.logger.Info().
		Uint("attempt_id", attempt.ID).
		Uint("quiz_id", quizID).
		Uint("student_id", studentID).
		Msg("attempt started")

	s.publish(ctx, dto.AttemptEventStarted, attempt)

	return dto.AttemptStartResponse{
		AttemptID:        attempt.ID,
		QuizID:           quizID,
		StartedAt:        attempt.StartedAt,
		RemainingSeconds: remainingSeconds(quiz.EffectiveDeadline(attempt.StartedAt), now),
		Revision:         attempt.Revision,
		Questions:        dto.NewQuizQuestionResponseSlice(quiz.Questions()),
	}, nil
}

func (s *attemptService) Autosave(ctx context.Context, attemptID, studentID uint, payload dto.AttemptAutosaveRequest) (dto.AttemptAutosaveResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptAutosaveResponse{}, err
	}

	attempt, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return dto.AttemptAutosaveResponse{}, err
	}

	if !attempt.IsInProgress() {
		return dto.AttemptAutosaveResponse{}, ErrInvalidAttemptState
	}

	now := s.serverTime()
	deadline := attempt.Quiz.EffectiveDeadline(attempt.StartedAt)
	if now.After(deadline) {
		observability.AttemptsExpired().Inc()
		return dto.AttemptAutosaveResponse{}, ErrTimeExpired
	}

	incoming := dto.AnswersFromPayload(payload.Answers)
	updated, err := s.attempts.ConditionalUpdate(ctx, attempt.ID, attempt.Revision, func(current models.QuizAttempt) (models.QuizAttempt, error) {
		if !current.IsInProgress() {
			return models.QuizAttempt{}, ErrInvalidAttemptState
		}

		next := current
		if err := next.SetAnswers(models.MergeAnswers(current.Answers(), incoming)); err != nil {
			return models.QuizAttempt{}, err
		}
		return next, nil
	})
	if err != nil {
		return dto.AttemptAutosaveResponse{}, err
	}

	return dto.AttemptAutosaveResponse{
		AttemptID:        updated.ID,
		Revision:         updated.Revision,
		RemainingSeconds: remainingSeconds(deadline, now),
		AnswerCount:      len(updated.Answers()),
	}, nil
}

func (s *attemptService) Submit(ctx context.Context, attemptID, studentID uint, payload dto.AttemptSubmitRequest) (dto.AttemptSubmitResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptSubmitResponse{}, err
	}

	attempt, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return dto.AttemptSubmitResponse{}, err
	}

	if !attempt.IsInProgress() {
		return dto.AttemptSubmitResponse{}, ErrInvalidAttemptState
	}

	// A final submit is accepted even past the effective deadline. The merge
	// below lets in-flight keystrokes settle; the exactly-once guarantee comes
	// from the status check inside the conditional write.
	now := s.serverTime()
	incoming := dto.AnswersFromPayload(payload.Answers)
	updated, err := s.attempts.ConditionalUpdate(ctx, attempt.ID, attempt.Revision, func(current models.QuizAttempt) (models.QuizAttempt, error) {
		if !current.IsInProgress() {
			return models.QuizAttempt{}, ErrInvalidAttemptState
		}

		next := current
		if len(incoming) > 0 {
			if err := next.SetAnswers(models.MergeAnswers(current.Answers(), incoming)); err != nil {
				return models.QuizAttempt{}, err
			}
		}
		submittedAt := now
		next.Status = models.AttemptStatusSubmitted
		next.SubmittedAt = &submittedAt
		return next, nil
	})
	if err != nil {
		return dto.AttemptSubmitResponse{}, err
	}

	s.logger.Info().
		Uint("attempt_id", updated.ID).
		Int64("revision", updated.Revision).
		Time("submitted_at", *updated.SubmittedAt).
		Msg("attempt submitted")

	s.publish(ctx, dto.AttemptEventSubmitted, updated)

	return dto.AttemptSubmitResponse{
		AttemptID:   updated.ID,
		SubmittedAt: *updated.SubmittedAt,
		Revision:    updated.Revision,
		AnswerCount: len(updated.Answers()),
	}, nil
}

func (s *attemptService) Get(ctx context.Context, attemptID, studentID uint) (dto.AttemptResponse, error) {
	attempt, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	return dto.NewAttemptResponse(attempt), nil
}

func (s *attemptService) loadOwned(ctx context.Context, attemptID, studentID uint) (models.QuizAttempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.QuizAttempt{}, ErrAttemptNotFound
		}
		return models.QuizAttempt{}, err
	}

	if attempt.StudentID != studentID {
		return models.QuizAttempt{}, ErrAttemptForbidden
	}

	return attempt, nil
}

func (s *attemptService) publish(ctx context.Context, eventType string, attempt models.QuizAttempt) {
	if s.events == nil {
		return
	}

	s.events.PublishAttemptEvent(ctx, dto.AttemptEventResponse{
		Type:       eventType,
		AttemptID:  attempt.ID,
		QuizID:     attempt.QuizID,
		StudentID:  attempt.StudentID,
		Status:     attempt.Status,
		Revision:   attempt.Revision,
		OccurredAt: s.serverTime(),
	})
}

// serverTime returns the current server clock in UTC, truncated to whole
// seconds so deadline comparisons carry no sub-second or timezone ambiguity.
func (s *attemptService) serverTime() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func remainingSeconds(deadline, now time.Time) int64 {
	remaining := int64(deadline.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}
