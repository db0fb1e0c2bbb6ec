package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/pelita-edu/pelita-go-api/internal/dto"
	"github.com/pelita-edu/pelita-go-api/internal/models"
	"github.com/pelita-edu/pelita-go-api/internal/observability"
	"github.com/pelita-edu/pelita-go-api/internal/repository"
	"github.com/pelita-edu/pelita-go-api/pkg/ai"
)

// EssayReviewer produces advisory feedback for free-text answers.
type EssayReviewer interface {
	Review(ctx context.Context, input ai.EssayReviewInput) (ai.EssayReviewResult, error)
}

// GradingService applies grades to submitted attempts through the attempt
// store's compare-and-swap primitive. A write with a stale revision is
// rejected with repository.ErrRevisionConflict; the caller re-reads and either
// retries with the fresh revision or surfaces the conflict. The service never
// retries on its own.
type GradingService interface {
	GradeOrUpdate(ctx context.Context, attemptID uint, payload dto.GradeAttemptRequest, actor ActivityActor) (dto.GradeAttemptResponse, error)
	Suggest(ctx context.Context, attemptID uint) (dto.GradeSuggestionResponse, error)
	Get(ctx context.Context, attemptID uint) (dto.AttemptResponse, error)
}

type gradingService struct {
	attempts  repository.AttemptRepository
	validator *validator.Validate
	activity  ActivityRecorder
	events    AttemptEventPublisher
	reviewer  EssayReviewer
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGradingService constructs the grading service. The reviewer is optional;
// without one, suggestions cover multiple-choice scoring only.
func NewGradingService(attempts repository.AttemptRepository, validate *validator.Validate, activity ActivityRecorder, events AttemptEventPublisher, reviewer EssayReviewer, logger zerolog.Logger) GradingService {
	return &gradingService{
		attempts:  attempts,
		validator: validate,
		activity:  activity,
		events:    events,
		reviewer:  reviewer,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "grading_service").Logger(),
		tracer:    otel.Tracer("github.com/pelita-edu/pelita-go-api/internal/service/grading"),
		now:       time.Now,
	}
}

func (s *gradingService) GradeOrUpdate(ctx context.Context, attemptID uint, payload dto.GradeAttemptRequest, actor ActivityActor) (dto.GradeAttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.grade_or_update", trace.WithAttributes(
		attribute.Int64("grading.attempt_id", int64(attemptID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
		attribute.Int64("grading.expected_revision", payload.ExpectedRevision),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradeAttemptResponse{}, err
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "attempt_not_found")
			return dto.GradeAttemptResponse{}, ErrAttemptNotFound
		}
		span.RecordError(err)
		return dto.GradeAttemptResponse{}, err
	}

	if !attempt.IsSubmitted() {
		span.SetStatus(codes.Error, "attempt_not_submitted")
		return dto.GradeAttemptResponse{}, ErrInvalidAttemptState
	}

	grade := payload.Grade
	feedback := strings.TrimSpace(s.sanitizer.Sanitize(payload.Feedback))
	gradedAt := s.now().UTC().Truncate(time.Second)
	gradedBy := actor.ID

	updated, err := s.attempts.ConditionalUpdate(ctx, attemptID, payload.ExpectedRevision, func(current models.QuizAttempt) (models.QuizAttempt, error) {
		if !current.IsSubmitted() {
			return models.QuizAttempt{}, ErrInvalidAttemptState
		}

		next := current
		next.Grade = &grade
		next.Feedback = feedback
		next.Status = models.AttemptStatusGraded
		next.GradedBy = &gradedBy
		next.GradedAt = &gradedAt
		return next, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrRevisionConflict) {
			observability.GradeConflicts().Inc()
			span.SetAttributes(attribute.Bool("grading.conflict", true))
			span.SetStatus(codes.Error, "revision_conflict")
			s.logger.Warn().
				Uint("attempt_id", attemptID).
				Int64("expected_revision", payload.ExpectedRevision).
				Uint("actor_id", actor.ID).
				Msg("grade write lost revision race")
		} else {
			span.RecordError(err)
		}
		return dto.GradeAttemptResponse{}, err
	}

	history := models.AttemptGradeHistory{
		AttemptID: updated.ID,
		Score:     grade,
		Feedback:  feedback,
		GradedBy:  gradedBy,
		GradedAt:  gradedAt,
		Revision:  updated.Revision,
	}
	if err := s.attempts.CreateHistory(ctx, &history); err != nil {
		s.logger.Warn().Err(err).Uint("attempt_id", updated.ID).Msg("failed to persist grade history")
		span.RecordError(err)
	}

	if s.activity != nil {
		metadata := map[string]interface{}{
			"attempt_id": updated.ID,
			"quiz_id":    updated.QuizID,
			"student_id": updated.StudentID,
			"score":      grade,
			"revision":   updated.Revision,
		}
		_, _ = s.activity.Record(ctx, ActivityEntry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     "attempt.graded",
			EntityType: "attempt",
			EntityID:   &updated.ID,
			Metadata:   metadata,
		})
	}

	if s.events != nil {
		s.events.PublishAttemptEvent(ctx, dto.AttemptEventResponse{
			Type:       dto.AttemptEventGraded,
			AttemptID:  updated.ID,
			QuizID:     updated.QuizID,
			StudentID:  updated.StudentID,
			Status:     updated.Status,
			Revision:   updated.Revision,
			OccurredAt: gradedAt,
		})
	}

	span.SetAttributes(
		attribute.Float64("grading.score", grade),
		attribute.Int64("grading.revision", updated.Revision),
	)

	return dto.GradeAttemptResponse{
		AttemptID: updated.ID,
		Status:    updated.Status,
		Grade:     updated.Grade,
		Feedback:  updated.Feedback,
		Revision:  updated.Revision,
	}, nil
}

func (s *gradingService) Suggest(ctx context.Context, attemptID uint) (dto.GradeSuggestionResponse, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradeSuggestionResponse{}, ErrAttemptNotFound
		}
		return dto.GradeSuggestionResponse{}, err
	}

	if !attempt.IsSubmitted() {
		return dto.GradeSuggestionResponse{}, ErrInvalidAttemptState
	}

	questions := attempt.Quiz.Questions()
	answers := make(map[int]string, len(attempt.Answers()))
	for _, answer := range attempt.Answers() {
		answers[answer.QuestionIndex] = answer.Answer
	}

	response := dto.GradeSuggestionResponse{
		AttemptID:        attempt.ID,
		EssaySuggestions: []dto.EssayFeedbackSuggestion{},
	}

	for index, question := range questions {
		switch question.Type {
		case models.QuestionTypeMultipleChoice:
			if question.CorrectIndex == nil {
				continue
			}
			response.ChoiceTotal++
			if answer, ok := answers[index]; ok && strings.TrimSpace(answer) == strconv.Itoa(*question.CorrectIndex) {
				response.ChoiceCorrect++
			}
		case models.QuestionTypeEssay:
			answer, ok := answers[index]
			if !ok || strings.TrimSpace(answer) == "" || s.reviewer == nil {
				continue
			}
			review, err := s.reviewer.Review(ctx, ai.EssayReviewInput{
				QuizTitle: attempt.Quiz.Title,
				Prompt:    question.Prompt,
				Answer:    answer,
			})
			if err != nil {
				s.logger.Warn().Err(err).Uint("attempt_id", attempt.ID).Int("question_index", index).Msg("essay review failed")
				continue
			}
			response.EssaySuggestions = append(response.EssaySuggestions, dto.EssayFeedbackSuggestion{
				QuestionIndex: index,
				Prompt:        question.Prompt,
				Answer:        answer,
				Feedback:      review.Feedback,
			})
		}
	}

	response.AutoScoreMax = 100
	if response.ChoiceTotal > 0 {
		response.AutoScore = 100 * float64(response.ChoiceCorrect) / float64(response.ChoiceTotal)
	}

	return response, nil
}

func (s *gradingService) Get(ctx context.Context, attemptID uint) (dto.AttemptResponse, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptResponse{}, ErrAttemptNotFound
		}
		return dto.AttemptResponse{}, err
	}

	return dto.NewAttemptResponse(attempt), nil
}
