package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pelita-edu/pelita-go-api/internal/dto"
	"github.com/pelita-edu/pelita-go-api/internal/models"
	"github.com/pelita-edu/pelita-go-api/internal/repository"
)

// ProgressService produces the aggregated quiz progress view for a student.
type ProgressService interface {
	GetProgress(ctx context.Context, studentID uint) (dto.StudentProgressResponse, error)
}

type progressService struct {
	quizzes  repository.QuizRepository
	attempts repository.AttemptRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewProgressService builds the progress aggregator.
func NewProgressService(quizzes repository.QuizRepository, attempts repository.AttemptRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) ProgressService {
	return &progressService{
		quizzes:  quizzes,
		attempts: attempts,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "progress_service").Logger(),
		now:      time.Now,
	}
}

func (s *progressService) GetProgress(ctx context.Context, studentID uint) (dto.StudentProgressResponse, error) {
	cacheKey := fmt.Sprintf("progress:student:%d", studentID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.StudentProgressResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Uint("student_id", studentID).Msg("progress cache hit")
				response.CacheHit = true
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read progress cache")
		}
	}

	quizzes, err := s.quizzes.List(ctx)
	if err != nil {
		return dto.StudentProgressResponse{}, err
	}

	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return dto.StudentProgressResponse{}, err
	}

	response := s.buildResponse(quizzes, attempts)

	if s.cache != nil {
		payload, err := json.Marshal(response)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store progress cache")
			}
		}
	}

	return response, nil
}

func (s *progressService) buildResponse(quizzes []models.Quiz, attempts []models.QuizAttempt) dto.StudentProgressResponse {
	now := s.now().UTC().Truncate(time.Second)
	attemptByQuiz := map[uint]models.QuizAttempt{}
	for _, attempt := range attempts {
		attemptByQuiz[attempt.QuizID] = attempt
	}

	summary := dto.QuizProgressSummary{}
	progress := make([]dto.QuizProgress, 0, len(quizzes))
	var gradeTotal float64
	var gradedCount int

	for _, quiz := range quizzes {
		summary.TotalQuizzes++

		item := dto.QuizProgress{
			QuizID:  quiz.ID,
			Title:   quiz.Title,
			DueDate: quiz.DueDate,
			Status:  "not_started",
			Expired: quiz.IsPastDue(now),
		}

		attempt, started := attemptByQuiz[quiz.ID]
		if started {
			attemptID := attempt.ID
			item.AttemptID = &attemptID
			startedAt := attempt.StartedAt
			item.StartedAt = &startedAt
			item.SubmittedAt = attempt.SubmittedAt
			item.Grade = attempt.Grade
			item.Status = attempt.Status

			switch attempt.Status {
			case models.AttemptStatusGraded:
				summary.Graded++
				if attempt.Grade != nil {
					gradeTotal += *attempt.Grade
					gradedCount++
				}
			case models.AttemptStatusSubmitted:
				summary.Submitted++
			default:
				summary.InProgress++
				deadline := quiz.EffectiveDeadline(attempt.StartedAt)
				item.Expired = now.After(deadline)
				if !item.Expired {
					item.RemainingSeconds = int64(deadline.Sub(now) / time.Second)
				}
			}
		} else {
			summary.NotStarted++
		}

		progress = append(progress, item)
	}

	if gradedCount > 0 {
		summary.AverageGrade = gradeTotal / float64(gradedCount)
	}

	if summary.TotalQuizzes > 0 {
		summary.CompletionRate = (float64(summary.Graded) / float64(summary.TotalQuizzes)) * 100
	}

	return dto.StudentProgressResponse{
		Summary: summary,
		Quizzes: progress,
	}
}
