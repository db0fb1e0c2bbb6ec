package dto

import (
	"time"

	"github.com/pelita-edu/pelita-go-api/internal/models"
)

// QuizQuestionResponse serializes a question for students taking the quiz.
// The correct option index is intentionally absent.
type QuizQuestionResponse struct {
	Index   int      `json:"index"`
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// QuizLite summarizes a quiz inside attempt responses.
type QuizLite struct {
	ID               uint      `json:"id"`
	Title            string    `json:"title"`
	DueDate          time.Time `json:"due_date"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
}

// NewQuizQuestionResponseSlice converts quiz questions into student-facing DTOs.
func NewQuizQuestionResponseSlice(questions []models.QuizQuestion) []QuizQuestionResponse {
	responses := make([]QuizQuestionResponse, 0, len(questions))
	for i, question := range questions {
		responses = append(responses, QuizQuestionResponse{
			Index:   i,
			Type:    question.Type,
			Prompt:  question.Prompt,
			Options: question.Options,
		})
	}

	return responses
}
