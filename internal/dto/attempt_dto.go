package dto

import (
	"time"

	"github.com/pelita-edu/pelita-go-api/internal/models"
)

// AnswerPayload is one answer sent by the client during autosave or submit.
type AnswerPayload struct {
	QuestionIndex int    `json:"question_index" validate:"gte=0"`
	Answer        string `json:"answer"`
}

// AttemptAutosaveRequest carries the answers to merge into an in-progress attempt.
type AttemptAutosaveRequest struct {
	Answers []AnswerPayload `json:"answers" validate:"required,min=1,dive"`
}

// AttemptSubmitRequest optionally carries a final answer payload. An empty
// list means "submit what is already saved", which is how a caller forces
// submission after the time window expired.
type AttemptSubmitRequest struct {
	Answers []AnswerPayload `json:"answers" validate:"omitempty,dive"`
}

// AttemptStartResponse is returned when an attempt is opened.
type AttemptStartResponse struct {
	AttemptID        uint                   `json:"attempt_id"`
	QuizID           uint                   `json:"quiz_id"`
	StartedAt        time.Time              `json:"started_at"`
	RemainingSeconds int64                  `json:"remaining_seconds"`
	Revision         int64                  `json:"revision"`
	Questions        []QuizQuestionResponse `json:"questions"`
}

// AttemptAutosaveResponse acknowledges a merged answer write.
type AttemptAutosaveResponse struct {
	AttemptID        uint  `json:"attempt_id"`
	Revision         int64 `json:"revision"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	AnswerCount      int   `json:"answer_count"`
}

// AttemptSubmitResponse acknowledges the exactly-once submission.
type AttemptSubmitResponse struct {
	AttemptID   uint      `json:"attempt_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Revision    int64     `json:"revision"`
	AnswerCount int       `json:"answer_count"`
}

// AttemptAnswerResponse serializes one stored answer.
type AttemptAnswerResponse struct {
	QuestionIndex int    `json:"question_index"`
	Answer        string `json:"answer"`
}

// AttemptResponse is the full attempt view returned to graders and owners.
type AttemptResponse struct {
	ID          uint                          `json:"id"`
	QuizID      uint                          `json:"quiz_id"`
	StudentID   uint                          `json:"student_id"`
	Status      string                        `json:"status"`
	Answers     []AttemptAnswerResponse       `json:"answers"`
	StartedAt   time.Time                     `json:"started_at"`
	SubmittedAt *time.Time                    `json:"submitted_at"`
	Grade       *float64                      `json:"grade"`
	Feedback    string                        `json:"feedback"`
	GradedBy    *uint                         `json:"graded_by"`
	GradedAt    *time.Time                    `json:"graded_at"`
	Revision    int64                         `json:"revision"`
	Quiz        QuizLite                      `json:"quiz"`
	History     []AttemptGradeHistoryResponse `json:"history"`
}

// AttemptGradeHistoryResponse serializes one grade revision.
type AttemptGradeHistoryResponse struct {
	Score    float64   `json:"score"`
	Feedback string    `json:"feedback"`
	GradedBy uint      `json:"graded_by"`
	GradedAt time.Time `json:"graded_at"`
	Revision int64     `json:"revision"`
}

// NewAttemptResponse converts a QuizAttempt model into a DTO.
func NewAttemptResponse(model models.QuizAttempt) AttemptResponse {
	response := AttemptResponse{
		ID:          model.ID,
		QuizID:      model.QuizID,
		StudentID:   model.StudentID,
		Status:      model.Status,
		StartedAt:   model.StartedAt,
		SubmittedAt: model.SubmittedAt,
		Grade:       model.Grade,
		Feedback:    model.Feedback,
		GradedBy:    model.GradedBy,
		GradedAt:    model.GradedAt,
		Revision:    model.Revision,
	}

	answers := model.Answers()
	response.Answers = make([]AttemptAnswerResponse, 0, len(answers))
	for _, answer := range answers {
		response.Answers = append(response.Answers, AttemptAnswerResponse{
			QuestionIndex: answer.QuestionIndex,
			Answer:        answer.Answer,
		})
	}

	if model.Quiz.ID != 0 {
		response.Quiz = QuizLite{
			ID:               model.Quiz.ID,
			Title:            model.Quiz.Title,
			DueDate:          model.Quiz.DueDate,
			TimeLimitMinutes: model.Quiz.TimeLimitMinutes,
		}
	}

	if len(model.History) > 0 {
		history := make([]AttemptGradeHistoryResponse, 0, len(model.History))
		for _, entry := range model.History {
			history = append(history, AttemptGradeHistoryResponse{
				Score:    entry.Score,
				Feedback: entry.Feedback,
				GradedBy: entry.GradedBy,
				GradedAt: entry.GradedAt,
				Revision: entry.Revision,
			})
		}
		response.History = history
	}

	return response
}

// AnswersFromPayload converts incoming answer payloads into model values.
func AnswersFromPayload(payload []AnswerPayload) []models.AttemptAnswer {
	answers := make([]models.AttemptAnswer, 0, len(payload))
	for _, answer := range payload {
		answers = append(answers, models.AttemptAnswer{
			QuestionIndex: answer.QuestionIndex,
			Answer:        answer.Answer,
		})
	}

	return answers
}
