package dto

import "time"

// Attempt event types published to the monitor feed.
const (
	AttemptEventStarted   = "attempt.started"
	AttemptEventSubmitted = "attempt.submitted"
	AttemptEventGraded    = "attempt.graded"
)

// AttemptEventResponse is one lifecycle event streamed to quiz monitors.
type AttemptEventResponse struct {
	Type       string    `json:"type"`
	AttemptID  uint      `json:"attempt_id"`
	QuizID     uint      `json:"quiz_id"`
	StudentID  uint      `json:"student_id"`
	Status     string    `json:"status"`
	Revision   int64     `json:"revision"`
	OccurredAt time.Time `json:"occurred_at"`
}
