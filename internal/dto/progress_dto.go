package dto

import "time"

// StudentProgressResponse aggregates quiz progress for a student.
type StudentProgressResponse struct {
	Summary  QuizProgressSummary `json:"summary"`
	Quizzes  []QuizProgress      `json:"quizzes"`
	CacheHit bool                `json:"cache_hit"`
}

// QuizProgressSummary captures aggregated statistics for the progress view.
type QuizProgressSummary struct {
	TotalQuizzes   int     `json:"total_quizzes"`
	InProgress     int     `json:"in_progress"`
	Submitted      int     `json:"submitted"`
	Graded         int     `json:"graded"`
	NotStarted     int     `json:"not_started"`
	AverageGrade   float64 `json:"average_grade"`
	CompletionRate float64 `json:"completion_rate"`
}

// QuizProgress describes the state of a single quiz relative to a student.
type QuizProgress struct {
	QuizID           uint       `json:"quiz_id"`
	Title            string     `json:"title"`
	DueDate          time.Time  `json:"due_date"`
	Status           string     `json:"status"`
	AttemptID        *uint      `json:"attempt_id"`
	StartedAt        *time.Time `json:"started_at"`
	SubmittedAt      *time.Time `json:"submitted_at"`
	Grade            *float64   `json:"grade"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Expired          bool       `json:"expired"`
}
