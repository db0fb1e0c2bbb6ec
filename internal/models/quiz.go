package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	// QuestionTypeMultipleChoice marks a question graded against a correct option index.
	QuestionTypeMultipleChoice = "multiple_choice"
	// QuestionTypeEssay marks a free-text question with no stored correct answer.
	QuestionTypeEssay = "essay"
)

// QuizQuestion is one entry in a quiz's ordered question list.
type QuizQuestion struct {
	Type         string   `json:"type"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options,omitempty"`
	CorrectIndex *int     `json:"correct_index,omitempty"`
}

// Quiz represents a timed quiz definition. The attempt engine reads it but never writes it.
type Quiz struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Title            string         `gorm:"size:255;not null" json:"title"`
	Description      string         `gorm:"type:text" json:"description"`
	DueDate          time.Time      `gorm:"not null" json:"due_date"`
	TimeLimitMinutes int            `gorm:"not null;default:0" json:"time_limit_minutes"`
	QuestionsRaw     datatypes.JSON `gorm:"column:questions;type:json" json:"questions"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Questions decodes the stored question list. A missing or malformed column yields an empty slice.
func (q Quiz) Questions() []QuizQuestion {
	if len(q.QuestionsRaw) == 0 {
		return nil
	}
	var questions []QuizQuestion
	if err := json.Unmarshal(q.QuestionsRaw, &questions); err != nil {
		return nil
	}
	return questions
}

// SetQuestions encodes the question list into the JSON column.
func (q *Quiz) SetQuestions(questions []QuizQuestion) error {
	raw, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	q.QuestionsRaw = datatypes.JSON(raw)
	return nil
}

// TimeLimit returns the per-attempt time limit, or zero when the quiz is untimed.
func (q Quiz) TimeLimit() time.Duration {
	if q.TimeLimitMinutes <= 0 {
		return 0
	}
	return time.Duration(q.TimeLimitMinutes) * time.Minute
}

// EffectiveDeadline is the earlier of the quiz due date and the attempt's personal
// time-limit expiry. Comparisons use whole seconds in UTC.
func (q Quiz) EffectiveDeadline(startedAt time.Time) time.Time {
	due := q.DueDate.UTC().Truncate(time.Second)
	if q.TimeLimit() == 0 {
		return due
	}
	limit := startedAt.UTC().Truncate(time.Second).Add(q.TimeLimit())
	if due.Before(limit) {
		return due
	}
	return limit
}

// IsPastDue returns true when the quiz due date has already passed.
func (q Quiz) IsPastDue(reference time.Time) bool {
	return reference.UTC().Truncate(time.Second).After(q.DueDate.UTC().Truncate(time.Second))
}
