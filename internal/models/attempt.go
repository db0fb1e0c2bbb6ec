package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	// AttemptStatusInProgress indicates the student can still change answers.
	AttemptStatusInProgress = "in_progress"
	// AttemptStatusSubmitted indicates the attempt is closed and awaiting a grade.
	AttemptStatusSubmitted = "submitted"
	// AttemptStatusGraded indicates a grade has been assigned.
	AttemptStatusGraded = "graded"
)

// AttemptAnswer is one stored answer, unique per question index.
type AttemptAnswer struct {
	QuestionIndex int    `json:"question_index"`
	Answer        string `json:"answer"`
}

// QuizAttempt is one student's attempt at one quiz. The row is the unit of
// contention: every mutation goes through a conditional write keyed on Revision.
type QuizAttempt struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	QuizID      uint           `gorm:"not null;uniqueIndex:idx_attempt_quiz_student" json:"quiz_id"`
	StudentID   uint           `gorm:"not null;uniqueIndex:idx_attempt_quiz_student" json:"student_id"`
	Status      string         `gorm:"size:32;not null" json:"status"`
	AnswersRaw  datatypes.JSON `gorm:"column:answers;type:json" json:"answers"`
	StartedAt   time.Time      `gorm:"not null" json:"started_at"`
	SubmittedAt *time.Time     `json:"submitted_at"`
	Grade       *float64       `json:"grade"`
	Feedback    string         `gorm:"type:text" json:"feedback"`
	GradedBy    *uint          `json:"graded_by"`
	GradedAt    *time.Time     `json:"graded_at"`
	Revision    int64          `gorm:"not null;default:0" json:"revision"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Quiz    Quiz                  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"quiz"`
	Student Student               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"student"`
	History []AttemptGradeHistory `gorm:"foreignKey:AttemptID" json:"history"`
}

// AttemptGradeHistory records one successful grade write, including the revision it produced.
type AttemptGradeHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AttemptID uint      `gorm:"not null;index" json:"attempt_id"`
	Score     float64   `gorm:"not null" json:"score"`
	Feedback  string    `gorm:"type:text" json:"feedback"`
	GradedBy  uint      `gorm:"not null" json:"graded_by"`
	GradedAt  time.Time `gorm:"not null" json:"graded_at"`
	Revision  int64     `gorm:"not null" json:"revision"`
}

// IsInProgress reports whether answers can still change.
func (a QuizAttempt) IsInProgress() bool {
	return a.Status == AttemptStatusInProgress
}

// IsSubmitted reports whether the attempt has been closed, graded or not.
func (a QuizAttempt) IsSubmitted() bool {
	return a.Status == AttemptStatusSubmitted || a.Status == AttemptStatusGraded
}

// IsGraded reports whether the attempt carries a final grade.
func (a QuizAttempt) IsGraded() bool {
	return a.Status == AttemptStatusGraded
}

// Answers decodes the stored answer set. A missing or malformed column yields an empty slice.
func (a QuizAttempt) Answers() []AttemptAnswer {
	if len(a.AnswersRaw) == 0 {
		return nil
	}
	var answers []AttemptAnswer
	if err := json.Unmarshal(a.AnswersRaw, &answers); err != nil {
		return nil
	}
	return answers
}

// SetAnswers encodes the answer set into the JSON column.
func (a *QuizAttempt) SetAnswers(answers []AttemptAnswer) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	a.AnswersRaw = datatypes.JSON(raw)
	return nil
}

// MergeAnswers upserts incoming answers by question index: existing entries are
// replaced in place, new indexes are appended in arrival order.
func MergeAnswers(existing, incoming []AttemptAnswer) []AttemptAnswer {
	merged := make([]AttemptAnswer, len(existing))
	copy(merged, existing)

	position := make(map[int]int, len(merged))
	for i, answer := range merged {
		position[answer.QuestionIndex] = i
	}

	for _, answer := range incoming {
		if i, ok := position[answer.QuestionIndex]; ok {
			merged[i] = answer
			continue
		}
		position[answer.QuestionIndex] = len(merged)
		merged = append(merged, answer)
	}

	return merged
}
