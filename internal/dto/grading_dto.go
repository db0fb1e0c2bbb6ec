package dto

// GradeAttemptRequest carries a grade write together with the revision the
// grader last observed. A stale revision is rejected, never overwritten.
type GradeAttemptRequest struct {
	Grade            float64 `json:"grade" validate:"gte=0,lte=100"`
	Feedback         string  `json:"feedback" validate:"omitempty,min=3"`
	ExpectedRevision int64   `json:"expected_revision" validate:"gte=0"`
}

// GradeAttemptResponse acknowledges a successful grade write.
type GradeAttemptResponse struct {
	AttemptID uint     `json:"attempt_id"`
	Status    string   `json:"status"`
	Grade     *float64 `json:"grade"`
	Feedback  string   `json:"feedback"`
	Revision  int64    `json:"revision"`
}

// GradeConflictResponse is returned alongside a conflict status so the grader
// can re-read and retry with the current revision.
type GradeConflictResponse struct {
	AttemptID       uint  `json:"attempt_id"`
	CurrentRevision int64 `json:"current_revision"`
}

// EssayFeedbackSuggestion carries advisory AI feedback for one essay answer.
type EssayFeedbackSuggestion struct {
	QuestionIndex int    `json:"question_index"`
	Prompt        string `json:"prompt"`
	Answer        string `json:"answer"`
	Feedback      string `json:"feedback"`
}

// GradeSuggestionResponse is an advisory grading aid. Nothing in it is stored;
// the grader decides what to write through the grade endpoint.
type GradeSuggestionResponse struct {
	AttemptID        uint                      `json:"attempt_id"`
	AutoScore        float64                   `json:"auto_score"`
	AutoScoreMax     float64                   `json:"auto_score_max"`
	ChoiceCorrect    int                       `json:"choice_correct"`
	ChoiceTotal      int                       `json:"choice_total"`
	EssaySuggestions []EssayFeedbackSuggestion `json:"essay_suggestions"`
}
