package ai

import "context"

// EssayReviewInput contains one essay answer to review.
type EssayReviewInput struct {
	QuizTitle string
	Prompt    string
	Answer    string
}

// EssayReviewResult is the advisory feedback returned by the AI reviewer. It is
// never stored; graders decide what to write through the grading endpoint.
type EssayReviewResult struct {
	Feedback     string                 `json:"feedback"`
	Strengths    []string               `json:"strengths,omitempty"`
	Improvements []string               `json:"improvements,omitempty"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

// Reviewer describes an AI model capable of reviewing free-text essay answers.
type Reviewer interface {
	Review(ctx context.Context, input EssayReviewInput) (EssayReviewResult, error)
}
