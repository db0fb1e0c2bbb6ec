package ai

import (
	"context"
	"fmt"
)

// AnthropicConfig placeholder for anthropic integration configuration.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// AnthropicReviewer is a stub implementation that can be expanded once the SDK is available.
type AnthropicReviewer struct{}

// NewAnthropicReviewer constructs a new stub reviewer.
func NewAnthropicReviewer(cfg AnthropicConfig) (*AnthropicReviewer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	return &AnthropicReviewer{}, nil
}

// Review is not yet implemented for Anthropic models.
func (a *AnthropicReviewer) Review(ctx context.Context, input EssayReviewInput) (EssayReviewResult, error) {
	return EssayReviewResult{}, fmt.Errorf("anthropic reviewer not implemented")
}
