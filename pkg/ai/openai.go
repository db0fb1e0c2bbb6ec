package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pelita",
		Subsystem: "ai",
		Name:      "review_duration_seconds",
		Help:      "Duration of AI essay review requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pelita",
		Subsystem: "ai",
		Name:      "review_failures_total",
		Help:      "Number of AI essay review failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI reviewer.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIReviewer implements Reviewer against the OpenAI chat completion API.
type OpenAIReviewer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIReviewer builds a new reviewer using the provided configuration.
func NewOpenAIReviewer(cfg OpenAIConfig) (*OpenAIReviewer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	tracer := otel.Tracer("github.com/pelita-edu/pelita-go-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIReviewer{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Review sends the essay answer to OpenAI and parses the advisory feedback.
func (r *OpenAIReviewer) Review(parent context.Context, input EssayReviewInput) (EssayReviewResult, error) {
	ctx, span := r.tracer.Start(parent, "openai.review", trace.WithAttributes(
		attribute.String("model", r.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: reviewerSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildReviewPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := r.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(r.cfg.Model).Observe(duration.Seconds())
	if err != nil {
		aiFailures.WithLabelValues(r.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EssayReviewResult{}, fmt.Errorf("openai review: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(r.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EssayReviewResult{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseReviewResponse(content)
	if err != nil {
		aiFailures.WithLabelValues(r.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EssayReviewResult{}, err
	}

	result.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	return result, nil
}

func reviewerSystemPrompt() string {
	return "You are a teaching assistant reviewing a student's essay answer. Respond with a JSON object containing feedback " +
		"(2-4 sentences addressed to the grader), strengths (array of strings), and improvements (array of strings). " +
		"Comment on relevance, accuracy, and completeness. Never assign a numeric score."
}

func buildReviewPrompt(input EssayReviewInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Quiz\n")
	builder.WriteString(input.QuizTitle)
	builder.WriteString("\n\n## Question\n")
	builder.WriteString(input.Prompt)
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.Answer)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseReviewResponse(content string) (EssayReviewResult, error) {
	type payload struct {
		Feedback     string   `json:"feedback"`
		Strengths    []string `json:"strengths"`
		Improvements []string `json:"improvements"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return EssayReviewResult{}, fmt.Errorf("parse review json: %w", err)
	}

	if strings.TrimSpace(data.Feedback) == "" {
		return EssayReviewResult{}, fmt.Errorf("review feedback missing")
	}

	return EssayReviewResult{
		Feedback:     data.Feedback,
		Strengths:    data.Strengths,
		Improvements: data.Improvements,
	}, nil
}
