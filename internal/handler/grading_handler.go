package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/pelita-edu/pelita-go-api/internal/dto"
	"github.com/pelita-edu/pelita-go-api/internal/repository"
	"github.com/pelita-edu/pelita-go-api/internal/service"
	"github.com/pelita-edu/pelita-go-api/internal/utils"
)

// GradingHandler manages the grading endpoints for submitted attempts.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the grading routes to the provided router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Get("/:id/review", h.get)
	router.Post("/:id/grade", h.grade)
	router.Get("/:id/grade/suggestion", h.suggest)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeAttemptRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	actor := activityActorFromContext(c)
	result, err := h.service.GradeOrUpdate(c.Context(), attemptID, payload, actor)
	if err != nil {
		return h.handleError(c, attemptID, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("attempt_id", attemptID).
		Uint("grader_id", actor.ID).
		Int64("revision", result.Revision).
		Msg("attempt graded")

	return utils.SendSuccess(c, "attempt graded", result)
}

func (h *GradingHandler) suggest(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	suggestion, err := h.service.Suggest(c.Context(), attemptID)
	if err != nil {
		return h.handleError(c, attemptID, err)
	}

	return utils.SendSuccess(c, "grade suggestion generated", suggestion)
}

func (h *GradingHandler) get(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	attempt, err := h.service.Get(c.Context(), attemptID)
	if err != nil {
		return h.handleError(c, attemptID, err)
	}

	return utils.SendSuccess(c, "attempt retrieved", attempt)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, attemptID uint, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
	case errors.Is(err, service.ErrInvalidAttemptState):
		return utils.SendError(c, fiber.StatusConflict, "attempt has not been submitted")
	case errors.Is(err, repository.ErrRevisionConflict):
		return h.handleConflict(c, attemptID)
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		h.logger.Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// handleConflict re-reads the attempt so the grader receives the revision to
// retry with.
func (h *GradingHandler) handleConflict(c *fiber.Ctx, attemptID uint) error {
	conflict := dto.GradeConflictResponse{AttemptID: attemptID}
	if attempt, err := h.service.Get(c.Context(), attemptID); err == nil {
		conflict.CurrentRevision = attempt.Revision
	}

	return utils.SendErrorWithData(c, fiber.StatusConflict, "grade revision conflict", conflict)
}
