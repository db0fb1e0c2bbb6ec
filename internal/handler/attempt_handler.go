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

// AttemptHandler manages the quiz attempt lifecycle endpoints.
type AttemptHandler struct {
	service service.AttemptService
	logger  zerolog.Logger
}

// NewAttemptHandler builds an attempt handler instance.
func NewAttemptHandler(service service.AttemptService, logger zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		service: service,
		logger:  logger.With().Str("component", "attempt_handler").Logger(),
	}
}

// RegisterQuizRoutes attaches the attempt-start route under the quiz group.
func (h *AttemptHandler) RegisterQuizRoutes(router fiber.Router) {
	router.Post("/:quizId/attempts", h.start)
}

// Register attaches the attempt routes to the provided router group.
func (h *AttemptHandler) Register(router fiber.Router) {
	router.Get("/:id", h.get)
	router.Patch("/:id/answers", h.autosave)
	router.Post("/:id/submit", h.submit)
}

func (h *AttemptHandler) start(c *fiber.Ctx) error {
	quizID, err := parseUintParam(c, "quizId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	attempt, err := h.service.Start(c.Context(), quizID, studentID)
	if err != nil {
		return h.handleError(c, 0, studentID, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("quiz_id", quizID).
		Uint("student_id", studentID).
		Uint("attempt_id", attempt.AttemptID).
		Msg("attempt started")

	return utils.SendSuccess(c, "attempt started", attempt)
}

func (h *AttemptHandler) autosave(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.AttemptAutosaveRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Autosave(c.Context(), attemptID, studentID, payload)
	if err != nil {
		return h.handleError(c, attemptID, studentID, err)
	}

	return utils.SendSuccess(c, "answers saved", result)
}

func (h *AttemptHandler) submit(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.AttemptSubmitRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	result, err := h.service.Submit(c.Context(), attemptID, studentID, payload)
	if err != nil {
		return h.handleError(c, attemptID, studentID, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("attempt_id", attemptID).
		Uint("student_id", studentID).
		Msg("attempt submitted")

	return utils.SendSuccess(c, "attempt submitted", result)
}

func (h *AttemptHandler) get(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	studentID := userIDFromContext(c)
	if studentID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	attempt, err := h.service.Get(c.Context(), attemptID, studentID)
	if err != nil {
		return h.handleError(c, attemptID, studentID, err)
	}

	return utils.SendSuccess(c, "attempt retrieved", attempt)
}

func (h *AttemptHandler) handleError(c *fiber.Ctx, attemptID, studentID uint, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrQuizNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "quiz not found")
	case errors.Is(err, service.ErrAttemptNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
	case errors.Is(err, service.ErrAttemptForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "attempt belongs to another student")
	case errors.Is(err, service.ErrAlreadyAttempted):
		return utils.SendError(c, fiber.StatusConflict, "quiz already attempted")
	case errors.Is(err, service.ErrInvalidAttemptState):
		return utils.SendError(c, fiber.StatusConflict, "attempt is not in progress")
	case errors.Is(err, service.ErrPastDeadline):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "quiz deadline has passed")
	case errors.Is(err, service.ErrTimeExpired):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "attempt time has expired")
	case errors.Is(err, repository.ErrRevisionConflict):
		return h.handleConflict(c, attemptID, studentID)
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		h.logger.Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// handleConflict re-reads the attempt so a writer that lost the revision race
// (a second tab autosaving, or a grade landing mid-save) learns the revision
// to retry with.
func (h *AttemptHandler) handleConflict(c *fiber.Ctx, attemptID, studentID uint) error {
	conflict := dto.GradeConflictResponse{AttemptID: attemptID}
	if attempt, err := h.service.Get(c.Context(), attemptID, studentID); err == nil {
		conflict.CurrentRevision = attempt.Revision
	}

	return utils.SendErrorWithData(c, fiber.StatusConflict, "attempt revision conflict", conflict)
}
