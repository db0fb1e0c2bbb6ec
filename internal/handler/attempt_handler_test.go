package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pelita-edu/pelita-go-api/internal/config"
	"github.com/pelita-edu/pelita-go-api/internal/dto"
	"github.com/pelita-edu/pelita-go-api/internal/handler"
	"github.com/pelita-edu/pelita-go-api/internal/models"
	"github.com/pelita-edu/pelita-go-api/internal/repository"
	"github.com/pelita-edu/pelita-go-api/internal/router"
	"github.com/pelita-edu/pelita-go-api/internal/service"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func setupAttemptApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Student{}, &models.Quiz{}, &models.QuizAttempt{}, &models.AttemptGradeHistory{}, &models.ActivityLog{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM activity_logs")
		db.Exec("DELETE FROM attempt_grade_histories")
		db.Exec("DELETE FROM quiz_attempts")
		db.Exec("DELETE FROM quizzes")
		db.Exec("DELETE FROM students")
	})

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	quizRepo := repository.NewQuizRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	activityService := service.NewActivityService(activityRepo, logger)
	attemptService := service.NewAttemptService(attemptRepo, quizRepo, nil, validate, logger)
	gradingService := service.NewGradingService(attemptRepo, validate, activityService, nil, nil, logger)
	progressService := service.NewProgressService(quizRepo, attemptRepo, nil, time.Minute, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		AttemptHandler:  handler.NewAttemptHandler(attemptService, logger),
		GradingHandler:  handler.NewGradingHandler(gradingService, logger),
		ProgressHandler: handler.NewProgressHandler(progressService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			// Tests impersonate via headers instead of real JWTs.
			if raw := c.Get("X-Test-User"); raw != "" {
				var id uint
				_, err := fmt.Sscanf(raw, "%d", &id)
				if err == nil {
					c.Locals("user_id", id)
				}
			}
			if role := c.Get("X-Test-Role"); role != "" {
				c.Locals("user_role", role)
			}
			return c.Next()
		},
	})

	return app, db
}

func seedQuiz(t *testing.T, db *gorm.DB, due time.Time, limitMinutes int) (models.Quiz, models.Student) {
	t.Helper()

	correct := 1
	quiz := models.Quiz{Title: "Checkpoint", DueDate: due, TimeLimitMinutes: limitMinutes}
	require.NoError(t, quiz.SetQuestions([]models.QuizQuestion{
		{Type: models.QuestionTypeMultipleChoice, Prompt: "2+2?", Options: []string{"3", "4"}, CorrectIndex: &correct},
	}))
	require.NoError(t, db.Create(&quiz).Error)

	student := models.Student{Name: "Jane Doe", Email: "jane@example.com"}
	require.NoError(t, db.Create(&student).Error)

	return quiz, student
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, userID uint, role string) (*http.Response, apiEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("X-Test-User", fmt.Sprintf("%d", userID))
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestAttemptEndpointsLifecycle(t *testing.T) {
	app, db := setupAttemptApp(t)
	quiz, student := seedQuiz(t, db, time.Now().Add(time.Hour), 30)

	resp, envelope := doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/quizzes/%d/attempts", quiz.ID), nil, student.ID, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var started dto.AttemptStartResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &started))
	require.Equal(t, int64(0), started.Revision)
	require.NotZero(t, started.AttemptID)
	require.Len(t, started.Questions, 1)

	resp, envelope = doJSON(t, app, fiber.MethodPatch, fmt.Sprintf("/api/v2/attempts/%d/answers", started.AttemptID), dto.AttemptAutosaveRequest{
		Answers: []dto.AnswerPayload{{QuestionIndex: 0, Answer: "1"}},
	}, student.ID, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var saved dto.AttemptAutosaveResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &saved))
	require.Equal(t, int64(1), saved.Revision)

	resp, envelope = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/submit", started.AttemptID), nil, student.ID, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var submitted dto.AttemptSubmitResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &submitted))
	require.Equal(t, int64(2), submitted.Revision)

	// A second submit must be rejected, not silently accepted.
	resp, _ = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/submit", started.AttemptID), nil, student.ID, "student")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestAttemptEndpointsRejectDuplicateStart(t *testing.T) {
	app, db := setupAttemptApp(t)
	quiz, student := seedQuiz(t, db, time.Now().Add(time.Hour), 30)

	resp, _ := doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/quizzes/%d/attempts", quiz.ID), nil, student.ID, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/quizzes/%d/attempts", quiz.ID), nil, student.ID, "student")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestAttemptEndpointsRejectForeignAttempt(t *testing.T) {
	app, db := setupAttemptApp(t)
	quiz, student := seedQuiz(t, db, time.Now().Add(time.Hour), 30)

	_, envelope := doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/quizzes/%d/attempts", quiz.ID), nil, student.ID, "student")
	var started dto.AttemptStartResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &started))

	intruder := models.Student{Name: "Mallory", Email: "mallory@example.com"}
	require.NoError(t, db.Create(&intruder).Error)

	resp, _ := doJSON(t, app, fiber.MethodPatch, fmt.Sprintf("/api/v2/attempts/%d/answers", started.AttemptID), dto.AttemptAutosaveRequest{
		Answers: []dto.AnswerPayload{{QuestionIndex: 0, Answer: "0"}},
	}, intruder.ID, "student")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestGradingEndpointConflictCarriesCurrentRevision(t *testing.T) {
	app, db := setupAttemptApp(t)
	quiz, student := seedQuiz(t, db, time.Now().Add(time.Hour), 30)

	_, envelope := doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/quizzes/%d/attempts", quiz.ID), nil, student.ID, "student")
	var started dto.AttemptStartResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &started))

	resp, _ := doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/submit", started.AttemptID), nil, student.ID, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	grader := uint(99)
	resp, envelope = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/grade", started.AttemptID), dto.GradeAttemptRequest{
		Grade:            85,
		Feedback:         "Nice work.",
		ExpectedRevision: 1,
	}, grader, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var graded dto.GradeAttemptResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &graded))
	require.Equal(t, int64(2), graded.Revision)

	// A grader replaying the pre-grade revision gets a conflict plus the
	// revision to retry with.
	resp, envelope = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/attempts/%d/grade", started.AttemptID), dto.GradeAttemptRequest{
		Grade:            60,
		ExpectedRevision: 1,
	}, grader, "teacher")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var conflict dto.GradeConflictResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &conflict))
	require.Equal(t, started.AttemptID, conflict.AttemptID)
	require.Equal(t, int64(2), conflict.CurrentRevision)
}

func TestGradingEndpointRequiresTeacherRole(t *testing.T) {
	app, db := setupAttemptApp(t)
	_, student := seedQuiz(t, db, time.Now().Add(time.Hour), 30)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/v2/attempts/1/grade", dto.GradeAttemptRequest{
		Grade: 85,
	}, student.ID, "student")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestProgressEndpoint(t *testing.T) {
	app, db := setupAttemptApp(t)
	quiz, student := seedQuiz(t, db, time.Now().Add(time.Hour), 30)

	_, _ = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v2/quizzes/%d/attempts", quiz.ID), nil, student.ID, "student")

	resp, envelope := doJSON(t, app, fiber.MethodGet, "/api/v2/student/progress", nil, student.ID, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var progress dto.StudentProgressResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &progress))
	require.Equal(t, 1, progress.Summary.TotalQuizzes)
	require.Equal(t, 1, progress.Summary.InProgress)
}

// conflictAttemptService loses every write at the revision check, the way a
// second tab or a concurrent grade write would.
type conflictAttemptService struct {
	current dto.AttemptResponse
}

func (s conflictAttemptService) Start(context.Context, uint, uint) (dto.AttemptStartResponse, error) {
	return dto.AttemptStartResponse{}, nil
}

func (s conflictAttemptService) Autosave(context.Context, uint, uint, dto.AttemptAutosaveRequest) (dto.AttemptAutosaveResponse, error) {
	return dto.AttemptAutosaveResponse{}, repository.ErrRevisionConflict
}

func (s conflictAttemptService) Submit(context.Context, uint, uint, dto.AttemptSubmitRequest) (dto.AttemptSubmitResponse, error) {
	return dto.AttemptSubmitResponse{}, repository.ErrRevisionConflict
}

func (s conflictAttemptService) Get(context.Context, uint, uint) (dto.AttemptResponse, error) {
	return s.current, nil
}

func TestAttemptEndpointsConflictCarriesCurrentRevision(t *testing.T) {
	stub := conflictAttemptService{current: dto.AttemptResponse{ID: 42, Revision: 5}}

	app := fiber.New()
	group := app.Group("/api/v2/attempts", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(21))
		c.Locals("user_role", "student")
		return c.Next()
	})
	handler.NewAttemptHandler(stub, zerolog.New(io.Discard)).Register(group)

	autosave := dto.AttemptAutosaveRequest{
		Answers: []dto.AnswerPayload{{QuestionIndex: 0, Answer: "draft"}},
	}

	resp, envelope := doJSON(t, app, http.MethodPatch, "/api/v2/attempts/42/answers", autosave, 0, "")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.False(t, envelope.Success)

	var conflict dto.GradeConflictResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &conflict))
	require.Equal(t, uint(42), conflict.AttemptID)
	require.Equal(t, int64(5), conflict.CurrentRevision)

	resp, envelope = doJSON(t, app, http.MethodPost, "/api/v2/attempts/42/submit", nil, 0, "")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.False(t, envelope.Success)
}
