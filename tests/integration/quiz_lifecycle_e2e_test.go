package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
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
	"github.com/pelita-edu/pelita-go-api/internal/middleware"
	"github.com/pelita-edu/pelita-go-api/internal/models"
	"github.com/pelita-edu/pelita-go-api/internal/repository"
	"github.com/pelita-edu/pelita-go-api/internal/router"
	"github.com/pelita-edu/pelita-go-api/internal/service"
)

const (
	studentID = uint(1)
	graderID  = uint(9001)
)

func setupQuizApp(t *testing.T) (*fiber.App, *gorm.DB) {
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

	eventService := service.NewAttemptEventService(nil, "", nil, logger)
	activityService := service.NewActivityService(activityRepo, logger)
	attemptService := service.NewAttemptService(attemptRepo, quizRepo, eventService, validate, logger)
	gradingService := service.NewGradingService(attemptRepo, validate, activityService, eventService, nil, logger)
	progressService := service.NewProgressService(quizRepo, attemptRepo, nil, time.Minute, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})

	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		AttemptHandler:  handler.NewAttemptHandler(attemptService, logger),
		GradingHandler:  handler.NewGradingHandler(gradingService, logger),
		ProgressHandler: handler.NewProgressHandler(progressService, logger),
		ActivityHandler: handler.NewActivityHandler(activityService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if c.Get("X-Role") == "teacher" {
				c.Locals("user_id", graderID)
				c.Locals("user_role", "teacher")
			} else {
				c.Locals("user_id", studentID)
				c.Locals("user_role", "student")
			}
			return c.Next()
		},
	})

	return app, db
}

func request(t *testing.T, app *fiber.App, method, path string, payload interface{}, role string) *http.Response {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Role", role)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response, target *T) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

func TestQuizLifecycleEndToEnd(t *testing.T) {
	app, db := setupQuizApp(t)

	student := models.Student{ID: studentID, Name: "Siti", Email: "siti@example.com"}
	require.NoError(t, db.Create(&student).Error)

	correct := 1
	quiz := models.Quiz{Title: "Midterm checkpoint", DueDate: time.Now().Add(24 * time.Hour), TimeLimitMinutes: 30}
	require.NoError(t, quiz.SetQuestions([]models.QuizQuestion{
		{Type: models.QuestionTypeMultipleChoice, Prompt: "2+2?", Options: []string{"3", "4"}, CorrectIndex: &correct},
		{Type: models.QuestionTypeEssay, Prompt: "Explain your reasoning."},
	}))
	require.NoError(t, db.Create(&quiz).Error)

	// Step 1: student opens the attempt.
	resp := request(t, app, http.MethodPost, "/api/v2/quizzes/"+strconv.Itoa(int(quiz.ID))+"/attempts", nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var startBody struct {
		Success bool                     `json:"success"`
		Data    dto.AttemptStartResponse `json:"data"`
	}
	decode(t, resp, &startBody)
	require.True(t, startBody.Success)
	require.Equal(t, int64(0), startBody.Data.Revision)
	require.InDelta(t, 30*60, startBody.Data.RemainingSeconds, 2)

	attemptPath := "/api/v2/attempts/" + strconv.Itoa(int(startBody.Data.AttemptID))

	// Step 2: autosave twice; the second write replaces the first answer.
	resp = request(t, app, http.MethodPatch, attemptPath+"/answers", dto.AttemptAutosaveRequest{
		Answers: []dto.AnswerPayload{{QuestionIndex: 0, Answer: "0"}},
	}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = request(t, app, http.MethodPatch, attemptPath+"/answers", dto.AttemptAutosaveRequest{
		Answers: []dto.AnswerPayload{{QuestionIndex: 0, Answer: "1"}, {QuestionIndex: 1, Answer: "Arithmetic."}},
	}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var saveBody struct {
		Success bool                        `json:"success"`
		Data    dto.AttemptAutosaveResponse `json:"data"`
	}
	decode(t, resp, &saveBody)
	require.Equal(t, int64(2), saveBody.Data.Revision)
	require.Equal(t, 2, saveBody.Data.AnswerCount)

	// Step 3: submit, then confirm a replayed submit is refused.
	resp = request(t, app, http.MethodPost, attemptPath+"/submit", nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var submitBody struct {
		Success bool                      `json:"success"`
		Data    dto.AttemptSubmitResponse `json:"data"`
	}
	decode(t, resp, &submitBody)
	require.Equal(t, int64(3), submitBody.Data.Revision)

	resp = request(t, app, http.MethodPost, attemptPath+"/submit", nil, "")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Step 4: teacher grades with the submitted revision.
	resp = request(t, app, http.MethodPost, attemptPath+"/grade", dto.GradeAttemptRequest{
		Grade:            85,
		Feedback:         "Good reasoning.",
		ExpectedRevision: submitBody.Data.Revision,
	}, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var gradeBody struct {
		Success bool                     `json:"success"`
		Data    dto.GradeAttemptResponse `json:"data"`
	}
	decode(t, resp, &gradeBody)
	require.Equal(t, 85.0, *gradeBody.Data.Grade)
	require.Equal(t, int64(4), gradeBody.Data.Revision)

	// Step 5: a stale grade write conflicts and reports the current revision.
	resp = request(t, app, http.MethodPost, attemptPath+"/grade", dto.GradeAttemptRequest{
		Grade:            60,
		ExpectedRevision: submitBody.Data.Revision,
	}, "teacher")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var conflictBody struct {
		Success bool                      `json:"success"`
		Data    dto.GradeConflictResponse `json:"data"`
	}
	decode(t, resp, &conflictBody)
	require.False(t, conflictBody.Success)
	require.Equal(t, int64(4), conflictBody.Data.CurrentRevision)

	// Step 6: retrying with the reported revision succeeds and extends history.
	resp = request(t, app, http.MethodPost, attemptPath+"/grade", dto.GradeAttemptRequest{
		Grade:            60,
		Feedback:         "Adjusted after moderation.",
		ExpectedRevision: conflictBody.Data.CurrentRevision,
	}, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var history []models.AttemptGradeHistory
	require.NoError(t, db.Where("attempt_id = ?", startBody.Data.AttemptID).Order("revision").Find(&history).Error)
	require.Len(t, history, 2)
	require.Equal(t, 85.0, history[0].Score)
	require.Equal(t, 60.0, history[1].Score)

	// Step 7: the audit feed recorded both grade writes.
	resp = request(t, app, http.MethodGet, "/api/v2/activity?action=attempt.graded", nil, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var activityBody struct {
		Success bool                     `json:"success"`
		Data    dto.ActivityListResponse `json:"data"`
	}
	decode(t, resp, &activityBody)
	require.Equal(t, int64(2), activityBody.Data.Pagination.TotalItems)
}
