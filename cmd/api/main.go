package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pelita-edu/pelita-go-api/internal/config"
	"github.com/pelita-edu/pelita-go-api/internal/database"
	"github.com/pelita-edu/pelita-go-api/internal/handler"
	"github.com/pelita-edu/pelita-go-api/internal/middleware"
	"github.com/pelita-edu/pelita-go-api/internal/models"
	"github.com/pelita-edu/pelita-go-api/internal/repository"
	"github.com/pelita-edu/pelita-go-api/internal/router"
	"github.com/pelita-edu/pelita-go-api/internal/service"
	"github.com/pelita-edu/pelita-go-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Student{}, &models.Quiz{}, &models.QuizAttempt{}, &models.AttemptGradeHistory{}, &models.ActivityLog{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	quizRepo := repository.NewQuizRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	var reviewer service.EssayReviewer
	switch {
	case cfg.AIProvider == "openai" && cfg.OpenAIAPIKey != "":
		reviewer, err = ai.NewOpenAIReviewer(ai.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Logger: logger})
		if err != nil {
			log.Fatalf("failed to configure openai reviewer: %v", err)
		}
	case cfg.AIProvider == "anthropic" && cfg.AnthropicAPIKey != "":
		reviewer, err = ai.NewAnthropicReviewer(ai.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			log.Fatalf("failed to configure anthropic reviewer: %v", err)
		}
	}

	ctx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()

	eventService := service.NewAttemptEventService(redisClient, cfg.EventChannelBase, natsConn, logger)
	eventService.Start(ctx)

	activityService := service.NewActivityService(activityRepo, logger)
	attemptService := service.NewAttemptService(attemptRepo, quizRepo, eventService, validate, logger)
	gradingService := service.NewGradingService(attemptRepo, validate, activityService, eventService, reviewer, logger)
	progressService := service.NewProgressService(quizRepo, attemptRepo, redisClient, cfg.ProgressCacheTTL, logger)

	attemptHandler := handler.NewAttemptHandler(attemptService, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, logger)
	progressHandler := handler.NewProgressHandler(progressService, logger)
	monitorHandler := handler.NewMonitorHandler(eventService, logger)
	activityHandler := handler.NewActivityHandler(activityService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AttemptHandler:  attemptHandler,
		GradingHandler:  gradingHandler,
		ProgressHandler: progressHandler,
		MonitorHandler:  monitorHandler,
		ActivityHandler: activityHandler,
		JWTMiddleware:   middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
