package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/pelita-edu/pelita-go-api/internal/observability"
	"github.com/pelita-edu/pelita-go-api/internal/service"
)

// MonitorHandler streams attempt lifecycle events to graders over websockets.
type MonitorHandler struct {
	events service.AttemptEventService
	logger zerolog.Logger
}

// NewMonitorHandler creates a monitor handler instance.
func NewMonitorHandler(events service.AttemptEventService, logger zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		events: events,
		logger: logger.With().Str("component", "monitor_handler").Logger(),
	}
}

// Register binds the monitor websocket route under the provided router group.
func (h *MonitorHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *MonitorHandler) handleConnection(conn *websocket.Conn) {
	quizID, err := websocketQuizID(conn)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "quiz_id required"))
		_ = conn.Close()
		return
	}

	events, cleanup := h.events.Subscribe(quizID)
	defer cleanup()

	observability.MonitorClients().Inc()
	defer observability.MonitorClients().Dec()

	h.logger.Info().Uint("quiz_id", quizID).Msg("monitor websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.Close()
				<-done
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug().Err(err).Uint("quiz_id", quizID).Msg("monitor websocket write failed")
				_ = conn.Close()
				<-done
				return
			}
		case <-done:
			h.logger.Info().Uint("quiz_id", quizID).Msg("monitor websocket disconnected")
			return
		}
	}
}

func websocketQuizID(conn *websocket.Conn) (uint, error) {
	raw := strings.TrimSpace(conn.Query("quiz_id"))
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(parsed), nil
}
