package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pelita-edu/pelita-go-api/internal/dto"
)

const attemptEventBufferSize = 16

// AttemptEventPublisher is the write side of the attempt event stream.
type AttemptEventPublisher interface {
	PublishAttemptEvent(ctx context.Context, event dto.AttemptEventResponse)
}

// AttemptEventService fans attempt lifecycle events out to monitor clients on
// this node and, when Redis or NATS is configured, to the other API nodes.
type AttemptEventService interface {
	AttemptEventPublisher
	Subscribe(quizID uint) (<-chan dto.AttemptEventResponse, func())
	Start(ctx context.Context)
}

type attemptEventService struct {
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	tracer      trace.Tracer
	broker      *attemptEventBroker
	nodeID      string
}

type attemptEventEnvelope struct {
	Source string                   `json:"source"`
	Event  dto.AttemptEventResponse `json:"event"`
	SentAt time.Time                `json:"sent_at"`
}

type attemptEventBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.AttemptEventResponse]struct{}
}

// NewAttemptEventService constructs the event fan-out. Redis and NATS are both
// optional; with neither, events stay on the local node.
func NewAttemptEventService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) AttemptEventService {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":attempt-events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".attempt-events"
	}

	return &attemptEventService{
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "attempt_event_service").Logger(),
		tracer:      otel.Tracer("github.com/pelita-edu/pelita-go-api/internal/service/attemptevents"),
		broker: &attemptEventBroker{
			subscribers: make(map[uint]map[chan dto.AttemptEventResponse]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *attemptEventService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *attemptEventService) PublishAttemptEvent(ctx context.Context, event dto.AttemptEventResponse) {
	spanCtx, span := s.tracer.Start(ctx, "attempt_events.publish", trace.WithAttributes(
		attribute.String("event.type", event.Type),
		attribute.Int64("event.attempt_id", int64(event.AttemptID)),
		attribute.Int64("event.quiz_id", int64(event.QuizID)),
	))
	defer span.End()

	s.broker.broadcast(event.QuizID, event)

	if err := s.relay(spanCtx, event); err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("event_type", event.Type).Msg("failed to relay attempt event")
	}
}

func (s *attemptEventService) Subscribe(quizID uint) (<-chan dto.AttemptEventResponse, func()) {
	channel := make(chan dto.AttemptEventResponse, attemptEventBufferSize)

	s.broker.subscribe(quizID, channel)

	cleanup := func() {
		s.broker.unsubscribe(quizID, channel)
	}

	return channel, cleanup
}

func (s *attemptEventService) relay(ctx context.Context, event dto.AttemptEventResponse) error {
	envelope := attemptEventEnvelope{
		Source: s.nodeID,
		Event:  event,
		SentAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *attemptEventService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("attempt event redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

func (s *attemptEventService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "pelita-attempt-events", func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats attempt events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain attempt event nats subscription")
		}
	}()
}

func (s *attemptEventService) handleEnvelope(payload []byte) {
	var envelope attemptEventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid attempt event payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.broker.broadcast(envelope.Event.QuizID, envelope.Event)
}

func (b *attemptEventBroker) subscribe(quizID uint, ch chan dto.AttemptEventResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[quizID]; !exists {
		b.subscribers[quizID] = make(map[chan dto.AttemptEventResponse]struct{})
	}
	b.subscribers[quizID][ch] = struct{}{}
}

func (b *attemptEventBroker) unsubscribe(quizID uint, ch chan dto.AttemptEventResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[quizID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, quizID)
		}
	}
}

func (b *attemptEventBroker) broadcast(quizID uint, event dto.AttemptEventResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[quizID]
	for ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
