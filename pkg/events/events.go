package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
)

// Domain event types handed to the messaging layer.
const (
	TypeRoomChanged       = "room_changed"
	TypeConflictDetected  = "conflict_detected"
	TypeResolutionSummary = "resolution_summary"
)

// Event is the envelope published for every domain event.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload"`
}

// Sink delivers an encoded event.
type Sink interface {
	Send(ctx context.Context, channel string, body []byte) error
}

// RedisSink publishes events on a Redis channel.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink builds a Redis pub/sub sink.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Send publishes body on channel.
func (s *RedisSink) Send(ctx context.Context, channel string, body []byte) error {
	if err := s.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// LogSink writes events to the log when no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a log-only sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Send logs the event body.
func (s *LogSink) Send(_ context.Context, channel string, body []byte) error {
	s.logger.Info("domain event", zap.String("channel", channel), zap.ByteString("event", body))
	return nil
}

// Publisher hands events to a background queue that delivers them to a sink with retries.
type Publisher struct {
	sink    Sink
	channel string
	queue   *jobs.Queue
	logger  *zap.Logger
}

// NewPublisher builds a publisher. Call Start before Emit.
func NewPublisher(sink Sink, channel string, cfg jobs.QueueConfig) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &Publisher{sink: sink, channel: channel, logger: cfg.Logger}
	p.queue = jobs.NewQueue("events", p.deliver, cfg)
	return p
}

// Start begins background delivery.
func (p *Publisher) Start(ctx context.Context) {
	p.queue.Start(ctx)
}

// Stop flushes buffered events and stops delivery.
func (p *Publisher) Stop() {
	p.queue.Stop()
}

// Emit enqueues an event. Delivery failures never reach the caller.
func (p *Publisher) Emit(_ context.Context, eventType string, payload interface{}) {
	event := Event{ID: uuid.NewString(), Type: eventType, OccurredAt: time.Now().UTC(), Payload: payload}
	if err := p.queue.Enqueue(jobs.Job{ID: event.ID, Type: eventType, Payload: event}); err != nil {
		p.logger.Warn("domain event dropped", zap.String("type", eventType), zap.String("event_id", event.ID), zap.Error(err))
	}
}

func (p *Publisher) deliver(ctx context.Context, job jobs.Job) error {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		p.logger.Error("encode domain event", zap.String("event_id", job.ID), zap.Error(err))
		return nil
	}
	return p.sink.Send(ctx, p.channel, body)
}
