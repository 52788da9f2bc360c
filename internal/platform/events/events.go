// Package events publishes domain events (bookings, escalations, surge
// forecasts) for downstream consumers such as notification workers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	TypeAppointmentBooked     = "appointment.booked"
	TypeConsultationEscalated = "consultation.escalated"
	TypeConsultationSummary   = "consultation.summarized"
	TypeSurgeComputed         = "surge.computed"
)

type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// New builds an event keyed by an aggregate id so related events land on the
// same partition.
func New(eventType string, key int64, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        strconv.FormatInt(key, 10),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.Type, err)
	}
	msg := kafka.Message{
		Key:     []byte(evt.Key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(evt.Type)}},
		Time:    evt.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	p.logger.Debug().Str("event_type", evt.Type).Str("key", evt.Key).Msg("event published")
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// PublishBestEffort publishes with its own short deadline and logs failures.
// Domain operations never fail because an event could not be delivered.
func PublishBestEffort(ctx context.Context, p Publisher, logger zerolog.Logger, evt Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, evt); err != nil {
		logger.Warn().Err(err).Str("event_type", evt.Type).Str("key", evt.Key).Msg("event not published")
	}
}
