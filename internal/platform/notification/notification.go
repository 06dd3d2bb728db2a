// Package notification publishes persisted alerts to downstream consumers.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AlertEvent is the payload downstream pagers receive for each stored alert.
type AlertEvent struct {
	AlertID        string    `json:"alert_id"`
	PatientID      string    `json:"patient_id"`
	ConsultationID string    `json:"consultation_id"`
	TenantID       string    `json:"tenant_id,omitempty"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	TriggeredAt    time.Time `json:"triggered_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev AlertEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AlertEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }

// Fanout hands each event to every publisher in order. A failing publisher
// does not stop the rest; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev AlertEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StreamPublisher appends events to a Redis stream with XADD. Each entry
// carries the event fields flat plus the full JSON under "data".
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher takes ownership of client; Close closes it. maxLen caps
// the stream approximately; zero leaves it unbounded.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev AlertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"alert_id":        ev.AlertID,
			"patient_id":      ev.PatientID,
			"consultation_id": ev.ConsultationID,
			"kind":            ev.Kind,
			"triggered_at":    ev.TriggeredAt.UTC().Format(time.RFC3339Nano),
			"data":            string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *StreamPublisher) Close() error {
	return p.client.Close()
}

// Connect builds the publisher for a redis:// URL. An empty URL yields a
// NopPublisher.
func Connect(ctx context.Context, redisURL, stream string, maxLen int64) (Publisher, error) {
	if redisURL == "" {
		return NopPublisher{}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStreamPublisher(client, stream, maxLen), nil
}

// DecodeEvent reads an AlertEvent back out of a stream entry.
func DecodeEvent(msg redis.XMessage) (AlertEvent, error) {
	var ev AlertEvent
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return ev, fmt.Errorf("stream entry %s has no data field", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
	}
	return ev, nil
}
