package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink forwards events to a Redis stream for notification and
// analytics consumers. It is fed by the outbox relay.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink builds a sink writing to stream.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Handle appends the event to the stream. Failures are returned to the
// relay, which retries on a later tick.
func (s *RedisStreamSink) Handle(ctx context.Context, event Event) error {
	if s == nil || s.client == nil {
		return nil
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":            event.ID,
			"type":          string(event.Type),
			"ticket_id":     event.TicketID,
			"ticket_number": event.TicketNumber,
			"actor_id":      event.Actor.ID,
			"timestamp":     event.Timestamp.UTC().Format(time.RFC3339Nano),
			"dedupe_key":    event.DedupeKey,
			"payload":       string(payload),
		},
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append %s to %s: %w", event.Type, s.stream, err)
	}
	return nil
}
