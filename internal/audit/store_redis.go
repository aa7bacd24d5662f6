package audit

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"leadgate/pkg/platform/audit"
)

// DefaultStream is the Redis stream audit events are appended to.
const DefaultStream = "audit:events"

// RedisStore appends events to a capped Redis stream so that every process
// behind the load balancer writes to one trail.
type RedisStore struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStore(client redis.UniversalClient, stream string, maxLen int64) *RedisStore {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisStore{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStore) Append(ctx context.Context, event audit.Event) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: map[string]any{
			"ts":         event.Timestamp.UnixMilli(),
			"action":     event.Action,
			"subject":    event.Subject,
			"identifier": event.Identifier,
			"decision":   event.Decision,
			"reason":     event.Reason,
			"request_id": event.RequestID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	events := make([]audit.Event, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, fromValues(msg.Values))
	}
	slices.Reverse(events)
	return events, nil
}

func fromValues(values map[string]any) audit.Event {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	ev := audit.Event{
		Action:     str("action"),
		Subject:    str("subject"),
		Identifier: str("identifier"),
		Decision:   str("decision"),
		Reason:     str("reason"),
		RequestID:  str("request_id"),
	}
	if ms, err := strconv.ParseInt(str("ts"), 10, 64); err == nil {
		ev.Timestamp = time.UnixMilli(ms).UTC()
	}
	return ev
}
