package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/featuregate/internal/config"
	"go.uber.org/fx"
)

// StreamPublisher relays stored gateway events to a Redis stream so other
// services can consume them with XREAD or consumer groups.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher returns nil when the relay is disabled.
func NewStreamPublisher(lc fx.Lifecycle, cfg config.Config) (*StreamPublisher, error) {
	eventsCfg := cfg.Events
	if !eventsCfg.StreamEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(eventsCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("events redis addr is required")
	}
	stream := strings.TrimSpace(eventsCfg.Stream)
	if stream == "" {
		return nil, errors.New("events stream name is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(eventsCfg.RedisPassword),
		DB:       eventsCfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return newStreamPublisher(client, stream, eventsCfg.StreamMaxLen), nil
}

func newStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Enabled() bool {
	return p != nil && p.client != nil
}

// PublishEvents appends events to the stream in one pipeline. Delivery is
// at-least-once: a failure after a partial write re-sends the batch.
func (p *StreamPublisher) PublishEvents(ctx context.Context, batch []StoredEvent) error {
	if !p.Enabled() {
		return errors.New("event_stream_disabled")
	}
	if len(batch) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, event := range batch {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		args := &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"event_id":   event.ID.String(),
				"tenant_id":  event.TenantID.String(),
				"event_type": event.Type,
				"payload":    string(payload),
				"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	_, err := pipe.Exec(ctx)
	return err
}
