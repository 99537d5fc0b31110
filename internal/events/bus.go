// Package events publishes committed registry events on Redis Streams.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/sigil-registry/internal/registry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix = "sigil:"
	// AllStream carries every event.
	AllStream = streamPrefix + "events"

	maxStreamLen = 10000
)

// SkillStream is the stream carrying one skill's events.
func SkillStream(fingerprint string) string { return streamPrefix + "skill:" + fingerprint }

// AuditorStream is the stream carrying one auditor's events.
func AuditorStream(id registry.Identity) string { return streamPrefix + "auditor:" + string(id) }

// streamsFor lists every stream an event is appended to.
func streamsFor(ev registry.Event) []string {
	streams := []string{AllStream}
	if ev.Skill != "" {
		streams = append(streams, SkillStream(ev.Skill))
	}
	if ev.Auditor != "" {
		streams = append(streams, AuditorStream(ev.Auditor))
	}
	return streams
}

// Bus is a registry.EventSink backed by Redis Streams.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to redisURL and verifies the connection.
func NewBus(ctx context.Context, redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish appends the event to the global stream and to its skill and
// auditor streams in a single MULTI/EXEC.
func (b *Bus) Publish(ctx context.Context, ev registry.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	streams := streamsFor(ev)
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, stream := range streams {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				MaxLen: maxStreamLen,
				Approx: true,
				Values: map[string]interface{}{
					"type": string(ev.Type),
					"data": string(data),
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	b.logger.Debug("published event",
		zap.String("type", string(ev.Type)),
		zap.Strings("streams", streams))
	return nil
}

// Recent returns up to count events from stream, newest first.
func (b *Bus) Recent(ctx context.Context, stream string, count int64) ([]registry.Event, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stream, err)
	}
	out := make([]registry.Event, 0, len(msgs))
	for _, m := range msgs {
		if ev, ok := decode(m); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Subscribe streams events appended to stream after the call.
// Cancel the context to stop; the channel is closed on return.
func (b *Bus) Subscribe(ctx context.Context, stream string) <-chan registry.Event {
	ch := make(chan registry.Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("stream read failed", zap.String("stream", stream), zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, m := range r.Messages {
					lastID = m.ID
					ev, ok := decode(m)
					if !ok {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Ping reports whether Redis is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

func decode(m redis.XMessage) (registry.Event, bool) {
	data, ok := m.Values["data"].(string)
	if !ok {
		return registry.Event{}, false
	}
	var ev registry.Event
	if json.Unmarshal([]byte(data), &ev) != nil {
		return registry.Event{}, false
	}
	return ev, true
}
