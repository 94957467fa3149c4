package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultStreamMaxLen is the approximate maximum length for Redis streams,
// enforced via XADD MAXLEN ~, used when a stage's config doesn't override it.
const defaultStreamMaxLen int64 = 1000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for ephemeral
// messaging and Redis Streams (plain and consumer-group reads) for durable,
// ordered message delivery.
type SignalBus struct {
	rdb         *redis.Client
	streamMaxLen int64
}

// NewSignalBus creates a SignalBus with the default approximate stream
// length cap.
func NewSignalBus(c *Client) *SignalBus {
	return NewSignalBusWithMaxLen(c, defaultStreamMaxLen)
}

// NewSignalBusWithMaxLen creates a SignalBus with an explicit approximate
// stream length cap (0 falls back to the default).
func NewSignalBusWithMaxLen(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), streamMaxLen: maxLen}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a read-only
// channel that emits raw byte payloads. The subscription is automatically
// closed when the context is cancelled; the returned channel is closed at
// that point as well.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a Redis stream using XADD with an
// approximate MAXLEN for automatic trimming.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("bus: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages from a Redis stream starting after
// lastID. Use "0" or "0-0" as lastID to read from the beginning. It returns
// an empty slice (not an error) when no messages are available.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: stream read %s: %w", stream, err)
	}

	return flattenMessages(results), nil
}

// StreamReadRecent returns up to count of the newest entries on stream via
// XREVRANGE "+" "-", newest first. Unlike StreamRead (which walks forward
// from a cursor), this is for scans that need the latest observation per
// key regardless of how far back it sits in a long-lived stream.
func (sb *SignalBus) StreamReadRecent(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRevRangeN(ctx, stream, "+", "-", int64(count)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: stream read recent %s: %w", stream, err)
	}

	messages := make([]domain.StreamMessage, 0, len(results))
	for _, msg := range results {
		payload, ok := msg.Values["payload"]
		if !ok {
			continue
		}
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
	}
	return messages, nil
}

// EnsureGroup creates the named consumer group on stream starting from the
// beginning ("0"), creating the stream itself if absent. An "already exists"
// response (BUSYGROUP) is treated as success.
func (sb *SignalBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := sb.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("bus: ensure group %s/%s: %w", stream, group, err)
	}
	return nil
}

// StreamReadGroup reads up to count new entries (">") for consumer within
// group, blocking up to block for new entries. It returns an empty slice
// (not an error) when no new entries arrived within the block window.
func (sb *SignalBus) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}

	results, err := sb.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: stream read group %s/%s: %w", stream, group, err)
	}

	return flattenMessages(results), nil
}

// StreamAck acknowledges one or more entry ids within group, removing them
// from the consumer group's pending-entries list.
func (sb *SignalBus) StreamAck(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := sb.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("bus: stream ack %s/%s: %w", stream, group, err)
	}
	return nil
}

func flattenMessages(results []redis.XStream) []domain.StreamMessage {
	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"]
			if !ok {
				continue
			}

			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			messages = append(messages, domain.StreamMessage{
				ID:      msg.ID,
				Payload: data,
			})
		}
	}
	return messages
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
