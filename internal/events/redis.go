package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/liquidity-pool/internal/model"
)

// streamMaxLen bounds the event stream via XADD MAXLEN ~.
const streamMaxLen int64 = 100000

const (
	queueSize    = 256
	writeTimeout = 2 * time.Second
)

// Default channel and stream names.
const (
	DefaultChannel = "pool:events"
	DefaultStream  = "pool:events:stream"
)

// RedisBus publishes each event as JSON on a pub/sub channel for live
// consumers and appends it to a stream for ordered replay. Publish only
// queues; Run does the network writes.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	stream  string
	queue   chan []model.Event
	log     *slog.Logger
}

// NewRedisBus creates a bus on the default channel and stream.
func NewRedisBus(rdb *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{
		rdb:     rdb,
		channel: DefaultChannel,
		stream:  DefaultStream,
		queue:   make(chan []model.Event, queueSize),
		log:     log,
	}
}

// Publish never blocks the engine. A full queue drops the batch.
func (b *RedisBus) Publish(_ context.Context, events []model.Event) {
	if len(events) == 0 {
		return
	}
	select {
	case b.queue <- events:
	default:
		b.log.Warn("redis event queue full, dropping events", "count", len(events), "first_seq", events[0].Seq)
	}
}

// Run writes queued batches until ctx is done, then flushes what is left.
func (b *RedisBus) Run(ctx context.Context) error {
	for {
		select {
		case events := <-b.queue:
			b.write(ctx, events)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case events := <-b.queue:
					b.write(flush, events)
				default:
					return nil
				}
			}
		}
	}
}

func (b *RedisBus) write(ctx context.Context, events []model.Event) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pipe := b.rdb.Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			b.log.Error("encode event", "seq", e.Seq, "error", err)
			continue
		}
		pipe.Publish(ctx, b.channel, payload)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.stream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"seq": e.Seq, "payload": payload},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error("publish events", "count", len(events), "error", err)
	}
}

// Subscribe returns a channel of decoded events from the pub/sub channel.
// The subscription and the returned channel close when ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan model.Event, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	out := make(chan model.Event, 128)
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
				var e model.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.log.Warn("drop malformed event", "error", err)
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Replay reads up to count events from the stream after lastID ("0" for the
// beginning). It returns the decoded events and the id to resume from.
func (b *RedisBus) Replay(ctx context.Context, lastID string, count int) ([]model.Event, string, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err == redis.Nil {
		return nil, lastID, nil
	}
	if err != nil {
		return nil, lastID, fmt.Errorf("redis: read stream %s: %w", b.stream, err)
	}

	var out []model.Event
	next := lastID
	for _, s := range res {
		for _, msg := range s.Messages {
			next = msg.ID
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				continue
			}
			var e model.Event
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return out, next, fmt.Errorf("redis: decode stream entry %s: %w", msg.ID, err)
			}
			out = append(out, e)
		}
	}
	return out, next, nil
}
