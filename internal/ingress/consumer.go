// Package ingress consumes the engine keyspace-notification stream through a
// consumer group and drives the engine service. Delivery is at-least-once:
// handled messages are acked, failed ones stay pending until the reclaimer
// redelivers or dead-letters them.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/domain"
	"github.com/xrayfleet/xrayfleet/internal/service"
)

// Canonical stream topology. The upstream writes keyevent notifications for
// keys under KeyPrefix onto Stream.
const (
	Stream    = "xray_engines_keyevent_stream"
	DLQStream = "xray_engines_keyevent_dlq"
	Group     = "xray_engines"
	KeyPrefix = "xrayEngines:"
)

// engineService is the slice of the engine use cases the consumer drives.
type engineService interface {
	Upsert(ctx context.Context, info service.EngineInfo, causedBy string, version domain.Version) error
	MarkDead(ctx context.Context, id uuid.UUID, causedBy string, version domain.Version) error
}

// streamOps is the stream surface the consumer and reclaimer need. The
// production implementation wraps a go-redis client.
type streamOps interface {
	GroupCreate(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]redis.XMessage, string, error)
	Pending(ctx context.Context, stream, group, consumer, start, end string, count int64) ([]redis.XPendingExt, error)
	Add(ctx context.Context, stream string, values map[string]any) error
}

type redisStreams struct {
	rdb *redis.Client
}

// NewStreamOps wraps a go-redis client with the narrow surface the ingress
// uses.
func NewStreamOps(rdb *redis.Client) streamOps {
	return &redisStreams{rdb: rdb}
}

func (r *redisStreams) GroupCreate(ctx context.Context, stream, group string) error {
	return r.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
}

func (r *redisStreams) ReadGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]redis.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (r *redisStreams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return r.rdb.XAck(ctx, stream, group, ids...).Err()
}

func (r *redisStreams) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]redis.XMessage, string, error) {
	return r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
}

func (r *redisStreams) Pending(ctx context.Context, stream, group, consumer, start, end string, count int64) ([]redis.XPendingExt, error) {
	return r.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		Start:    start,
		End:      end,
		Count:    count,
	}).Result()
}

func (r *redisStreams) Add(ctx context.Context, stream string, values map[string]any) error {
	return r.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err()
}

// ConsumerName builds "{hostname}-{random}" so a restarted process never
// inherits pending ownership from its previous incarnation.
func ConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "xrayfleet"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Consumer reads the live stream through the consumer group.
type Consumer struct {
	ops       streamOps
	svc       engineService
	stream    string
	group     string
	name      string
	keyPrefix string
	batch     int64
	block     time.Duration
}

func NewConsumer(ops streamOps, svc engineService, name string) *Consumer {
	return &Consumer{
		ops:       ops,
		svc:       svc,
		stream:    Stream,
		group:     Group,
		name:      name,
		keyPrefix: KeyPrefix,
		batch:     100,
		block:     5 * time.Second,
	}
}

// EnsureGroup creates the consumer group, tolerating a concurrent creation.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.ops.GroupCreate(ctx, c.stream, c.group)
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run consumes until ctx is cancelled. Handled messages are acked; failed
// ones are left pending for the reclaimer.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	log.Info().Str("stream", c.stream).Str("consumer", c.name).Msg("ingress consumer started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := c.ops.ReadGroup(ctx, c.group, c.name, c.stream, c.batch, c.block)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("stream read failed")
			continue
		}

		var acks []string
		for _, msg := range msgs {
			if c.Handle(ctx, msg) {
				acks = append(acks, msg.ID)
			}
		}
		if len(acks) > 0 {
			if err := c.ops.Ack(ctx, c.stream, c.group, acks...); err != nil {
				log.Error().Err(err).Msg("ack failed")
			}
		}
	}
}

// Handle processes one stream message and reports whether it should be
// acked. Malformed notifications are acked and dropped; handler failures
// leave the message pending for redelivery.
func (c *Consumer) Handle(ctx context.Context, msg redis.XMessage) bool {
	event := stringValue(msg.Values, "event")
	key := stringValue(msg.Values, "key")

	if !strings.HasPrefix(key, c.keyPrefix) {
		log.Warn().Str("key", key).Str("stream_id", msg.ID).Msg("notification key outside prefix, dropping")
		return true
	}
	engineID, err := uuid.Parse(strings.TrimPrefix(key, c.keyPrefix))
	if err != nil {
		log.Warn().Str("key", key).Str("stream_id", msg.ID).Msg("unparseable engine id, dropping")
		return true
	}
	version, err := domain.ParseVersion(msg.ID)
	if err != nil {
		log.Warn().Str("stream_id", msg.ID).Msg("unparseable stream id, dropping")
		return true
	}
	causedBy := c.stream + ":" + msg.ID

	logger := log.With().
		Str("event", event).
		Str("engine_id", engineID.String()).
		Str("stream_id", msg.ID).
		Logger()

	switch event {
	case "expired":
		err := c.svc.MarkDead(ctx, engineID, causedBy, version)
		var notExist *service.EngineNotExistError
		if errors.As(err, &notExist) {
			logger.Warn().Msg("expired notification for unknown engine")
			return true
		}
		if err != nil {
			logger.Error().Err(err).Msg("mark dead failed")
			return false
		}

	case "hset":
		info, perr := parseEngineInfo(engineID, []byte(stringValue(msg.Values, "payload")))
		if perr != nil {
			// Poison payload: leave it pending so the reclaimer routes it
			// to the DLQ after the retry cap.
			logger.Error().Err(perr).Msg("bad engine payload")
			return false
		}
		if err := c.svc.Upsert(ctx, info, causedBy, version); err != nil {
			logger.Error().Err(err).Msg("upsert failed")
			return false
		}

	default:
		logger.Warn().Msg("unknown event kind, dropping")
		return true
	}

	logger.Info().Msg("notification processed")
	return true
}

func stringValue(values map[string]any, key string) string {
	if s, ok := values[key].(string); ok {
		return s
	}
	return ""
}
