package ingress

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/retry"
)

// Reclaimer sweeps pending entries that sat idle past the threshold: stale
// deliveries are re-handled, entries past the retry cap move to the DLQ
// stream. One instance per process.
type Reclaimer struct {
	ops      streamOps
	consumer *Consumer

	stream   string
	dlq      string
	group    string
	name     string
	idle     time.Duration
	batch    int64
	pause    time.Duration
	maxRetry int64
}

func NewReclaimer(ops streamOps, consumer *Consumer, name string) *Reclaimer {
	return &Reclaimer{
		ops:      ops,
		consumer: consumer,
		stream:   Stream,
		dlq:      DLQStream,
		group:    Group,
		name:     name,
		idle:     60 * time.Second,
		batch:    100,
		pause:    5 * time.Second,
		maxRetry: 2,
	}
}

// Run sweeps until ctx is cancelled. Redis failures are retried with backoff
// and then skipped with a critical log; the reclaimer never takes the
// process down.
func (r *Reclaimer) Run(ctx context.Context) {
	log.Info().Str("stream", r.stream).Str("consumer", r.name).Msg("reclaimer started")
	cursor := "0-0"

	for ctx.Err() == nil {
		entries, next, err := r.claim(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("autoclaim failed, backing off")
			sleep(ctx, r.pause)
			continue
		}
		cursor = next

		if len(entries) == 0 {
			sleep(ctx, r.pause)
			continue
		}

		if err := r.sweep(ctx, entries); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reclaim sweep failed")
			sleep(ctx, r.pause)
		}
	}
	log.Info().Msg("reclaimer stopped")
}

func (r *Reclaimer) claim(ctx context.Context, cursor string) (entries []redis.XMessage, next string, err error) {
	err = retry.Do(ctx, func() error {
		entries, next, err = r.ops.AutoClaim(ctx, r.stream, r.group, r.name, r.idle, cursor, r.batch)
		return err
	})
	return entries, next, err
}

func (r *Reclaimer) sweep(ctx context.Context, entries []redis.XMessage) error {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	deliveries, err := r.deliveryCounts(ctx, ids)
	if err != nil {
		return err
	}

	var acks []string
	for _, msg := range entries {
		count, ok := deliveries[msg.ID]
		if !ok {
			count = 1
		}

		if count > r.maxRetry {
			if err := r.deadLetter(ctx, msg); err != nil {
				log.Error().Err(err).Str("stream_id", msg.ID).Msg("dead-letter failed")
				continue
			}
			log.Warn().Str("stream_id", msg.ID).Int64("deliveries", count).Msg("message dead-lettered")
			acks = append(acks, msg.ID)
			continue
		}

		if r.consumer.Handle(ctx, msg) {
			acks = append(acks, msg.ID)
		}
	}

	if len(acks) == 0 {
		return nil
	}
	return retry.Do(ctx, func() error {
		return r.ops.Ack(ctx, r.stream, r.group, acks...)
	})
}

// deliveryCounts queries XPENDING per claimed id. A range query over
// [min,max] can return unclaimed neighbours of the same consumer instead of
// the ids we hold, which would skew the DLQ cutoff.
func (r *Reclaimer) deliveryCounts(ctx context.Context, ids []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	for _, id := range ids {
		var pending []redis.XPendingExt
		err := retry.Do(ctx, func() error {
			var perr error
			pending, perr = r.ops.Pending(ctx, r.stream, r.group, r.name, id, id, 1)
			return perr
		})
		if err != nil {
			return nil, err
		}
		if len(pending) > 0 {
			counts[id] = pending[0].RetryCount
		}
	}
	return counts, nil
}

// deadLetter copies the raw body to the DLQ stream, preserving the original
// stream id in a side field for operators.
func (r *Reclaimer) deadLetter(ctx context.Context, msg redis.XMessage) error {
	values := make(map[string]any, len(msg.Values)+1)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["original_id"] = msg.ID

	return retry.Do(ctx, func() error {
		return r.ops.Add(ctx, r.dlq, values)
	})
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
