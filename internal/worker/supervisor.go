// Package worker runs the batch loops that drive the relay and delivery
// stages. A loop iteration claims and processes one batch; the supervisor
// handles pacing, panics, and shutdown so the iteration body stays simple.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
)

// BatchFunc processes one batch and reports how many items it handled.
// Returning zero means the source was empty and the loop should pause.
type BatchFunc func(ctx context.Context) (int, error)

// RunLoop drives fn until ctx is cancelled. A busy source is drained
// back-to-back at the pace interval; an empty source or an error waits a
// full pause before the next attempt. Panics inside fn are logged and
// treated as errors, never allowed to take the process down.
func RunLoop(ctx context.Context, name string, pace, pause time.Duration, fn BatchFunc) {
	logger := log.With().Str("worker", name).Logger()
	logger.Info().Msg("worker started")

	for {
		n, err := runOnce(ctx, fn)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				logger.Info().Msg("worker stopped")
				return
			}
			logger.Error().Err(err).Msg("batch failed")
		case n > 0:
			logger.Debug().Int("processed", n).Msg("batch done")
		}

		wait := pause
		if err == nil && n > 0 {
			wait = pace
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-time.After(wait):
		}
	}
}

func runOnce(ctx context.Context, fn BatchFunc) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
