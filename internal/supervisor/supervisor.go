// Package supervisor keeps long-running loops alive. A loop that returns an
// error or panics is restarted after an exponentially growing delay.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rewired-gh/cornerwatch/internal/logger"
)

// ErrPanic wraps a recovered panic.
var ErrPanic = errors.New("panic")

// ErrGaveUp is returned once MaxRestarts is exhausted.
var ErrGaveUp = errors.New("restart limit reached")

// Backoff bounds the restart delay.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxRestarts stops supervision after this many consecutive restarts. Zero
	// restarts forever.
	MaxRestarts int
	// ResetAfter treats a run lasting at least this long as healthy, resetting
	// the delay and the restart count.
	ResetAfter time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
		ResetAfter: 5 * time.Minute,
	}
}

func (b Backoff) next(d time.Duration) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d = time.Duration(float64(d) * mult)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Run calls fn until ctx is cancelled or fn returns nil.
func Run(ctx context.Context, name string, fn func(ctx context.Context) error, b Backoff) error {
	log := logger.With("loop", name)
	delay := b.Initial
	restarts := 0

	for {
		started := time.Now()
		err := call(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			log.Info("Loop exited")
			return nil
		}

		if b.ResetAfter > 0 && time.Since(started) >= b.ResetAfter {
			delay = b.Initial
			restarts = 0
		}
		restarts++
		if b.MaxRestarts > 0 && restarts > b.MaxRestarts {
			log.Error("Loop failed %d times in a row, giving up: %v", restarts, err)
			return fmt.Errorf("%s: %w: %w", name, ErrGaveUp, err)
		}

		log.Error("Loop crashed, restarting in %v (restart %d): %v", delay, restarts, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = b.next(delay)
	}
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn(ctx)
}
