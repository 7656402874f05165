// Package watchdog detects a stalled control loop.
//
// A Watchdog runs its own goroutine with its own timer, so a loop whose timing
// logic is broken cannot also hide its own stall. When no Reset arrives within
// the timeout the watchdog logs a fatal diagnostic and closes the channel
// returned by Expired. Expiry is terminal; the owner is expected to shut the
// process down.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/aidect/pkg/logger"
)

// ErrLivenessViolation is wrapped by Err once the watchdog expired.
var ErrLivenessViolation = errors.New("liveness violation")

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the logger used for the expiry diagnostic.
func WithLogger(l logger.Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watchdog is a background liveness monitor.
type Watchdog struct {
	timeout time.Duration
	logger  logger.Logger

	reset   chan struct{}
	expired chan struct{}
	stop    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
}

// New starts a watchdog that expires when Reset is not called for timeout.
func New(timeout time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		timeout: timeout,
		reset:   make(chan struct{}, 1),
		expired: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("watchdog")
	}

	go w.run()
	return w
}

func (w *Watchdog) run() {
	defer close(w.done)

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-w.reset:
			timer.Reset(w.timeout)
		case <-timer.C:
			w.logger.Error(context.Background(), "watchdog expired, terminating",
				logger.Duration("timeout", w.timeout))
			close(w.expired)
			return
		case <-w.stop:
			return
		}
	}
}

// Reset re-arms the timer. It never blocks: the one-slot buffer already holds
// a pending signal when the send is skipped.
func (w *Watchdog) Reset() {
	select {
	case w.reset <- struct{}{}:
	default:
	}
}

// Expired is closed when the timeout elapsed without a Reset.
func (w *Watchdog) Expired() <-chan struct{} {
	return w.expired
}

// Err returns nil until the watchdog expired, then an error wrapping
// ErrLivenessViolation.
func (w *Watchdog) Err() error {
	select {
	case <-w.expired:
		return fmt.Errorf("%w: no progress for %s", ErrLivenessViolation, w.timeout)
	default:
		return nil
	}
}

// Timeout returns the configured timeout.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Stop ends the background goroutine without expiring. Safe to call more than
// once and after expiry.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
