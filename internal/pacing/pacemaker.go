// Package pacing keeps a variable-cost loop close to a target frequency.
package pacing

import (
	"context"
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// windowSize is the number of iterations averaged before computing the sleep.
const windowSize = 10

// ErrInvalidFrequency is returned for a non-positive target frequency.
var ErrInvalidFrequency = errors.New("target frequency must be positive")

// Option configures a Pacemaker.
type Option func(*Pacemaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pacemaker) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleeper replaces the context-aware sleep.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pacemaker) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// Pacemaker turns a repeating workload into an approximately constant
// frequency by sleeping the difference between the target interval and the
// moving average of recent workload durations.
type Pacemaker struct {
	targetInterval time.Duration
	window         *window

	// lastTick is nil until the first Tick.
	lastTick         *time.Time
	currentFrequency float64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pacemaker for targetHz iterations per second.
func New(targetHz float64, opts ...Option) (*Pacemaker, error) {
	if !(targetHz > 0) {
		return nil, ErrInvalidFrequency
	}
	p := &Pacemaker{
		targetInterval: time.Duration(float64(time.Second) / targetHz),
		window:         newWindow(windowSize),
		now:            time.Now,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Tick is called once per iteration, after the paced work. The first call only
// records the time. Later calls sleep long enough to hold the target frequency
// on average; an overrunning workload is never compensated for with debt.
// A cancelled ctx interrupts the sleep and is returned; the tick still counts,
// so the next call measures from the interruption.
func (p *Pacemaker) Tick(ctx context.Context) error {
	if p.lastTick != nil {
		last := *p.lastTick
		p.window.add(p.now().Sub(last).Seconds())

		avg := time.Duration(math.Round(p.window.average() * float64(time.Second)))
		if sleep := p.targetInterval - avg; sleep > 0 {
			if err := p.sleep(ctx, sleep); err != nil {
				now := p.now()
				p.lastTick = &now
				return err
			}
		}

		// Workload plus sleep, so overshoot shows up in the reported value.
		if gap := p.now().Sub(last); gap > 0 {
			p.currentFrequency = 1 / gap.Seconds()
		}
	}
	now := p.now()
	p.lastTick = &now
	return nil
}

// CurrentFrequency is the achieved frequency over the last two ticks, 0 until
// the second Tick.
func (p *Pacemaker) CurrentFrequency() float64 {
	return p.currentFrequency
}

// TargetInterval is 1/targetHz.
func (p *Pacemaker) TargetInterval() time.Duration {
	return p.targetInterval
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// window is a fixed-size ring of samples. The average is recomputed from the
// samples each time, so no running sum accumulates rounding error.
type window struct {
	samples []float64
	next    int
	full    bool
}

func newWindow(size int) *window {
	return &window{samples: make([]float64, size)}
}

func (w *window) add(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) average() float64 {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	return stat.Mean(w.samples[:n], nil)
}
