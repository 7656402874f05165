package service

import (
	"context"
	"image"
	"time"

	"github.com/okian/aidect/internal/domain/model"
)

// FrameSource delivers frames of one feed. Next returns io.EOF when the feed
// ends normally.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	IsIdle(ctx context.Context) (bool, error)
}

// Detector finds objects in a frame. Boxes are relative to the frame origin.
type Detector interface {
	Infer(ctx context.Context, img image.Image) ([]model.Detection, error)
}

// Annotator raises events on the host and edits their notes.
type Annotator interface {
	Trigger(ctx context.Context, monitorID int, tag, description string, score int) (model.EventID, error)
	UpdateEventNotes(ctx context.Context, id model.EventID, notes string) error
}

// Pacer holds the loop at its target frequency.
type Pacer interface {
	Tick(ctx context.Context) error
	CurrentFrequency() float64
	TargetInterval() time.Duration
}

// Liveness is reset once per iteration and reports a stalled loop.
type Liveness interface {
	Reset()
	Expired() <-chan struct{}
	Err() error
}

// Dependencies are the collaborators a Service cannot run without.
type Dependencies struct {
	Frames    FrameSource
	Detector  Detector
	Annotator Annotator
	Pacer     Pacer
}

// noLiveness never expires.
type noLiveness struct{}

func (noLiveness) Reset()                   {}
func (noLiveness) Expired() <-chan struct{} { return nil }
func (noLiveness) Err() error               { return nil }
