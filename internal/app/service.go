// Package service runs the per-frame enrichment loop: pull a frame, detect
// objects, raise and annotate host events, then pace and report liveness.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"time"

	"github.com/okian/aidect/internal/domain/annotation"
	"github.com/okian/aidect/internal/domain/coalescing"
	"github.com/okian/aidect/internal/domain/model"
	"github.com/okian/aidect/pkg/logger"
	"github.com/okian/aidect/pkg/metrics"
)

const defaultTag = "aidect"

// Service is the detection loop of one feed. Run is not safe for concurrent
// use; the tracker and pacing state belong to the loop goroutine.
type Service struct {
	frames    FrameSource
	detector  Detector
	annotator Annotator
	pacer     Pacer
	liveness  Liveness

	monitorID int
	triggerID int
	tag       string
	classes   map[int]string
	region    model.Rect
	minArea   int

	tracker   *coalescing.Tracker
	describer *annotation.Describer

	metrics *metrics.Manager
	logger  logger.Logger
}

// New constructs a Service. Every field of deps is required.
func New(deps Dependencies, opts ...Option) (*Service, error) {
	switch {
	case deps.Frames == nil:
		return nil, fmt.Errorf("%w: frame source", ErrMissingDependency)
	case deps.Detector == nil:
		return nil, fmt.Errorf("%w: detector", ErrMissingDependency)
	case deps.Annotator == nil:
		return nil, fmt.Errorf("%w: annotator", ErrMissingDependency)
	case deps.Pacer == nil:
		return nil, fmt.Errorf("%w: pacer", ErrMissingDependency)
	}

	s := &Service{
		frames:    deps.Frames,
		detector:  deps.Detector,
		annotator: deps.Annotator,
		pacer:     deps.Pacer,
		liveness:  noLiveness{},
		tag:       defaultTag,
		tracker:   coalescing.NewTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.triggerID == 0 {
		s.triggerID = s.monitorID
	}
	if s.metrics == nil {
		s.metrics = metrics.NewManager()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("loop")
	}
	s.describer = annotation.NewDescriber(s.classes, s.region.Origin())
	return s, nil
}

// Serve runs the loop and watches the liveness monitor. It returns the loop
// result, or the liveness error as soon as the monitor expires; in that case
// the loop may still be blocked and the caller is expected to exit.
func (s *Service) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	select {
	case err := <-result:
		return err
	case <-s.liveness.Expired():
		return s.liveness.Err()
	}
}

// Run processes frames until the source ends, ctx is cancelled, or a fatal
// error occurs. A normal end and cancellation return nil.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info(ctx, "detection loop started",
		logger.Int("trigger", s.triggerID),
		logger.String("region", s.region.String()),
		logger.Duration("interval", s.pacer.TargetInterval()))

	for {
		err := s.step(ctx)
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			s.logger.Info(ctx, "detection loop stopped")
			return nil
		case errors.Is(err, io.EOF):
			s.logger.Info(ctx, "frame source ended")
			return nil
		default:
			return err
		}
	}
}

// step runs one iteration.
func (s *Service) step(ctx context.Context) error {
	frame, err := s.frames.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrFrameSource, err)
	}
	crop, err := s.crop(frame)
	if err != nil {
		return err
	}

	start := time.Now()
	detections, err := s.detector.Infer(ctx, crop)
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDetector, err)
	}

	kept := annotation.Filter(detections, s.classes, s.minArea)
	s.metrics.RecordDetections(len(kept))

	if best, ok := model.Best(kept); ok {
		if update, ok := s.trigger(ctx, best); ok {
			s.annotate(ctx, update)
		}
	}

	// The idle check follows the push so a detection on the final frame of an
	// event still lands in that event.
	idle, err := s.frames.IsIdle(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdleQuery, err)
	}
	if idle {
		if update, ok := s.tracker.Clear(); ok {
			s.annotate(ctx, update)
		}
	}

	if elapsed > s.pacer.TargetInterval() {
		s.logger.Warn(ctx, "cannot keep up with target frequency",
			logger.Duration("inference", elapsed),
			logger.Duration("interval", s.pacer.TargetInterval()))
	}
	s.metrics.ObserveInference(elapsed)

	if err := s.pacer.Tick(ctx); err != nil {
		return err
	}
	s.liveness.Reset()
	s.metrics.SetFrequency(s.pacer.CurrentFrequency())
	return nil
}

// trigger raises an event for best and tracks it. A failed trigger is logged
// and the detection is dropped.
func (s *Service) trigger(ctx context.Context, best model.Detection) (model.UpdateEvent, bool) {
	description := s.describer.Describe(best)
	id, err := s.annotator.Trigger(ctx, s.triggerID, s.tag, description, model.Score(best.Confidence))
	if err != nil {
		s.metrics.RecordAnnotationError(metrics.StageTrigger)
		s.logger.Error(ctx, "trigger failed",
			logger.String("detection", description),
			logger.Error(err))
		return model.UpdateEvent{}, false
	}
	s.metrics.RecordTrigger()
	s.logger.Debug(ctx, "detection",
		logger.Uint64("event", uint64(id)),
		logger.String("detection", description))
	return s.tracker.Push(best, id)
}

// annotate writes the summary of a finished event. Failures are not retried.
func (s *Service) annotate(ctx context.Context, u model.UpdateEvent) {
	notes := s.describer.Describe(u.Detection)
	if err := s.annotator.UpdateEventNotes(ctx, u.EventID, notes); err != nil {
		s.metrics.RecordAnnotationError(metrics.StageNotes)
		s.logger.Error(ctx, "event notes update failed",
			logger.Uint64("event", uint64(u.EventID)),
			logger.Error(err))
		return
	}
	s.metrics.RecordEventUpdate()
	s.logger.Info(ctx, "event annotated",
		logger.Uint64("event", uint64(u.EventID)),
		logger.String("notes", notes))
}

// crop returns the analysis region of frame, translated so it starts at the
// origin. An empty region selects the whole frame.
func (s *Service) crop(frame image.Image) (image.Image, error) {
	bounds := frame.Bounds()
	if s.region.Empty() {
		return frame, nil
	}
	r := s.region.Rectangle().Add(bounds.Min).Intersect(bounds)
	if r.Empty() {
		return nil, fmt.Errorf("%w: region %s, frame %dx%d",
			ErrRegionOutsideFrame, s.region, bounds.Dx(), bounds.Dy())
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), frame, r.Min, draw.Src)
	return out, nil
}
