package service_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	app "github.com/okian/aidect/internal/app"
	"github.com/okian/aidect/internal/domain/model"
	"github.com/okian/aidect/internal/watchdog"
	"github.com/okian/aidect/pkg/logger"
	"github.com/okian/aidect/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// journal records the order of host interactions across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// frameStep scripts one iteration of the frame source.
type frameStep struct {
	err     error
	idle    bool
	idleErr error
}

type fakeFrames struct {
	j     *journal
	steps []frameStep
	pos   int
	size  image.Rectangle
	// block, when set, makes Next hang until the channel is closed.
	block chan struct{}
}

func (f *fakeFrames) Next(ctx context.Context) (image.Image, error) {
	if f.block != nil {
		<-f.block
		return nil, io.EOF
	}
	if f.pos >= len(f.steps) {
		return nil, io.EOF
	}
	step := f.steps[f.pos]
	if step.err != nil {
		f.pos++
		return nil, step.err
	}
	return image.NewRGBA(f.size), nil
}

func (f *fakeFrames) IsIdle(ctx context.Context) (bool, error) {
	step := f.steps[f.pos]
	f.pos++
	f.j.add("idle=%t", step.idle)
	return step.idle, step.idleErr
}

type fakeDetector struct {
	results [][]model.Detection
	calls   int
	err     error
	delay   time.Duration
	bounds  []image.Rectangle
}

func (d *fakeDetector) Infer(ctx context.Context, img image.Image) ([]model.Detection, error) {
	d.bounds = append(d.bounds, img.Bounds())
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	var out []model.Detection
	if d.calls < len(d.results) {
		out = d.results[d.calls]
	}
	d.calls++
	return out, nil
}

type triggerCall struct {
	monitorID   int
	tag         string
	description string
	score       int
}

type fakeAnnotator struct {
	j          *journal
	ids        []model.EventID
	triggers   []triggerCall
	notes      map[model.EventID][]string
	triggerErr error
	notesErr   error
}

func (a *fakeAnnotator) Trigger(ctx context.Context, monitorID int, tag, description string, score int) (model.EventID, error) {
	a.triggers = append(a.triggers, triggerCall{monitorID, tag, description, score})
	if a.triggerErr != nil {
		a.j.add("trigger failed")
		return 0, a.triggerErr
	}
	id := a.ids[0]
	if len(a.ids) > 1 {
		a.ids = a.ids[1:]
	}
	a.j.add("trigger %d", id)
	return id, nil
}

func (a *fakeAnnotator) UpdateEventNotes(ctx context.Context, id model.EventID, notes string) error {
	a.j.add("notes %d", id)
	if a.notesErr != nil {
		return a.notesErr
	}
	if a.notes == nil {
		a.notes = map[model.EventID][]string{}
	}
	a.notes[id] = append(a.notes[id], notes)
	return nil
}

type fakePacer struct {
	ticks    int
	interval time.Duration
}

func (p *fakePacer) Tick(ctx context.Context) error {
	p.ticks++
	return ctx.Err()
}
func (p *fakePacer) CurrentFrequency() float64     { return 10 }
func (p *fakePacer) TargetInterval() time.Duration { return p.interval }

type countingLiveness struct {
	resets int
}

func (l *countingLiveness) Reset()                   { l.resets++ }
func (l *countingLiveness) Expired() <-chan struct{} { return nil }
func (l *countingLiveness) Err() error               { return nil }

func det(class int, conf float64, x, y, w, h int) model.Detection {
	return model.Detection{ClassID: class, Confidence: conf, Box: model.Box{X: x, Y: y, Width: w, Height: h}}
}

// counter reads a counter from reg, matching an optional stage label.
func counter(reg *prometheus.Registry, name, stage string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if stage == "" {
				return m.GetCounter().GetValue()
			}
			for _, l := range m.GetLabel() {
				if l.GetName() == "stage" && l.GetValue() == stage {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type harness struct {
	j         *journal
	frames    *fakeFrames
	detector  *fakeDetector
	annotator *fakeAnnotator
	pacer     *fakePacer
	liveness  *countingLiveness
	registry  *prometheus.Registry
}

func newHarness(steps []frameStep, results [][]model.Detection, ids ...model.EventID) *harness {
	_ = logger.InitWriter(io.Discard)
	j := &journal{}
	if len(ids) == 0 {
		ids = []model.EventID{7}
	}
	return &harness{
		j:         j,
		frames:    &fakeFrames{j: j, steps: steps, size: image.Rect(0, 0, 200, 200)},
		detector:  &fakeDetector{results: results},
		annotator: &fakeAnnotator{j: j, ids: ids},
		pacer:     &fakePacer{interval: 100 * time.Millisecond},
		liveness:  &countingLiveness{},
		registry:  prometheus.NewRegistry(),
	}
}

func (h *harness) service(opts ...app.Option) *app.Service {
	base := []app.Option{
		app.WithMonitorID(3),
		app.WithClasses(map[int]string{1: "Human", 17: "Dog"}),
		app.WithRegion(model.Rect{X: 0, Y: 0, Width: 100, Height: 100}),
		app.WithWatchdog(h.liveness),
		app.WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(h.registry))),
	}
	svc, err := app.New(app.Dependencies{
		Frames:    h.frames,
		Detector:  h.detector,
		Annotator: h.annotator,
		Pacer:     h.pacer,
	}, append(base, opts...)...)
	So(err, ShouldBeNil)
	return svc
}

func TestNew(t *testing.T) {
	Convey("Given missing dependencies", t, func() {
		_, err := app.New(app.Dependencies{})
		So(errors.Is(err, app.ErrMissingDependency), ShouldBeTrue)
	})
}

func TestRunCoalescesAnEvent(t *testing.T) {
	Convey("Given two detections under one event and then an idle feed", t, func() {
		h := newHarness(
			[]frameStep{{idle: false}, {idle: true}},
			[][]model.Detection{
				{det(1, 0.4, 10, 10, 5, 5)},
				{det(1, 0.9, 52, 42, 5, 5)},
			},
		)
		svc := h.service()

		err := svc.Run(context.Background())

		Convey("Then the loop ends normally on EOF", func() {
			So(err, ShouldBeNil)
		})

		Convey("And both frames trigger on the feed with the scaled score", func() {
			So(h.annotator.triggers, ShouldHaveLength, 2)
			So(h.annotator.triggers[0].monitorID, ShouldEqual, 3)
			So(h.annotator.triggers[0].tag, ShouldEqual, "aidect")
			So(h.annotator.triggers[0].score, ShouldEqual, 40)
			So(h.annotator.triggers[1].score, ShouldEqual, 90)
		})

		Convey("And exactly one summary carries the best detection", func() {
			So(h.annotator.notes, ShouldHaveLength, 1)
			So(h.annotator.notes[7], ShouldResemble, []string{"Human (90.0%) 5x5 (=25) at 52x42"})
		})

		Convey("And every iteration is paced, reset and counted", func() {
			So(h.pacer.ticks, ShouldEqual, 2)
			So(h.liveness.resets, ShouldEqual, 2)
			So(counter(h.registry, "aidect_inferences_total", ""), ShouldEqual, 2)
			So(counter(h.registry, "aidect_triggers_total", ""), ShouldEqual, 2)
			So(counter(h.registry, "aidect_event_updates_total", ""), ShouldEqual, 1)
		})

		Convey("And the detector sees only the region", func() {
			So(h.detector.bounds[0], ShouldResemble, image.Rect(0, 0, 100, 100))
		})
	})
}

func TestRunPushesBeforeIdleClear(t *testing.T) {
	Convey("Given a detection on the frame where the feed goes idle", t, func() {
		h := newHarness(
			[]frameStep{{idle: true}},
			[][]model.Detection{{det(17, 0.8, 0, 0, 10, 10)}},
		)
		So(h.service().Run(context.Background()), ShouldBeNil)

		Convey("Then the detection is part of the summary", func() {
			So(h.j.list(), ShouldResemble, []string{"trigger 7", "idle=true", "notes 7"})
			So(h.annotator.notes[7], ShouldResemble, []string{"Dog (80.0%) 10x10 (=100) at 0x0"})
		})
	})
}

func TestRunEmitsOnEventChange(t *testing.T) {
	Convey("Given detections under two successive events", t, func() {
		h := newHarness(
			[]frameStep{{}, {}, {idle: true}},
			[][]model.Detection{
				{det(1, 0.6, 0, 0, 5, 5)},
				{det(1, 0.7, 0, 0, 5, 5)},
				nil,
			},
			7, 8,
		)
		So(h.service().Run(context.Background()), ShouldBeNil)

		Convey("Then each event is summarised once, in order", func() {
			So(h.j.list(), ShouldResemble, []string{
				"trigger 7", "idle=false",
				"trigger 8", "notes 7", "idle=false",
				"idle=true", "notes 8",
			})
			So(h.annotator.notes[7][0], ShouldStartWith, "Human (60.0%)")
			So(h.annotator.notes[8][0], ShouldStartWith, "Human (70.0%)")
		})
	})
}

func TestRunAnnotatesBeforeIdleQuery(t *testing.T) {
	Convey("Given an event change on a frame whose idle query fails", t, func() {
		h := newHarness(
			[]frameStep{{}, {idleErr: errors.New("host unreachable")}},
			[][]model.Detection{
				{det(1, 0.6, 0, 0, 5, 5)},
				{det(17, 0.8, 0, 0, 10, 10)},
			},
			7, 8,
		)
		err := h.service().Run(context.Background())

		Convey("Then the loop fails on the idle query", func() {
			So(errors.Is(err, app.ErrIdleQuery), ShouldBeTrue)
		})

		Convey("And the finished event was annotated first", func() {
			So(h.j.list(), ShouldResemble, []string{
				"trigger 7", "idle=false",
				"trigger 8", "notes 7", "idle=false",
			})
			So(h.annotator.notes[7], ShouldResemble, []string{"Human (60.0%) 5x5 (=25) at 0x0"})
		})
	})
}

func TestRunFilters(t *testing.T) {
	Convey("Given detections the feed is not interested in", t, func() {
		h := newHarness(
			[]frameStep{{}, {idle: true}},
			[][]model.Detection{
				{det(99, 0.99, 0, 0, 50, 50)},
				{det(1, 0.9, 0, 0, 5, 5), det(1, 0.6, 0, 0, 10, 10)},
			},
		)
		So(h.service(app.WithMinArea(100)).Run(context.Background()), ShouldBeNil)

		Convey("Then unknown classes never trigger", func() {
			So(h.annotator.triggers, ShouldHaveLength, 1)
		})

		Convey("And boxes below the minimum area are dropped", func() {
			So(h.annotator.triggers[0].description, ShouldEqual, "Human (60.0%) 10x10 (=100) at 0x0")
			So(counter(h.registry, "aidect_detections_total", ""), ShouldEqual, 1)
		})
	})
}

func TestRunAlternateTrigger(t *testing.T) {
	Convey("Given an alternate trigger monitor and a custom tag", t, func() {
		h := newHarness([]frameStep{{}}, [][]model.Detection{{det(1, 0.5, 0, 0, 5, 5)}})
		So(h.service(app.WithTriggerID(12), app.WithTag("yolo")).Run(context.Background()), ShouldBeNil)

		So(h.annotator.triggers[0].monitorID, ShouldEqual, 12)
		So(h.annotator.triggers[0].tag, ShouldEqual, "yolo")
	})
}

func TestRunRecoverableFailures(t *testing.T) {
	Convey("Given a host that rejects triggers", t, func() {
		h := newHarness(
			[]frameStep{{}, {idle: true}},
			[][]model.Detection{{det(1, 0.9, 0, 0, 5, 5)}, {det(1, 0.9, 0, 0, 5, 5)}},
		)
		h.annotator.triggerErr = errors.New("503")

		Convey("Then the loop keeps going and nothing is tracked", func() {
			So(h.service().Run(context.Background()), ShouldBeNil)
			So(h.pacer.ticks, ShouldEqual, 2)
			So(h.annotator.notes, ShouldBeEmpty)
			So(counter(h.registry, "aidect_annotation_errors_total", metrics.StageTrigger), ShouldEqual, 2)
		})
	})

	Convey("Given a host that rejects notes", t, func() {
		h := newHarness([]frameStep{{idle: true}}, [][]model.Detection{{det(1, 0.9, 0, 0, 5, 5)}})
		h.annotator.notesErr = errors.New("500")

		Convey("Then the failure is counted and the loop continues", func() {
			So(h.service().Run(context.Background()), ShouldBeNil)
			So(h.liveness.resets, ShouldEqual, 1)
			So(counter(h.registry, "aidect_annotation_errors_total", metrics.StageNotes), ShouldEqual, 1)
		})
	})
}

func TestRunFatalFailures(t *testing.T) {
	Convey("Given a failing frame source", t, func() {
		h := newHarness([]frameStep{{err: errors.New("connection reset")}}, nil)
		err := h.service().Run(context.Background())
		So(errors.Is(err, app.ErrFrameSource), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "connection reset")
		So(h.pacer.ticks, ShouldEqual, 0)
	})

	Convey("Given a failing detector", t, func() {
		h := newHarness([]frameStep{{}}, nil)
		h.detector.err = errors.New("model crashed")
		err := h.service().Run(context.Background())
		So(errors.Is(err, app.ErrDetector), ShouldBeTrue)
		So(h.annotator.triggers, ShouldBeEmpty)
	})

	Convey("Given a failing idle query", t, func() {
		h := newHarness([]frameStep{{idleErr: errors.New("timeout")}}, nil)
		err := h.service().Run(context.Background())
		So(errors.Is(err, app.ErrIdleQuery), ShouldBeTrue)
	})

	Convey("Given a region outside the frame", t, func() {
		h := newHarness([]frameStep{{}}, nil)
		err := h.service(app.WithRegion(model.Rect{X: 500, Y: 500, Width: 10, Height: 10})).Run(context.Background())
		So(errors.Is(err, app.ErrRegionOutsideFrame), ShouldBeTrue)
	})
}

func TestRunRegion(t *testing.T) {
	Convey("Given a region overlapping the frame edge", t, func() {
		h := newHarness([]frameStep{{}}, [][]model.Detection{{det(1, 0.9, 1, 2, 3, 4)}})
		So(h.service(app.WithRegion(model.Rect{X: 150, Y: 180, Width: 100, Height: 100})).Run(context.Background()), ShouldBeNil)

		Convey("Then the crop is clipped and positions are reported in frame pixels", func() {
			So(h.detector.bounds[0], ShouldResemble, image.Rect(0, 0, 50, 20))
			So(h.annotator.triggers[0].description, ShouldEndWith, "at 151x182")
		})
	})

	Convey("Given no region", t, func() {
		h := newHarness([]frameStep{{}}, nil)
		So(h.service(app.WithRegion(model.Rect{})).Run(context.Background()), ShouldBeNil)
		So(h.detector.bounds[0], ShouldResemble, image.Rect(0, 0, 200, 200))
	})
}

func TestRunSlowInference(t *testing.T) {
	Convey("Given inference slower than the target interval", t, func() {
		h := newHarness([]frameStep{{}}, nil)
		var buf strings.Builder
		_ = logger.InitWriter(&syncWriter{w: &buf})
		h.pacer.interval = time.Millisecond
		h.detector.delay = 5 * time.Millisecond

		svc, err := app.New(app.Dependencies{
			Frames: h.frames, Detector: h.detector, Annotator: h.annotator, Pacer: h.pacer,
		})
		So(err, ShouldBeNil)
		So(svc.Run(context.Background()), ShouldBeNil)

		Convey("Then a warning is logged and pacing still runs", func() {
			So(buf.String(), ShouldContainSubstring, "cannot keep up")
			So(h.pacer.ticks, ShouldEqual, 1)
		})
	})
}

func TestRunCancellation(t *testing.T) {
	Convey("Given a cancelled context", t, func() {
		h := newHarness([]frameStep{{}, {}, {}}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then Run returns without error after the interrupted tick", func() {
			So(h.service().Run(ctx), ShouldBeNil)
			So(h.pacer.ticks, ShouldEqual, 1)
			So(h.liveness.resets, ShouldEqual, 0)
		})
	})
}

func TestServe(t *testing.T) {
	Convey("Given a stalled frame source and a short watchdog", t, func() {
		h := newHarness(nil, nil)
		h.frames.block = make(chan struct{})
		defer close(h.frames.block)

		wd := watchdog.New(50 * time.Millisecond)
		defer wd.Stop()

		svc, err := app.New(app.Dependencies{
			Frames: h.frames, Detector: h.detector, Annotator: h.annotator, Pacer: h.pacer,
		}, app.WithWatchdog(wd))
		So(err, ShouldBeNil)

		start := time.Now()
		err = svc.Serve(context.Background())

		Convey("Then Serve reports the liveness violation", func() {
			So(errors.Is(err, watchdog.ErrLivenessViolation), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, time.Second)
		})
	})

	Convey("Given a healthy loop that ends", t, func() {
		h := newHarness([]frameStep{{}}, nil)
		wd := watchdog.New(time.Second)
		defer wd.Stop()

		svc, err := app.New(app.Dependencies{
			Frames: h.frames, Detector: h.detector, Annotator: h.annotator, Pacer: h.pacer,
		}, app.WithWatchdog(wd))
		So(err, ShouldBeNil)

		Convey("Then Serve returns the loop result", func() {
			So(svc.Serve(context.Background()), ShouldBeNil)
		})
	})
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
