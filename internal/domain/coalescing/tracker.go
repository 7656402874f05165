// Package coalescing merges the per-frame detection stream into one update per
// host event.
//
// The host tags every triggered frame with the id of the event it is currently
// recording. A Tracker keeps the detections seen under the current id and,
// once the id changes or the feed goes idle, hands back the single best one.
//
// A Tracker is owned by the detection loop and is not safe for concurrent use.
package coalescing

import (
	"github.com/okian/aidect/internal/domain/model"
)

// UpdateEvent is the summary emitted when an event is finalized.
type UpdateEvent = model.UpdateEvent

// trackerState is either emptyState or *trackingState.
type trackerState interface {
	trackerState()
}

type emptyState struct{}

type trackingState struct {
	eventID    model.EventID
	detections []model.Detection // never empty
}

func (emptyState) trackerState()     {}
func (*trackingState) trackerState() {}

// Tracker is the coalescing state machine.
type Tracker struct {
	state trackerState
}

// NewTracker returns a Tracker in the empty state.
func NewTracker() *Tracker {
	return &Tracker{state: emptyState{}}
}

// Push records d under eventID. When eventID differs from the event being
// tracked, the previous event is finalized and returned with ok set; the new
// event starts tracking and is reported later.
func (t *Tracker) Push(d model.Detection, eventID model.EventID) (update UpdateEvent, ok bool) {
	switch s := t.state.(type) {
	case emptyState:
	case *trackingState:
		if s.eventID == eventID {
			s.detections = append(s.detections, d)
			return UpdateEvent{}, false
		}
		update, ok = finalize(s)
	}
	t.state = &trackingState{eventID: eventID, detections: []model.Detection{d}}
	return update, ok
}

// Clear finalizes the tracked event, if any, and returns to the empty state.
// Clearing an empty tracker is a no-op.
func (t *Tracker) Clear() (UpdateEvent, bool) {
	switch s := t.state.(type) {
	case emptyState:
		return UpdateEvent{}, false
	case *trackingState:
		t.state = emptyState{}
		return finalize(s)
	}
	return UpdateEvent{}, false
}

// Tracking reports the event currently tracked and how many detections it holds.
func (t *Tracker) Tracking() (model.EventID, int, bool) {
	if s, ok := t.state.(*trackingState); ok {
		return s.eventID, len(s.detections), true
	}
	return 0, 0, false
}

func finalize(s *trackingState) (UpdateEvent, bool) {
	best, ok := model.Best(s.detections)
	if !ok {
		return UpdateEvent{}, false
	}
	// TODO: aggregate detections by class and report per-class counts in the notes.
	return UpdateEvent{EventID: s.eventID, Detection: best}, true
}
