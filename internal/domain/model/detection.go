// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"image"
	"math"
)

// confidenceScale turns a [0,1] confidence into the integer key used for
// comparisons. Three decimals are kept.
const confidenceScale = 1000

// EventID is the host's handle for one recorded event. It is opaque to the
// loop and never generated locally.
type EventID uint64

// Box is an axis-aligned bounding box.
type Box struct {
	X, Y          int
	Width, Height int
}

// Area returns Width*Height, or 0 for degenerate boxes.
func (b Box) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Offset returns b moved by p.
func (b Box) Offset(p image.Point) Box {
	b.X += p.X
	b.Y += p.Y
	return b
}

func (b Box) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", b.Width, b.Height, b.X, b.Y)
}

// Detection is one object found by the detector. Box is relative to the
// analysis region the detector was run on.
type Detection struct {
	ClassID    int
	Confidence float64
	Box        Box
}

// UpdateEvent carries the representative detection of a finished event.
type UpdateEvent struct {
	EventID   EventID
	Detection Detection
}

// ConfidenceKey maps a confidence to a total-ordered integer. NaN and negative
// values collapse to 0 and values above 1 to the maximum.
func ConfidenceKey(confidence float64) int64 {
	switch {
	case math.IsNaN(confidence) || confidence <= 0:
		return 0
	case confidence >= 1:
		return confidenceScale
	}
	return int64(confidence * confidenceScale)
}

// Score converts a confidence to the host's 0..100 score, truncating.
func Score(confidence float64) int {
	return int(ConfidenceKey(confidence) * 100 / confidenceScale)
}

// Best returns the detection with the highest ConfidenceKey. Ties go to the
// earliest detection. ok is false for an empty slice.
func Best(detections []Detection) (best Detection, ok bool) {
	if len(detections) == 0 {
		return Detection{}, false
	}
	best = detections[0]
	bestKey := ConfidenceKey(best.Confidence)
	for _, d := range detections[1:] {
		if k := ConfidenceKey(d.Confidence); k > bestKey {
			best, bestKey = d, k
		}
	}
	return best, true
}
