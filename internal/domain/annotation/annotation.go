// Package annotation decides which detections are worth reporting and how they
// are described to the host.
package annotation

import (
	"fmt"
	"image"

	"github.com/okian/aidect/internal/domain/model"
)

// Filter keeps detections whose class is in classes and whose box area is at
// least minArea. The input slice is not modified.
func Filter(detections []model.Detection, classes map[int]string, minArea int) []model.Detection {
	var kept []model.Detection
	for _, d := range detections {
		if _, ok := classes[d.ClassID]; !ok {
			continue
		}
		if d.Box.Area() < minArea {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// Describer formats detections for event notes and trigger text.
type Describer struct {
	classes map[int]string
	origin  image.Point
}

// NewDescriber returns a Describer translating region-relative boxes by origin.
func NewDescriber(classes map[int]string, origin image.Point) *Describer {
	return &Describer{classes: classes, origin: origin}
}

// ClassName resolves a class id, falling back to "class N".
func (d *Describer) ClassName(classID int) string {
	if name, ok := d.classes[classID]; ok {
		return name
	}
	return fmt.Sprintf("class %d", classID)
}

// Describe renders e.g. "Human (90.0%) 5x5 (=25) at 12x12" with the position
// in full-frame coordinates.
func (d *Describer) Describe(det model.Detection) string {
	box := det.Box.Offset(d.origin)
	return fmt.Sprintf("%s (%.1f%%) %dx%d (=%d) at %dx%d",
		d.ClassName(det.ClassID),
		det.Confidence*100,
		det.Box.Width,
		det.Box.Height,
		det.Box.Width*det.Box.Height,
		box.X,
		box.Y,
	)
}
