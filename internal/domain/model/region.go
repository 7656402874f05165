package model

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ErrInvalidPolygon is returned when zone coordinates cannot be parsed.
var ErrInvalidPolygon = errors.New("invalid polygon")

// Rect is the analysis region in full-frame pixels.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Empty reports whether r covers no pixels. An empty region means "whole frame".
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Origin is the top-left corner of r.
func (r Rect) Origin() image.Point {
	return image.Pt(r.X, r.Y)
}

// Rectangle converts r to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d at %dx%d", r.Width, r.Height, r.X, r.Y)
}

// Polygon is a zone outline in full-frame pixels.
type Polygon []image.Point

// ParsePolygon parses host zone coordinates of the form "x1,y1 x2,y2 ...".
func ParsePolygon(coords string) (Polygon, error) {
	fields := strings.Fields(coords)
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 points, got %d", ErrInvalidPolygon, len(fields))
	}
	poly := make(Polygon, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("%w: point %q", ErrInvalidPolygon, f)
		}
		x, err := strconv.Atoi(xs)
		if err != nil {
			return nil, fmt.Errorf("%w: point %q: %w", ErrInvalidPolygon, f, err)
		}
		y, err := strconv.Atoi(ys)
		if err != nil {
			return nil, fmt.Errorf("%w: point %q: %w", ErrInvalidPolygon, f, err)
		}
		poly = append(poly, image.Pt(x, y))
	}
	return poly, nil
}

// BoundingBox returns the smallest Rect containing every vertex.
func (p Polygon) BoundingBox() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	minX, minY := p[0].X, p[0].Y
	maxX, maxY := minX, minY
	for _, pt := range p[1:] {
		minX, maxX = min(minX, pt.X), max(maxX, pt.X)
		minY, maxY = min(minY, pt.Y), max(maxY, pt.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
