// Package overlay maps detections to on-screen highlight rectangles and draws them.
package overlay

import (
	"image"
	"math"

	"github.com/menta2k/blurai/pkg/types"
)

// Rect is a highlight rectangle in display coordinates
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Image converts the rectangle to integer pixel bounds, rounding to the nearest pixel
func (r Rect) Image() image.Rectangle {
	x0 := int(math.Round(r.Left))
	y0 := int(math.Round(r.Top))
	x1 := int(math.Round(r.Left + r.Width))
	y1 := int(math.Round(r.Top + r.Height))
	return image.Rect(x0, y0, x1, y1)
}

// Transform maps image-native coordinates to display coordinates
type Transform struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// Identity leaves coordinates untouched; detections are then assumed to be in display space
var Identity = Transform{Scale: 1}

// Apply maps r through the transform
func (t Transform) Apply(r Rect) Rect {
	s := t.Scale
	if s <= 0 {
		s = 1
	}
	return Rect{
		Left:   r.Left*s + t.OffsetX,
		Top:    r.Top*s + t.OffsetY,
		Width:  r.Width * s,
		Height: r.Height * s,
	}
}

// FitTransform shrinks an image to fit a viewport without enlarging it, centered
func FitTransform(imgW, imgH, viewW, viewH int) Transform {
	if imgW <= 0 || imgH <= 0 || viewW <= 0 || viewH <= 0 {
		return Identity
	}
	scale := math.Min(1, math.Min(float64(viewW)/float64(imgW), float64(viewH)/float64(imgH)))
	return Transform{
		Scale:   scale,
		OffsetX: (float64(viewW) - float64(imgW)*scale) / 2,
		OffsetY: (float64(viewH) - float64(imgH)*scale) / 2,
	}
}

// Resolver derives the highlight rectangle for the hovered class
type Resolver struct {
	Transform Transform
}

// NewResolver creates a resolver with the identity transform
func NewResolver() *Resolver {
	return &Resolver{Transform: Identity}
}

// Resolve returns the rectangle of the first detection whose class equals hovered.
// ok is false when nothing is hovered or no detection matches.
func (r *Resolver) Resolve(hovered string, detections []types.Detection) (rect Rect, ok bool) {
	if hovered == "" {
		return Rect{}, false
	}
	d, found := FirstMatch(hovered, detections)
	if !found {
		return Rect{}, false
	}
	t := Identity
	if r != nil {
		t = r.Transform
	}
	return t.Apply(BoxOf(d)), true
}

// BoxOf returns a detection's box in image coordinates
func BoxOf(d types.Detection) Rect {
	return Rect{
		Left:   d.BBox[0],
		Top:    d.BBox[1],
		Width:  d.Size.Width,
		Height: d.Size.Height,
	}
}

// FirstMatch returns the first detection of the given class in list order
func FirstMatch(class string, detections []types.Detection) (types.Detection, bool) {
	for _, d := range detections {
		if d.Class == class {
			return d, true
		}
	}
	return types.Detection{}, false
}
