// Package geometry - Box representations and pairwise overlap for region alignment.
package geometry

import (
	"fmt"

	"github.com/pkg/errors"
)

// SpatialFields is the width of the spatial encoding of a region.
const SpatialFields = 5

// Box is an axis-aligned box in original image pixels.
//
// X2,Y2 are inclusive, so a box covering exactly one pixel has X1 == X2.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Spatial is the feature-side encoding of a region: four normalized
// coordinates followed by one extra channel (the normalized area).
type Spatial [SpatialFields]float32

// XYWH is a box given by its top-left corner and its extent, the way
// referring-expression annotations store the target.
type XYWH struct {
	X, Y, W, H float32
}

// Box converts the corner/extent form into corner form.
//
// Returns:
//   - Box: (x, y, x+w, y+h).
//
// @example
// target := XYWH{X: 10, Y: 10, W: 5, H: 5}.Box() // Box{10, 10, 15, 15}
func (b XYWH) Box() Box {
	return Box{X1: b.X, Y1: b.Y, X2: b.X + b.W, Y2: b.Y + b.H}
}

// Width of the box in inclusive pixels.
func (b Box) Width() float32 {
	return b.X2 - b.X1 + 1
}

// Height of the box in inclusive pixels.
func (b Box) Height() float32 {
	return b.Y2 - b.Y1 + 1
}

// Area returns the inclusive-pixel area (x2-x1+1)*(y2-y1+1).
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

func (b Box) String() string {
	return fmt.Sprintf("(%.1f, %.1f)-(%.1f, %.1f)", b.X1, b.Y1, b.X2, b.Y2)
}

// BoxesFromFlat reads row-major N×4 corner data into boxes.
//
// Arguments:
//   - data: Flat float32 slice whose length is a multiple of 4.
//
// Returns:
//   - []Box: One box per row.
//   - error: If the length is not a multiple of 4.
func BoxesFromFlat(data []float32) ([]Box, error) {
	if len(data)%4 != 0 {
		return nil, errors.Errorf("box data length %d is not a multiple of 4", len(data))
	}
	boxes := make([]Box, len(data)/4)
	for i := range boxes {
		row := data[i*4 : i*4+4]
		boxes[i] = Box{X1: row[0], Y1: row[1], X2: row[2], Y2: row[3]}
	}
	return boxes, nil
}

// SpatialsFromFlat reads row-major N×5 spatial data.
func SpatialsFromFlat(data []float32) ([]Spatial, error) {
	if len(data)%SpatialFields != 0 {
		return nil, errors.Errorf("spatial data length %d is not a multiple of %d", len(data), SpatialFields)
	}
	out := make([]Spatial, len(data)/SpatialFields)
	for i := range out {
		copy(out[i][:], data[i*SpatialFields:(i+1)*SpatialFields])
	}
	return out, nil
}

// FlattenBoxes writes boxes back into row-major N×4 form.
func FlattenBoxes(boxes []Box) []float32 {
	out := make([]float32, 0, len(boxes)*4)
	for _, b := range boxes {
		out = append(out, b.X1, b.Y1, b.X2, b.Y2)
	}
	return out
}

// FlattenSpatials writes spatials back into row-major N×5 form.
func FlattenSpatials(spatials []Spatial) []float32 {
	out := make([]float32, 0, len(spatials)*SpatialFields)
	for _, s := range spatials {
		out = append(out, s[:]...)
	}
	return out
}
