package geometry

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// Overlaps is a row-major N×K matrix of IoU values between two box sets.
type Overlaps struct {
	Rows, Cols int
	Data       []float32
}

// At returns the IoU between box i of the first set and box j of the second.
func (o Overlaps) At(i, j int) float32 {
	return o.Data[i*o.Cols+j]
}

// Column copies column j, the IoU of every first-set box against box j.
func (o Overlaps) Column(j int) []float32 {
	col := make([]float32, o.Rows)
	for i := range col {
		col[i] = o.Data[i*o.Cols+j]
	}
	return col
}

// Dense exposes the matrix as a (Rows, Cols) float32 tensor sharing the backing data.
// An empty matrix has no tensor form and returns nil.
func (o Overlaps) Dense() *tensor.Dense {
	if o.Rows == 0 || o.Cols == 0 {
		return nil
	}
	return tensor.New(tensor.WithShape(o.Rows, o.Cols), tensor.WithBacking(o.Data))
}

// Overlap computes the pairwise Intersection over Union between two box sets.
//
// Areas use the inclusive-pixel convention, (x2-x1+1)*(y2-y1+1), and the
// intersection extent is min(x2)-max(x1)+1 per axis clipped at zero, so
// disjoint boxes contribute no intersection rather than a negative one.
//
// The union is not guarded. Two coincident degenerate boxes whose union
// evaluates to zero produce NaN; callers supply boxes with positive extent.
//
// Arguments:
//   - a: N boxes.
//   - b: K boxes.
//
// Returns:
//   - Overlaps: N×K IoU matrix.
//
// @example
// ov := Overlap([]Box{{10, 10, 15, 15}}, []Box{{10, 10, 15, 15}, {100, 100, 110, 110}})
// ov.At(0, 0) // 1.0
// ov.At(0, 1) // 0.0
func Overlap(a, b []Box) Overlaps {
	n, k := len(a), len(b)
	out := Overlaps{Rows: n, Cols: k, Data: make([]float32, n*k)}
	if n == 0 || k == 0 {
		return out
	}

	areaA := areas(a)
	areaB := areas(b)

	for i, ba := range a {
		row := out.Data[i*k : (i+1)*k]
		for j, bb := range b {
			iw := math32.Min(ba.X2, bb.X2) - math32.Max(ba.X1, bb.X1) + 1
			ih := math32.Min(ba.Y2, bb.Y2) - math32.Max(ba.Y1, bb.Y1) + 1
			inter := math32.Max(iw, 0) * math32.Max(ih, 0)
			row[j] = inter / (areaA[i] + areaB[j] - inter)
		}
	}

	return out
}

func areas(boxes []Box) []float32 {
	out := make([]float32, len(boxes))
	for i, b := range boxes {
		out[i] = b.Area()
	}
	return out
}
