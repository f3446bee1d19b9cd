package regions

import "github.com/nvr-ai/go-refer/geometry"

// Synthetic builds a deterministic Set with rows materialized rows, of which
// count are valid. Row i has box (i, i, i+10, i+10), spatial values derived
// from i and base, and a feature vector filled with base+i.
//
// It is meant for tests and benchmarks across packages.
func Synthetic(rows, count, dim int, base float32) Set {
	s := Set{
		Features: make([]float32, rows*dim),
		Dim:      dim,
		Spatials: make([]geometry.Spatial, rows),
		Boxes:    make([]geometry.Box, rows),
		Count:    count,
	}
	for i := 0; i < rows; i++ {
		f := float32(i)
		s.Boxes[i] = geometry.Box{X1: f, Y1: f, X2: f + 10, Y2: f + 10}
		s.Spatials[i] = geometry.Spatial{base, f, base + f, f / 10, 1}
		row := s.Features[i*dim : (i+1)*dim]
		for j := range row {
			row[j] = base + f
		}
	}
	return s
}
