// Package regions - Candidate region sets and the detector/ground-truth merge.
package regions

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-refer/geometry"
)

// FeatureDim is the default dimensionality of a region feature vector.
const FeatureDim = 2048

// Source identifies where a region set came from.
type Source string

const (
	// SourceDetector is a set of detector proposals. Row 0 is the
	// whole-image region by convention.
	SourceDetector Source = "detector"
	// SourceGroundTruth is a set derived from ground truth. Row 0 is the
	// gold box itself.
	SourceGroundTruth Source = "ground_truth"
)

// Set is a group of regions for one image, stored as parallel row-major
// arrays. Rows beyond Count may be materialized but are not valid regions.
type Set struct {
	// Features holds Rows()*Dim values, one feature vector per row.
	Features []float32
	// Dim is the feature dimensionality.
	Dim int
	// Spatials is the 5-field spatial encoding per row.
	Spatials []geometry.Spatial
	// Boxes is the original-pixel box per row.
	Boxes []geometry.Box
	// Count is the number of valid rows as reported by the store.
	Count int
}

// Rows returns the number of materialized rows.
func (s Set) Rows() int {
	return len(s.Boxes)
}

// Feature returns the feature vector of row i without copying.
func (s Set) Feature(i int) []float32 {
	return s.Features[i*s.Dim : (i+1)*s.Dim]
}

// Validate checks that the parallel arrays agree with each other.
func (s Set) Validate() error {
	rows := len(s.Boxes)
	if len(s.Spatials) != rows {
		return errors.Errorf("spatial rows %d != box rows %d", len(s.Spatials), rows)
	}
	if s.Dim <= 0 {
		return errors.Errorf("feature dim must be positive, got %d", s.Dim)
	}
	if len(s.Features) != rows*s.Dim {
		return errors.Errorf("feature values %d != %d rows x %d dim", len(s.Features), rows, s.Dim)
	}
	if s.Count < 0 || s.Count > rows {
		return errors.Errorf("valid count %d outside [0, %d]", s.Count, rows)
	}
	return nil
}

// Slice returns rows [from, to) as a new Set sharing the backing arrays.
// Count is clipped to the returned rows.
func (s Set) Slice(from, to int) Set {
	count := min(max(s.Count-from, 0), to-from)
	return Set{
		Features: s.Features[from*s.Dim : to*s.Dim],
		Dim:      s.Dim,
		Spatials: s.Spatials[from:to],
		Boxes:    s.Boxes[from:to],
		Count:    count,
	}
}

// Valid truncates the set to its reported valid count.
func (s Set) Valid() Set {
	return s.Slice(0, s.Count)
}
