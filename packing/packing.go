// Package packing - Fixed-shape, zero-padded tensors with validity masks.
package packing

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-refer/geometry"
	"github.com/nvr-ai/go-refer/regions"
)

// Regions holds the packed candidate data of one example.
type Regions struct {
	// Features is (maxRegions, dim) float32.
	Features *tensor.Dense
	// Spatials is (maxRegions, 5) float32.
	Spatials *tensor.Dense
	// Mask is (maxRegions) float32, 1 for real candidates.
	Mask *tensor.Dense
	// Target is (maxRegions, 1) float32 soft labels.
	Target *tensor.Dense
	// CoAttention is a (maxRegions, maxSeq) float32 zero matrix reserved
	// for the downstream model's cross-attention gating.
	CoAttention *tensor.Dense
	// Count is the number of real candidates.
	Count int
}

// Sequence holds the packed caption of one example, each (maxSeq) int64.
type Sequence struct {
	IDs        *tensor.Dense
	Mask       *tensor.Dense
	SegmentIDs *tensor.Dense
}

// PackRegions copies the first count candidates of set into fixed-size,
// zero-padded tensors.
//
// The packer never drops candidates: the merge has already capped count, so
// a count above maxRegions, above the rows of set, or differing from the
// number of scores is an invariant violation and returns an error.
//
// Arguments:
//   - set: Merged candidate regions; rows at or beyond count are ignored.
//   - count: Number of real candidates.
//   - scores: One label per real candidate.
//   - maxRegions: Region capacity of the packed tensors.
//   - maxSeq: Sequence length, the width of the co-attention mask.
//
// Returns:
//   - *Regions: Packed tensors.
//   - error: On an invariant violation.
//
// @example
// merged, count, _ := regions.Merge(det, gt, 60, regions.ModeTrain)
// scores := labels.Assign(merged.Boxes[:count], target)
// packed, err := PackRegions(merged, count, scores, 60, 20)
func PackRegions(set regions.Set, count int, scores []float32, maxRegions, maxSeq int) (*Regions, error) {
	switch {
	case maxRegions <= 0 || maxSeq <= 0:
		return nil, errors.Errorf("capacities must be positive, got regions=%d seq=%d", maxRegions, maxSeq)
	case count < 0 || count > maxRegions:
		return nil, errors.Errorf("candidate count %d outside [0, %d]", count, maxRegions)
	case count > set.Rows():
		return nil, errors.Errorf("candidate count %d exceeds %d merged rows", count, set.Rows())
	case len(scores) != count:
		return nil, errors.Errorf("%d scores for %d candidates", len(scores), count)
	case set.Dim <= 0:
		return nil, errors.Errorf("feature dim must be positive, got %d", set.Dim)
	}

	dim := set.Dim
	feats := make([]float32, maxRegions*dim)
	copy(feats, set.Features[:count*dim])

	spatials := make([]float32, maxRegions*geometry.SpatialFields)
	copy(spatials, geometry.FlattenSpatials(set.Spatials[:count]))

	mask := make([]float32, maxRegions)
	for i := 0; i < count; i++ {
		mask[i] = 1
	}

	target := make([]float32, maxRegions)
	copy(target, scores)

	return &Regions{
		Features:    tensor.New(tensor.WithShape(maxRegions, dim), tensor.WithBacking(feats)),
		Spatials:    tensor.New(tensor.WithShape(maxRegions, geometry.SpatialFields), tensor.WithBacking(spatials)),
		Mask:        tensor.New(tensor.WithShape(maxRegions), tensor.WithBacking(mask)),
		Target:      tensor.New(tensor.WithShape(maxRegions, 1), tensor.WithBacking(target)),
		CoAttention: tensor.New(tensor.WithShape(maxRegions, maxSeq), tensor.WithBacking(make([]float32, maxRegions*maxSeq))),
		Count:       count,
	}, nil
}

// PackSequence copies an already fixed-length caption encoding into tensors.
// Lengths other than maxSeq are an invariant violation.
func PackSequence(ids, mask, segments []int64, maxSeq int) (*Sequence, error) {
	if len(ids) != maxSeq || len(mask) != maxSeq || len(segments) != maxSeq {
		return nil, errors.Errorf("sequence lengths ids=%d mask=%d segments=%d, expected %d",
			len(ids), len(mask), len(segments), maxSeq)
	}
	return &Sequence{
		IDs:        int64Vector(ids),
		Mask:       int64Vector(mask),
		SegmentIDs: int64Vector(segments),
	}, nil
}

func int64Vector(v []int64) *tensor.Dense {
	backing := make([]int64, len(v))
	copy(backing, v)
	return tensor.New(tensor.WithShape(len(backing)), tensor.WithBacking(backing))
}

// Float32s returns the backing data of a float32 tensor produced by this package.
func Float32s(t *tensor.Dense) []float32 {
	switch d := t.Data().(type) {
	case []float32:
		return d
	case float32:
		return []float32{d}
	default:
		return nil
	}
}

// Int64s returns the backing data of an int64 tensor produced by this package.
func Int64s(t *tensor.Dense) []int64 {
	switch d := t.Data().(type) {
	case []int64:
		return d
	case int64:
		return []int64{d}
	default:
		return nil
	}
}
