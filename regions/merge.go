package regions

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-refer/geometry"
)

// Mode selects how candidate regions are assembled.
type Mode int

const (
	// ModeEval uses detector proposals only.
	ModeEval Mode = iota
	// ModeTrain mixes ground-truth-derived regions in after the detector proposals.
	ModeTrain
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	default:
		return "unknown"
	}
}

// ModeForSplit returns ModeTrain for the "train" split and ModeEval for everything else.
func ModeForSplit(split string) Mode {
	if split == "train" {
		return ModeTrain
	}
	return ModeEval
}

// Merge combines detector and ground-truth-derived regions into one candidate list.
//
// Both inputs are first truncated to their own valid counts. In ModeTrain the
// ground-truth row 0 (the gold box) is dropped and the remaining ground-truth
// rows are appended after every detector row, giving
// count = min(det + gt - 1, capacity). In ModeEval only detector rows are used
// and count = min(det, capacity); gt is ignored and may be the zero Set.
//
// The returned Set keeps every concatenated row; only the returned count is
// capped. Rows at or beyond count are dropped by the packer.
//
// Arguments:
//   - det: Detector regions.
//   - gt: Ground-truth-derived regions (ModeTrain only).
//   - capacity: Maximum number of candidates.
//   - mode: Train or eval assembly.
//
// Returns:
//   - Set: Merged rows, Count set to the capped candidate count.
//   - int: The capped candidate count.
//   - error: If an input set is malformed or the feature dims disagree.
//
// @example
// merged, count, err := Merge(det, gt, 60, ModeTrain) // det.Count=3, gt.Count=5 -> count=7
func Merge(det, gt Set, capacity int, mode Mode) (Set, int, error) {
	if capacity <= 0 {
		return Set{}, 0, errors.Errorf("capacity must be positive, got %d", capacity)
	}
	if err := det.Validate(); err != nil {
		return Set{}, 0, errors.Wrap(err, "detector regions")
	}
	det = det.Valid()

	if mode != ModeTrain {
		count := min(det.Count, capacity)
		det.Count = count
		return det, count, nil
	}

	if err := gt.Validate(); err != nil {
		return Set{}, 0, errors.Wrap(err, "ground-truth regions")
	}
	if gt.Dim != det.Dim {
		return Set{}, 0, errors.Errorf("feature dim mismatch: detector %d, ground truth %d", det.Dim, gt.Dim)
	}
	gt = gt.Valid()
	if gt.Rows() > 0 {
		gt = gt.Slice(1, gt.Rows())
	}

	rows := det.Rows() + gt.Rows()
	merged := Set{
		Features: make([]float32, 0, rows*det.Dim),
		Dim:      det.Dim,
		Spatials: make([]geometry.Spatial, 0, rows),
		Boxes:    make([]geometry.Box, 0, rows),
	}
	merged.Features = append(append(merged.Features, det.Features...), gt.Features...)
	merged.Spatials = append(append(merged.Spatials, det.Spatials...), gt.Spatials...)
	merged.Boxes = append(append(merged.Boxes, det.Boxes...), gt.Boxes...)

	count := min(rows, capacity)
	merged.Count = count
	return merged, count, nil
}
