// Package labels - Soft relevance labels from thresholded overlap with the target box.
package labels

import "github.com/nvr-ai/go-refer/geometry"

// Threshold is the minimum IoU for a candidate to keep a nonzero label.
const Threshold float32 = 0.5

// NumLabels is the number of label channels per candidate.
const NumLabels = 1

// Assign scores every candidate box against the single target box.
//
// A score is the raw IoU when it is at least Threshold and zero otherwise.
// Scores are not binarized: a candidate overlapping the target at 0.73 is
// labelled 0.73.
//
// Arguments:
//   - boxes: Candidate boxes in original pixel scale, already cut to the candidate count.
//   - target: The ground-truth box in corner form.
//
// Returns:
//   - []float32: One label per candidate.
//
// @example
// scores := Assign([]geometry.Box{{10, 10, 15, 15}, {100, 100, 110, 110}}, geometry.Box{10, 10, 15, 15})
// // scores == []float32{1, 0}
func Assign(boxes []geometry.Box, target geometry.Box) []float32 {
	scores := geometry.Overlap(boxes, []geometry.Box{target}).Column(0)
	for i, s := range scores {
		if s < Threshold {
			scores[i] = 0
		}
	}
	return scores
}

// Positives counts the candidates with a nonzero label.
func Positives(scores []float32) int {
	n := 0
	for _, s := range scores {
		if s > 0 {
			n++
		}
	}
	return n
}
