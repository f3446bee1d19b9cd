package features

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-refer/geometry"
	"github.com/nvr-ai/go-refer/regions"
)

// Record is the JSON-lines interchange form of one image's regions, as
// exported by the feature extraction tooling.
type Record struct {
	ImageID  int         `json:"image_id"`
	NumBoxes int         `json:"num_boxes"`
	Features [][]float32 `json:"features"`
	Spatials [][]float32 `json:"spatials"`
	Boxes    [][]float32 `json:"boxes"`
}

// Set converts the record into a validated region set. dim, when positive,
// is the feature dimensionality every row must have; it also gives a record
// without rows its dimensionality.
func (r Record) Set(dim int) (regions.Set, error) {
	rows := len(r.Boxes)
	if len(r.Features) != rows || len(r.Spatials) != rows {
		return regions.Set{}, errors.Errorf("image %d: rows features=%d spatials=%d boxes=%d",
			r.ImageID, len(r.Features), len(r.Spatials), rows)
	}

	set := regions.Set{
		Spatials: make([]geometry.Spatial, rows),
		Boxes:    make([]geometry.Box, rows),
		Count:    r.NumBoxes,
	}
	set.Dim = dim
	if rows > 0 {
		if dim > 0 && len(r.Features[0]) != dim {
			return regions.Set{}, errors.Errorf("image %d: feature dim %d, expected %d", r.ImageID, len(r.Features[0]), dim)
		}
		set.Dim = len(r.Features[0])
	} else if dim <= 0 {
		return regions.Set{}, errors.Errorf("image %d: record has no rows and no feature dim is configured", r.ImageID)
	}
	set.Features = make([]float32, 0, rows*set.Dim)
	for i := 0; i < rows; i++ {
		if len(r.Features[i]) != set.Dim {
			return regions.Set{}, errors.Errorf("image %d row %d: feature dim %d, expected %d", r.ImageID, i, len(r.Features[i]), set.Dim)
		}
		if len(r.Spatials[i]) != geometry.SpatialFields || len(r.Boxes[i]) != 4 {
			return regions.Set{}, errors.Errorf("image %d row %d: spatial width %d, box width %d", r.ImageID, i, len(r.Spatials[i]), len(r.Boxes[i]))
		}
		set.Features = append(set.Features, r.Features[i]...)
		copy(set.Spatials[i][:], r.Spatials[i])
		b := r.Boxes[i]
		set.Boxes[i] = geometry.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
	}
	if err := set.Validate(); err != nil {
		return regions.Set{}, errors.Wrapf(err, "image %d", r.ImageID)
	}
	return set, nil
}

// Import reads JSON-lines records from r and writes them to w.
//
// Arguments:
//   - r: Source of newline-delimited Record objects.
//   - w: Destination store.
//   - dim: Expected feature dimensionality; required for records without rows.
//
// Returns:
//   - int: Number of imported images.
//   - error: The first decode, validation or write failure.
func Import(r io.Reader, w Writer, dim int) (int, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	n := 0
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "decode record %d", n+1)
		}
		set, err := rec.Set(dim)
		if err != nil {
			return n, err
		}
		if err := w.Put(rec.ImageID, set); err != nil {
			return n, errors.Wrapf(err, "store image %d", rec.ImageID)
		}
		n++
	}
}
