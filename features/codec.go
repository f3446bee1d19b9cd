package features

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-refer/geometry"
	"github.com/nvr-ai/go-refer/regions"
)

// recordHeader precedes the float payload of an encoded region set.
type recordHeader struct {
	NumBoxes int32
	Rows     int32
	Dim      int32
}

// Limits on decoded headers. Payload sections are read before they are
// allocated, so a header that overstates its payload fails instead of
// allocating the declared size.
const (
	maxRecordRows = 1 << 16
	maxRecordDim  = 1 << 14
)

// Encode serializes a region set as an lz4 frame of little-endian values:
// the header, then features, spatials and boxes in row-major order.
func Encode(set regions.Set) ([]byte, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	hdr := recordHeader{NumBoxes: int32(set.Count), Rows: int32(set.Rows()), Dim: int32(set.Dim)}
	for _, v := range []any{hdr, set.Features, geometry.FlattenSpatials(set.Spatials), geometry.FlattenBoxes(set.Boxes)} {
		if err := binary.Write(zw, binary.LittleEndian, v); err != nil {
			return nil, errors.Wrap(err, "encode region record")
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close lz4 writer")
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (regions.Set, error) {
	zr := lz4.NewReader(bytes.NewReader(data))

	var hdr recordHeader
	if err := binary.Read(zr, binary.LittleEndian, &hdr); err != nil {
		return regions.Set{}, errors.Wrap(err, "decode record header")
	}
	if hdr.Rows < 0 || hdr.Rows > maxRecordRows || hdr.Dim <= 0 || hdr.Dim > maxRecordDim || hdr.NumBoxes < 0 || hdr.NumBoxes > hdr.Rows {
		return regions.Set{}, errors.Errorf("invalid record header %+v", hdr)
	}

	rows, dim := int(hdr.Rows), int(hdr.Dim)
	feats, err := readFloats(zr, rows*dim)
	if err != nil {
		return regions.Set{}, errors.Wrap(err, "decode record features")
	}
	spatials, err := readFloats(zr, rows*geometry.SpatialFields)
	if err != nil {
		return regions.Set{}, errors.Wrap(err, "decode record spatials")
	}
	boxes, err := readFloats(zr, rows*4)
	if err != nil {
		return regions.Set{}, errors.Wrap(err, "decode record boxes")
	}
	if n, _ := zr.Read(make([]byte, 1)); n != 0 {
		return regions.Set{}, errors.New("trailing bytes after region record")
	}

	set := regions.Set{Features: feats, Dim: dim, Count: int(hdr.NumBoxes)}
	if set.Spatials, err = geometry.SpatialsFromFlat(spatials); err != nil {
		return regions.Set{}, err
	}
	if set.Boxes, err = geometry.BoxesFromFlat(boxes); err != nil {
		return regions.Set{}, err
	}
	return set, nil
}

// readFloats reads n little-endian float32 values. The bytes are read first,
// bounded by n, so a short stream is detected before the values are allocated.
func readFloats(r io.Reader, n int) ([]float32, error) {
	if n == 0 {
		return []float32{}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r, int64(n)*4))
	if err != nil {
		return nil, err
	}
	if len(raw) != n*4 {
		return nil, errors.Errorf("payload holds %d bytes, header declares %d", len(raw), n*4)
	}
	out := make([]float32, n)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}
