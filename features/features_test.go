package features

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-refer/regions"
)

func openTestStore(t *testing.T, dim int) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(BadgerOptions{InMemory: true, Dim: dim, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCodec(t *testing.T) {
	set := regions.Synthetic(7, 5, 16, 3)

	data, err := Encode(set)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestCodec_Corrupt(t *testing.T) {
	data, err := Encode(regions.Synthetic(4, 4, 8, 0))
	require.NoError(t, err)

	_, err = Decode(data[:len(data)/2])
	assert.Error(t, err)

	_, err = Decode([]byte("not an lz4 frame"))
	assert.Error(t, err)

	bad := regions.Synthetic(4, 4, 8, 0)
	bad.Count = 10
	_, err = Encode(bad)
	assert.Error(t, err)
}

// headerOnly frames a bare record header with no payload.
func headerOnly(t *testing.T, hdr recordHeader) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	require.NoError(t, binary.Write(zw, binary.LittleEndian, hdr))
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestCodec_OversizedHeader(t *testing.T) {
	tests := []struct {
		name string
		hdr  recordHeader
	}{
		{name: "huge dim", hdr: recordHeader{NumBoxes: 1, Rows: 1 << 16, Dim: 1 << 30}},
		{name: "huge rows", hdr: recordHeader{NumBoxes: 1, Rows: 1 << 30, Dim: 4}},
		{name: "negative dim", hdr: recordHeader{NumBoxes: 1, Rows: 1, Dim: -2048}},
		// Within the limits but declaring far more payload than the frame holds.
		{name: "missing payload", hdr: recordHeader{NumBoxes: 1, Rows: maxRecordRows, Dim: maxRecordDim}},
		{name: "short payload", hdr: recordHeader{NumBoxes: 1, Rows: 2, Dim: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(headerOnly(t, tt.hdr))
			assert.Error(t, err)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(1, regions.Synthetic(3, 3, 4, 0)))
	assert.Equal(t, 1, store.Len())

	set, err := store.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Count)

	_, err = store.Get(2)
	assert.True(t, errors.Is(err, ErrNotFound))

	bad := regions.Synthetic(3, 3, 4, 0)
	bad.Spatials = bad.Spatials[:1]
	assert.Error(t, store.Put(3, bad))
}

func TestBadgerStore_PutGet(t *testing.T) {
	store := openTestStore(t, 8)

	set := regions.Synthetic(10, 6, 8, 1)
	require.NoError(t, store.Put(42, set))

	got, err := store.Get(42)
	require.NoError(t, err)
	assert.Equal(t, set, got)

	_, err = store.Get(43)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	// Records of the wrong dimensionality are refused.
	assert.Error(t, store.Put(44, regions.Synthetic(2, 2, 4, 0)))
}

func TestBadgerStore_BatchAndIDs(t *testing.T) {
	store := openTestStore(t, 4)

	sets := map[int]regions.Set{
		1:   regions.Synthetic(3, 3, 4, 0),
		20:  regions.Synthetic(5, 2, 4, 10),
		300: regions.Synthetic(1, 1, 4, 20),
	}
	require.NoError(t, store.PutBatch(sets))

	ids, err := store.ImageIDs()
	require.NoError(t, err)
	sort.Ints(ids)
	assert.Equal(t, []int{1, 20, 300}, ids)

	got, err := store.Get(20)
	require.NoError(t, err)
	assert.Equal(t, sets[20], got)
}

// TestBadgerStore_ConcurrentReads exercises parallel readers against one store.
func TestBadgerStore_ConcurrentReads(t *testing.T) {
	store := openTestStore(t, 4)
	for id := 0; id < 16; id++ {
		require.NoError(t, store.Put(id, regions.Synthetic(id+1, id+1, 4, float32(id))))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				id := (i + w) % 16
				set, err := store.Get(id)
				if err != nil {
					errs <- err
					return
				}
				if set.Count != id+1 {
					errs <- errors.Errorf("image %d: count %d", id, set.Count)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestImport(t *testing.T) {
	input := strings.Join([]string{
		`{"image_id": 7, "num_boxes": 2, "features": [[1, 2], [3, 4], [0, 0]], "spatials": [[0, 0, 1, 1, 1], [0, 0, 0.5, 0.5, 0.25], [0, 0, 0, 0, 0]], "boxes": [[0, 0, 99, 99], [0, 0, 49, 49], [0, 0, 0, 0]]}`,
		`{"image_id": 8, "num_boxes": 1, "features": [[5, 6]], "spatials": [[0, 0, 1, 1, 1]], "boxes": [[1, 1, 2, 2]]}`,
	}, "\n")

	store := NewMemoryStore()
	n, err := Import(strings.NewReader(input), store, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	set, err := store.Get(7)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Count)
	assert.Equal(t, 3, set.Rows())
	assert.Equal(t, 2, set.Dim)
	assert.Equal(t, []float32{3, 4}, set.Feature(1))
	assert.Equal(t, float32(49), set.Boxes[1].X2)
	assert.Equal(t, float32(0.25), set.Spatials[1][4])
}

// TestImport_EmptyRecord checks an image without detections is stored with
// the configured dimensionality.
func TestImport_EmptyRecord(t *testing.T) {
	input := `{"image_id": 3, "num_boxes": 0, "features": [], "spatials": [], "boxes": []}`

	store := openTestStore(t, 8)
	n, err := Import(strings.NewReader(input), store, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	set, err := store.Get(3)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Rows())
	assert.Equal(t, 0, set.Count)
	assert.Equal(t, 8, set.Dim)
}

func TestImport_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		dim   int
	}{
		{name: "bad json", input: `{"image_id": `},
		{name: "empty record without dim", input: `{"image_id": 1, "num_boxes": 0, "features": [], "spatials": [], "boxes": []}`},
		{name: "dim mismatch", input: `{"image_id": 1, "num_boxes": 1, "features": [[1, 2]], "spatials": [[0,0,0,0,0]], "boxes": [[0,0,1,1]]}`, dim: 3},
		{name: "row mismatch", input: `{"image_id": 1, "num_boxes": 1, "features": [[1]], "spatials": [], "boxes": [[0, 0, 1, 1]]}`},
		{name: "ragged features", input: `{"image_id": 1, "num_boxes": 2, "features": [[1, 2], [1]], "spatials": [[0,0,0,0,0],[0,0,0,0,0]], "boxes": [[0,0,1,1],[0,0,1,1]]}`},
		{name: "count too large", input: `{"image_id": 1, "num_boxes": 5, "features": [[1]], "spatials": [[0,0,0,0,0]], "boxes": [[0,0,1,1]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(strings.NewReader(tt.input), NewMemoryStore(), tt.dim)
			assert.Error(t, err)
		})
	}
}
