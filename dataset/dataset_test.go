package dataset

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-refer/annotations"
	"github.com/nvr-ai/go-refer/features"
	"github.com/nvr-ai/go-refer/geometry"
	"github.com/nvr-ai/go-refer/packing"
	"github.com/nvr-ai/go-refer/regions"
	"github.com/nvr-ai/go-refer/tokenizer"
)

const testDim = 4

// staticSource serves a fixed entry list and counts how often it is read.
type staticSource struct {
	entries []annotations.Entry
	calls   int
	err     error
}

func (s *staticSource) Entries() ([]annotations.Entry, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]annotations.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func testEncoder(maxSeq int) *tokenizer.Encoder {
	vocab := tokenizer.NewVocab([]string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "a", "red", "car"})
	return &tokenizer.Encoder{
		Tokenizer:    tokenizer.NewWordPiece(vocab, true),
		Vocab:        vocab,
		MaxSeqLength: maxSeq,
	}
}

// target is the ref box used by every entry: corners (10, 10, 15, 15).
var target = geometry.XYWH{X: 10, Y: 10, W: 5, H: 5}

func testSource() *staticSource {
	return &staticSource{entries: []annotations.Entry{
		{Caption: "a red car", SentID: 1, ImageID: 100, RefID: 1, RefBox: target},
		{Caption: "red", SentID: 2, ImageID: 100, RefID: 1, RefBox: target},
		{Caption: "a car", SentID: 3, ImageID: 200, RefID: 2, RefBox: target},
	}}
}

// testStores builds detector and ground-truth stores. Image 100 has 10
// detector rows and 3 ground-truth rows of which row 1 matches the target
// exactly; image 200 has 70 detector rows.
func testStores(t *testing.T) (*features.MemoryStore, *features.MemoryStore) {
	t.Helper()
	det := features.NewMemoryStore()
	gt := features.NewMemoryStore()

	set := regions.Synthetic(10, 10, testDim, 0)
	set.Boxes[4] = geometry.Box{X1: 10, Y1: 10, X2: 15, Y2: 14}
	require.NoError(t, det.Put(100, set))
	require.NoError(t, det.Put(200, regions.Synthetic(70, 70, testDim, 0)))

	gtSet := regions.Synthetic(3, 3, testDim, 100)
	gtSet.Boxes[1] = target.Box()
	require.NoError(t, gt.Put(100, gtSet))
	require.NoError(t, gt.Put(200, regions.Synthetic(1, 1, testDim, 100)))
	return det, gt
}

func newTestDataset(t *testing.T, split, cachePath string) *Dataset {
	t.Helper()
	det, gt := testStores(t)
	ds, err := New(Options{
		Task:         "refcoco+",
		Split:        split,
		MaxSeqLength: 8,
		MaxRegionNum: 60,
		CachePath:    cachePath,
		Annotations:  testSource(),
		Encoder:      testEncoder(8),
		Features:     det,
		GTFeatures:   gt,
	})
	require.NoError(t, err)
	return ds
}

func TestNew_Entries(t *testing.T) {
	ds := newTestDataset(t, "train", "")
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, regions.ModeTrain, ds.Mode())
	assert.Equal(t, "train", ds.Split())
	assert.Equal(t, 1, ds.NumLabels())

	e := ds.Entry(0)
	assert.Equal(t, []int64{2, 4, 5, 6, 3, 0, 0, 0}, e.TokenIDs)
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 0, 0, 0}, e.InputMask)
	assert.Equal(t, make([]int64, 8), e.SegmentIDs)
}

func TestNew_Defaults(t *testing.T) {
	det, _ := testStores(t)
	ds, err := New(Options{
		Split:       "val",
		Annotations: testSource(),
		Encoder:     testEncoder(DefaultMaxSeqLength),
		Features:    det,
	})
	require.NoError(t, err)
	assert.Equal(t, regions.ModeEval, ds.Mode())

	ex, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{DefaultMaxRegionNum, testDim}, ex.Features.Shape())
	assert.Equal(t, tensor.Shape{DefaultMaxSeqLength}, ex.TokenIDs.Shape())
}

func TestNew_InvalidOptions(t *testing.T) {
	det, gt := testStores(t)
	base := Options{
		Split:       "train",
		Annotations: testSource(),
		Encoder:     testEncoder(8),
		Features:    det,
		GTFeatures:  gt,
	}

	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{name: "no annotations", mutate: func(o *Options) { o.Annotations = nil }},
		{name: "no encoder", mutate: func(o *Options) { o.Encoder = nil }},
		{name: "no features", mutate: func(o *Options) { o.Features = nil }},
		{name: "train without ground truth", mutate: func(o *Options) { o.GTFeatures = nil }},
		{name: "negative capacity", mutate: func(o *Options) { o.MaxRegionNum = -1 }},
		// The encoder produces 8 ids while the dataset expects the default 20.
		{name: "sequence length mismatch", mutate: func(o *Options) { o.MaxSeqLength = 0 }},
		{name: "annotation failure", mutate: func(o *Options) { o.Annotations = &staticSource{err: errors.New("boom")} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			_, err := New(opts)
			assert.Error(t, err)
		})
	}
}

// TestGet_Train checks detector rows come first, the gold row is skipped and
// the matching ground-truth row is the strongest positive.
func TestGet_Train(t *testing.T) {
	ds := newTestDataset(t, "train", "")

	ex, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 100, ex.ImageID)
	// 10 detector rows plus ground-truth rows 1 and 2.
	assert.Equal(t, 12, ex.Count)

	assert.Equal(t, tensor.Shape{60, testDim}, ex.Features.Shape())
	assert.Equal(t, tensor.Shape{60, geometry.SpatialFields}, ex.Spatials.Shape())
	assert.Equal(t, tensor.Shape{60}, ex.RegionMask.Shape())
	assert.Equal(t, tensor.Shape{60, 1}, ex.Target.Shape())
	assert.Equal(t, tensor.Shape{60, 8}, ex.CoAttentionMask.Shape())
	assert.Equal(t, tensor.Shape{8}, ex.TokenIDs.Shape())

	feats := packing.Float32s(ex.Features)
	// Row 10 is ground-truth row 1 (base 100, index 1).
	assert.Equal(t, []float32{101, 101, 101, 101}, feats[10*testDim:11*testDim])

	scores := packing.Float32s(ex.Target)
	assert.Equal(t, float32(1), scores[10])
	// Detector row 4 overlaps 30 of 36 pixels.
	assert.InDelta(t, 30.0/36.0, scores[4], 1e-6)
	for i, s := range scores {
		if i != 4 && i != 10 {
			assert.Zero(t, s, "score %d", i)
		}
	}

	mask := packing.Float32s(ex.RegionMask)
	for i, m := range mask {
		if i < 12 {
			assert.Equal(t, float32(1), m)
		} else {
			assert.Equal(t, float32(0), m)
		}
	}

	assert.Equal(t, []int64{2, 4, 5, 6, 3, 0, 0, 0}, packing.Int64s(ex.TokenIDs))
	assert.Len(t, ex.Tuple(), 9)
	assert.Equal(t, 100, ex.Tuple()[8])
}

func TestGet_Eval(t *testing.T) {
	ds := newTestDataset(t, "testA", "")
	assert.Equal(t, regions.ModeEval, ds.Mode())

	ex, err := ds.Get(1)
	require.NoError(t, err)
	// Ground-truth rows never enter evaluation candidates.
	assert.Equal(t, 10, ex.Count)
	scores := packing.Float32s(ex.Target)
	assert.InDelta(t, 30.0/36.0, scores[4], 1e-6)
	assert.Zero(t, scores[10])
}

// TestGet_Capacity checks 70 detector rows are capped to 60 with a full mask.
func TestGet_Capacity(t *testing.T) {
	ds := newTestDataset(t, "train", "")

	ex, err := ds.Get(2)
	require.NoError(t, err)
	assert.Equal(t, 60, ex.Count)
	for _, m := range packing.Float32s(ex.RegionMask) {
		assert.Equal(t, float32(1), m)
	}
	feats := packing.Float32s(ex.Features)
	assert.Equal(t, []float32{59, 59, 59, 59}, feats[59*testDim:60*testDim])
}

func TestGet_Errors(t *testing.T) {
	ds := newTestDataset(t, "train", "")

	_, err := ds.Get(-1)
	assert.Error(t, err)
	_, err = ds.Get(3)
	assert.Error(t, err)

	det, gt := testStores(t)
	src := &staticSource{entries: []annotations.Entry{{Caption: "car", SentID: 9, ImageID: 999, RefBox: target}}}
	missing, err := New(Options{
		Split:        "train",
		MaxSeqLength: 8,
		Annotations:  src,
		Encoder:      testEncoder(8),
		Features:     det,
		GTFeatures:   gt,
	})
	require.NoError(t, err)
	_, err = missing.Get(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, features.ErrNotFound))
}

func TestGet_Concurrent(t *testing.T) {
	ds := newTestDataset(t, "train", "")
	want := make([]*Example, ds.Len())
	for i := range want {
		ex, err := ds.Get(i)
		require.NoError(t, err)
		want[i] = ex
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := ds.Len() - 1; i >= 0; i-- {
				ex, err := ds.Get(i)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, want[i].Count, ex.Count)
				assert.Equal(t, packing.Float32s(want[i].Target), packing.Float32s(ex.Target))
			}
		}()
	}
	wg.Wait()
}

func TestNew_Cache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refcoco+_train_8_60.gob.zst")
	det, gt := testStores(t)
	opts := Options{
		Task:         "refcoco+",
		Split:        "train",
		MaxSeqLength: 8,
		CachePath:    path,
		Encoder:      testEncoder(8),
		Features:     det,
		GTFeatures:   gt,
	}

	first := testSource()
	opts.Annotations = first
	built, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.FileExists(t, path)

	second := testSource()
	opts.Annotations = second
	loaded, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.calls, "cached entries must not reread annotations")
	require.Equal(t, built.Len(), loaded.Len())
	for i := 0; i < built.Len(); i++ {
		assert.Equal(t, built.Entry(i), loaded.Entry(i))
	}

	// A snapshot built for another sequence length is rejected and rebuilt.
	third := testSource()
	opts.Annotations = third
	opts.MaxSeqLength = 10
	opts.Encoder = testEncoder(10)
	rebuilt, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, 1, third.calls)
	assert.Len(t, rebuilt.Entry(0).TokenIDs, 10)
}
