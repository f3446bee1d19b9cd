// Package dataset - Referring-expression examples assembled into fixed-shape tensors.
package dataset

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-refer/annotations"
	"github.com/nvr-ai/go-refer/cache"
	"github.com/nvr-ai/go-refer/features"
	"github.com/nvr-ai/go-refer/labels"
	"github.com/nvr-ai/go-refer/metrics"
	"github.com/nvr-ai/go-refer/packing"
	"github.com/nvr-ai/go-refer/regions"
	"github.com/nvr-ai/go-refer/tokenizer"
)

// Defaults for the dataset capacities.
const (
	DefaultMaxSeqLength = 20
	DefaultMaxRegionNum = 60
)

// Encoder turns a caption into a fixed-length sequence.
type Encoder interface {
	Encode(caption string) (tokenizer.Sequence, error)
}

// Options configures a Dataset. Every collaborator is injected and only read
// after construction.
type Options struct {
	// Task is the dataset identifier, e.g. "refcoco+".
	Task string
	// Split is the annotation split; "train" mixes ground-truth regions into the candidates.
	Split string
	// MaxSeqLength is the caption length (default 20).
	MaxSeqLength int
	// MaxRegionNum is the candidate capacity (default 60).
	MaxRegionNum int
	// CachePath is the entry snapshot file; empty disables caching.
	CachePath string

	// Annotations yields the flat entry list.
	Annotations annotations.Source
	// Encoder tokenizes captions; its length must equal MaxSeqLength.
	Encoder Encoder
	// Features is the detector region store.
	Features features.Reader
	// GTFeatures is the ground-truth-derived region store, required for the train split.
	GTFeatures features.Reader

	Logger zerolog.Logger
}

// Dataset assembles packed examples for one split.
//
// Construction builds (or loads) the immutable entry list. Afterwards Get
// holds no mutable state and may be called from any number of goroutines,
// in any order.
type Dataset struct {
	task         string
	split        string
	mode         regions.Mode
	maxSeqLength int
	maxRegionNum int

	entries    []annotations.Entry
	features   features.Reader
	gtFeatures features.Reader
	log        zerolog.Logger
}

// Example is one packed item. Shapes use R = MaxRegionNum, L = MaxSeqLength
// and D = the feature dimensionality.
type Example struct {
	Features        *tensor.Dense // (R, D) float32
	Spatials        *tensor.Dense // (R, 5) float32
	RegionMask      *tensor.Dense // (R) float32
	TokenIDs        *tensor.Dense // (L) int64
	Target          *tensor.Dense // (R, 1) float32
	TokenMask       *tensor.Dense // (L) int64
	SegmentIDs      *tensor.Dense // (L) int64
	CoAttentionMask *tensor.Dense // (R, L) float32, zeros
	ImageID         int

	// Count is the number of real candidates.
	Count int
}

// Tuple returns the example fields in their positional order.
func (e *Example) Tuple() [9]any {
	return [9]any{
		e.Features, e.Spatials, e.RegionMask, e.TokenIDs, e.Target,
		e.TokenMask, e.SegmentIDs, e.CoAttentionMask, e.ImageID,
	}
}

// snapshot is the persisted entry list.
type snapshot struct {
	Entries []annotations.Entry
}

// New builds the dataset, loading the tokenized entries from the cache when
// a valid snapshot exists and building and persisting them otherwise.
//
// Arguments:
//   - opts: Dataset configuration and collaborators.
//
// Returns:
//   - *Dataset: Ready for concurrent Get calls.
//   - error: On invalid options, annotation or tokenization failures, or an
//     encoded sequence whose length is not MaxSeqLength.
//
// @example
//
//	ds, err := dataset.New(dataset.Options{
//	    Task:        "refcoco+",
//	    Split:       "train",
//	    CachePath:   "/data/cache/refcoco+_train_20_60.gob.zst",
//	    Annotations: refer,
//	    Encoder:     encoder,
//	    Features:    detStore,
//	    GTFeatures:  gtStore,
//	})
func New(opts Options) (*Dataset, error) {
	if opts.MaxSeqLength == 0 {
		opts.MaxSeqLength = DefaultMaxSeqLength
	}
	if opts.MaxRegionNum == 0 {
		opts.MaxRegionNum = DefaultMaxRegionNum
	}
	mode := regions.ModeForSplit(opts.Split)

	switch {
	case opts.MaxSeqLength < 0 || opts.MaxRegionNum < 0:
		return nil, errors.Errorf("capacities must be positive, got seq=%d regions=%d", opts.MaxSeqLength, opts.MaxRegionNum)
	case opts.Annotations == nil:
		return nil, errors.New("annotation source is required")
	case opts.Encoder == nil:
		return nil, errors.New("encoder is required")
	case opts.Features == nil:
		return nil, errors.New("region feature store is required")
	case mode == regions.ModeTrain && opts.GTFeatures == nil:
		return nil, errors.New("ground-truth region store is required for the train split")
	}

	d := &Dataset{
		task:         opts.Task,
		split:        opts.Split,
		mode:         mode,
		maxSeqLength: opts.MaxSeqLength,
		maxRegionNum: opts.MaxRegionNum,
		features:     opts.Features,
		gtFeatures:   opts.GTFeatures,
		log:          opts.Logger.With().Str("task", opts.Task).Str("split", opts.Split).Logger(),
	}

	snap, outcome, err := cache.LoadOrBuild(cache.Options[snapshot]{
		Path:     opts.CachePath,
		Build:    func() (snapshot, error) { return d.build(opts.Annotations, opts.Encoder) },
		Validate: d.validate,
		Logger:   d.log,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordCache(string(outcome))
	metrics.Entries.WithLabelValues(d.task, d.split).Set(float64(len(snap.Entries)))

	d.entries = snap.Entries
	d.log.Info().
		Int("entries", len(d.entries)).
		Str("mode", d.mode.String()).
		Str("cache", string(outcome)).
		Msg("Dataset ready")
	return d, nil
}

// build loads the annotation entries and tokenizes every caption.
func (d *Dataset) build(src annotations.Source, enc Encoder) (snapshot, error) {
	entries, err := src.Entries()
	if err != nil {
		return snapshot{}, errors.Wrap(err, "load annotations")
	}
	d.log.Info().Int("entries", len(entries)).Msg("Loaded annotation entries")

	for i := range entries {
		seq, err := enc.Encode(entries[i].Caption)
		if err != nil {
			return snapshot{}, errors.Wrapf(err, "tokenize sentence %d", entries[i].SentID)
		}
		if err := seq.Validate(d.maxSeqLength); err != nil {
			return snapshot{}, errors.Wrapf(err, "tokenize sentence %d", entries[i].SentID)
		}
		entries[i].TokenIDs = seq.IDs
		entries[i].InputMask = seq.Mask
		entries[i].SegmentIDs = seq.SegmentIDs
	}
	return snapshot{Entries: entries}, nil
}

// validate rejects a snapshot whose sequences do not match this configuration.
func (d *Dataset) validate(s snapshot) error {
	for i, e := range s.Entries {
		seq := tokenizer.Sequence{IDs: e.TokenIDs, Mask: e.InputMask, SegmentIDs: e.SegmentIDs}
		if err := seq.Validate(d.maxSeqLength); err != nil {
			return errors.Wrapf(err, "entry %d", i)
		}
	}
	return nil
}

// Len is the number of entries.
func (d *Dataset) Len() int {
	return len(d.entries)
}

// Entry returns entry i. Its slices are shared and must not be modified.
func (d *Dataset) Entry(i int) annotations.Entry {
	return d.entries[i]
}

// Mode reports whether candidates are assembled for training or evaluation.
func (d *Dataset) Mode() regions.Mode {
	return d.mode
}

// Split is the annotation split of the dataset.
func (d *Dataset) Split() string {
	return d.split
}

// NumLabels is the number of label channels per candidate.
func (d *Dataset) NumLabels() int {
	return labels.NumLabels
}

// Get assembles example index: regions from the store(s), merge, labels
// against the ref box, then packing. Store failures, including
// features.ErrNotFound, are returned unchanged in cause.
func (d *Dataset) Get(index int) (ex *Example, err error) {
	start := time.Now()
	count, positives := 0, 0
	defer func() {
		metrics.RecordFetch(d.split, start, count, positives, err)
	}()

	if index < 0 || index >= len(d.entries) {
		return nil, errors.Errorf("index %d out of range [0, %d)", index, len(d.entries))
	}
	entry := d.entries[index]

	det, err := d.features.Get(entry.ImageID)
	if err != nil {
		return nil, errors.Wrap(err, "detector regions")
	}
	var gt regions.Set
	if d.mode == regions.ModeTrain {
		if gt, err = d.gtFeatures.Get(entry.ImageID); err != nil {
			return nil, errors.Wrap(err, "ground-truth regions")
		}
	}

	merged, count, err := regions.Merge(det, gt, d.maxRegionNum, d.mode)
	if err != nil {
		return nil, errors.Wrapf(err, "merge regions of image %d", entry.ImageID)
	}

	scores := labels.Assign(merged.Boxes[:count], entry.RefBox.Box())
	positives = labels.Positives(scores)

	packed, err := packing.PackRegions(merged, count, scores, d.maxRegionNum, d.maxSeqLength)
	if err != nil {
		return nil, errors.Wrapf(err, "pack example %d", index)
	}
	seq, err := packing.PackSequence(entry.TokenIDs, entry.InputMask, entry.SegmentIDs, d.maxSeqLength)
	if err != nil {
		return nil, errors.Wrapf(err, "pack example %d", index)
	}

	return &Example{
		Features:        packed.Features,
		Spatials:        packed.Spatials,
		RegionMask:      packed.Mask,
		TokenIDs:        seq.IDs,
		Target:          packed.Target,
		TokenMask:       seq.Mask,
		SegmentIDs:      seq.SegmentIDs,
		CoAttentionMask: packed.CoAttention,
		ImageID:         entry.ImageID,
		Count:           count,
	}, nil
}
