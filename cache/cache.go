// Package cache - Load-or-build snapshots persisted as zstd-compressed gob.
package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Outcome describes how LoadOrBuild obtained its value.
type Outcome string

const (
	// OutcomeHit means the snapshot was read and accepted.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means no snapshot existed and the value was built.
	OutcomeMiss Outcome = "miss"
	// OutcomeCorrupt means a snapshot existed but could not be used and the value was rebuilt.
	OutcomeCorrupt Outcome = "corrupt"
	// OutcomeDisabled means caching was bypassed.
	OutcomeDisabled Outcome = "disabled"
)

// Key is the snapshot file name for a dataset configuration.
//
// @example
// Key("refcoco+", "train", 20, 60) // "refcoco+_train_20_60.gob.zst"
func Key(task, split string, maxSeqLength, maxRegionNum int) string {
	return fmt.Sprintf("%s_%s_%d_%d.gob.zst", task, split, maxSeqLength, maxRegionNum)
}

// Options controls LoadOrBuild.
type Options[T any] struct {
	// Path of the snapshot file. Empty disables the cache.
	Path string
	// Build computes the value when the snapshot is missing or unusable.
	Build func() (T, error)
	// Validate, if set, rejects a decoded snapshot; a rejected snapshot is rebuilt.
	Validate func(T) error
	// Logger receives cache events.
	Logger zerolog.Logger
}

// LoadOrBuild returns the value stored at opts.Path, or builds and persists it.
//
// A missing, unreadable, undecodable or rejected snapshot is never reported
// to the caller: the value is rebuilt and the snapshot rewritten. A failure
// to persist the rebuilt value is logged and the built value is still
// returned. Only a Build error is returned.
//
// Arguments:
//   - opts: Snapshot path, builder, optional validator and logger.
//
// Returns:
//   - T: The loaded or built value.
//   - Outcome: How the value was obtained.
//   - error: The Build error, if building was needed and failed.
func LoadOrBuild[T any](opts Options[T]) (T, Outcome, error) {
	if opts.Path == "" {
		v, err := opts.Build()
		return v, OutcomeDisabled, err
	}

	outcome := OutcomeMiss
	v, err := read[T](opts.Path)
	if err == nil && opts.Validate != nil {
		err = errors.Wrap(opts.Validate(v), "validate snapshot")
	}
	if err == nil {
		opts.Logger.Info().Str("path", opts.Path).Msg("Loaded entries from cache")
		return v, OutcomeHit, nil
	}
	if !os.IsNotExist(errors.Cause(err)) {
		outcome = OutcomeCorrupt
		opts.Logger.Warn().Err(err).Str("path", opts.Path).Msg("Discarding unusable cache")
	}

	v, err = opts.Build()
	if err != nil {
		var zero T
		return zero, outcome, err
	}
	if err := write(opts.Path, v); err != nil {
		opts.Logger.Warn().Err(err).Str("path", opts.Path).Msg("Failed to persist cache")
	} else {
		opts.Logger.Info().Str("path", opts.Path).Msg("Wrote cache")
	}
	return v, outcome, nil
}

func read[T any](path string) (T, error) {
	var v T
	f, err := os.Open(path)
	if err != nil {
		return v, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return v, errors.Wrap(err, "open zstd stream")
	}
	defer dec.Close()

	if err := gob.NewDecoder(dec).Decode(&v); err != nil {
		return v, errors.Wrap(err, "decode snapshot")
	}
	return v, nil
}

// write replaces path atomically so concurrent readers never see a partial file.
func write[T any](path string, v T) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create cache dir")
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		return errors.Wrap(err, "open zstd stream")
	}
	if err := gob.NewEncoder(enc).Encode(v); err != nil {
		_ = enc.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "flush zstd stream")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close snapshot")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename snapshot")
}
