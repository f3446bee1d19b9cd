package features

import (
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-refer/regions"
)

const keyPrefix = "regions/"

// BadgerStore keeps encoded region sets in a badger database, keyed by image id.
type BadgerStore struct {
	db  *badger.DB
	dim int
	log zerolog.Logger
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the database directory.
	Path string
	// Dim, when positive, is the feature dimensionality every record must have.
	Dim int
	// InMemory runs badger without touching disk (tests).
	InMemory bool
	// Logger receives badger's own log output and store events.
	Logger zerolog.Logger
}

// OpenBadger opens (creating if needed) a region store.
//
// Arguments:
//   - opts: Store options.
//
// Returns:
//   - *BadgerStore: The opened store; Close it when done.
//   - error: If badger cannot open the directory.
//
// @example
// store, err := OpenBadger(BadgerOptions{Path: "/data/refcoco+/features", Dim: 2048})
//
//	if err != nil {
//	    return err
//	}
//
// defer store.Close()
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path).WithLogger(badgerLogger{opts.Logger})
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "open region store %q", opts.Path)
	}
	opts.Logger.Debug().Str("path", opts.Path).Bool("in_memory", opts.InMemory).Msg("Opened region store")

	return &BadgerStore{db: db, dim: opts.Dim, log: opts.Logger}, nil
}

func imageKey(imageID int) []byte {
	return []byte(keyPrefix + strconv.Itoa(imageID))
}

// Get implements Reader.
func (s *BadgerStore) Get(imageID int) (regions.Set, error) {
	var set regions.Set
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(imageKey(imageID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			set, derr = Decode(val)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return regions.Set{}, errors.Wrapf(ErrNotFound, "image %d", imageID)
	}
	if err != nil {
		return regions.Set{}, errors.Wrapf(err, "read regions of image %d", imageID)
	}
	if s.dim > 0 && set.Dim != s.dim {
		return regions.Set{}, errors.Errorf("image %d: feature dim %d, store expects %d", imageID, set.Dim, s.dim)
	}
	return set, nil
}

// Put implements Writer.
func (s *BadgerStore) Put(imageID int, set regions.Set) error {
	val, err := s.encode(imageID, set)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(imageKey(imageID), val)
	})
}

// PutBatch writes many region sets through a single write batch.
func (s *BadgerStore) PutBatch(sets map[int]regions.Set) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for imageID, set := range sets {
		val, err := s.encode(imageID, set)
		if err != nil {
			return err
		}
		if err := wb.Set(imageKey(imageID), val); err != nil {
			return errors.Wrapf(err, "queue image %d", imageID)
		}
	}
	return errors.Wrap(wb.Flush(), "flush region batch")
}

func (s *BadgerStore) encode(imageID int, set regions.Set) ([]byte, error) {
	if s.dim > 0 && set.Dim != s.dim {
		return nil, errors.Errorf("image %d: feature dim %d, store expects %d", imageID, set.Dim, s.dim)
	}
	val, err := Encode(set)
	if err != nil {
		return nil, errors.Wrapf(err, "encode image %d", imageID)
	}
	return val, nil
}

// ImageIDs lists every stored image id.
func (s *BadgerStore) ImageIDs() ([]int, error) {
	var ids []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			id, err := strconv.Atoi(key[len(keyPrefix):])
			if err != nil {
				return errors.Wrapf(err, "malformed key %q", key)
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's log output through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
