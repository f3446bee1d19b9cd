// Package features - Read-only access to precomputed per-image region features.
package features

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-refer/regions"
)

// ErrNotFound is returned when a store has no regions for an image id.
var ErrNotFound = errors.New("regions not found")

// Reader returns the region set of an image: features (M×D), the valid
// count, spatial boxes (M×5) and original boxes (M×4).
//
// Implementations must be safe for concurrent reads.
type Reader interface {
	Get(imageID int) (regions.Set, error)
}

// Writer stores the region set of an image.
type Writer interface {
	Put(imageID int, set regions.Set) error
}

// MemoryStore is an in-process store keyed by image id.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[int]regions.Set
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[int]regions.Set)}
}

// Put stores set under imageID after validating it.
func (m *MemoryStore) Put(imageID int, set regions.Set) error {
	if err := set.Validate(); err != nil {
		return errors.Wrapf(err, "image %d", imageID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[imageID] = set
	return nil
}

// Get implements Reader. The returned set shares memory with the store and
// must not be modified.
func (m *MemoryStore) Get(imageID int) (regions.Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sets[imageID]
	if !ok {
		return regions.Set{}, errors.Wrapf(ErrNotFound, "image %d", imageID)
	}
	return set, nil
}

// Len is the number of stored images.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sets)
}
