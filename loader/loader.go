// Package loader - Concurrent fetching and batching of packed examples.
package loader

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-refer/dataset"
)

// Fetcher is the per-index accessor a loader drives.
type Fetcher interface {
	Len() int
	Get(index int) (*dataset.Example, error)
}

// FetchAll fetches the given indices with at most workers concurrent Get
// calls. Results keep the order of indices. The first failure cancels the
// remaining fetches and is returned.
//
// Arguments:
//   - ctx: Cancels outstanding fetches.
//   - ds: The example source.
//   - indices: Indices to fetch, in any order, duplicates allowed.
//   - workers: Maximum concurrent fetches; values below 1 mean 1.
//
// Returns:
//   - []*dataset.Example: One example per index.
//   - error: The first fetch failure or the context error.
//
// @example
// examples, err := loader.FetchAll(ctx, ds, []int{4, 0, 9}, 8)
func FetchAll(ctx context.Context, ds Fetcher, indices []int, workers int) ([]*dataset.Example, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([]*dataset.Example, len(indices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, index := range indices {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ex, err := ds.Get(index)
			if err != nil {
				return errors.Wrapf(err, "fetch example %d", index)
			}
			results[i] = ex
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Batches splits [0, n) into consecutive index batches of size batchSize.
// The last batch may be shorter.
func Batches(n, batchSize int) [][]int {
	if n <= 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = 1
	}
	out := make([][]int, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		batch := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, i)
		}
		out = append(out, batch)
	}
	return out
}

// Each fetches every example of ds batch by batch and hands each batch to fn.
// Iteration stops at the first fetch or fn error.
func Each(ctx context.Context, ds Fetcher, batchSize, workers int, fn func(batch []*dataset.Example) error) error {
	for _, batch := range Batches(ds.Len(), batchSize) {
		examples, err := FetchAll(ctx, ds, batch, workers)
		if err != nil {
			return err
		}
		if err := fn(examples); err != nil {
			return err
		}
	}
	return nil
}
