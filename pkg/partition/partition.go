// Package partition splits a list of independent work items between
// workers.
package partition

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Range is the half-open interval of item indexes [Start, End).
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Split returns exactly nbWorkers contiguous ranges covering every item once.
// Each range holds ceil(nbItems/nbWorkers) items except the last non-empty
// one; trailing ranges are empty when there are fewer items than workers.
func Split(nbItems, nbWorkers int) ([]Range, error) {
	if nbItems < 0 {
		return nil, fmt.Errorf("invalid number of items %d", nbItems)
	}

	if nbWorkers < 1 {
		return nil, fmt.Errorf("invalid number of workers %d", nbWorkers)
	}

	chunkSize := (nbItems + nbWorkers - 1) / nbWorkers

	ranges := make([]Range, nbWorkers)

	for i := 0; i < nbWorkers; i++ {
		start := min(i*chunkSize, nbItems)
		end := min(start+chunkSize, nbItems)

		ranges[i] = Range{Start: start, End: end}
	}

	return ranges, nil
}

// Run calls fn concurrently for each range of the partition. The first error
// cancels the context passed to the other calls and is returned.
func Run(ctx context.Context, nbItems, nbWorkers int, fn func(context.Context, Range) error) error {
	ranges, err := Split(nbItems, nbWorkers)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, r := range ranges {
		r := r

		if r.Len() == 0 {
			continue
		}

		g.Go(func() error {
			if err := fn(gctx, r); err != nil {
				return fmt.Errorf("range %v: %w", r, err)
			}

			return nil
		})
	}

	return g.Wait()
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}
