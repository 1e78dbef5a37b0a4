package partition

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		nbItems   int
		nbWorkers int
		ranges    []Range
	}{
		{0, 1, []Range{{0, 0}}},
		{10, 1, []Range{{0, 10}}},
		{10, 2, []Range{{0, 5}, {5, 10}}},
		{10, 3, []Range{{0, 4}, {4, 8}, {8, 10}}},
		{10, 4, []Range{{0, 3}, {3, 6}, {6, 9}, {9, 10}}},
		{2, 4, []Range{{0, 1}, {1, 2}, {2, 2}, {2, 2}}},
		{9, 6, []Range{{0, 2}, {2, 4}, {4, 6}, {6, 8}, {8, 9}, {9, 9}}},
	}

	for _, test := range tests {
		ranges, err := Split(test.nbItems, test.nbWorkers)
		require.NoError(t, err)

		assert.Equal(t, test.ranges, ranges,
			"%d items, %d workers", test.nbItems, test.nbWorkers)
	}
}

func TestSplitCoverage(t *testing.T) {
	for nbItems := 0; nbItems < 50; nbItems++ {
		for nbWorkers := 1; nbWorkers < 12; nbWorkers++ {
			ranges, err := Split(nbItems, nbWorkers)
			require.NoError(t, err)
			require.Len(t, ranges, nbWorkers)

			next := 0
			for _, r := range ranges {
				assert.Equal(t, next, r.Start)
				assert.GreaterOrEqual(t, r.Len(), 0)

				next = r.End
			}

			assert.Equal(t, nbItems, next)
		}
	}
}

func TestSplitErrors(t *testing.T) {
	_, err := Split(-1, 2)
	assert.Error(t, err)

	_, err = Split(10, 0)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	defer leaktest.Check(t)()

	var total int64
	var nbCalls int64

	err := Run(context.Background(), 100, 8,
		func(ctx context.Context, r Range) error {
			atomic.AddInt64(&nbCalls, 1)

			for i := r.Start; i < r.End; i++ {
				atomic.AddInt64(&total, int64(i))
			}

			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, int64(8), nbCalls)
	assert.Equal(t, int64(99*100/2), total)
}

func TestRunSkipsEmptyRanges(t *testing.T) {
	var nbCalls int64

	err := Run(context.Background(), 2, 5,
		func(ctx context.Context, r Range) error {
			atomic.AddInt64(&nbCalls, 1)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, int64(2), nbCalls)
}

func TestRunError(t *testing.T) {
	defer leaktest.Check(t)()

	errTest := errors.New("test error")

	err := Run(context.Background(), 10, 2,
		func(ctx context.Context, r Range) error {
			if r.Start == 0 {
				return errTest
			}

			<-ctx.Done()
			return ctx.Err()
		})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errTest))
	assert.Contains(t, err.Error(), "[0, 5)")
}
