package coordinator

import (
	"math/rand/v2"
	"testing"

	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedOrder(order ...types.ClassID) Shuffler {
	return func(ids []types.ClassID) { copy(ids, order) }
}

func universe(n int) []types.ClassID {
	ids := make([]types.ClassID, n)
	for i := range ids {
		ids[i] = types.ClassID(i)
	}
	return ids
}

func TestPartitionRoundRobin(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    []types.Assignment
	}{
		{"four workers", 4, []types.Assignment{{2}, {0}, {3}, {1}}},
		{"two workers", 2, []types.Assignment{{2, 3}, {0, 1}}},
		{"three workers", 3, []types.Assignment{{2, 1}, {0}, {3}}},
		{"one worker", 1, []types.Assignment{{2, 0, 3, 1}}},
		{"more workers than classes", 6, []types.Assignment{{2}, {0}, {3}, {1}, {}, {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(universe(4), tt.workers, fixedOrder(2, 0, 3, 1))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPartitionCoversUniverseOnce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	shuffle := RandomShuffler(rng)

	for classes := 0; classes <= 12; classes++ {
		for workers := 1; workers <= 6; workers++ {
			u := universe(classes)
			parts := Partition(u, workers, shuffle)
			require.Len(t, parts, workers)

			seen := make(map[types.ClassID]int)
			minSize, maxSize := classes, 0
			for _, p := range parts {
				require.NotNil(t, p)
				for _, id := range p {
					seen[id]++
				}
				minSize = min(minSize, len(p))
				maxSize = max(maxSize, len(p))
			}

			assert.Len(t, seen, classes)
			for id, n := range seen {
				assert.Equal(t, 1, n, "class %d assigned %d times", id, n)
			}
			assert.LessOrEqual(t, maxSize-minSize, 1, "classes=%d workers=%d", classes, workers)
		}
	}
}

func TestPartitionDoesNotMutateUniverse(t *testing.T) {
	u := universe(5)
	Partition(u, 2, RandomShuffler(rand.New(rand.NewPCG(1, 2))))
	assert.Equal(t, universe(5), u)
}

func TestPartitionNoWorkers(t *testing.T) {
	assert.Nil(t, Partition(universe(4), 0, nil))
}
