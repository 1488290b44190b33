package coordinator

import (
	"math/rand/v2"

	"github.com/andresmejia3/fogwatch/internal/types"
)

// Shuffler reorders class ids in place before they are dealt out.
type Shuffler func([]types.ClassID)

// RandomShuffler shuffles with rng, or the global source when rng is nil. The
// shuffle only exists to avoid a fixed worker-to-class bias across rounds.
func RandomShuffler(rng *rand.Rand) Shuffler {
	return func(ids []types.ClassID) {
		swap := func(i, j int) { ids[i], ids[j] = ids[j], ids[i] }
		if rng == nil {
			rand.Shuffle(len(ids), swap)
			return
		}
		rng.Shuffle(len(ids), swap)
	}
}

// Partition shuffles a copy of universe and deals it round-robin: worker k gets
// the ids at index k, k+workers, k+2*workers, ... of the shuffled list. Every id
// lands in exactly one assignment and sizes differ by at most one. Workers beyond
// the number of classes get empty assignments.
func Partition(universe []types.ClassID, workers int, shuffle Shuffler) []types.Assignment {
	if workers <= 0 {
		return nil
	}
	ids := append([]types.ClassID(nil), universe...)
	if shuffle != nil {
		shuffle(ids)
	}

	out := make([]types.Assignment, workers)
	for k := range out {
		out[k] = types.Assignment{}
	}
	for i, id := range ids {
		k := i % workers
		out[k] = append(out[k], id)
	}
	return out
}
