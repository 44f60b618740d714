package orderbook

import (
	"github.com/google/btree"

	"github.com/caesar-terminal/caesar/internal/types"
)

// btreeSide is the ordered-tree backend: a github.com/google/btree generic
// B-tree keyed by price (ties broken by exchange), giving O(log n) updates
// and natural best-first iteration. Grounded on
// original_source/orderbook-implementations/src/btree_set.rs's
// BTreeOrderBook, which plays the same role over Rust's BTreeSet.
type btreeSide struct {
	kind Kind
	tree *btree.BTreeG[types.PriceLevel]
}

func newBTreeSide(kind Kind) *btreeSide {
	less := func(a, b types.PriceLevel) bool {
		return better(kind, a, b)
	}
	return &btreeSide{
		kind: kind,
		tree: btree.NewG[types.PriceLevel](32, less),
	}
}

func (s *btreeSide) Apply(levels []types.PriceLevel, maxDepth int) bool {
	changed := false
	for _, lvl := range levels {
		existing, found := s.tree.Get(lvl)
		if lvl.IsRemoval() {
			if found {
				s.tree.Delete(lvl)
				changed = true
			}
			continue
		}
		if !found || !existing.Quantity.Equal(lvl.Quantity) || !existing.Timestamp.Equal(lvl.Timestamp) {
			changed = true
		}
		s.tree.ReplaceOrInsert(lvl)
	}
	if s.trim(maxDepth) {
		changed = true
	}
	return changed
}

// trim drops worst-priced levels (tree is ordered best-first) until the
// tree holds at most maxDepth entries.
func (s *btreeSide) trim(maxDepth int) bool {
	if maxDepth <= 0 || s.tree.Len() <= maxDepth {
		return false
	}
	var drop []types.PriceLevel
	i := 0
	s.tree.Ascend(func(item types.PriceLevel) bool {
		i++
		if i > maxDepth {
			drop = append(drop, item)
		}
		return true
	})
	for _, item := range drop {
		s.tree.Delete(item)
	}
	return len(drop) > 0
}

func (s *btreeSide) Best() (types.PriceLevel, bool) {
	return s.tree.Min()
}

func (s *btreeSide) TopN(n int) []types.PriceLevel {
	if n <= 0 {
		return nil
	}
	out := make([]types.PriceLevel, 0, n)
	s.tree.Ascend(func(item types.PriceLevel) bool {
		out = append(out, item)
		return len(out) < n
	})
	return out
}

func (s *btreeSide) Depth() int {
	return s.tree.Len()
}

func (s *btreeSide) Clear() {
	s.tree.Clear(false)
}
