package orderbook

import (
	"github.com/caesar-terminal/caesar/internal/types"
)

// hashSide is the hash-indexed backend: a map keyed by (price, exchange)
// for amortized O(1) point updates, with a sorted index rebuilt on demand
// for O(k log k) top-N reads. Grounded on
// original_source/orderbook-implementations/src/hashmap.rs's
// HashMapOrderBook (map + maintained sorted price vector).
type hashSide struct {
	kind   Kind
	levels map[key]types.PriceLevel
	dirty  bool
	sorted []types.PriceLevel // valid iff !dirty
}

func newHashSide(kind Kind) *hashSide {
	return &hashSide{
		kind:   kind,
		levels: make(map[key]types.PriceLevel),
	}
}

func (s *hashSide) Apply(levels []types.PriceLevel, maxDepth int) bool {
	changed := false
	for _, lvl := range levels {
		k := key{price: lvl.Price.String(), exchange: lvl.Exchange}
		if lvl.IsRemoval() {
			if _, ok := s.levels[k]; ok {
				delete(s.levels, k)
				changed = true
			}
			continue
		}
		existing, ok := s.levels[k]
		if !ok || !existing.Quantity.Equal(lvl.Quantity) || !existing.Timestamp.Equal(lvl.Timestamp) {
			changed = true
		}
		s.levels[k] = lvl
	}
	if changed {
		s.dirty = true
	}
	if s.trim(maxDepth) {
		changed = true
	}
	return changed
}

// trim drops worst-priced levels until the map holds at most maxDepth
// entries.
func (s *hashSide) trim(maxDepth int) bool {
	if maxDepth <= 0 || len(s.levels) <= maxDepth {
		return false
	}
	s.rebuildIndex()
	keep := s.sorted[:maxDepth]
	drop := s.sorted[maxDepth:]

	newLevels := make(map[key]types.PriceLevel, len(keep))
	for _, lvl := range keep {
		newLevels[key{price: lvl.Price.String(), exchange: lvl.Exchange}] = lvl
	}
	s.levels = newLevels
	s.dirty = true
	return len(drop) > 0
}

// rebuildIndex recomputes the sorted best-first view from the map. No-op
// if already clean.
func (s *hashSide) rebuildIndex() {
	if !s.dirty {
		return
	}
	out := make([]types.PriceLevel, 0, len(s.levels))
	for _, lvl := range s.levels {
		out = append(out, lvl)
	}
	sortLevels(s.kind, out)
	s.sorted = out
	s.dirty = false
}

func (s *hashSide) Best() (types.PriceLevel, bool) {
	s.rebuildIndex()
	if len(s.sorted) == 0 {
		return types.PriceLevel{}, false
	}
	return s.sorted[0], true
}

func (s *hashSide) TopN(n int) []types.PriceLevel {
	if n <= 0 {
		return nil
	}
	s.rebuildIndex()
	if n > len(s.sorted) {
		n = len(s.sorted)
	}
	out := make([]types.PriceLevel, n)
	copy(out, s.sorted[:n])
	return out
}

func (s *hashSide) Depth() int {
	return len(s.levels)
}

func (s *hashSide) Clear() {
	s.levels = make(map[key]types.PriceLevel)
	s.sorted = nil
	s.dirty = false
}
