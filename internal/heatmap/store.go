package heatmap

import (
	"sort"
	"sync"
)

// ValueRange tracks the session-wide min/max of all samples seen so far.
// It only ever widens while a session is live, which keeps the color
// scale stable across progressively arriving tiles.
type ValueRange struct {
	Min   float64
	Max   float64
	Valid bool
}

// Widen extends the range to include [min, max]
func (r *ValueRange) Widen(min, max float64) {
	if !r.Valid {
		r.Min, r.Max, r.Valid = min, max, true
		return
	}
	if min < r.Min {
		r.Min = min
	}
	if max > r.Max {
		r.Max = max
	}
}

// Normalize maps a value into [0,1] within the range. A degenerate range
// (max == min) maps everything to the midpoint.
func (r ValueRange) Normalize(v float64) float64 {
	if !r.Valid || r.Max == r.Min {
		return 0.5
	}
	return (v - r.Min) / (r.Max - r.Min)
}

// Store is the keyed collection of tiles received during one scan
// session. Duplicate ids are rejected, iteration follows scan-grid order,
// and clearing is explicit (new scan start or heatmap-mode disable).
type Store struct {
	mu      sync.RWMutex
	tiles   map[string]*Tile
	order   []*Tile
	nextSeq int
	rng     ValueRange
}

// NewStore creates an empty tile store
func NewStore() *Store {
	return &Store{tiles: make(map[string]*Tile)}
}

// Insert adds a tile to the store. It returns false without side effects
// when the id is already present, so duplicate or re-ordered network
// deliveries cannot corrupt the value range or double-draw.
func (s *Store) Insert(tile *Tile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tiles[tile.ID]; exists {
		return false
	}

	tile.insertSeq = s.nextSeq
	s.nextSeq++
	s.tiles[tile.ID] = tile
	s.order = append(s.order, tile)

	if min, max, ok := tile.valueRange(); ok {
		s.rng.Widen(min, max)
	}
	return true
}

// Get returns a tile by id
func (s *Store) Get(id string) (*Tile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tile, ok := s.tiles[id]
	return tile, ok
}

// Len returns the number of tiles in the store
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiles)
}

// Range returns the current session value range
func (s *Store) Range() ValueRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rng
}

// All returns the tiles in reveal order: ascending (gridRow, gridCol) for
// tiles with known positions, then arrival order for the rest.
func (s *Store) All() []*Tile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Tile, len(s.order))
	copy(result, s.order)

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.HasGridPos != b.HasGridPos {
			return a.HasGridPos
		}
		if !a.HasGridPos {
			return a.insertSeq < b.insertSeq
		}
		if a.GridRow != b.GridRow {
			return a.GridRow < b.GridRow
		}
		return a.GridCol < b.GridCol
	})

	return result
}

// Clear removes all tiles and resets the session value range
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiles = make(map[string]*Tile)
	s.order = nil
	s.nextSeq = 0
	s.rng = ValueRange{}
}
