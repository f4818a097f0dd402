package heatmap

import (
	"fmt"
	"math"

	"archeo-dashboard/internal/geo"
)

// Tile is one rectangular sample of a scalar field (elevation or another
// metric) delivered by the analysis backend during a scan session.
type Tile struct {
	ID     string
	Bounds geo.Bounds

	// Grid holds rows x cols samples. Missing samples are NaN.
	Grid [][]float64

	// GridRow/GridCol position the tile within the overall scan grid.
	// They drive the left-to-right, top-to-bottom reveal order.
	GridRow    int
	GridCol    int
	HasGridPos bool

	// revealProgress in [0,1] is advanced by the wipe animation.
	revealProgress float64

	// insertSeq preserves arrival order for tiles without a grid position.
	insertSeq int
}

// MalformedTileError indicates a tile whose grid cannot be rendered.
// Such tiles are skipped and logged, never fatal.
type MalformedTileError struct {
	TileID string
	Reason string
}

func (e *MalformedTileError) Error() string {
	return fmt.Sprintf("malformed tile %s: %s", e.TileID, e.Reason)
}

// NewTile creates a tile from explicit bounds and a sample grid
func NewTile(id string, bounds geo.Bounds, grid [][]float64) *Tile {
	return &Tile{ID: id, Bounds: bounds, Grid: grid}
}

// NewTileFromCenter creates a tile whose bounds are derived from a center
// point and a square size in meters, the way streamed tile messages
// describe themselves.
func NewTileFromCenter(id string, lat, lon, sizeMeters float64, grid [][]float64) *Tile {
	return NewTile(id, geo.FromCenter(lat, lon, sizeMeters), grid)
}

// WithGridPos sets the tile's position within the scan grid
func (t *Tile) WithGridPos(row, col int) *Tile {
	t.GridRow = row
	t.GridCol = col
	t.HasGridPos = true
	return t
}

// Rows returns the number of sample rows
func (t *Tile) Rows() int {
	return len(t.Grid)
}

// Cols returns the number of sample columns in the first row
func (t *Tile) Cols() int {
	if len(t.Grid) == 0 {
		return 0
	}
	return len(t.Grid[0])
}

// RevealProgress returns the current wipe progress in [0,1]
func (t *Tile) RevealProgress() float64 {
	return t.revealProgress
}

// validate checks that the tile has a drawable grid
func (t *Tile) validate() error {
	if t.Rows() == 0 || t.Cols() == 0 {
		return &MalformedTileError{TileID: t.ID, Reason: "empty grid"}
	}
	return nil
}

// valueRange scans the grid for finite values and returns their min/max.
// ok is false when the grid holds no finite value at all.
func (t *Tile) valueRange() (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, row := range t.Grid {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			ok = true
		}
	}
	return min, max, ok
}
