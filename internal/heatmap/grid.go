package heatmap

import "fmt"

// GridBounds represents the min/max row and column extent of the
// positioned tiles in a scan session
type GridBounds struct {
	MinRow int
	MaxRow int
	MinCol int
	MaxCol int
}

// Rows returns the number of grid rows in the bounds
func (gb GridBounds) Rows() int {
	return gb.MaxRow - gb.MinRow + 1
}

// Cols returns the number of grid columns in the bounds
func (gb GridBounds) Cols() int {
	return gb.MaxCol - gb.MinCol + 1
}

// CalculateGridBounds computes the scan-grid extent from the positioned
// tiles in a slice. Tiles without a grid position are ignored.
func CalculateGridBounds(tiles []*Tile) (GridBounds, error) {
	first := true
	var bounds GridBounds

	for _, tile := range tiles {
		if !tile.HasGridPos {
			continue
		}
		if first {
			bounds = GridBounds{
				MinRow: tile.GridRow, MaxRow: tile.GridRow,
				MinCol: tile.GridCol, MaxCol: tile.GridCol,
			}
			first = false
			continue
		}
		if tile.GridRow < bounds.MinRow {
			bounds.MinRow = tile.GridRow
		}
		if tile.GridRow > bounds.MaxRow {
			bounds.MaxRow = tile.GridRow
		}
		if tile.GridCol < bounds.MinCol {
			bounds.MinCol = tile.GridCol
		}
		if tile.GridCol > bounds.MaxCol {
			bounds.MaxCol = tile.GridCol
		}
	}

	if first {
		return GridBounds{}, fmt.Errorf("no positioned tiles")
	}
	return bounds, nil
}
