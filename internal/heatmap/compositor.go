package heatmap

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log"
	"math"
	"sync"
	"time"

	"archeo-dashboard/internal/geo"
)

const (
	// CanvasMaxDim caps the longer edge of the composited overlay
	CanvasMaxDim = 1024

	// Wipe animation timing. The reveal shortens as the backlog grows so
	// the animation cannot fall further behind a fast-arriving scan.
	wipeBaseDuration = 600 * time.Millisecond
	wipePerQueued    = 30 * time.Millisecond
	wipeMinDuration  = 200 * time.Millisecond
)

// ErrHeatmapInactive is returned when a tile arrives while heatmap mode
// is disabled (a stale delivery after session end)
var ErrHeatmapInactive = errors.New("heatmap mode is not active")

// Compositor composites all tiles of a scan session into a single RGBA
// overlay image for the map. Tiles are revealed progressively in scan-grid
// order with a left-to-right column wipe.
type Compositor struct {
	mu    sync.Mutex
	store *Store

	active     bool
	generation uint64

	bounds     geo.Bounds
	haveBounds bool
	autoBounds bool // bounds grow as the union of tile bounds

	width, height int
	img           *image.RGBA

	// Incremental-render bookkeeping. A widened value range or grown
	// bounds invalidates every previously drawn pixel.
	drawnCols   map[string]int
	drawnRange  ValueRange
	drawnBounds geo.Bounds

	animating bool

	// onFrame is called after each animation frame with the generation
	// that produced it. Callers must discard frames from a stale generation.
	onFrame func(generation uint64)
}

// NewCompositor creates a compositor. onFrame may be nil.
func NewCompositor(onFrame func(generation uint64)) *Compositor {
	return &Compositor{
		store:     NewStore(),
		drawnCols: make(map[string]int),
		onFrame:   onFrame,
	}
}

// EnableHeatmapMode resets the session state and activates the
// compositor. Passing nil bounds lets the session bounds grow as the
// union of arriving tile bounds. Calling it twice is a no-op beyond the
// reset itself.
func (c *Compositor) EnableHeatmapMode(bounds *geo.Bounds) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			return fmt.Errorf("invalid session bounds: %w", err)
		}
	}

	c.generation++
	c.active = true
	c.store.Clear()
	c.drawnCols = make(map[string]int)
	c.drawnRange = ValueRange{}
	c.img = nil
	c.animating = false

	if bounds != nil {
		c.bounds = *bounds
		c.haveBounds = true
		c.autoBounds = false
	} else {
		c.haveBounds = false
		c.autoBounds = true
	}

	log.Printf("[Compositor] Heatmap mode enabled (generation %d)", c.generation)
	return nil
}

// DisableHeatmapMode deactivates the compositor and clears the session.
// Pending animation callbacks see the bumped generation and stop.
func (c *Compositor) DisableHeatmapMode() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}

	c.generation++
	c.active = false
	c.store.Clear()
	c.drawnCols = make(map[string]int)
	c.drawnRange = ValueRange{}
	c.img = nil
	c.animating = false

	log.Printf("[Compositor] Heatmap mode disabled")
}

// Active reports whether heatmap mode is enabled
func (c *Compositor) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Generation returns the current session generation
func (c *Compositor) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// TileCount returns the number of stored tiles
func (c *Compositor) TileCount() int {
	return c.store.Len()
}

// Range returns the session value range
func (c *Compositor) Range() ValueRange {
	return c.store.Range()
}

// Tiles returns the session's tiles in reveal order
func (c *Compositor) Tiles() []*Tile {
	return c.store.All()
}

// Bounds returns the current session bounds
func (c *Compositor) Bounds() (geo.Bounds, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bounds, c.haveBounds
}

// AddTile inserts a tile, widens the session value range, and queues the
// tile for the wipe animation. Duplicate ids are silently ignored,
// malformed tiles are skipped with an error the caller may log.
func (c *Compositor) AddTile(tile *Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return ErrHeatmapInactive
	}
	if err := tile.validate(); err != nil {
		return err
	}
	if !c.store.Insert(tile) {
		// Duplicate delivery; non-fatal at the store layer.
		return nil
	}

	if c.autoBounds {
		if c.haveBounds {
			c.bounds = c.bounds.Union(tile.Bounds)
		} else {
			c.bounds = tile.Bounds
			c.haveBounds = true
		}
	}

	if !c.animating {
		c.animating = true
		go c.animate(c.generation)
	}
	return nil
}

// animate advances the wipe one column at a time until every stored tile
// is fully revealed. It runs on its own goroutine and re-checks the
// captured generation before every mutation, so a disabled or restarted
// session orphans it harmlessly.
func (c *Compositor) animate(gen uint64) {
	for {
		c.mu.Lock()
		if c.generation != gen || !c.active {
			c.mu.Unlock()
			return
		}

		tiles := c.store.All()
		var current *Tile
		pending := 0
		for _, t := range tiles {
			if t.revealProgress >= 1 {
				continue
			}
			if current == nil {
				current = t
			} else {
				pending++
			}
		}
		if current == nil {
			c.animating = false
			c.render()
			onFrame := c.onFrame
			c.mu.Unlock()
			if onFrame != nil {
				onFrame(gen)
			}
			return
		}

		cols := current.Cols()
		current.revealProgress = math.Min(1, current.revealProgress+1/float64(cols))
		c.render()
		onFrame := c.onFrame
		c.mu.Unlock()

		if onFrame != nil {
			onFrame(gen)
		}

		time.Sleep(revealDuration(pending) / time.Duration(cols))
	}
}

// revealDuration returns the per-tile wipe duration for the given queue
// backlog: max(200ms, 600ms - 30ms x queueLen)
func revealDuration(queueLen int) time.Duration {
	d := wipeBaseDuration - time.Duration(queueLen)*wipePerQueued
	if d < wipeMinDuration {
		d = wipeMinDuration
	}
	return d
}

// render repaints the overlay image. Fully revealed tiles are only redrawn
// when the value range or the session bounds changed underneath them,
// which makes their colors stale under the new normalization.
// Callers must hold c.mu.
func (c *Compositor) render() {
	if !c.haveBounds {
		return
	}
	rng := c.store.Range()
	if !rng.Valid {
		// No finite sample seen yet; the overlay stays blank.
		return
	}

	fullRepaint := false
	if c.img == nil {
		c.width, c.height = canvasSize(c.bounds)
		c.img = image.NewRGBA(image.Rect(0, 0, c.width, c.height))
		fullRepaint = true
	}
	if rng != c.drawnRange || c.bounds != c.drawnBounds {
		fullRepaint = true
	}

	if fullRepaint {
		c.width, c.height = canvasSize(c.bounds)
		c.img = image.NewRGBA(image.Rect(0, 0, c.width, c.height))
		c.drawnCols = make(map[string]int)
		c.drawnRange = rng
		c.drawnBounds = c.bounds
	}

	for _, tile := range c.store.All() {
		cols := tile.Cols()
		if cols == 0 || tile.Rows() == 0 {
			log.Printf("[Compositor] Skipping tile %s with empty grid", tile.ID)
			continue
		}

		revealCols := int(tile.revealProgress*float64(cols) + 1e-9)
		from := c.drawnCols[tile.ID]
		if revealCols <= from {
			continue
		}
		if err := c.drawTileColumns(tile, rng, from, revealCols); err != nil {
			log.Printf("[Compositor] Failed to draw tile %s: %v", tile.ID, err)
			continue
		}
		c.drawnCols[tile.ID] = revealCols
	}
}

// drawTileColumns paints grid columns [fromCol, toCol) of a tile onto the
// shared canvas. Grid row 0 is the tile's north edge.
func (c *Compositor) drawTileColumns(tile *Tile, rng ValueRange, fromCol, toCol int) error {
	rect, err := geo.PixelRectFor(c.bounds, tile.Bounds, c.width, c.height)
	if err != nil {
		return err
	}

	rows := tile.Rows()
	cols := tile.Cols()

	for row := 0; row < rows; row++ {
		y0 := rect.Y + row*rect.H/rows
		y1 := rect.Y + (row+1)*rect.H/rows
		for col := fromCol; col < toCol && col < len(tile.Grid[row]); col++ {
			v := tile.Grid[row][col]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			x0 := rect.X + col*rect.W/cols
			x1 := rect.X + (col+1)*rect.W/cols

			cell := image.Rect(x0, y0, x1, y1)
			fill := image.NewUniform(ColorFor(rng.Normalize(v)))
			draw.Draw(c.img, cell, fill, image.Point{}, draw.Src)
		}
	}
	return nil
}

// canvasSize picks canvas dimensions matching the bounds aspect ratio,
// capped at CanvasMaxDim on the longer edge
func canvasSize(bounds geo.Bounds) (w, h int) {
	lonSpan := bounds.East - bounds.West
	latSpan := bounds.North - bounds.South
	if lonSpan >= latSpan {
		w = CanvasMaxDim
		h = int(float64(CanvasMaxDim) * latSpan / lonSpan)
	} else {
		h = CanvasMaxDim
		w = int(float64(CanvasMaxDim) * lonSpan / latSpan)
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Snapshot returns a copy of the current overlay image and the generation
// that produced it. ok is false while nothing has been rendered.
func (c *Compositor) Snapshot() (img *image.RGBA, generation uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.img == nil {
		return nil, c.generation, false
	}
	cp := image.NewRGBA(c.img.Bounds())
	copy(cp.Pix, c.img.Pix)
	return cp, c.generation, true
}

// RenderPNG encodes the current overlay as PNG bytes for the local
// overlay server
func (c *Compositor) RenderPNG() ([]byte, error) {
	img, _, ok := c.Snapshot()
	if !ok {
		return nil, ErrHeatmapInactive
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode overlay PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// RevealAll finishes the wipe immediately. Export paths use it so a
// snapshot taken right after a scan completes carries every tile.
func (c *Compositor) RevealAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	for _, tile := range c.store.All() {
		tile.revealProgress = 1
	}
	c.render()
}
