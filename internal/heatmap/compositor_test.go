package heatmap

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archeo-dashboard/internal/geo"
)

// waitForIdle blocks until the compositor's wipe animation drains or the
// timeout elapses.
func waitForIdle(t *testing.T, c *Compositor, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		idle := !c.animating
		c.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("wipe animation did not finish in time")
}

func TestCompositorEnableIsIdempotent(t *testing.T) {
	c := NewCompositor(nil)
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}

	require.NoError(t, c.EnableHeatmapMode(&b))
	require.NoError(t, c.AddTile(NewTile("a", b, [][]float64{{1, 2}})))

	// A second enable resets the session but stays active.
	require.NoError(t, c.EnableHeatmapMode(&b))
	assert.True(t, c.Active())
	assert.Equal(t, 0, c.TileCount())
	assert.False(t, c.Range().Valid)
}

func TestCompositorRejectsInvalidBounds(t *testing.T) {
	c := NewCompositor(nil)
	bad := geo.Bounds{South: 1, West: 0, North: 0, East: 1}
	assert.Error(t, c.EnableHeatmapMode(&bad))
}

func TestCompositorAddTileWhileInactive(t *testing.T) {
	c := NewCompositor(nil)
	err := c.AddTile(NewTile("a", geo.Bounds{South: 0, West: 0, North: 1, East: 1}, [][]float64{{1}}))
	assert.ErrorIs(t, err, ErrHeatmapInactive)
}

func TestCompositorSkipsMalformedTile(t *testing.T) {
	c := NewCompositor(nil)
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}
	require.NoError(t, c.EnableHeatmapMode(&b))

	err := c.AddTile(NewTile("empty", b, nil))
	var malformed *MalformedTileError
	assert.ErrorAs(t, err, &malformed)
	assert.Equal(t, 0, c.TileCount())
}

func TestCompositorDuplicateTileSilentlyIgnored(t *testing.T) {
	c := NewCompositor(nil)
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}
	require.NoError(t, c.EnableHeatmapMode(&b))

	require.NoError(t, c.AddTile(NewTile("a", b, [][]float64{{1, 2}})))
	require.NoError(t, c.AddTile(NewTile("a", b, [][]float64{{100, 200}})))

	assert.Equal(t, 1, c.TileCount())
	assert.Equal(t, 2.0, c.Range().Max)
}

func TestCompositorRendersNaNWithoutPanic(t *testing.T) {
	c := NewCompositor(nil)
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}
	require.NoError(t, c.EnableHeatmapMode(&b))

	require.NoError(t, c.AddTile(NewTile("a", b, [][]float64{{1, 2}, {3, math.NaN()}})))
	waitForIdle(t, c, 5*time.Second)

	r := c.Range()
	assert.Equal(t, 1.0, r.Min)
	assert.Equal(t, 3.0, r.Max)

	img, _, ok := c.Snapshot()
	require.True(t, ok)

	// The NaN cell (bottom-right quadrant) stays transparent.
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	_, _, _, a := img.At(w*3/4, h*3/4).RGBA()
	assert.Zero(t, a)

	// A finite cell is painted with the overlay alpha.
	_, _, _, a = img.At(w/4, h/4).RGBA()
	assert.NotZero(t, a)
}

func TestCompositorBlankWhenNoFiniteValues(t *testing.T) {
	c := NewCompositor(nil)
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}
	require.NoError(t, c.EnableHeatmapMode(&b))

	require.NoError(t, c.AddTile(NewTile("nan", b, [][]float64{{math.NaN()}})))
	waitForIdle(t, c, 5*time.Second)

	_, _, ok := c.Snapshot()
	assert.False(t, ok, "no overlay should exist without finite samples")
}

func TestCompositorWipeOrder(t *testing.T) {
	var mu sync.Mutex
	var frames int
	c := NewCompositor(func(uint64) {
		mu.Lock()
		frames++
		mu.Unlock()
	})

	session := geo.Bounds{South: 0, West: 0, North: 2, East: 3}
	require.NoError(t, c.EnableHeatmapMode(&session))

	grid := [][]float64{{1, 2}, {3, 4}}
	mk := func(id string, row, col int) *Tile {
		b := geo.Bounds{
			South: float64(1 - row), West: float64(col),
			North: float64(2 - row), East: float64(col + 1),
		}
		return NewTile(id, b, grid).WithGridPos(row, col)
	}

	// Insert in scrambled order; reveal must go (0,0), (0,1), (1,0).
	require.NoError(t, c.AddTile(mk("later", 1, 0)))
	require.NoError(t, c.AddTile(mk("second", 0, 1)))
	require.NoError(t, c.AddTile(mk("first", 0, 0)))
	waitForIdle(t, c, 10*time.Second)

	var ids []string
	for _, tile := range c.Tiles() {
		ids = append(ids, tile.ID)
		assert.Equal(t, 1.0, tile.RevealProgress())
	}
	assert.Equal(t, []string{"first", "second", "later"}, ids)

	mu.Lock()
	assert.Greater(t, frames, 0)
	mu.Unlock()
}

func TestCompositorDisableStopsAnimation(t *testing.T) {
	c := NewCompositor(nil)
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}
	require.NoError(t, c.EnableHeatmapMode(&b))

	require.NoError(t, c.AddTile(NewTile("a", b, [][]float64{{1, 2, 3, 4, 5}})))
	gen := c.Generation()

	c.DisableHeatmapMode()
	assert.False(t, c.Active())
	assert.Equal(t, 0, c.TileCount())
	assert.Greater(t, c.Generation(), gen, "disable must invalidate pending callbacks")

	_, _, ok := c.Snapshot()
	assert.False(t, ok)
}

func TestCompositorAutoBoundsUnion(t *testing.T) {
	c := NewCompositor(nil)
	require.NoError(t, c.EnableHeatmapMode(nil))

	require.NoError(t, c.AddTile(NewTile("a", geo.Bounds{South: 0, West: 0, North: 1, East: 1}, [][]float64{{1}})))
	require.NoError(t, c.AddTile(NewTile("b", geo.Bounds{South: 0, West: 1, North: 1, East: 2}, [][]float64{{2}})))
	waitForIdle(t, c, 5*time.Second)

	bounds, ok := c.Bounds()
	require.True(t, ok)
	assert.Equal(t, geo.Bounds{South: 0, West: 0, North: 1, East: 2}, bounds)
}

func TestCompositorRevealAllAndPNG(t *testing.T) {
	c := NewCompositor(nil)
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}
	require.NoError(t, c.EnableHeatmapMode(&b))

	require.NoError(t, c.AddTile(NewTile("a", b, [][]float64{{1, 2}, {3, 4}})))
	c.RevealAll()

	data, err := c.RenderPNG()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}

func TestRevealDurationAdaptive(t *testing.T) {
	assert.Equal(t, 600*time.Millisecond, revealDuration(0))
	assert.Equal(t, 450*time.Millisecond, revealDuration(5))
	assert.Equal(t, 210*time.Millisecond, revealDuration(13))
	assert.Equal(t, 200*time.Millisecond, revealDuration(14))
	assert.Equal(t, 200*time.Millisecond, revealDuration(100))
}

func TestCalculateGridBounds(t *testing.T) {
	b := geo.Bounds{South: 0, West: 0, North: 1, East: 1}
	tiles := []*Tile{
		NewTile("a", b, [][]float64{{1}}).WithGridPos(2, 3),
		NewTile("b", b, [][]float64{{1}}).WithGridPos(0, 5),
		NewTile("c", b, [][]float64{{1}}), // unpositioned, ignored
	}

	gb, err := CalculateGridBounds(tiles)
	require.NoError(t, err)
	assert.Equal(t, 3, gb.Rows())
	assert.Equal(t, 3, gb.Cols())

	_, err = CalculateGridBounds(nil)
	assert.Error(t, err)
}
