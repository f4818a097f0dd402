package earthengine

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archeo-dashboard/internal/geo"
)

func TestGetTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/earth-engine/task/t-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "t-1",
			"status": "running",
			"progress": 0.4,
			"start_coordinates": {"lat": 10, "lon": 20},
			"range": {"width_km": 2, "height_km": 2}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	task, err := c.GetTask(context.Background(), "t-1")
	require.NoError(t, err)

	assert.Equal(t, TaskStatusRunning, task.Status)
	assert.Equal(t, 0.4, task.Progress)

	b := task.Bounds()
	require.NoError(t, b.Validate())
	assert.InDelta(t, 2000, b.WidthMeters(), 10)
}

func TestGetTaskNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetTask(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestGetTaskTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetTask(context.Background(), "t-1")

	var transport *TransportError
	assert.True(t, errors.As(err, &transport), "5xx must surface as a transient transport error")
}

func TestProcessRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/earth-engine/process-region", r.URL.Path)
		w.Write([]byte(`{"task_id": "t-42"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.ProcessRegion(context.Background(), ProcessRegionRequest{
		StartCoordinates: Coordinates{Lat: 10, Lon: 20},
		Range:            RangeKm{WidthKm: 5, HeightKm: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "t-42", id)
}

func TestListTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/earth-engine/tasks", r.URL.Path)
		assert.Equal(t, "0.5", r.URL.Query().Get("min_decay"))
		w.Write([]byte(`[
			{"id": "t-1", "status": "running", "progress": 0.2},
			{"id": "t-2", "status": "completed"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tasks, err := c.ListTasks(context.Background(), 0.5)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t-1", tasks[0].ID)
	assert.Equal(t, TaskStatusCompleted, tasks[1].Status)
}

func TestListTasksNoFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("min_decay"), "zero decay must not be sent")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tasks, err := c.ListTasks(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTaskNavigation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/earth-engine/task/t-9/navigation", r.URL.Path)
		w.Write([]byte(`{
			"bounds": {"southwest": [-3.2, -60.1], "northeast": [-3.0, -59.9]},
			"grid_x": 4, "grid_y": 4, "levels": 2
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	nav, err := c.TaskNavigation(context.Background(), "t-9")
	require.NoError(t, err)
	assert.Equal(t, 2, nav.Levels)

	b := nav.GeoBounds()
	require.NoError(t, b.Validate())
	assert.Equal(t, -3.2, b.South)
	assert.Equal(t, -59.9, b.East)
}

func TestTaskNavigationNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.TaskNavigation(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestNonTaskEndpoint404IsNotTaskNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	_, err := c.Datasets(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTaskNotFound, "missing /datasets endpoint is not a missing task")

	_, err = c.RasterOverlay(context.Background(), "ndvi",
		geo.Bounds{South: 0, West: 0, North: 1, East: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTaskNotFound)
}

func TestRasterOverlay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/earth-engine/raster/ndvi", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("bbox"))
		w.Write([]byte(`{"tile_url": "https://tiles.example/{z}/{x}/{y}.png", "attribution": "Sentinel-2"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	info, err := c.RasterOverlay(context.Background(), "ndvi",
		geo.Bounds{South: 0, West: 0, North: 1, East: 1})
	require.NoError(t, err)
	assert.Equal(t, "Sentinel-2", info.Attribution)
	assert.Contains(t, info.TileURL, "{z}")
}

func TestRasterOverlayRejectsInvalidBounds(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.RasterOverlay(context.Background(), "ndvi",
		geo.Bounds{South: 1, West: 0, North: 0, East: 1})
	assert.Error(t, err)
}

func TestTileMessageToTile(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	row, col := 1, 2

	msg := TileMessage{
		TileID:       "tile-7",
		CenterLat:    10,
		CenterLon:    20,
		TileSizeM:    1000,
		VizElevation: [][]*float64{{v(1), v(2)}, {v(3), nil}},
		GridRow:      &row,
		GridCol:      &col,
	}

	tile, err := msg.ToTile()
	require.NoError(t, err)
	assert.Equal(t, "tile-7", tile.ID)
	assert.True(t, tile.HasGridPos)
	assert.Equal(t, 1, tile.GridRow)
	assert.Equal(t, 2, tile.GridCol)
	assert.True(t, math.IsNaN(tile.Grid[1][1]), "null sample becomes NaN")
	assert.Equal(t, 1.0, tile.Grid[0][0])

	require.NoError(t, tile.Bounds.Validate())
	assert.InDelta(t, 1000, tile.Bounds.WidthMeters(), 5)
}

func TestTileMessageLegacyFields(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	msg := TileMessage{
		TileID:        "old",
		CenterLat:     0,
		CenterLon:     0,
		SizeM:         500,
		ElevationData: [][]*float64{{v(9)}},
	}

	tile, err := msg.ToTile()
	require.NoError(t, err)
	assert.Equal(t, 9.0, tile.Grid[0][0])
}

func TestTileMessageMalformed(t *testing.T) {
	_, err := (&TileMessage{TileID: "bad", TileSizeM: 100}).ToTile()
	assert.Error(t, err)

	v := func(f float64) *float64 { return &f }
	_, err = (&TileMessage{TileID: "nosize", VizElevation: [][]*float64{{v(1)}}}).ToTile()
	assert.Error(t, err)
}
