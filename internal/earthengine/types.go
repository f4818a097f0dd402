package earthengine

import (
	"encoding/json"
	"math"

	"archeo-dashboard/internal/geo"
	"archeo-dashboard/internal/heatmap"
)

// TaskStatus represents the backend-reported status of an analysis task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a final state
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Coordinates is a lat/lon pair
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RangeKm is the metric extent of a scan region
type RangeKm struct {
	WidthKm  float64 `json:"width_km"`
	HeightKm float64 `json:"height_km"`
}

// Finding is one detection reported by a completed analysis task
type Finding struct {
	ID         string          `json:"id"`
	Lat        float64         `json:"lat"`
	Lon        float64         `json:"lon"`
	Type       string          `json:"type"`
	Confidence float64         `json:"confidence"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Task is a backend-tracked long-running analysis job. The client holds a
// read-only cached copy per polling cycle; only progress/status pushed by
// the stream is merged in locally.
type Task struct {
	ID               string          `json:"id"`
	Status           TaskStatus      `json:"status"`
	StartCoordinates Coordinates     `json:"start_coordinates"`
	Range            RangeKm         `json:"range"`
	Progress         float64         `json:"progress"`
	Findings         []Finding       `json:"findings,omitempty"`
	Results          json.RawMessage `json:"results,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Bounds derives the scan region from the task's center and metric range.
// start_coordinates is always the true center of the region.
func (t *Task) Bounds() geo.Bounds {
	return geo.FromCenterKm(t.StartCoordinates.Lat, t.StartCoordinates.Lon,
		t.Range.WidthKm, t.Range.HeightKm)
}

// Navigation describes how the dashboard should frame a task on the map
type Navigation struct {
	Bounds struct {
		Southwest [2]float64 `json:"southwest"`
		Northeast [2]float64 `json:"northeast"`
	} `json:"bounds"`
	GridX  int `json:"grid_x"`
	GridY  int `json:"grid_y"`
	Levels int `json:"levels"`
}

// GeoBounds converts the navigation corners to geo.Bounds
func (n *Navigation) GeoBounds() geo.Bounds {
	return geo.Bounds{
		South: n.Bounds.Southwest[0],
		West:  n.Bounds.Southwest[1],
		North: n.Bounds.Northeast[0],
		East:  n.Bounds.Northeast[1],
	}
}

// RasterInfo is the backend's answer for an XYZ raster overlay request
type RasterInfo struct {
	TileURL     string `json:"tile_url"`
	Attribution string `json:"attribution"`
}

// Dataset describes one satellite/LiDAR-derived layer the backend serves
type Dataset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RasterType  string `json:"raster_type,omitempty"`
}

// SystemStatus is the backend capability/status document
type SystemStatus struct {
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Initialized bool   `json:"initialized"`
	Message     string `json:"message,omitempty"`
}

// ProcessRegionRequest submits a scan over a metric region
type ProcessRegionRequest struct {
	StartCoordinates Coordinates `json:"start_coordinates"`
	Range            RangeKm     `json:"range"`
	Datasets         []string    `json:"datasets,omitempty"`
}

// TileMessage is the wire form of one heatmap tile, delivered either by
// WebSocket push or inside a poll response. Two generations of the
// backend disagree on field names, so both spellings are accepted.
type TileMessage struct {
	TileID    string  `json:"tile_id"`
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`

	TileSizeM float64 `json:"tile_size_m,omitempty"`
	SizeM     float64 `json:"size_m,omitempty"`

	VizElevation  [][]*float64 `json:"viz_elevation,omitempty"`
	ElevationData [][]*float64 `json:"elevation_data,omitempty"`

	GridRow *int `json:"grid_row,omitempty"`
	GridCol *int `json:"grid_col,omitempty"`
}

// ToTile converts the wire message to a heatmap tile. Null samples become
// NaN so the renderer can skip them.
func (m *TileMessage) ToTile() (*heatmap.Tile, error) {
	raw := m.VizElevation
	if len(raw) == 0 {
		raw = m.ElevationData
	}
	if len(raw) == 0 {
		return nil, &heatmap.MalformedTileError{TileID: m.TileID, Reason: "no elevation grid"}
	}

	grid := make([][]float64, len(raw))
	for i, row := range raw {
		grid[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				grid[i][j] = math.NaN()
			} else {
				grid[i][j] = *v
			}
		}
	}

	size := m.TileSizeM
	if size == 0 {
		size = m.SizeM
	}
	if size <= 0 {
		return nil, &heatmap.MalformedTileError{TileID: m.TileID, Reason: "missing tile size"}
	}

	tile := heatmap.NewTileFromCenter(m.TileID, m.CenterLat, m.CenterLon, size, grid)
	if m.GridRow != nil && m.GridCol != nil {
		tile.WithGridPos(*m.GridRow, *m.GridCol)
	}
	return tile, nil
}
