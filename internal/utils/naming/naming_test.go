package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"archeo-dashboard/internal/geo"
)

func TestSanitizeCoordinate(t *testing.T) {
	assert.Equal(t, "3p1000S", SanitizeCoordinate(-3.1, true))
	assert.Equal(t, "3p1000N", SanitizeCoordinate(3.1, true))
	assert.Equal(t, "60p0000W", SanitizeCoordinate(-60.0, false))
	assert.Equal(t, "60p0000E", SanitizeCoordinate(60.0, false))
}

func TestHeatmapFilename(t *testing.T) {
	b := geo.Bounds{South: -3.2, West: -60.1, North: -3.0, East: -59.9}
	when := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	name := HeatmapFilename("task/42", b, when)
	assert.Equal(t, "heatmap_task-42_2026-08-26_3p2000S-3p0000S_60p1000W-59p9000W.tif", name)
	assert.NotContains(t, name, "/")
}

func TestDEMAndFindingsFilenames(t *testing.T) {
	b := geo.Bounds{South: -3.2, West: -60.1, North: -3.0, East: -59.9}
	when := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "dem_t-1_2026-08-26_3p2000S-3p0000S_60p1000W-59p9000W.tif",
		DEMFilename("t-1", b, when))
	assert.Equal(t, "findings_t-1_2026-08-26.geojson", FindingsFilename("t-1", when))
}
