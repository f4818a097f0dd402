// Package raster fetches raster overlay tiles (elevation, NDVI, slope)
// from the earth-engine backend and warms the local cache with them so
// the map can pan a scan region without waiting on the network.
package raster

import (
	"math"

	"archeo-dashboard/internal/geo"
)

// TileCoord identifies a slippy-map tile.
type TileCoord struct {
	X, Y, Z int
}

// LatLonToTile converts latitude/longitude to tile coordinates.
func LatLonToTile(lat, lon float64, zoom int) (x, y int) {
	n := math.Pow(2, float64(zoom))
	x = int((lon + 180.0) / 360.0 * n)
	latRad := lat * math.Pi / 180.0
	y = int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)

	// Clamp to valid range
	maxTile := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > maxTile {
		x = maxTile
	}
	if y < 0 {
		y = 0
	}
	if y > maxTile {
		y = maxTile
	}

	return x, y
}

// TileToLatLon converts tile coordinates to the latitude/longitude of
// the tile's northwest corner.
func TileToLatLon(x, y, zoom int) (lat, lon float64) {
	n := math.Pow(2, float64(zoom))
	lon = float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	lat = latRad * 180.0 / math.Pi
	return lat, lon
}

// TilesForBounds lists every tile covering the bounds at a zoom level.
func TilesForBounds(b geo.Bounds, zoom int) []TileCoord {
	minX, minY := LatLonToTile(b.North, b.West, zoom)
	maxX, maxY := LatLonToTile(b.South, b.East, zoom)

	tiles := make([]TileCoord, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, TileCoord{X: x, Y: y, Z: zoom})
		}
	}

	return tiles
}

// EstimateTileCount returns how many tiles TilesForBounds would yield.
func EstimateTileCount(b geo.Bounds, zoom int) int {
	minX, minY := LatLonToTile(b.North, b.West, zoom)
	maxX, maxY := LatLonToTile(b.South, b.East, zoom)
	return (maxX - minX + 1) * (maxY - minY + 1)
}

// EstimateDownloadSize estimates the download size in MB, assuming
// ~30KB per raster PNG.
func EstimateDownloadSize(tileCount int) float64 {
	avgTileSizeKB := 30.0
	return float64(tileCount) * avgTileSizeKB / 1024.0
}
