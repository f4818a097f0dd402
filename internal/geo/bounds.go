package geo

import (
	"fmt"
	"math"
)

// Constants for coordinate conversion and validation
const (
	// MetersPerDegreeLat is the approximate length of one degree of latitude
	MetersPerDegreeLat = 111320.0

	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0
)

// Bounds represents a geographic bounding box in degrees
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// PixelRect represents a pixel-space rectangle within a canvas
type PixelRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// DegenerateBoundsError indicates bounds with zero width or height.
// Rendering against such bounds must be aborted by the caller.
type DegenerateBoundsError struct {
	Bounds Bounds
}

func (e *DegenerateBoundsError) Error() string {
	return fmt.Sprintf("degenerate bounds: span %fx%f degrees",
		e.Bounds.East-e.Bounds.West, e.Bounds.North-e.Bounds.South)
}

// Validate checks if the bounding box is valid
func (b Bounds) Validate() error {
	if b.South >= b.North {
		return fmt.Errorf("south (%f) must be less than north (%f)", b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("west (%f) must be less than east (%f)", b.West, b.East)
	}
	if b.South < MinLat || b.North > MaxLat {
		return fmt.Errorf("latitude out of range [%g, %g]: south=%f, north=%f", MinLat, MaxLat, b.South, b.North)
	}
	if b.West < MinLon || b.East > MaxLon {
		return fmt.Errorf("longitude out of range [%g, %g]: west=%f, east=%f", MinLon, MaxLon, b.West, b.East)
	}
	return nil
}

// Center returns the center point of the bounds
func (b Bounds) Center() (lat, lon float64) {
	return (b.South + b.North) / 2, (b.West + b.East) / 2
}

// Union returns the smallest bounds containing both b and other
func (b Bounds) Union(other Bounds) Bounds {
	return Bounds{
		South: math.Min(b.South, other.South),
		West:  math.Min(b.West, other.West),
		North: math.Max(b.North, other.North),
		East:  math.Max(b.East, other.East),
	}
}

// WidthMeters returns the approximate east-west extent in meters,
// measured along the center latitude
func (b Bounds) WidthMeters() float64 {
	centerLat, _ := b.Center()
	return (b.East - b.West) * MetersPerDegreeLat * math.Cos(centerLat*math.Pi/180)
}

// HeightMeters returns the approximate north-south extent in meters
func (b Bounds) HeightMeters() float64 {
	return (b.North - b.South) * MetersPerDegreeLat
}

// FromCenter builds bounds for a square region of sizeMeters centered
// at (lat, lon). Longitude spans are corrected by cos(lat) so the region
// keeps its metric width away from the equator.
func FromCenter(lat, lon, sizeMeters float64) Bounds {
	latDelta := (sizeMeters / 2) / MetersPerDegreeLat
	lonDelta := (sizeMeters / 2) / (MetersPerDegreeLat * math.Cos(lat*math.Pi/180))
	return Bounds{
		South: lat - latDelta,
		West:  lon - lonDelta,
		North: lat + latDelta,
		East:  lon + lonDelta,
	}
}

// FromCenterKm builds bounds for a widthKm x heightKm region centered at (lat, lon).
// Scan tasks report their extent this way (start_coordinates is the true center).
func FromCenterKm(lat, lon, widthKm, heightKm float64) Bounds {
	latDelta := (heightKm * 1000 / 2) / MetersPerDegreeLat
	lonDelta := (widthKm * 1000 / 2) / (MetersPerDegreeLat * math.Cos(lat*math.Pi/180))
	return Bounds{
		South: lat - latDelta,
		West:  lon - lonDelta,
		North: lat + latDelta,
		East:  lon + lonDelta,
	}
}

// PixelRectFor maps tile bounds to a pixel rectangle within a canvas that
// covers container. Both edges are floored, so two tiles sharing an edge
// map to rectangles that meet exactly: no overlap, no seam.
func PixelRectFor(container, tile Bounds, canvasWidth, canvasHeight int) (PixelRect, error) {
	lonSpan := container.East - container.West
	latSpan := container.North - container.South
	if lonSpan <= 0 || latSpan <= 0 {
		return PixelRect{}, &DegenerateBoundsError{Bounds: container}
	}

	// Fractional positions of the tile edges within the container.
	// Y grows downward: the container's north edge is canvas row 0.
	x0 := (tile.West - container.West) / lonSpan * float64(canvasWidth)
	x1 := (tile.East - container.West) / lonSpan * float64(canvasWidth)
	y0 := (container.North - tile.North) / latSpan * float64(canvasHeight)
	y1 := (container.North - tile.South) / latSpan * float64(canvasHeight)

	x := int(math.Floor(x0))
	y := int(math.Floor(y0))
	endX := int(math.Floor(x1))
	endY := int(math.Floor(y1))
	if endX <= x {
		endX = x + 1
	}
	if endY <= y {
		endY = y + 1
	}

	return PixelRect{X: x, Y: y, W: endX - x, H: endY - y}, nil
}
