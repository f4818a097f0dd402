// Package naming builds filesystem-safe names for exported artifacts.
package naming

import (
	"fmt"
	"math"
	"strings"
	"time"

	"archeo-dashboard/internal/geo"
)

// SanitizeCoordinate formats a coordinate for use in filenames: no
// minus sign (N/S/E/W suffix instead) and 'p' for the decimal point so
// the name is valid on Windows.
func SanitizeCoordinate(coord float64, isLat bool) string {
	var dir string
	if isLat {
		if coord < 0 {
			dir = "S"
		} else {
			dir = "N"
		}
	} else {
		if coord < 0 {
			dir = "W"
		} else {
			dir = "E"
		}
	}
	coordStr := fmt.Sprintf("%.4f", math.Abs(coord))
	coordStr = strings.Replace(coordStr, ".", "p", 1)
	return coordStr + dir
}

// BoundsString renders bounds as a compact filename fragment.
func BoundsString(b geo.Bounds) string {
	return fmt.Sprintf("%s-%s_%s-%s",
		SanitizeCoordinate(b.South, true),
		SanitizeCoordinate(b.North, true),
		SanitizeCoordinate(b.West, false),
		SanitizeCoordinate(b.East, false))
}

// sanitizeID strips characters that are unsafe in filenames from a
// task or session id.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}

// HeatmapFilename names an exported heatmap GeoTIFF.
// Format: heatmap_{task}_{date}_{bbox}.tif
func HeatmapFilename(taskID string, b geo.Bounds, when time.Time) string {
	return fmt.Sprintf("heatmap_%s_%s_%s.tif",
		sanitizeID(taskID), when.Format("2006-01-02"), BoundsString(b))
}

// DEMFilename names an exported float32 elevation GeoTIFF.
// Format: dem_{task}_{date}_{bbox}.tif
func DEMFilename(taskID string, b geo.Bounds, when time.Time) string {
	return fmt.Sprintf("dem_%s_%s_%s.tif",
		sanitizeID(taskID), when.Format("2006-01-02"), BoundsString(b))
}

// FindingsFilename names an exported findings GeoJSON file.
// Format: findings_{task}_{date}.geojson
func FindingsFilename(taskID string, when time.Time) string {
	return fmt.Sprintf("findings_%s_%s.geojson", sanitizeID(taskID), when.Format("2006-01-02"))
}
