package geotiff

import (
	"archeo-dashboard/internal/geo"
)

// GeoKey IDs used in the GeoKeyDirectoryTag
const (
	GeoKey_GTModelType    = 1024
	GeoKey_GTRasterType   = 1025
	GeoKey_GeographicType = 2048
)

// GeographicTags returns the extra tags that georeference a raster of
// the given pixel dimensions to b in EPSG:4326. Pixel (0,0) is the
// north-west corner.
func GeographicTags(b geo.Bounds, widthPx, heightPx int) map[uint16]interface{} {
	pixelWidth := (b.East - b.West) / float64(widthPx)
	pixelHeight := (b.North - b.South) / float64(heightPx)

	return map[uint16]interface{}{
		// Header (version 1.1.0, 3 keys), then:
		//   GTModelType    = 2 (geographic lat/lon)
		//   GTRasterType   = 1 (pixel is area)
		//   GeographicType = 4326 (WGS 84)
		TagType_GeoKeyDirectoryTag: []uint16{
			1, 1, 0, 3,
			GeoKey_GTModelType, 0, 1, 2,
			GeoKey_GTRasterType, 0, 1, 1,
			GeoKey_GeographicType, 0, 1, 4326,
		},
		TagType_ModelPixelScaleTag: []float64{pixelWidth, pixelHeight, 0.0},
		// Tie raster origin (0,0,0) to the NW corner (west, north).
		TagType_ModelTiepointTag: []float64{0, 0, 0, b.West, b.North, 0},
	}
}
