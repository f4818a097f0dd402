package heatmap

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// OverlayAlpha is the fixed opacity of heatmap pixels, matching the
// dashboard's elevation overlay styling.
const OverlayAlpha = 0.85

// gradientBands holds the five elevation gradient stops. Each band covers
// a 0.2-wide slice of the normalized range and interpolates linearly
// between its endpoint and the next stop.
var gradientBands = []colorful.Color{
	{R: 30 / 255.0, G: 100 / 255.0, B: 120 / 255.0}, // deep blue
	{R: 30 / 255.0, G: 100 / 255.0, B: 255 / 255.0}, // blue
	{R: 30 / 255.0, G: 255 / 255.0, B: 255 / 255.0}, // cyan
	{R: 0, G: 255 / 255.0, B: 0},                    // green
	{R: 255 / 255.0, G: 255 / 255.0, B: 0},          // yellow
	{R: 255 / 255.0, G: 0, B: 0},                    // red
}

// ColorFor maps a normalized value to an overlay color. Values outside
// [0,1] saturate at the gradient ends rather than erroring.
func ColorFor(normalized float64) color.RGBA {
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	bandCount := len(gradientBands) - 1
	band := int(normalized * float64(bandCount))
	if band >= bandCount {
		band = bandCount - 1
	}

	bandWidth := 1.0 / float64(bandCount)
	t := (normalized - float64(band)*bandWidth) / bandWidth

	c := gradientBands[band].BlendRgb(gradientBands[band+1], t)
	r, g, b := c.RGB255()
	alpha := float64(OverlayAlpha*255 + 0.5)
	return color.RGBA{R: r, G: g, B: b, A: uint8(alpha)}
}
