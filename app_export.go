package main

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"time"

	xdraw "golang.org/x/image/draw"

	"archeo-dashboard/internal/geo"
	"archeo-dashboard/internal/heatmap"
	"archeo-dashboard/internal/utils/naming"
	"archeo-dashboard/pkg/geotiff"
)

// Exported heatmap rasters are upscaled to this width so low-resolution
// scans remain legible in GIS tools. Height follows the aspect ratio.
const exportHeatmapWidth = 1024

// ExportResult tells the frontend where an export landed
type ExportResult struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// currentTaskID returns the most recent scan's task id for export
// filenames, or "session" when no scan has been recorded
func (a *App) currentExportTaskID() string {
	if a.findingsDB != nil {
		if scans, err := a.findingsDB.RecentScans(1); err == nil && len(scans) > 0 {
			return scans[0].TaskID
		}
	}
	return "session"
}

// exportDir ensures the configured export directory exists
func (a *App) exportDir() (string, error) {
	dir := a.settings.ExportPath
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	return dir, nil
}

// ExportHeatmap writes the current composited heatmap as a
// georeferenced GeoTIFF (EPSG:4326) into the export directory
func (a *App) ExportHeatmap() (*ExportResult, error) {
	snapshot, _, ok := a.compositor.Snapshot()
	if !ok {
		return nil, fmt.Errorf("no heatmap rendered yet")
	}
	bounds, ok := a.compositor.Bounds()
	if !ok {
		return nil, fmt.Errorf("heatmap mode is not active")
	}

	// Upscale with Catmull-Rom so band edges stay smooth
	srcW := snapshot.Bounds().Dx()
	srcH := snapshot.Bounds().Dy()
	dstW := exportHeatmapWidth
	dstH := int(float64(dstW) * float64(srcH) / float64(srcW))
	if dstH < 1 {
		dstH = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), snapshot, snapshot.Bounds(), xdraw.Over, nil)

	dir, err := a.exportDir()
	if err != nil {
		return nil, err
	}
	taskID := a.currentExportTaskID()
	filename := naming.HeatmapFilename(taskID, bounds, time.Now())
	outputPath := filepath.Join(dir, filename)

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	tags := geotiff.GeographicTags(bounds, dstW, dstH)
	if err := geotiff.Encode(f, scaled, tags); err != nil {
		return nil, fmt.Errorf("failed to encode GeoTIFF: %w", err)
	}

	log.Printf("[App] Exported heatmap to %s (%dx%d)", outputPath, dstW, dstH)
	a.TrackEvent("export", map[string]interface{}{"kind": "heatmap"})
	a.maybeOpenExportDir()

	return &ExportResult{Path: outputPath, Filename: filename}, nil
}

// ExportElevation writes the raw elevation samples of the current
// session as a single-band float32 GeoTIFF. Cells no tile covers are
// nodata.
func (a *App) ExportElevation() (*ExportResult, error) {
	snapshot, _, ok := a.compositor.Snapshot()
	if !ok {
		return nil, fmt.Errorf("no heatmap rendered yet")
	}
	bounds, ok := a.compositor.Bounds()
	if !ok {
		return nil, fmt.Errorf("heatmap mode is not active")
	}

	tiles := a.compositor.Tiles()

	// Fully positioned sessions get an exact sample mosaic; anything
	// else falls back to rasterizing tiles at canvas resolution.
	grid, exact := gridMosaic(tiles)
	if !exact {
		w := snapshot.Bounds().Dx()
		h := snapshot.Bounds().Dy()
		grid = newNaNGrid(w, h)
		for _, tile := range tiles {
			rect, err := geo.PixelRectFor(bounds, tile.Bounds, w, h)
			if err != nil {
				log.Printf("[App] Skipping tile %s in elevation export: %v", tile.ID, err)
				continue
			}
			rasterizeTileGrid(grid, tile.Grid, rect)
		}
	}
	h := len(grid)
	w := len(grid[0])

	dir, err := a.exportDir()
	if err != nil {
		return nil, err
	}
	taskID := a.currentExportTaskID()
	filename := naming.DEMFilename(taskID, bounds, time.Now())
	outputPath := filepath.Join(dir, filename)

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	tags := geotiff.GeographicTags(bounds, w, h)
	if err := geotiff.EncodeFloat32(f, grid, tags); err != nil {
		return nil, fmt.Errorf("failed to encode elevation GeoTIFF: %w", err)
	}

	log.Printf("[App] Exported elevation to %s (%dx%d)", outputPath, w, h)
	a.TrackEvent("export", map[string]interface{}{"kind": "elevation"})
	a.maybeOpenExportDir()

	return &ExportResult{Path: outputPath, Filename: filename}, nil
}

// gridMosaic assembles tile sample grids into one matrix, exact to the
// backend's samples. It applies only when every tile carries a scan
// grid position and the same cell dimensions; mixed sessions fall back
// to canvas rasterization.
func gridMosaic(tiles []*heatmap.Tile) ([][]float64, bool) {
	if len(tiles) == 0 {
		return nil, false
	}
	tileRows, tileCols := tiles[0].Rows(), tiles[0].Cols()
	if tileRows == 0 || tileCols == 0 {
		return nil, false
	}
	for _, t := range tiles {
		if !t.HasGridPos || t.Rows() != tileRows || t.Cols() != tileCols {
			return nil, false
		}
	}

	gb, err := heatmap.CalculateGridBounds(tiles)
	if err != nil {
		return nil, false
	}

	grid := newNaNGrid(gb.Cols()*tileCols, gb.Rows()*tileRows)
	for _, t := range tiles {
		rowOff := (t.GridRow - gb.MinRow) * tileRows
		colOff := (t.GridCol - gb.MinCol) * tileCols
		for r, row := range t.Grid {
			copy(grid[rowOff+r][colOff:colOff+tileCols], row)
		}
	}
	return grid, true
}

func newNaNGrid(w, h int) [][]float64 {
	grid := make([][]float64, h)
	for i := range grid {
		row := make([]float64, w)
		for j := range row {
			row[j] = math.NaN()
		}
		grid[i] = row
	}
	return grid
}

// rasterizeTileGrid nearest-neighbor samples a tile's grid into the
// export grid over the tile's pixel rect
func rasterizeTileGrid(dst [][]float64, src [][]float64, rect geo.PixelRect) {
	rows := len(src)
	if rows == 0 {
		return
	}
	cols := len(src[0])
	if cols == 0 || rect.W <= 0 || rect.H <= 0 {
		return
	}

	for py := 0; py < rect.H; py++ {
		dy := rect.Y + py
		if dy < 0 || dy >= len(dst) {
			continue
		}
		srcRow := py * rows / rect.H
		for px := 0; px < rect.W; px++ {
			dx := rect.X + px
			if dx < 0 || dx >= len(dst[dy]) {
				continue
			}
			dst[dy][dx] = src[srcRow][px*cols/rect.W]
		}
	}
}

// geoJSONFeature is one finding as a GeoJSON point feature
type geoJSONFeature struct {
	Type     string                 `json:"type"`
	Geometry map[string]interface{} `json:"geometry"`
	Props    map[string]interface{} `json:"properties"`
}

// ExportFindings writes a task's archived findings as a GeoJSON
// FeatureCollection
func (a *App) ExportFindings(taskID string) (*ExportResult, error) {
	if a.findingsDB == nil {
		return nil, fmt.Errorf("findings store unavailable")
	}
	found, err := a.findingsDB.ForTask(taskID)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no findings archived for task %s", taskID)
	}

	features := make([]geoJSONFeature, 0, len(found))
	for _, f := range found {
		props := map[string]interface{}{
			"id":         f.ID,
			"type":       f.Type,
			"confidence": f.Confidence,
			"task_id":    taskID,
		}
		if len(f.Metadata) > 0 {
			props["metadata"] = json.RawMessage(f.Metadata)
		}
		features = append(features, geoJSONFeature{
			Type: "Feature",
			Geometry: map[string]interface{}{
				"type":        "Point",
				"coordinates": []float64{f.Lon, f.Lat},
			},
			Props: props,
		})
	}

	collection := map[string]interface{}{
		"type":     "FeatureCollection",
		"features": features,
	}
	payload, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}

	dir, err := a.exportDir()
	if err != nil {
		return nil, err
	}
	filename := naming.FindingsFilename(taskID, time.Now())
	outputPath := filepath.Join(dir, filename)
	if err := os.WriteFile(outputPath, payload, 0644); err != nil {
		return nil, fmt.Errorf("failed to write GeoJSON: %w", err)
	}

	log.Printf("[App] Exported %d findings to %s", len(found), outputPath)
	a.TrackEvent("export", map[string]interface{}{"kind": "findings", "count": len(found)})
	a.maybeOpenExportDir()

	return &ExportResult{Path: outputPath, Filename: filename}, nil
}

// OpenExportFolder opens the export directory in the system file manager
func (a *App) OpenExportFolder() error {
	dir, err := a.exportDir()
	if err != nil {
		return err
	}
	return openInFileManager(dir)
}

func (a *App) maybeOpenExportDir() {
	if !a.settings.AutoOpenExport {
		return
	}
	if err := a.OpenExportFolder(); err != nil {
		log.Printf("[App] Failed to open export folder: %v", err)
	}
}

func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
