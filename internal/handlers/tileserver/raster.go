package tileserver

import (
	"bytes"
	"image"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"archeo-dashboard/internal/raster"
)

// handleRasterTile serves raster tiles through the persistent cache.
// URL format: /raster/{type}/{z}/{x}/{y}
func (s *Server) handleRasterTile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/raster/")
	parts := strings.Split(path, "/")

	if len(parts) != 4 {
		http.Error(w, "Invalid URL format. Expected: /raster/{type}/{z}/{x}/{y}", http.StatusBadRequest)
		return
	}

	rasterType := parts[0]
	z, err := strconv.Atoi(parts[1])
	if err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(parts[2])
	if err != nil {
		http.Error(w, "Invalid X coordinate", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(strings.TrimSuffix(parts[3], ".png"))
	if err != nil {
		http.Error(w, "Invalid Y coordinate", http.StatusBadRequest)
		return
	}

	if data, found := s.cacheGet(rasterType, z, x, y); found {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=31536000") // 1 year cache
		w.Header().Set("X-Cache-Status", "HIT")
		w.Write(data)
		return
	}

	s.mu.RLock()
	fetcher, ok := s.fetchers[rasterType]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "Unknown raster type "+rasterType, http.StatusNotFound)
		return
	}

	data, err := fetcher.FetchTile(r.Context(), raster.TileCoord{X: x, Y: y, Z: z})
	if err != nil {
		log.Printf("[TileServer] Failed to fetch %s tile %d/%d/%d: %v", rasterType, z, x, y, err)
		// Serve a transparent tile so the map doesn't show broken images
		serveTransparentTile(w)
		return
	}

	if s.rasterCache != nil {
		if err := s.rasterCache.Set(rasterType, z, x, y, data); err != nil {
			log.Printf("[TileServer] Failed to cache %s tile %d/%d/%d: %v", rasterType, z, x, y, err)
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=31536000") // 1 year cache
	w.Header().Set("X-Cache-Status", "MISS")
	w.Write(data)
}

// cacheGet is a nil-safe cache lookup; the server runs cacheless when
// the cache failed to initialize.
func (s *Server) cacheGet(rasterType string, z, x, y int) ([]byte, bool) {
	if s.rasterCache == nil {
		return nil, false
	}
	return s.rasterCache.Get(rasterType, z, x, y)
}

var transparentTile = sync.OnceValue(func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
})

func serveTransparentTile(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(transparentTile())
}
