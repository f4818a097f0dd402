package tileserver

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"archeo-dashboard/internal/heatmap"
)

// handleOverlay serves the current heatmap snapshot as a PNG.
// URL format: /overlay/{session}.png
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/overlay/")
	session := strings.TrimSuffix(path, ".png")
	if session == "" || strings.Contains(session, "/") {
		http.Error(w, "Invalid URL format. Expected: /overlay/{session}.png", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	current := s.session
	s.mu.RUnlock()
	if session != current {
		http.Error(w, "Unknown overlay session", http.StatusNotFound)
		return
	}

	data, err := s.compositor.RenderPNG()
	if err != nil {
		if errors.Is(err, heatmap.ErrHeatmapInactive) {
			http.Error(w, "Heatmap mode is not active", http.StatusNotFound)
			return
		}
		log.Printf("[TileServer] Overlay render failed: %v", err)
		http.Error(w, "Failed to render overlay", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	// The overlay changes as tiles arrive; the map must always refetch.
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}
