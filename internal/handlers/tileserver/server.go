// Package tileserver runs a local HTTP server the embedded map loads
// tiles and overlays from. Serving over loopback HTTP instead of data
// URLs keeps large heatmap snapshots out of the Wails IPC bridge.
package tileserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"

	"archeo-dashboard/internal/cache"
	"archeo-dashboard/internal/heatmap"
	"archeo-dashboard/internal/raster"
)

// Server serves heatmap overlays and cached raster tiles to the map.
type Server struct {
	ctx         context.Context
	compositor  *heatmap.Compositor
	rasterCache *cache.RasterCache
	url         string
	httpServer  *http.Server

	mu       sync.RWMutex
	session  string
	fetchers map[string]raster.Fetcher
}

// NewServer creates a tile server. The compositor supplies overlay
// snapshots; the raster cache backs the ZXY proxy endpoints.
func NewServer(ctx context.Context, compositor *heatmap.Compositor, rasterCache *cache.RasterCache) *Server {
	return &Server{
		ctx:         ctx,
		compositor:  compositor,
		rasterCache: rasterCache,
		fetchers:    make(map[string]raster.Fetcher),
	}
}

// URL returns the base URL, valid after Start.
func (s *Server) URL() string {
	return s.url
}

// SetSession sets the scan session the overlay endpoint serves.
// Requests for any other session get a 404, so a stale map layer from
// a previous scan can never show the new scan's pixels.
func (s *Server) SetSession(id string) {
	s.mu.Lock()
	s.session = id
	s.mu.Unlock()
}

// RegisterRaster installs the upstream fetcher for a raster type.
// Unregistered types 404.
func (s *Server) RegisterRaster(rasterType string, fetcher raster.Fetcher) {
	s.mu.Lock()
	s.fetchers[rasterType] = fetcher
	s.mu.Unlock()
}

// Fetcher returns the registered fetcher for a raster type.
func (s *Server) Fetcher(rasterType string) (raster.Fetcher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fetchers[rasterType]
	return f, ok
}

// RasterTypes lists the raster types with a registered fetcher.
func (s *Server) RasterTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.fetchers))
	for t := range s.fetchers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// corsMiddleware adds CORS headers to allow requests from the Wails
// frontend. On macOS/Linux, Wails uses the wails://wails origin which
// requires CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start binds a random loopback port and begins serving.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/overlay/", s.handleOverlay)
	mux.HandleFunc("/raster/", s.handleRasterTile)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start tile server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://127.0.0.1:%d", port)
	log.Printf("[TileServer] Started on %s", s.url)

	s.httpServer = &http.Server{
		Handler: corsMiddleware(mux),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[TileServer] Stopped: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(context.Background())
}
