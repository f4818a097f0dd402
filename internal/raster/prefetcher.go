package raster

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"archeo-dashboard/internal/cache"
	"archeo-dashboard/internal/geo"
)

// Fetcher fetches one raster tile.
type Fetcher interface {
	FetchTile(ctx context.Context, coord TileCoord) ([]byte, error)
}

// StatusError reports a non-200 tile response. Callers use the code to
// detect quota exhaustion (429/403).
type StatusError struct {
	Coord      TileCoord
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tile %d/%d/%d returned status %d", e.Coord.Z, e.Coord.X, e.Coord.Y, e.StatusCode)
}

// HTTPFetcher fetches tiles from a URL template containing {z}, {x}
// and {y} placeholders, as returned by the backend's raster endpoint.
type HTTPFetcher struct {
	Template   string
	HTTPClient *http.Client
}

func NewHTTPFetcher(template string) *HTTPFetcher {
	return &HTTPFetcher{
		Template: template,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 8,
			},
		},
	}
}

func (f *HTTPFetcher) FetchTile(ctx context.Context, coord TileCoord) ([]byte, error) {
	url := strings.NewReplacer(
		"{z}", strconv.Itoa(coord.Z),
		"{x}", strconv.Itoa(coord.X),
		"{y}", strconv.Itoa(coord.Y),
	).Replace(f.Template)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "archeo-dashboard/1.0")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile %d/%d/%d: %w", coord.Z, coord.X, coord.Y, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Coord: coord, StatusCode: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

// Prefetcher downloads raster tiles for a region with a worker pool
// and stores them in the raster cache.
type Prefetcher struct {
	workers int
	cache   *cache.RasterCache
}

func NewPrefetcher(workers int, cache *cache.RasterCache) *Prefetcher {
	if workers <= 0 {
		workers = 4
	}
	return &Prefetcher{workers: workers, cache: cache}
}

// Result summarizes a prefetch run.
type Result struct {
	Total   int
	Fetched int
	Cached  int
	Failed  int
}

// Prefetch warms the cache with every tile covering bounds at the
// given zoom. Already-cached tiles are skipped. Individual tile
// failures are logged and counted, not fatal; the context cancels the
// whole run.
func (p *Prefetcher) Prefetch(
	ctx context.Context,
	rasterType string,
	fetcher Fetcher,
	bounds geo.Bounds,
	zoom int,
	onProgress func(completed, total int),
) (*Result, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if p.cache == nil {
		return nil, fmt.Errorf("raster cache unavailable")
	}

	tiles := TilesForBounds(bounds, zoom)
	total := len(tiles)

	var completed, fetched, cachedHits, failed int64

	tileChan := make(chan TileCoord, total)
	for _, t := range tiles {
		tileChan <- t
	}
	close(tileChan)

	workerCount := p.workers
	if total < workerCount {
		workerCount = total
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for coord := range tileChan {
				if ctx.Err() != nil {
					return
				}

				if _, ok := p.cache.Get(rasterType, coord.Z, coord.X, coord.Y); ok {
					atomic.AddInt64(&cachedHits, 1)
				} else {
					data, err := fetcher.FetchTile(ctx, coord)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("[Raster] Prefetch %s %d/%d/%d failed: %v",
							rasterType, coord.Z, coord.X, coord.Y, err)
						atomic.AddInt64(&failed, 1)
					} else {
						if err := p.cache.Set(rasterType, coord.Z, coord.X, coord.Y, data); err != nil {
							log.Printf("[Raster] Cache write failed: %v", err)
						}
						atomic.AddInt64(&fetched, 1)
					}
				}

				done := atomic.AddInt64(&completed, 1)
				if onProgress != nil {
					onProgress(int(done), total)
				}
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Total:   total,
		Fetched: int(atomic.LoadInt64(&fetched)),
		Cached:  int(atomic.LoadInt64(&cachedHits)),
		Failed:  int(atomic.LoadInt64(&failed)),
	}
	log.Printf("[Raster] Prefetched %s: %d fetched, %d cached, %d failed of %d",
		rasterType, res.Fetched, res.Cached, res.Failed, res.Total)
	return res, nil
}
