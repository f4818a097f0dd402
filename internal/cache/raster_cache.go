// Package cache stores raster overlay tiles fetched from the
// earth-engine backend. Tiles persist on disk across app restarts in a
// standard ZXY directory layout, with a small in-memory LRU in front so
// the map can re-request the same tiles without touching disk.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryEntries caps the in-memory hot layer. Raster tiles are ~30KB
// PNGs, so this keeps the layer under ~8MB.
const memoryEntries = 256

// RasterCache caches raster tiles on disk with an LRU memory layer.
// Disk structure: baseDir/{rasterType}/{z}/{x}/{y}.png
// Metadata index: baseDir/raster_index.json
type RasterCache struct {
	baseDir   string
	maxSize   int64 // maximum disk usage in bytes
	currSize  int64 // current disk usage (atomic)
	ttl       time.Duration
	mu        sync.RWMutex
	metadata  map[string]*RasterMetadata
	hot       *lru.Cache[string, []byte]
	evictChan chan struct{}
	stopChan  chan struct{}
}

// RasterMetadata describes one cached raster tile.
type RasterMetadata struct {
	Key        string    `json:"key"`
	RasterType string    `json:"rasterType"` // "elevation", "ndvi", "slope", ...
	Z          int       `json:"z"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// NewRasterCache opens (or creates) a raster cache rooted at baseDir.
func NewRasterCache(baseDir string, maxSizeMB int, ttlDays int) (*RasterCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	hot, err := lru.New[string, []byte](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	c := &RasterCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		metadata:  make(map[string]*RasterMetadata),
		hot:       hot,
		evictChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}

	if err := c.loadIndex(); err != nil {
		// Index missing or corrupt: rebuild it from the files on disk.
		if err := c.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("failed to initialize raster cache: %w", err)
		}
	}

	go c.maintenanceWorker()

	return c, nil
}

// Key builds the cache key for a raster tile.
func Key(rasterType string, z, x, y int) string {
	return fmt.Sprintf("%s:%d:%d:%d", rasterType, z, x, y)
}

// Get returns the cached tile bytes, or false on a miss. Expired tiles
// count as misses and are evicted on the way out.
func (c *RasterCache) Get(rasterType string, z, x, y int) ([]byte, bool) {
	key := Key(rasterType, z, x, y)

	if data, ok := c.hot.Get(key); ok {
		c.touch(key)
		return data, true
	}

	c.mu.RLock()
	meta, exists := c.metadata[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if c.ttl > 0 && time.Since(meta.CreateTime) > c.ttl {
		c.evictTile(key, meta)
		return nil, false
	}

	data, err := os.ReadFile(c.filePath(meta))
	if err != nil {
		// File vanished behind our back, drop the index entry.
		c.evictTile(key, meta)
		return nil, false
	}

	c.hot.Add(key, data)
	c.touch(key)
	return data, true
}

// Set stores a raster tile on disk and in the memory layer.
func (c *RasterCache) Set(rasterType string, z, x, y int, data []byte) error {
	key := Key(rasterType, z, x, y)
	now := time.Now()
	meta := &RasterMetadata{
		Key:        key,
		RasterType: rasterType,
		Z:          z,
		X:          x,
		Y:          y,
		Size:       int64(len(data)),
		AccessTime: now,
		CreateTime: now,
	}

	path := c.filePath(meta)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.mu.Lock()
	if old, exists := c.metadata[key]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
	}
	c.metadata[key] = meta
	c.mu.Unlock()

	atomic.AddInt64(&c.currSize, meta.Size)
	c.hot.Add(key, data)

	if atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	go c.saveIndex()

	return nil
}

func (c *RasterCache) touch(key string) {
	c.mu.Lock()
	if meta, ok := c.metadata[key]; ok {
		meta.AccessTime = time.Now()
	}
	c.mu.Unlock()
}

// filePath maps a tile to {baseDir}/{rasterType}/{z}/{x}/{y}.png.
func (c *RasterCache) filePath(meta *RasterMetadata) string {
	return filepath.Join(c.baseDir, meta.RasterType,
		strconv.Itoa(meta.Z), strconv.Itoa(meta.X),
		fmt.Sprintf("%d.png", meta.Y))
}

func (c *RasterCache) evictTile(key string, meta *RasterMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	os.Remove(c.filePath(meta))
	delete(c.metadata, key)
	c.hot.Remove(key)
	atomic.AddInt64(&c.currSize, -meta.Size)
}

func (c *RasterCache) maintenanceWorker() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.evictChan:
			c.evictLRU()
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

// Close stops the background maintenance worker.
func (c *RasterCache) Close() {
	close(c.stopChan)
}

// evictLRU removes least recently used tiles until disk usage drops to
// 80% of the limit, so back-to-back Sets don't thrash the evictor.
func (c *RasterCache) evictLRU() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}
	targetSize := c.maxSize * 8 / 10

	entries := make([]*RasterMetadata, 0, len(c.metadata))
	for _, meta := range c.metadata {
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	for _, meta := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(c.filePath(meta))
		delete(c.metadata, meta.Key)
		c.hot.Remove(meta.Key)
		atomic.AddInt64(&c.currSize, -meta.Size)
		currSize -= meta.Size
	}

	c.saveIndexLocked()
}

func (c *RasterCache) evictExpired() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	evicted := 0
	for key, meta := range c.metadata {
		if now.Sub(meta.CreateTime) > c.ttl {
			os.Remove(c.filePath(meta))
			delete(c.metadata, key)
			c.hot.Remove(key)
			atomic.AddInt64(&c.currSize, -meta.Size)
			evicted++
		}
	}

	if evicted > 0 {
		c.saveIndexLocked()
	}
}

func (c *RasterCache) indexPath() string {
	return filepath.Join(c.baseDir, "raster_index.json")
}

func (c *RasterCache) loadIndex() error {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}

	var metadata map[string]*RasterMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse cache index: %w", err)
	}
	c.metadata = metadata

	var totalSize int64
	for _, meta := range metadata {
		totalSize += meta.Size
	}
	atomic.StoreInt64(&c.currSize, totalSize)

	return nil
}

func (c *RasterCache) saveIndex() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveIndexLocked()
}

// saveIndexLocked writes the index via a temp file rename so a crash
// mid-write can't corrupt it. Caller must hold at least a read lock.
func (c *RasterCache) saveIndexLocked() error {
	data, err := json.MarshalIndent(c.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}

	tempPath := c.indexPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	if err := os.Rename(tempPath, c.indexPath()); err != nil {
		return fmt.Errorf("failed to rename cache index: %w", err)
	}
	return nil
}

// rebuildIndex rescans {rasterType}/{z}/{x}/{y}.png paths on disk.
func (c *RasterCache) rebuildIndex() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metadata = make(map[string]*RasterMetadata)
	var totalSize int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".png" {
			return nil
		}

		relPath, _ := filepath.Rel(c.baseDir, path)
		parts := strings.Split(relPath, string(os.PathSeparator))
		if len(parts) != 4 {
			return nil
		}

		rasterType := parts[0]
		z, errZ := strconv.Atoi(parts[1])
		x, errX := strconv.Atoi(parts[2])
		y, errY := strconv.Atoi(strings.TrimSuffix(parts[3], ".png"))
		if errZ != nil || errX != nil || errY != nil {
			return nil
		}

		key := Key(rasterType, z, x, y)
		c.metadata[key] = &RasterMetadata{
			Key:        key,
			RasterType: rasterType,
			Z:          z,
			X:          x,
			Y:          y,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	atomic.StoreInt64(&c.currSize, totalSize)
	return c.saveIndexLocked()
}

// Stats returns entry count and disk usage.
func (c *RasterCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metadata), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes all cached tiles from disk and memory.
func (c *RasterCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, meta := range c.metadata {
		os.Remove(c.filePath(meta))
	}
	c.metadata = make(map[string]*RasterMetadata)
	c.hot.Purge()
	atomic.StoreInt64(&c.currSize, 0)

	return c.saveIndexLocked()
}

// Dir returns the cache root.
func (c *RasterCache) Dir() string {
	return c.baseDir
}
