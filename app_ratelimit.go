package main

import (
	"archeo-dashboard/internal/ratelimit"
)

// Quota Management Functions (Wails-exported)

// ManualRetryQuota lets the user retry a quota-limited service now
// instead of waiting for the scheduled retry
func (a *App) ManualRetryQuota(service string) {
	a.quotaHandler.ManualRetry(service)
}

// GetQuotaStatus returns the current quota state for a service
func (a *App) GetQuotaStatus(service string) *ratelimit.QuotaEvent {
	return a.quotaHandler.CurrentState(service)
}

// IsQuotaLimited checks if a service is currently quota limited
func (a *App) IsQuotaLimited(service string) bool {
	return a.quotaHandler.IsLimited(service)
}

// SetAutoRetryQuota enables or disables automatic quota retries
func (a *App) SetAutoRetryQuota(enabled bool) {
	a.quotaHandler.SetAutoRetry(enabled)
}

// Cache Management Functions (Wails-exported)

// CacheStats represents raster cache statistics for the frontend
type CacheStats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	SizeMB    float64 `json:"sizeMB"`
	MaxMB     float64 `json:"maxMB"`
	CachePath string  `json:"cachePath"`
}

// GetCacheStats returns current raster cache statistics
func (a *App) GetCacheStats() CacheStats {
	if a.rasterCache == nil {
		return CacheStats{}
	}

	entries, sizeBytes, maxBytes := a.rasterCache.Stats()

	return CacheStats{
		Entries:   entries,
		SizeBytes: sizeBytes,
		MaxBytes:  maxBytes,
		SizeMB:    float64(sizeBytes) / 1024 / 1024,
		MaxMB:     float64(maxBytes) / 1024 / 1024,
		CachePath: a.rasterCache.Dir(),
	}
}

// ClearCache removes all cached raster tiles
func (a *App) ClearCache() error {
	if a.rasterCache != nil {
		return a.rasterCache.Clear()
	}
	return nil
}
