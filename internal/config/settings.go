package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Backend connection
	BackendURL          string `json:"backendUrl"`
	WebSocketURL        string `json:"webSocketUrl"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`

	// Cache settings
	CacheMaxSizeMB int `json:"cacheMaxSizeMB"`
	CacheTTLDays   int `json:"cacheTTLDays"`

	// Default map settings
	DefaultZoom      int     `json:"defaultZoom"`
	DefaultCenterLat float64 `json:"defaultCenterLat"`
	DefaultCenterLon float64 `json:"defaultCenterLon"`

	// Scan defaults
	DefaultRangeKm   float64 `json:"defaultRangeKm"`
	DefaultDataset   string  `json:"defaultDataset"`
	PrefetchWorkers  int     `json:"prefetchWorkers"`
	PrefetchOverlays bool    `json:"prefetchOverlays"`

	// Export settings
	ExportPath     string `json:"exportPath"`
	AutoOpenExport bool   `json:"autoOpenExport"`

	// UI preferences
	Theme           string `json:"theme"` // "light", "dark", "system"
	ShowCoordinates bool   `json:"showCoordinates"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()
	exportPath := filepath.Join(homeDir, "Downloads", "archeo-exports")

	return &UserSettings{
		BackendURL:          "http://localhost:8000",
		WebSocketURL:        "ws://localhost:8000/ws",
		PollIntervalSeconds: 5,
		CacheMaxSizeMB:      250,
		CacheTTLDays:        30,
		DefaultZoom:         11,
		DefaultCenterLat:    -3.4653, // central Amazon basin
		DefaultCenterLon:    -62.2159,
		DefaultRangeKm:      10,
		DefaultDataset:      "srtm",
		PrefetchWorkers:     4,
		PrefetchOverlays:    true,
		ExportPath:          exportPath,
		AutoOpenExport:      true,
		Theme:               "system",
		ShowCoordinates:     false,
	}
}

// GetSettingsPath returns the OS-specific settings file path
func GetSettingsPath() string {
	homeDir, _ := os.UserHomeDir()

	baseDir := filepath.Join(homeDir, ".archeo-dashboard", "settings")
	os.MkdirAll(baseDir, 0755)

	return filepath.Join(baseDir, "settings.json")
}

// LoadSettings loads user settings from disk
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads user settings from an explicit path,
// merging defaults into any missing fields.
func LoadSettingsFrom(settingsPath string) (*UserSettings, error) {
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.BackendURL == "" {
		settings.BackendURL = defaults.BackendURL
	}
	if settings.WebSocketURL == "" {
		settings.WebSocketURL = defaults.WebSocketURL
	}
	if settings.PollIntervalSeconds == 0 {
		settings.PollIntervalSeconds = defaults.PollIntervalSeconds
	}
	if settings.CacheMaxSizeMB == 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.CacheTTLDays == 0 {
		settings.CacheTTLDays = defaults.CacheTTLDays
	}
	if settings.DefaultZoom == 0 {
		settings.DefaultZoom = defaults.DefaultZoom
	}
	if settings.DefaultCenterLat == 0 && settings.DefaultCenterLon == 0 {
		settings.DefaultCenterLat = defaults.DefaultCenterLat
		settings.DefaultCenterLon = defaults.DefaultCenterLon
	}
	if settings.DefaultRangeKm == 0 {
		settings.DefaultRangeKm = defaults.DefaultRangeKm
	}
	if settings.DefaultDataset == "" {
		settings.DefaultDataset = defaults.DefaultDataset
	}
	if settings.PrefetchWorkers == 0 {
		settings.PrefetchWorkers = defaults.PrefetchWorkers
	}
	if settings.ExportPath == "" {
		settings.ExportPath = defaults.ExportPath
	}
	if settings.Theme == "" {
		settings.Theme = defaults.Theme
	}

	return &settings, nil
}

// SaveSettings saves user settings to disk
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// SaveSettingsTo saves user settings to an explicit path
func SaveSettingsTo(settingsPath string, settings *UserSettings) error {
	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks settings for values the app cannot run with.
func (s *UserSettings) Validate() error {
	if s.BackendURL == "" {
		return fmt.Errorf("backend URL is required")
	}
	if s.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll interval must be at least 1 second")
	}
	if s.DefaultRangeKm <= 0 || s.DefaultRangeKm > 100 {
		return fmt.Errorf("default range must be between 0 and 100 km")
	}
	switch s.Theme {
	case "light", "dark", "system":
	default:
		return fmt.Errorf("invalid theme: %s (must be light, dark, or system)", s.Theme)
	}
	return nil
}
