package main

import (
	"log"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"archeo-dashboard/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk and updates app state
func (a *App) SaveSettings(settings *config.UserSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := config.SaveSettings(settings); err != nil {
		return err
	}
	a.settings = settings

	// Backend URL, poll interval and cache sizing apply on next restart
	log.Printf("Settings saved. Connection and cache settings apply on next restart.")
	return nil
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// SelectExportFolder shows a directory picker and persists the choice
func (a *App) SelectExportFolder() (string, error) {
	path, err := wailsRuntime.OpenDirectoryDialog(a.ctx, wailsRuntime.OpenDialogOptions{
		Title:            "Select Export Folder",
		DefaultDirectory: a.settings.ExportPath,
	})
	if err != nil || path == "" {
		return a.settings.ExportPath, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings.ExportPath = path
	if err := config.SaveSettings(a.settings); err != nil {
		return path, err
	}
	log.Printf("Export folder set to %s", path)
	return path, nil
}

// SaveMapPosition remembers the last viewed location so the map reopens
// there. Called on app close or after the user stops panning.
func (a *App) SaveMapPosition(lat, lon float64, zoom int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.DefaultCenterLat = lat
	a.settings.DefaultCenterLon = lon
	a.settings.DefaultZoom = zoom

	if err := config.SaveSettings(a.settings); err != nil {
		return err
	}

	log.Printf("Saved map position: lat=%.6f, lon=%.6f, zoom=%d", lat, lon, zoom)
	return nil
}
