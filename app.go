package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"archeo-dashboard/internal/cache"
	"archeo-dashboard/internal/config"
	"archeo-dashboard/internal/earthengine"
	"archeo-dashboard/internal/findings"
	"archeo-dashboard/internal/geo"
	"archeo-dashboard/internal/handlers/tileserver"
	"archeo-dashboard/internal/heatmap"
	"archeo-dashboard/internal/poller"
	"archeo-dashboard/internal/raster"
	"archeo-dashboard/internal/ratelimit"
	"archeo-dashboard/internal/stream"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

const rasterQuotaService = "raster"

// ScanRequest is the frontend's request to analyse a region. The
// coordinates are the true center of the region; the range is its
// metric extent.
type ScanRequest struct {
	CenterLat float64  `json:"centerLat"`
	CenterLon float64  `json:"centerLon"`
	WidthKm   float64  `json:"widthKm"`
	HeightKm  float64  `json:"heightKm"`
	Datasets  []string `json:"datasets,omitempty"`
}

// ScanInfo is what StartScan hands back to the frontend
type ScanInfo struct {
	TaskID     string     `json:"taskId"`
	SessionID  string     `json:"sessionId"`
	Bounds     geo.Bounds `json:"bounds"`
	OverlayURL string     `json:"overlayUrl"`
}

// RasterOverlayInfo tells the frontend where to load an XYZ raster
// layer from. The URL points at the local tile server, which proxies
// and caches the backend's tiles.
type RasterOverlayInfo struct {
	RasterType  string `json:"rasterType"`
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
}

// App struct
type App struct {
	ctx          context.Context
	eeClient     *earthengine.Client
	compositor   *heatmap.Compositor
	taskPoller   *poller.Poller
	streamClient *stream.Client
	tileServer   *tileserver.Server
	rasterCache  *cache.RasterCache
	prefetcher   *raster.Prefetcher
	quotaHandler *ratelimit.Handler
	findingsDB   *findings.Store
	settings     *config.UserSettings
	phClient     posthog.Client

	mu        sync.Mutex
	sessionID string
	finished  map[string]bool // tasks already handed to a terminal handler
	devMode   bool
}

// NewApp creates a new App application struct
func NewApp() *App {
	// Load user settings
	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	log.Printf("Settings loaded from: %s", config.GetSettingsPath())

	// Initialize raster cache with settings
	cacheDir := cache.GetCacheDir()
	rasterCache, err := cache.NewRasterCache(cacheDir, settings.CacheMaxSizeMB, settings.CacheTTLDays)
	if err != nil {
		log.Printf("Failed to initialize raster cache: %v", err)
		rasterCache = nil // Continue without cache
	} else {
		log.Printf("Raster cache initialized at %s (max %d MB)", cacheDir, settings.CacheMaxSizeMB)
	}

	// Initialize PostHog
	var phClient posthog.Client
	if PostHogKey != "" {
		phConfig := posthog.Config{
			Endpoint: PostHogHost,
		}
		client, err := posthog.NewWithConfig(PostHogKey, phConfig)
		if err != nil {
			log.Printf("Failed to initialize PostHog: %v", err)
		} else {
			phClient = client
		}
	}

	// Open the findings archive
	homeDir, _ := os.UserHomeDir()
	findingsPath := filepath.Join(homeDir, ".archeo-dashboard", "findings.db")
	findingsDB, err := findings.Open(findingsPath)
	if err != nil {
		log.Printf("Failed to open findings store: %v", err)
		findingsDB = nil // Continue without the archive
	} else {
		log.Printf("Findings store opened at %s", findingsPath)
	}

	a := &App{
		eeClient:     earthengine.NewClient(settings.BackendURL),
		rasterCache:  rasterCache,
		prefetcher:   raster.NewPrefetcher(settings.PrefetchWorkers, rasterCache),
		quotaHandler: ratelimit.NewHandler(ratelimit.DefaultRetryStrategy()),
		findingsDB:   findingsDB,
		settings:     settings,
		phClient:     phClient,
		finished:     make(map[string]bool),
	}

	a.compositor = heatmap.NewCompositor(a.onHeatmapFrame)

	a.taskPoller = poller.New(a.eeClient,
		time.Duration(settings.PollIntervalSeconds)*time.Second,
		poller.Callbacks{
			OnRunning:   a.onTaskRunning,
			OnProgress:  a.onTaskProgress,
			OnCompleted: a.onTaskCompleted,
			OnFailed:    a.onTaskFailed,
			OnCancelled: a.onTaskCancelled,
			OnTaskGone:  a.onTaskGone,
		})

	a.streamClient = stream.New(settings.WebSocketURL, stream.Callbacks{
		OnTaskProgress:  a.onStreamProgress,
		OnTaskCompleted: a.onStreamCompleted,
		OnTaskFailed:    a.onStreamFailed,
		OnTaskCancelled: a.onStreamCancelled,
		OnTile:          a.onStreamTile,
		OnConnected:     func() { log.Printf("[App] Stream connected") },
		OnDisconnected:  func(err error) { log.Printf("[App] Stream disconnected: %v", err) },
	})

	return a
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	// Create export directory if it doesn't exist
	os.MkdirAll(a.settings.ExportPath, 0755)

	// Start the local tile server serving the heatmap overlay and
	// cached raster proxies to the embedded map
	a.tileServer = tileserver.NewServer(ctx, a.compositor, a.rasterCache)
	go func() {
		if err := a.tileServer.Start(); err != nil {
			wailsRuntime.LogError(ctx, fmt.Sprintf("Tile server failed: %v", err))
		}
	}()

	// Surface quota transitions as notifications
	a.quotaHandler.SetOnQuota(func(event ratelimit.QuotaEvent) {
		a.emitNotification("Quota exceeded", event.Message, "warning")
		wailsRuntime.EventsEmit(ctx, "quota-update", event)
	})
	a.quotaHandler.SetOnRetry(func(event ratelimit.QuotaEvent) {
		wailsRuntime.EventsEmit(ctx, "quota-update", event)
	})
	a.quotaHandler.SetOnRecovered(func(service string) {
		a.emitNotification("Quota recovered", "Raster overlay requests resumed", "success")
		wailsRuntime.EventsEmit(ctx, "quota-recovered", service)
	})

	a.streamClient.Start()

	// Probe the backend in the background
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		status, err := a.eeClient.Status(probeCtx)
		if err != nil {
			wailsRuntime.LogError(ctx, fmt.Sprintf("Backend unreachable: %v", err))
			a.emitNotification("Backend unreachable",
				"Could not reach the analysis backend at "+a.eeClient.BaseURL(), "error")
			return
		}
		if !status.Available {
			a.emitNotification("Backend unavailable", status.Message, "warning")
		}
	}()

	// Track app start
	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// shutdown cleans up resources
func (a *App) shutdown(ctx context.Context) {
	a.taskPoller.StopAll()
	a.streamClient.Stop()
	if a.tileServer != nil {
		a.tileServer.Stop()
	}
	a.quotaHandler.Close()
	if a.rasterCache != nil {
		a.rasterCache.Close()
	}
	if a.findingsDB != nil {
		a.findingsDB.Close()
	}
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient != nil {
		a.phClient.Enqueue(posthog.Capture{
			DistinctId: "backend_user",
			Event:      event,
			Properties: props,
		})
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// emitNotification shows a transient toast in the frontend
func (a *App) emitNotification(title, message, notifType string) {
	if a.ctx == nil {
		return
	}
	wailsRuntime.EventsEmit(a.ctx, "system-notification", map[string]interface{}{
		"title":   title,
		"message": message,
		"type":    notifType,
	})
}

// emitLog sends a log message to the frontend (only in dev mode)
func (a *App) emitLog(message string) {
	if a.devMode && a.ctx != nil {
		wailsRuntime.EventsEmit(a.ctx, "log", message)
	}
}

// overlayURL returns the heatmap overlay address for the given session
func (a *App) overlayURL(sessionID string) string {
	if a.tileServer == nil || sessionID == "" {
		return ""
	}
	return a.tileServer.URL() + "/overlay/" + sessionID + ".png"
}

// onHeatmapFrame is the compositor's frame callback. Every repaint and
// every wipe step lands here; the frontend reloads the overlay image.
func (a *App) onHeatmapFrame(generation uint64) {
	a.mu.Lock()
	session := a.sessionID
	a.mu.Unlock()

	if a.ctx == nil || session == "" {
		return
	}
	wailsRuntime.EventsEmit(a.ctx, "heatmap-updated", map[string]interface{}{
		"url":        fmt.Sprintf("%s?g=%d", a.overlayURL(session), generation),
		"generation": generation,
	})
}

// ===================
// Scan lifecycle
// ===================

// GetBackendStatus fetches the backend capability document
func (a *App) GetBackendStatus() (*earthengine.SystemStatus, error) {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	return a.eeClient.Status(ctx)
}

// GetDatasets fetches the data layers the backend can scan
func (a *App) GetDatasets() ([]earthengine.Dataset, error) {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	return a.eeClient.Datasets(ctx)
}

// StartScan submits a region for analysis and begins tracking the task
func (a *App) StartScan(req ScanRequest) (*ScanInfo, error) {
	if req.WidthKm <= 0 || req.HeightKm <= 0 {
		return nil, fmt.Errorf("scan range must be positive, got %gx%g km", req.WidthKm, req.HeightKm)
	}
	bounds := geo.FromCenterKm(req.CenterLat, req.CenterLon, req.WidthKm, req.HeightKm)
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan region: %w", err)
	}

	datasets := req.Datasets
	if len(datasets) == 0 && a.settings.DefaultDataset != "" {
		datasets = []string{a.settings.DefaultDataset}
	}

	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()
	taskID, err := a.eeClient.ProcessRegion(ctx, earthengine.ProcessRegionRequest{
		StartCoordinates: earthengine.Coordinates{Lat: req.CenterLat, Lon: req.CenterLon},
		Range:            earthengine.RangeKm{WidthKm: req.WidthKm, HeightKm: req.HeightKm},
		Datasets:         datasets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit scan: %w", err)
	}

	sessionID := uuid.NewString()
	a.mu.Lock()
	a.sessionID = sessionID
	delete(a.finished, taskID)
	a.mu.Unlock()
	if a.tileServer != nil {
		a.tileServer.SetSession(sessionID)
	}

	if a.findingsDB != nil {
		err := a.findingsDB.RecordScan(&findings.Scan{
			TaskID:    taskID,
			Dataset:   firstOr(datasets, ""),
			CenterLat: req.CenterLat,
			CenterLon: req.CenterLon,
			WidthKm:   req.WidthKm,
			HeightKm:  req.HeightKm,
			Status:    string(earthengine.TaskStatusPending),
		})
		if err != nil {
			log.Printf("[App] Failed to record scan %s: %v", taskID, err)
		}
	}

	a.taskPoller.StartPolling(taskID)

	a.TrackEvent("scan_started", map[string]interface{}{
		"width_km":  req.WidthKm,
		"height_km": req.HeightKm,
		"datasets":  datasets,
	})

	log.Printf("[App] Scan %s submitted (session %s)", taskID, sessionID)
	a.emitLog(fmt.Sprintf("Scan %s submitted over %.1fx%.1f km", taskID, req.WidthKm, req.HeightKm))
	return &ScanInfo{
		TaskID:     taskID,
		SessionID:  sessionID,
		Bounds:     bounds,
		OverlayURL: a.overlayURL(sessionID),
	}, nil
}

// StopScan stops tracking a task and clears the heatmap overlay
func (a *App) StopScan(taskID string) {
	a.taskPoller.StopPolling(taskID)
	a.compositor.DisableHeatmapMode()

	a.mu.Lock()
	a.sessionID = ""
	a.mu.Unlock()
	if a.tileServer != nil {
		a.tileServer.SetSession("")
	}
}

// GetTask fetches the current backend state of a task
func (a *App) GetTask(taskID string) (*earthengine.Task, error) {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	return a.eeClient.GetTask(ctx, taskID)
}

// GetTasks lists backend-tracked tasks for the dashboard sidebar.
// minDecay > 0 filters out tasks whose relevance has decayed below it.
func (a *App) GetTasks(minDecay float64) ([]earthengine.Task, error) {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	return a.eeClient.ListTasks(ctx, minDecay)
}

// NavigateToTask fetches the backend's map framing for a task and
// flies the map there
func (a *App) NavigateToTask(taskID string) (*earthengine.Navigation, error) {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()

	nav, err := a.eeClient.TaskNavigation(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch navigation for task %s: %w", taskID, err)
	}

	bounds := nav.GeoBounds()
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("backend returned invalid navigation bounds for task %s: %w", taskID, err)
	}

	wailsRuntime.EventsEmit(a.ctx, "navigate-to-task", map[string]interface{}{
		"taskId": taskID,
		"bounds": bounds,
		"levels": nav.Levels,
	})
	return nav, nil
}

// ResumeTask re-attaches the dashboard to an already-running backend
// task, e.g. after an app restart
func (a *App) ResumeTask(taskID string) (*ScanInfo, error) {
	task, err := a.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s already finished (%s)", taskID, task.Status)
	}

	sessionID := uuid.NewString()
	a.mu.Lock()
	a.sessionID = sessionID
	delete(a.finished, taskID)
	a.mu.Unlock()
	if a.tileServer != nil {
		a.tileServer.SetSession(sessionID)
	}

	a.taskPoller.StartPolling(taskID)
	return &ScanInfo{
		TaskID:     taskID,
		SessionID:  sessionID,
		Bounds:     task.Bounds(),
		OverlayURL: a.overlayURL(sessionID),
	}, nil
}

// ===================
// Poller callbacks
// ===================

func (a *App) onTaskRunning(task *earthengine.Task, first bool) {
	if first {
		bounds := task.Bounds()
		if err := a.compositor.EnableHeatmapMode(&bounds); err != nil {
			log.Printf("[App] Failed to enable heatmap for task %s: %v", task.ID, err)
		}

		a.mu.Lock()
		session := a.sessionID
		a.mu.Unlock()

		// Fly the map to the scan region
		wailsRuntime.EventsEmit(a.ctx, "scan-started", map[string]interface{}{
			"taskId":     task.ID,
			"bounds":     bounds,
			"overlayUrl": a.overlayURL(session),
		})

		if a.settings.PrefetchOverlays {
			go a.prefetchRegionRasters(bounds)
		}
	}

	if a.findingsDB != nil {
		if err := a.findingsDB.UpdateScanStatus(task.ID, string(task.Status)); err != nil {
			log.Printf("[App] Failed to update scan %s: %v", task.ID, err)
		}
	}
}

func (a *App) onTaskProgress(task *earthengine.Task) {
	wailsRuntime.EventsEmit(a.ctx, "task-progress", map[string]interface{}{
		"taskId":   task.ID,
		"progress": task.Progress,
	})
}

// claimFinished returns true the first time a terminal handler runs for
// the task. The poller and the stream can both observe the terminal
// state; only one of them gets to act on it.
func (a *App) claimFinished(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished[taskID] {
		return false
	}
	a.finished[taskID] = true
	return true
}

func (a *App) onTaskCompleted(task *earthengine.Task) {
	if !a.claimFinished(task.ID) {
		return
	}

	// Everything streamed so far is final; paint it all
	a.compositor.RevealAll()

	if a.findingsDB != nil {
		if err := a.findingsDB.UpdateScanStatus(task.ID, string(task.Status)); err != nil {
			log.Printf("[App] Failed to update scan %s: %v", task.ID, err)
		}
		if len(task.Findings) > 0 {
			if err := a.findingsDB.SaveFindings(task.ID, task.Findings); err != nil {
				log.Printf("[App] Failed to archive findings for %s: %v", task.ID, err)
			}
		}
	}

	wailsRuntime.EventsEmit(a.ctx, "task-complete", map[string]interface{}{
		"taskId":   task.ID,
		"success":  true,
		"findings": task.Findings,
		"results":  task.Results,
	})
	a.emitNotification("Scan complete",
		fmt.Sprintf("Analysis finished with %d findings", len(task.Findings)), "success")

	a.TrackEvent("scan_complete", map[string]interface{}{
		"findings": len(task.Findings),
	})
}

func (a *App) onTaskFailed(task *earthengine.Task) {
	if !a.claimFinished(task.ID) {
		return
	}
	if a.findingsDB != nil {
		a.findingsDB.UpdateScanStatus(task.ID, string(task.Status))
	}
	wailsRuntime.EventsEmit(a.ctx, "task-complete", map[string]interface{}{
		"taskId":  task.ID,
		"success": false,
		"error":   task.Error,
	})
	a.emitNotification("Scan failed", task.Error, "error")
}

func (a *App) onTaskCancelled(task *earthengine.Task) {
	if !a.claimFinished(task.ID) {
		return
	}
	if a.findingsDB != nil {
		a.findingsDB.UpdateScanStatus(task.ID, string(task.Status))
	}
	wailsRuntime.EventsEmit(a.ctx, "task-complete", map[string]interface{}{
		"taskId":  task.ID,
		"success": false,
		"error":   "cancelled",
	})
	a.emitNotification("Scan cancelled", "The analysis task was cancelled", "warning")
}

func (a *App) onTaskGone(taskID string) {
	if !a.claimFinished(taskID) {
		return
	}
	wailsRuntime.EventsEmit(a.ctx, "task-complete", map[string]interface{}{
		"taskId":  taskID,
		"success": false,
		"error":   "task no longer known to the backend",
	})
	a.emitNotification("Scan lost", "The backend no longer knows this task", "error")
}

// ===================
// Stream callbacks
// ===================

func (a *App) onStreamTile(msg *earthengine.TileMessage) {
	tile, err := msg.ToTile()
	if err != nil {
		log.Printf("[App] Dropping streamed tile: %v", err)
		return
	}
	if err := a.compositor.AddTile(tile); err != nil {
		log.Printf("[App] Compositor rejected tile %s: %v", tile.ID, err)
		return
	}
	a.emitLog(fmt.Sprintf("Tile %s queued (%d in session)", tile.ID, a.compositor.TileCount()))
}

func (a *App) onStreamProgress(taskID string, progress float64) {
	wailsRuntime.EventsEmit(a.ctx, "task-progress", map[string]interface{}{
		"taskId":   taskID,
		"progress": progress,
	})
}

// finalizeStreamed handles a terminal state pushed over the stream.
// The push carries no findings, so fetch the final task once; the
// claimFinished guard keeps the poller from double-reporting.
func (a *App) finalizeStreamed(taskID string) {
	a.taskPoller.StopPolling(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	task, err := a.eeClient.GetTask(ctx, taskID)
	if err != nil {
		log.Printf("[App] Failed to fetch final state of %s: %v", taskID, err)
		a.onTaskGone(taskID)
		return
	}

	switch task.Status {
	case earthengine.TaskStatusCompleted:
		a.onTaskCompleted(task)
	case earthengine.TaskStatusFailed:
		a.onTaskFailed(task)
	case earthengine.TaskStatusCancelled:
		a.onTaskCancelled(task)
	default:
		// Stream raced ahead of the backend store; the poller will pick
		// the terminal state up on its next tick.
		log.Printf("[App] Task %s pushed terminal but backend reports %s", taskID, task.Status)
		a.taskPoller.StartPolling(taskID)
	}
}

func (a *App) onStreamCompleted(taskID string, _ json.RawMessage) {
	go a.finalizeStreamed(taskID)
}

func (a *App) onStreamFailed(taskID string, errMsg string) {
	log.Printf("[App] Stream reports task %s failed: %s", taskID, errMsg)
	go a.finalizeStreamed(taskID)
}

func (a *App) onStreamCancelled(taskID string) {
	go a.finalizeStreamed(taskID)
}

// ===================
// Raster overlays
// ===================

// quotaFetcher feeds every tile response status into the quota handler
type quotaFetcher struct {
	inner   raster.Fetcher
	handler *ratelimit.Handler
}

func (f *quotaFetcher) FetchTile(ctx context.Context, coord raster.TileCoord) ([]byte, error) {
	if f.handler.IsLimited(rasterQuotaService) {
		return nil, fmt.Errorf("raster quota exhausted, tile %d/%d/%d skipped", coord.Z, coord.X, coord.Y)
	}

	data, err := f.inner.FetchTile(ctx, coord)
	if err != nil {
		var statusErr *raster.StatusError
		if errors.As(err, &statusErr) {
			f.handler.CheckStatus(rasterQuotaService, statusErr.StatusCode)
		}
		return nil, err
	}
	f.handler.CheckStatus(rasterQuotaService, 200)
	return data, nil
}

// EnableRasterOverlay asks the backend for an XYZ raster layer covering
// bounds and wires it through the local caching proxy
func (a *App) EnableRasterOverlay(rasterType string, bounds geo.Bounds) (*RasterOverlayInfo, error) {
	ctx, cancel := context.WithTimeout(a.ctx, 15*time.Second)
	defer cancel()

	info, err := a.eeClient.RasterOverlay(ctx, rasterType, bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to enable %s overlay: %w", rasterType, err)
	}

	fetcher := &quotaFetcher{
		inner:   raster.NewHTTPFetcher(info.TileURL),
		handler: a.quotaHandler,
	}
	if a.tileServer == nil {
		return nil, fmt.Errorf("tile server not running")
	}
	a.tileServer.RegisterRaster(rasterType, fetcher)

	log.Printf("[App] Raster overlay %s enabled (%s)", rasterType, info.TileURL)
	return &RasterOverlayInfo{
		RasterType:  rasterType,
		URL:         a.tileServer.URL() + "/raster/" + rasterType + "/{z}/{x}/{y}",
		Attribution: info.Attribution,
	}, nil
}

// PrefetchRaster warms the tile cache for a raster layer over bounds.
// The overlay must have been enabled first.
func (a *App) PrefetchRaster(rasterType string, bounds geo.Bounds, zoom int) (*raster.Result, error) {
	if a.tileServer == nil {
		return nil, fmt.Errorf("tile server not running")
	}
	fetcher, ok := a.tileServer.Fetcher(rasterType)
	if !ok {
		return nil, fmt.Errorf("raster overlay %s not enabled", rasterType)
	}

	result, err := a.prefetcher.Prefetch(a.ctx, rasterType, fetcher, bounds, zoom,
		func(completed, total int) {
			wailsRuntime.EventsEmit(a.ctx, "prefetch-progress", map[string]interface{}{
				"rasterType": rasterType,
				"completed":  completed,
				"total":      total,
			})
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// prefetchRegionRasters warms the cache for every enabled overlay when
// a scan starts, at the default map zoom
func (a *App) prefetchRegionRasters(bounds geo.Bounds) {
	if a.tileServer == nil {
		return
	}
	for _, rasterType := range a.tileServer.RasterTypes() {
		if _, err := a.PrefetchRaster(rasterType, bounds, a.settings.DefaultZoom); err != nil {
			log.Printf("[App] Prefetch of %s failed: %v", rasterType, err)
		}
	}
}

// EstimatePrefetch reports how many tiles cover bounds at a zoom and
// the approximate download size in MB
func (a *App) EstimatePrefetch(bounds geo.Bounds, zoom int) (map[string]interface{}, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	count := raster.EstimateTileCount(bounds, zoom)
	return map[string]interface{}{
		"tileCount": count,
		"sizeMB":    raster.EstimateDownloadSize(count),
	}, nil
}

// ===================
// Findings archive
// ===================

// GetFindings returns the archived findings of a task, highest
// confidence first
func (a *App) GetFindings(taskID string) ([]earthengine.Finding, error) {
	if a.findingsDB == nil {
		return nil, fmt.Errorf("findings store unavailable")
	}
	return a.findingsDB.ForTask(taskID)
}

// GetFindingsInView returns archived findings inside the current map
// viewport, across all past scans
func (a *App) GetFindingsInView(bounds geo.Bounds) ([]earthengine.Finding, error) {
	if a.findingsDB == nil {
		return nil, fmt.Errorf("findings store unavailable")
	}
	return a.findingsDB.InBounds(bounds)
}

// GetRecentScans returns past scans, newest first
func (a *App) GetRecentScans(limit int) ([]findings.Scan, error) {
	if a.findingsDB == nil {
		return nil, fmt.Errorf("findings store unavailable")
	}
	return a.findingsDB.RecentScans(limit)
}

// DeleteScan removes a scan and its findings from the archive
func (a *App) DeleteScan(taskID string) error {
	if a.findingsDB == nil {
		return fmt.Errorf("findings store unavailable")
	}
	return a.findingsDB.DeleteScan(taskID)
}

func firstOr(s []string, fallback string) string {
	if len(s) > 0 {
		return s[0]
	}
	return fallback
}
