package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"archeo-dashboard/internal/geo"
)

const (
	// API path prefix on the analysis backend
	apiPrefix = "/api/v1/earth-engine"

	// User agent sent with every request
	UserAgent = "archeo-dashboard/1.0"
)

// ErrTaskNotFound is returned when the backend reports 404 for a task id.
// Pollers treat it as fatal for that task.
var ErrTaskNotFound = errors.New("task not found")

// TransportError wraps transient network or decode failures. Pollers log
// it and retry on the next interval.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client handles communication with the earth-engine analysis backend
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client with system proxy support
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// BaseURL returns the configured backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// getJSON fetches a URL and decodes the JSON body into out. notFound
// is returned on a 404; callers on task endpoints pass ErrTaskNotFound,
// everything else passes nil so a missing endpoint stays a transport
// error instead of masquerading as a missing task.
func (c *Client) getJSON(ctx context.Context, u string, out interface{}, notFound error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "GET " + u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFound != nil {
		return notFound
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "GET " + u,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "GET " + u, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: "GET " + u, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

// Status fetches the backend capability/status document
func (c *Client) Status(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.getJSON(ctx, c.baseURL+apiPrefix+"/status", &status, nil); err != nil {
		return nil, err
	}
	return &status, nil
}

// Datasets fetches the available data layers
func (c *Client) Datasets(ctx context.Context) ([]Dataset, error) {
	var datasets []Dataset
	if err := c.getJSON(ctx, c.baseURL+apiPrefix+"/datasets", &datasets, nil); err != nil {
		return nil, err
	}
	return datasets, nil
}

// ProcessRegion submits a scan over a metric region and returns the new
// task id
func (c *Client) ProcessRegion(ctx context.Context, req ProcessRegionRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	u := c.baseURL + apiPrefix + "/process-region"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", UserAgent)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransportError{Op: "POST " + u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", &TransportError{Op: "POST " + u,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &TransportError{Op: "POST " + u, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if result.TaskID == "" {
		return "", fmt.Errorf("backend returned no task_id")
	}
	return result.TaskID, nil
}

// GetTask fetches the current state of a task. Returns ErrTaskNotFound
// when the backend no longer knows the id.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.getJSON(ctx, c.baseURL+apiPrefix+"/task/"+url.PathEscape(id), &task, ErrTaskNotFound); err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = id
	}
	return &task, nil
}

// ListTasks fetches tracked tasks, optionally filtered by a minimum decay
// score
func (c *Client) ListTasks(ctx context.Context, minDecay float64) ([]Task, error) {
	u := c.baseURL + apiPrefix + "/tasks"
	if minDecay > 0 {
		u += fmt.Sprintf("?min_decay=%g", minDecay)
	}

	var tasks []Task
	if err := c.getJSON(ctx, u, &tasks, nil); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskNavigation fetches the map framing for a task
func (c *Client) TaskNavigation(ctx context.Context, id string) (*Navigation, error) {
	var nav Navigation
	u := c.baseURL + apiPrefix + "/task/" + url.PathEscape(id) + "/navigation"
	if err := c.getJSON(ctx, u, &nav, ErrTaskNotFound); err != nil {
		return nil, err
	}
	return &nav, nil
}

// RasterOverlay asks the backend for an XYZ raster overlay covering
// bounds (NDVI, canopy height, terrain, water proximity, ...)
func (c *Client) RasterOverlay(ctx context.Context, rasterType string, bounds geo.Bounds) (*RasterInfo, error) {
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bounds: %w", err)
	}

	q := url.Values{}
	q.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", bounds.West, bounds.South, bounds.East, bounds.North))
	u := c.baseURL + apiPrefix + "/raster/" + url.PathEscape(rasterType) + "?" + q.Encode()

	var info RasterInfo
	if err := c.getJSON(ctx, u, &info, nil); err != nil {
		return nil, err
	}
	if info.TileURL == "" {
		return nil, fmt.Errorf("backend returned no tile_url for raster %s", rasterType)
	}
	return &info, nil
}
