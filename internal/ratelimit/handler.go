// Package ratelimit tracks quota errors from the earth-engine backend
// and schedules retries. Scan submission and raster prefetching check
// IsLimited before hitting the API so a quota'd session doesn't keep
// burning requests.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// RetryStrategy defines the backoff intervals for quota retries.
type RetryStrategy struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultRetryStrategy returns the default backoff strategy. Earth
// Engine quotas usually clear within minutes, so intervals are short
// compared to imagery-provider bans.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			1 * time.Minute,
			2 * time.Minute,
			5 * time.Minute,
			10 * time.Minute,
			15 * time.Minute,
		},
		MaxRetries: 10,
	}
}

// QuotaEvent records one quota hit on a service.
type QuotaEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Service      string    `json:"service"` // "earth_engine" or "raster"
	StatusCode   int       `json:"statusCode"`
	RetryAttempt int       `json:"retryAttempt"` // 0 = first occurrence
	NextRetryAt  time.Time `json:"nextRetryAt"`
	Message      string    `json:"message"`
}

// Handler manages quota detection and retry scheduling.
type Handler struct {
	mu               sync.RWMutex
	limited          map[string]*QuotaEvent
	strategy         *RetryStrategy
	onQuota          func(event QuotaEvent)
	onRetry          func(event QuotaEvent)
	onRecovered      func(service string)
	autoRetryEnabled bool
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewHandler creates a quota handler. A nil strategy uses the default.
func NewHandler(strategy *RetryStrategy) *Handler {
	if strategy == nil {
		strategy = DefaultRetryStrategy()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		limited:          make(map[string]*QuotaEvent),
		strategy:         strategy,
		autoRetryEnabled: true,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetOnQuota sets the callback for quota events
func (h *Handler) SetOnQuota(callback func(event QuotaEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onQuota = callback
}

// SetOnRetry sets the callback for retry attempts
func (h *Handler) SetOnRetry(callback func(event QuotaEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = callback
}

// SetOnRecovered sets the callback for recovery from a quota
func (h *Handler) SetOnRecovered(callback func(service string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsLimited checks whether a service is currently quota limited.
func (h *Handler) IsLimited(service string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, limited := h.limited[service]
	return limited
}

// CheckStatus analyzes an HTTP status code for quota indicators and
// records the event if it is one. A non-quota status clears any
// existing limit on the service.
func (h *Handler) CheckStatus(service string, statusCode int) bool {
	isLimited := statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusForbidden // Earth Engine signals quota exhaustion with 403

	if !isLimited {
		h.checkRecovery(service)
		return false
	}

	h.recordQuota(service, statusCode)
	return true
}

func (h *Handler) recordQuota(service string, statusCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	retryAttempt := 0
	if existing, exists := h.limited[service]; exists {
		retryAttempt = existing.RetryAttempt + 1
	}

	var interval time.Duration
	if retryAttempt < len(h.strategy.Intervals) {
		interval = h.strategy.Intervals[retryAttempt]
	} else {
		interval = h.strategy.Intervals[len(h.strategy.Intervals)-1]
	}

	nextRetryAt := time.Now().Add(interval)

	event := QuotaEvent{
		Timestamp:    time.Now(),
		Service:      service,
		StatusCode:   statusCode,
		RetryAttempt: retryAttempt,
		NextRetryAt:  nextRetryAt,
		Message:      buildMessage(service, statusCode, retryAttempt, nextRetryAt),
	}

	h.limited[service] = &event

	log.Printf("[RateLimit] %s quota hit (attempt %d). Next retry at %s",
		service, retryAttempt, nextRetryAt.Format(time.RFC3339))

	if h.onQuota != nil {
		go h.onQuota(event)
	}

	if h.autoRetryEnabled && retryAttempt < h.strategy.MaxRetries {
		go h.scheduleRetry(service, event)
	}
}

func (h *Handler) scheduleRetry(service string, event QuotaEvent) {
	select {
	case <-time.After(time.Until(event.NextRetryAt)):
		h.mu.Lock()
		current, exists := h.limited[service]
		if !exists || current.Timestamp != event.Timestamp {
			// Quota was already cleared or replaced
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		log.Printf("[RateLimit] Retry window open for %s", service)

		// The actual retry happens on the next API call; callers check
		// IsLimited before submitting.
		if h.onRetry != nil {
			go h.onRetry(event)
		}

	case <-h.ctx.Done():
		return
	}
}

func (h *Handler) checkRecovery(service string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.limited[service]; exists {
		delete(h.limited, service)
		log.Printf("[RateLimit] %s quota cleared", service)

		if h.onRecovered != nil {
			go h.onRecovered(service)
		}
	}
}

// ManualRetry lets the user clear a quota and try again immediately.
func (h *Handler) ManualRetry(service string) {
	h.mu.Lock()
	event, exists := h.limited[service]
	if !exists {
		h.mu.Unlock()
		return
	}

	log.Printf("[RateLimit] Manual retry requested for %s", service)
	delete(h.limited, service)
	h.mu.Unlock()

	if h.onRetry != nil {
		go h.onRetry(*event)
	}
}

// SetAutoRetry enables or disables automatic retries
func (h *Handler) SetAutoRetry(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoRetryEnabled = enabled
}

// CurrentState returns a copy of the quota state for a service, or
// nil when the service is not limited.
func (h *Handler) CurrentState(service string) *QuotaEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event, exists := h.limited[service]; exists {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

func buildMessage(service string, statusCode int, retryAttempt int, nextRetryAt time.Time) string {
	serviceName := "Earth Engine"
	if service == "raster" {
		serviceName = "Raster overlay"
	}

	minutes := int(time.Until(nextRetryAt).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	if retryAttempt == 0 {
		return fmt.Sprintf(
			"%s quota exceeded (HTTP %d). New scans paused.\n\n"+
				"Running tasks keep processing on the backend. "+
				"Automatic retry in %d minute(s), or click 'Retry Now' once your quota resets.",
			serviceName, statusCode, minutes)
	}
	return fmt.Sprintf(
		"%s still over quota (retry attempt %d).\n\n"+
			"Next automatic retry in %d minute(s).",
		serviceName, retryAttempt+1, minutes)
}

// Close shuts down the handler
func (h *Handler) Close() {
	h.cancel()
}
