package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatusDetectsQuota(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		limited bool
	}{
		{"too many requests", http.StatusTooManyRequests, true},
		{"forbidden", http.StatusForbidden, true},
		{"ok", http.StatusOK, false},
		{"server error", http.StatusBadGateway, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil)
			defer h.Close()

			assert.Equal(t, tt.limited, h.CheckStatus("earth_engine", tt.status))
			assert.Equal(t, tt.limited, h.IsLimited("earth_engine"))
		})
	}
}

func TestQuotaStatePerService(t *testing.T) {
	h := NewHandler(nil)
	defer h.Close()

	h.CheckStatus("earth_engine", http.StatusTooManyRequests)
	assert.True(t, h.IsLimited("earth_engine"))
	assert.False(t, h.IsLimited("raster"))

	state := h.CurrentState("earth_engine")
	require.NotNil(t, state)
	assert.Equal(t, http.StatusTooManyRequests, state.StatusCode)
	assert.Equal(t, 0, state.RetryAttempt)
	assert.Contains(t, state.Message, "quota exceeded")
	assert.Nil(t, h.CurrentState("raster"))
}

func TestRepeatQuotaEscalatesBackoff(t *testing.T) {
	h := NewHandler(&RetryStrategy{
		Intervals:  []time.Duration{time.Minute, 5 * time.Minute},
		MaxRetries: 0, // no auto-retry goroutines in this test
	})
	defer h.Close()

	h.CheckStatus("earth_engine", http.StatusForbidden)
	first := h.CurrentState("earth_engine")
	require.NotNil(t, first)

	h.CheckStatus("earth_engine", http.StatusForbidden)
	second := h.CurrentState("earth_engine")
	require.NotNil(t, second)

	assert.Equal(t, 1, second.RetryAttempt)
	assert.True(t, second.NextRetryAt.After(first.NextRetryAt))

	// Attempts beyond the interval list reuse the last interval.
	h.CheckStatus("earth_engine", http.StatusForbidden)
	third := h.CurrentState("earth_engine")
	require.NotNil(t, third)
	assert.Equal(t, 2, third.RetryAttempt)
}

func TestRecoveryClearsQuota(t *testing.T) {
	h := NewHandler(nil)
	defer h.Close()

	recovered := make(chan string, 1)
	h.SetOnRecovered(func(service string) { recovered <- service })

	h.CheckStatus("raster", http.StatusTooManyRequests)
	require.True(t, h.IsLimited("raster"))

	h.CheckStatus("raster", http.StatusOK)
	assert.False(t, h.IsLimited("raster"))

	select {
	case svc := <-recovered:
		assert.Equal(t, "raster", svc)
	case <-time.After(time.Second):
		t.Fatal("recovery callback not invoked")
	}
}

func TestManualRetry(t *testing.T) {
	h := NewHandler(nil)
	defer h.Close()

	retried := make(chan QuotaEvent, 1)
	h.SetOnRetry(func(event QuotaEvent) { retried <- event })

	h.CheckStatus("earth_engine", http.StatusForbidden)
	h.ManualRetry("earth_engine")

	assert.False(t, h.IsLimited("earth_engine"))
	select {
	case event := <-retried:
		assert.Equal(t, "earth_engine", event.Service)
	case <-time.After(time.Second):
		t.Fatal("retry callback not invoked")
	}

	// Retrying a service that isn't limited is a no-op.
	h.ManualRetry("earth_engine")
}

func TestAutoRetryFiresCallback(t *testing.T) {
	h := NewHandler(&RetryStrategy{
		Intervals:  []time.Duration{10 * time.Millisecond},
		MaxRetries: 3,
	})
	defer h.Close()

	retried := make(chan QuotaEvent, 1)
	h.SetOnRetry(func(event QuotaEvent) { retried <- event })

	quota := make(chan QuotaEvent, 1)
	h.SetOnQuota(func(event QuotaEvent) { quota <- event })

	h.CheckStatus("earth_engine", http.StatusTooManyRequests)

	select {
	case <-quota:
	case <-time.After(time.Second):
		t.Fatal("quota callback not invoked")
	}
	select {
	case event := <-retried:
		assert.Equal(t, 0, event.RetryAttempt)
	case <-time.After(time.Second):
		t.Fatal("auto-retry callback not invoked")
	}
}
