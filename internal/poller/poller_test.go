package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archeo-dashboard/internal/earthengine"
)

// scriptedFetcher replays a fixed sequence of task states, holding the
// last one once the script runs out.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []func() (*earthengine.Task, error)
	calls  int
}

func (f *scriptedFetcher) GetTask(ctx context.Context, id string) (*earthengine.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	return f.script[idx]()
}

func task(status earthengine.TaskStatus, progress float64) func() (*earthengine.Task, error) {
	return func() (*earthengine.Task, error) {
		return &earthengine.Task{ID: "t-1", Status: status, Progress: progress}, nil
	}
}

func notFound() (*earthengine.Task, error) {
	return nil, earthengine.ErrTaskNotFound
}

// recorder collects callback invocations
type recorder struct {
	mu        sync.Mutex
	running   []bool
	progress  []float64
	completed []*earthengine.Task
	failed    []*earthengine.Task
	gone      []string
	done      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 8)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnRunning: func(t *earthengine.Task, first bool) {
			r.mu.Lock()
			r.running = append(r.running, first)
			r.mu.Unlock()
		},
		OnProgress: func(t *earthengine.Task) {
			r.mu.Lock()
			r.progress = append(r.progress, t.Progress)
			r.mu.Unlock()
		},
		OnCompleted: func(t *earthengine.Task) {
			r.mu.Lock()
			r.completed = append(r.completed, t)
			r.mu.Unlock()
			r.done <- struct{}{}
		},
		OnFailed: func(t *earthengine.Task) {
			r.mu.Lock()
			r.failed = append(r.failed, t)
			r.mu.Unlock()
			r.done <- struct{}{}
		},
		OnTaskGone: func(id string) {
			r.mu.Lock()
			r.gone = append(r.gone, id)
			r.mu.Unlock()
			r.done <- struct{}{}
		},
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal callback")
	}
}

func TestPollerRunningToCompleted(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func() (*earthengine.Task, error){
		task(earthengine.TaskStatusPending, 0),
		task(earthengine.TaskStatusRunning, 0.4),
		func() (*earthengine.Task, error) {
			return &earthengine.Task{
				ID:       "t-1",
				Status:   earthengine.TaskStatusCompleted,
				Progress: 1,
				Results:  []byte(`{"sites": 3}`),
			}, nil
		},
	}}

	rec := newRecorder()
	p := New(fetcher, 20*time.Millisecond, rec.callbacks())
	p.StartPolling("t-1")
	rec.wait(t)

	// Give any stray extra callbacks a chance to fire before asserting.
	time.Sleep(100 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	require.Equal(t, []bool{true}, rec.running, "one running transition, first of the session")
	require.Equal(t, []float64{0.4}, rec.progress, "progress forwarded while running")
	require.Len(t, rec.completed, 1, "success callback fires exactly once")
	assert.JSONEq(t, `{"sites": 3}`, string(rec.completed[0].Results),
		"results handed off unchanged")
	assert.False(t, p.Tracking("t-1"), "polling stops on completion")
}

func TestPollerRunningToFailed(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func() (*earthengine.Task, error){
		task(earthengine.TaskStatusRunning, 0.2),
		func() (*earthengine.Task, error) {
			return &earthengine.Task{
				ID:     "t-1",
				Status: earthengine.TaskStatusFailed,
				Error:  "quota exceeded",
			}, nil
		},
	}}

	rec := newRecorder()
	p := New(fetcher, 20*time.Millisecond, rec.callbacks())
	p.StartPolling("t-1")
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.failed, 1)
	assert.Equal(t, "quota exceeded", rec.failed[0].Error)
	assert.False(t, p.Tracking("t-1"))
}

func TestPollerTransientErrorKeepsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func() (*earthengine.Task, error){
		func() (*earthengine.Task, error) {
			return nil, &earthengine.TransportError{Op: "GET", Err: context.DeadlineExceeded}
		},
		task(earthengine.TaskStatusCompleted, 1),
	}}

	rec := newRecorder()
	p := New(fetcher, 20*time.Millisecond, rec.callbacks())
	p.StartPolling("t-1")
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.completed, 1, "poll survives a transient error")
}

func TestPollerRepeatedNotFoundIsFatal(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func() (*earthengine.Task, error){notFound}}

	rec := newRecorder()
	p := New(fetcher, 20*time.Millisecond, rec.callbacks())
	p.StartPolling("t-1")
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"t-1"}, rec.gone)
	assert.False(t, p.Tracking("t-1"))
}

// perTaskFetcher runs one scripted sequence per task id
type perTaskFetcher struct {
	mu       sync.Mutex
	fetchers map[string]*scriptedFetcher
}

func (f *perTaskFetcher) GetTask(ctx context.Context, id string) (*earthengine.Task, error) {
	f.mu.Lock()
	sf := f.fetchers[id]
	f.mu.Unlock()
	return sf.GetTask(ctx, id)
}

func TestPollerFirstRunningOnlyOnce(t *testing.T) {
	fetcher := &perTaskFetcher{fetchers: map[string]*scriptedFetcher{
		"t-1": {script: []func() (*earthengine.Task, error){
			task(earthengine.TaskStatusRunning, 0.1),
			task(earthengine.TaskStatusCompleted, 1),
		}},
		"t-2": {script: []func() (*earthengine.Task, error){
			task(earthengine.TaskStatusRunning, 0.5),
			task(earthengine.TaskStatusCompleted, 1),
		}},
	}}

	rec := newRecorder()
	p := New(fetcher, 20*time.Millisecond, rec.callbacks())

	p.StartPolling("t-1")
	rec.wait(t)

	// A second task in the same session must not be "first" again.
	p.StartPolling("t-2")
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.running, 2)
	assert.True(t, rec.running[0])
	assert.False(t, rec.running[1])
}

func TestPollerStopIsIdempotent(t *testing.T) {
	fetcher := &scriptedFetcher{script: []func() (*earthengine.Task, error){
		task(earthengine.TaskStatusRunning, 0.1),
	}}

	p := New(fetcher, 20*time.Millisecond, Callbacks{})
	p.StartPolling("t-1")
	assert.True(t, p.Tracking("t-1"))

	p.StopPolling("t-1")
	p.StopPolling("t-1")
	assert.False(t, p.Tracking("t-1"))

	// Starting again after a stop works.
	p.StartPolling("t-1")
	assert.True(t, p.Tracking("t-1"))
	p.StopAll()
	assert.False(t, p.Tracking("t-1"))
}
