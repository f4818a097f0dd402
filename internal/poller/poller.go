// Package poller tracks backend analysis tasks by periodic status fetch,
// diffs each result against the previously cached state, and emits
// lifecycle callbacks that drive the heatmap pipeline and the dashboard UI.
package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"archeo-dashboard/internal/earthengine"
)

const (
	// DefaultInterval between status polls for one task
	DefaultInterval = 5 * time.Second

	// notFoundLimit is how many consecutive 404s we tolerate before the
	// task id is considered gone for good
	notFoundLimit = 3
)

// TaskFetcher is the single backend capability the poller needs
type TaskFetcher interface {
	GetTask(ctx context.Context, id string) (*earthengine.Task, error)
}

// Callbacks receive task lifecycle transitions. All callbacks are
// optional and are invoked from the polling goroutine.
type Callbacks struct {
	// OnRunning fires on the transition into running. first is true for
	// the first running task observed this session (the one that enables
	// heatmap mode and navigates the map).
	OnRunning func(task *earthengine.Task, first bool)

	// OnProgress fires on every poll while the task is running
	OnProgress func(task *earthengine.Task)

	// OnCompleted fires exactly once when the task finishes successfully,
	// with the final results untouched
	OnCompleted func(task *earthengine.Task)

	// OnFailed fires once with the backend's failure reason
	OnFailed func(task *earthengine.Task)

	// OnCancelled fires once when the backend reports cancellation
	OnCancelled func(task *earthengine.Task)

	// OnTaskGone fires when repeated not-found responses make the id fatal
	OnTaskGone func(taskID string)
}

// trackedTask is the per-task polling state
type trackedTask struct {
	id         string
	cancel     context.CancelFunc
	lastStatus earthengine.TaskStatus
	notFound   int
}

// Poller polls task status for any number of tracked tasks. Each task
// gets its own polling goroutine; stopping is idempotent and cancels the
// pending timer so no stale callback can fire after logical session end.
type Poller struct {
	mu       sync.Mutex
	fetcher  TaskFetcher
	interval time.Duration
	cb       Callbacks

	tracked     map[string]*trackedTask
	seenRunning bool
}

// New creates a poller. interval <= 0 selects DefaultInterval.
func New(fetcher TaskFetcher, interval time.Duration, cb Callbacks) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		cb:       cb,
		tracked:  make(map[string]*trackedTask),
	}
}

// StartPolling begins a repeating status fetch for the task. Calling it
// for an already-tracked id is a no-op.
func (p *Poller) StartPolling(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.tracked[taskID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	tt := &trackedTask{id: taskID, cancel: cancel}
	p.tracked[taskID] = tt

	log.Printf("[Poller] Started polling task %s every %s", taskID, p.interval)
	go p.loop(ctx, tt)
}

// StopPolling cancels the polling loop for a task. Idempotent.
func (p *Poller) StopPolling(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(taskID)
}

func (p *Poller) stopLocked(taskID string) {
	tt, exists := p.tracked[taskID]
	if !exists {
		return
	}
	tt.cancel()
	delete(p.tracked, taskID)
	log.Printf("[Poller] Stopped polling task %s", taskID)
}

// StopAll cancels every polling loop and resets the session state
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.tracked {
		p.stopLocked(id)
	}
	p.seenRunning = false
}

// Tracking reports whether a task is currently polled
func (p *Poller) Tracking(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.tracked[taskID]
	return exists
}

// loop is the per-task polling goroutine. The first poll fires
// immediately, then every interval until the task reaches a terminal
// state, becomes fatal, or is stopped.
func (p *Poller) loop(ctx context.Context, tt *trackedTask) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx, tt)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, tt)
		}
	}
}

// poll fetches the task once and applies the status diff
func (p *Poller) poll(ctx context.Context, tt *trackedTask) {
	task, err := p.fetcher.GetTask(ctx, tt.id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, earthengine.ErrTaskNotFound) {
			tt.notFound++
			log.Printf("[Poller] Task %s not found (%d/%d)", tt.id, tt.notFound, notFoundLimit)
			if tt.notFound >= notFoundLimit {
				p.StopPolling(tt.id)
				if p.cb.OnTaskGone != nil {
					p.cb.OnTaskGone(tt.id)
				}
			}
			return
		}
		// Transient transport or parse error; retry on the next tick.
		log.Printf("[Poller] Poll failed for task %s: %v", tt.id, err)
		return
	}
	tt.notFound = 0

	prev := tt.lastStatus
	tt.lastStatus = task.Status

	switch task.Status {
	case earthengine.TaskStatusRunning:
		if prev != earthengine.TaskStatusRunning {
			first := p.claimFirstRunning()
			log.Printf("[Poller] Task %s is running (first this session: %v)", tt.id, first)
			if p.cb.OnRunning != nil {
				p.cb.OnRunning(task, first)
			}
		}
		if p.cb.OnProgress != nil {
			p.cb.OnProgress(task)
		}

	case earthengine.TaskStatusCompleted:
		log.Printf("[Poller] Task %s completed", tt.id)
		p.StopPolling(tt.id)
		if p.cb.OnCompleted != nil {
			p.cb.OnCompleted(task)
		}

	case earthengine.TaskStatusFailed:
		log.Printf("[Poller] Task %s failed: %s", tt.id, task.Error)
		p.StopPolling(tt.id)
		if p.cb.OnFailed != nil {
			p.cb.OnFailed(task)
		}

	case earthengine.TaskStatusCancelled:
		log.Printf("[Poller] Task %s cancelled", tt.id)
		p.StopPolling(tt.id)
		if p.cb.OnCancelled != nil {
			p.cb.OnCancelled(task)
		}
	}
}

// claimFirstRunning returns true exactly once per session
func (p *Poller) claimFirstRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seenRunning {
		return false
	}
	p.seenRunning = true
	return true
}
