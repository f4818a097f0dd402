package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archeo-dashboard/internal/earthengine"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer upgrades each connection and pushes a fixed script of raw
// JSON frames, then holds the connection open reading client frames.
func wsServer(t *testing.T, frames []string, got chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if got != nil {
				got <- string(data)
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

type eventLog struct {
	mu        sync.Mutex
	progress  []float64
	completed []string
	failed    []string
	cancelled []string
	tiles     []string
	done      chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{done: make(chan struct{}, 16)}
}

func (l *eventLog) callbacks() Callbacks {
	return Callbacks{
		OnTaskProgress: func(id string, p float64) {
			l.mu.Lock()
			l.progress = append(l.progress, p)
			l.mu.Unlock()
			l.done <- struct{}{}
		},
		OnTaskCompleted: func(id string, _ json.RawMessage) {
			l.mu.Lock()
			l.completed = append(l.completed, id)
			l.mu.Unlock()
			l.done <- struct{}{}
		},
		OnTaskFailed: func(id, msg string) {
			l.mu.Lock()
			l.failed = append(l.failed, msg)
			l.mu.Unlock()
			l.done <- struct{}{}
		},
		OnTaskCancelled: func(id string) {
			l.mu.Lock()
			l.cancelled = append(l.cancelled, id)
			l.mu.Unlock()
			l.done <- struct{}{}
		},
		OnTile: func(tile *earthengine.TileMessage) {
			l.mu.Lock()
			l.tiles = append(l.tiles, tile.TileID)
			l.mu.Unlock()
			l.done <- struct{}{}
		},
	}
}

func (l *eventLog) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-l.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func TestClientDispatchesTaskEvents(t *testing.T) {
	srv := wsServer(t, []string{
		`{"type":"task_progress","task_id":"t-1","progress":0.25}`,
		`{"type":"task_progress","task_id":"t-1","progress":0.5}`,
		`{"type":"pong"}`,
		`{"type":"task_completed","task_id":"t-1","results":{"sites":2}}`,
	}, nil)
	defer srv.Close()

	log := newEventLog()
	c := New(wsURL(srv), log.callbacks())
	c.Start()
	defer c.Stop()

	log.wait(t, 3)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []float64{0.25, 0.5}, log.progress)
	assert.Equal(t, []string{"t-1"}, log.completed)
}

func TestClientDispatchesFailureAndCancellation(t *testing.T) {
	srv := wsServer(t, []string{
		`{"type":"task_failed","task_id":"t-1","error":"quota exceeded"}`,
		`{"type":"task_cancelled","task_id":"t-2"}`,
	}, nil)
	defer srv.Close()

	log := newEventLog()
	c := New(wsURL(srv), log.callbacks())
	c.Start()
	defer c.Stop()

	log.wait(t, 2)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"quota exceeded"}, log.failed)
	assert.Equal(t, []string{"t-2"}, log.cancelled)
}

func TestClientDispatchesTiles(t *testing.T) {
	srv := wsServer(t, []string{
		`{"type":"tile","tile":{"tile_id":"tile-7","center_lat":-3.1,"center_lon":-60.0,"tile_size_m":1000,"viz_elevation":[[1,2],[3,4]]}}`,
		`{"type":"tile"}`,
		`{"type":"something_else"}`,
		`{"type":"tile","tile":{"tile_id":"tile-8","center_lat":-3.1,"center_lon":-59.99,"tile_size_m":1000,"viz_elevation":[[5,6],[7,8]]}}`,
	}, nil)
	defer srv.Close()

	log := newEventLog()
	c := New(wsURL(srv), log.callbacks())
	c.Start()
	defer c.Stop()

	log.wait(t, 2)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"tile-7", "tile-8"}, log.tiles)
}

func TestClientSkipsMalformedFrames(t *testing.T) {
	srv := wsServer(t, []string{
		`{not json`,
		`{"type":"task_progress","task_id":"t-1","progress":0.9}`,
	}, nil)
	defer srv.Close()

	log := newEventLog()
	c := New(wsURL(srv), log.callbacks())
	c.Start()
	defer c.Stop()

	log.wait(t, 1)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []float64{0.9}, log.progress)
}

func TestClientStopDiscardsLateEvents(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_progress","task_id":"t-1","progress":1}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	log := newEventLog()
	c := New(wsURL(srv), log.callbacks())
	c.Start()

	// Give the dial a moment, then stop before the server emits.
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	c.Stop()
	close(release)

	time.Sleep(200 * time.Millisecond)
	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Empty(t, log.progress)
}

func TestClientReconnects(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		if n == 1 {
			// Drop the first connection immediately to force a retry.
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_progress","task_id":"t-1","progress":0.75}`))
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	log := newEventLog()
	c := New(wsURL(srv), log.callbacks())
	c.Start()
	defer c.Stop()

	log.wait(t, 1)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []float64{0.75}, log.progress)
	mu.Lock()
	assert.GreaterOrEqual(t, dials, 2)
	mu.Unlock()
}

func TestClientStartStopIdempotent(t *testing.T) {
	srv := wsServer(t, nil, nil)
	defer srv.Close()

	c := New(wsURL(srv), Callbacks{})
	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
	assert.False(t, c.Connected())
}
