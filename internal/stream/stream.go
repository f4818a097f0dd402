// Package stream maintains the WebSocket connection to the earth-engine
// backend and fans incoming messages out to callbacks. Polling via the
// REST API remains the source of truth for task state; the stream just
// gets updates to the UI faster.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"archeo-dashboard/internal/earthengine"
)

const (
	// PingInterval is how often the client sends an application-level
	// ping. The backend drops connections idle for more than a minute.
	PingInterval = 30 * time.Second

	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second

	writeTimeout = 10 * time.Second
)

// Message is the envelope for everything the backend sends. Payload
// fields are populated depending on Type.
type Message struct {
	Type     string                   `json:"type"`
	TaskID   string                   `json:"task_id,omitempty"`
	Progress float64                  `json:"progress,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Results  json.RawMessage          `json:"results,omitempty"`
	Tile     *earthengine.TileMessage `json:"tile,omitempty"`
}

// Callbacks receive stream events. All fields are optional; nil
// callbacks are skipped. They are invoked from the read goroutine, so
// they must not block for long.
type Callbacks struct {
	OnTaskProgress  func(taskID string, progress float64)
	OnTaskCompleted func(taskID string, results json.RawMessage)
	OnTaskFailed    func(taskID string, errMsg string)
	OnTaskCancelled func(taskID string)
	OnTile          func(tile *earthengine.TileMessage)
	OnConnected     func()
	OnDisconnected  func(err error)
}

// Client is a reconnecting WebSocket client. Start launches the
// connection loop; Stop tears it down. Safe for concurrent use.
type Client struct {
	url    string
	dialer *websocket.Dialer
	cb     Callbacks

	mu         sync.Mutex
	conn       *websocket.Conn
	cancel     context.CancelFunc
	running    bool
	generation uint64
}

func New(url string, cb Callbacks) *Client {
	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		cb:     cb,
	}
}

// Start begins connecting in the background. Calling Start on a
// running client is a no-op.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.generation++
	go c.run(ctx, c.generation)
}

// Stop closes the connection and halts reconnection attempts.
// Messages from the old connection are discarded even if the read
// goroutine is mid-dispatch.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.generation++
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) run(ctx context.Context, gen uint64) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Stream] Dial %s failed: %v. Retrying in %v", c.url, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		log.Printf("[Stream] Connected to %s", c.url)
		if c.cb.OnConnected != nil {
			c.cb.OnConnected()
		}

		pingCtx, stopPing := context.WithCancel(ctx)
		go c.pingLoop(pingCtx, conn)

		readErr := c.readLoop(ctx, conn, gen)
		stopPing()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("[Stream] Connection lost: %v. Reconnecting...", readErr)
		if c.cb.OnDisconnected != nil {
			c.cb.OnDisconnected(readErr)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
				log.Printf("[Stream] Ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Stream] Dropping malformed message: %v", err)
			continue
		}

		// A Stop/Start cycle may have raced the read; stale messages
		// must not reach the callbacks.
		c.mu.Lock()
		stale := c.generation != gen
		c.mu.Unlock()
		if stale {
			return nil
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case "task_progress":
		if c.cb.OnTaskProgress != nil {
			c.cb.OnTaskProgress(msg.TaskID, msg.Progress)
		}
	case "task_completed":
		if c.cb.OnTaskCompleted != nil {
			c.cb.OnTaskCompleted(msg.TaskID, msg.Results)
		}
	case "task_failed":
		if c.cb.OnTaskFailed != nil {
			c.cb.OnTaskFailed(msg.TaskID, msg.Error)
		}
	case "task_cancelled":
		if c.cb.OnTaskCancelled != nil {
			c.cb.OnTaskCancelled(msg.TaskID)
		}
	case "tile":
		if msg.Tile == nil {
			log.Printf("[Stream] Tile message without payload, dropping")
			return
		}
		if c.cb.OnTile != nil {
			c.cb.OnTile(msg.Tile)
		}
	case "pong":
		// keepalive reply, nothing to do
	default:
		log.Printf("[Stream] Unknown message type %q", msg.Type)
	}
}
