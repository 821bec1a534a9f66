package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// eventBuffer is the capacity of the pushed-event channel. Events beyond
// it are dropped rather than blocking the read loop.
const eventBuffer = 256

// maxFrameBytes mirrors the server's per-frame limit.
const maxFrameBytes = 1 << 20

// Event is a pushed event received over a subscription.
type Event struct {
	Name      string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Sequence  uint64                 `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Origin    string                 `json:"origin,omitempty"`
}

// APIError is a structured error returned by the daemon.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// request is an outbound frame.
type request struct {
	ID    string                 `json:"id"`
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// frame is an inbound frame: either a correlated response or a pushed
// event, told apart by which fields are set.
type frame struct {
	ID    string                 `json:"id,omitempty"`
	Event string                 `json:"event,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
	Error *APIError              `json:"error,omitempty"`

	Seq       uint64    `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Origin    string    `json:"origin,omitempty"`
}

// Client is a connection to the daemon's unix socket. One client carries
// request/response calls and pushed subscription events concurrently.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex
	nextID  uint64

	mu      sync.Mutex
	pending map[string]chan *frame
	closed  bool
	readErr error

	events  chan Event
	dropped atomic.Uint64
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *frame),
		events:  make(chan Event, eventBuffer),
	}
	go c.readLoop()
	return c, nil
}

// Events is the stream of pushed events. It is closed when the connection
// drops. When the buffer overflows, events are dropped; see Dropped.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Dropped reports how many pushed events were discarded because the
// events channel was not drained fast enough.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Close tears down the connection. In-flight calls fail.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and waits for its correlated response.
func (c *Client) Call(ctx context.Context, event string, data map[string]interface{}) (map[string]interface{}, error) {
	id := strconv.FormatUint(atomic.AddUint64(&c.nextID, 1), 10)

	ch := make(chan *frame, 1)
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = net.ErrClosed
		}
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(request{ID: id, Event: event, Data: data})
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			continue
		}

		// Pushed events carry an event name and no correlation id.
		if f.Event != "" && f.ID == "" {
			select {
			case c.events <- Event{
				Name:      f.Event,
				Data:      f.Data,
				Sequence:  f.Seq,
				Timestamp: f.Timestamp,
				Origin:    f.Origin,
			}:
			default:
				c.dropped.Add(1)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if ok {
			out := f
			ch <- &out
		}
	}

	c.mu.Lock()
	c.closed = true
	c.readErr = scanner.Err()
	pending := c.pending
	c.pending = make(map[string]chan *frame)
	c.mu.Unlock()

	// Fail in-flight calls instead of leaving them hanging.
	for _, ch := range pending {
		ch <- &frame{Error: &APIError{Code: "transport", Message: "connection closed"}}
	}
	close(c.events)
}

// Ping checks daemon liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, "daemon:ping", nil)
	return err
}

// Emit publishes an event. The returned map carries the assigned sequence
// number and, when a handler responded, its response payload.
func (c *Client) Emit(ctx context.Context, name string, data map[string]interface{}) (map[string]interface{}, error) {
	return c.Call(ctx, "event:emit", map[string]interface{}{
		"name": name,
		"data": data,
	})
}

// Subscribe registers patterns for push delivery on Events.
func (c *Client) Subscribe(ctx context.Context, patterns ...string) (string, error) {
	data, err := c.Call(ctx, "monitor:subscribe", map[string]interface{}{
		"patterns": patterns,
	})
	if err != nil {
		return "", err
	}
	id, _ := data["subscription_id"].(string)
	return id, nil
}

// SubmitCompletion submits an asynchronous completion job and returns its
// request id.
func (c *Client) SubmitCompletion(ctx context.Context, params map[string]interface{}) (string, error) {
	data, err := c.Call(ctx, "completion:async", map[string]interface{}{
		"params": params,
	})
	if err != nil {
		return "", err
	}
	id, _ := data["request_id"].(string)
	return id, nil
}

// CompletionStatus returns the job's current status string.
func (c *Client) CompletionStatus(ctx context.Context, requestID string) (string, error) {
	data, err := c.Call(ctx, "completion:status", map[string]interface{}{
		"request_id": requestID,
	})
	if err != nil {
		return "", err
	}
	status, _ := data["status"].(string)
	return status, nil
}

// CompletionResult fetches the terminal payload. done is false while the
// job is still pending.
func (c *Client) CompletionResult(ctx context.Context, requestID string) (result map[string]interface{}, done bool, err error) {
	data, err := c.Call(ctx, "completion:result", map[string]interface{}{
		"request_id": requestID,
	})
	if err != nil {
		return nil, false, err
	}
	if pending, _ := data["pending"].(bool); pending {
		return nil, false, nil
	}
	return data, true, nil
}

// CancelCompletion requests advisory cancellation and reports the
// resulting status.
func (c *Client) CancelCompletion(ctx context.Context, requestID string) (string, error) {
	data, err := c.Call(ctx, "completion:cancel", map[string]interface{}{
		"request_id": requestID,
	})
	if err != nil {
		return "", err
	}
	status, _ := data["status"].(string)
	return status, nil
}
