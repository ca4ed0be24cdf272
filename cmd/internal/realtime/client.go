package realtime

import "sync"

const defaultSendQueueSize = 64

// Client is one live websocket connection.
//
// Send is never closed by the server; done signals shutdown instead so a
// concurrent Broadcast can never panic on a closed channel. Close is idempotent.
type Client struct {
	ID         string
	AccountID  string
	RemoteAddr string
	Send       chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// guarded by Registry.mu
	kind   Kind
	target string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:   id,
		Send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// enqueue queues frame without blocking. It reports false when the client is
// closed or its queue is full.
func (c *Client) enqueue(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}
