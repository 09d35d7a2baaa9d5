package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/meshroom/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	sendQueueSize  = 64
	inboundBacklog = 64
)

var (
	ErrClosed     = errors.New("signaling client closed")
	ErrLinkDown   = errors.New("relay link down")
	ErrNotStarted = errors.New("signaling client not connected")
)

// Options configures a Client.
type Options struct {
	// URL is the relay websocket endpoint, e.g. wss://example.com/ws.
	URL    string
	PeerID string
	Room   string

	// ReconnectAttempts bounds re-dials after the link drops. Zero disables reconnecting.
	ReconnectAttempts int
	ReconnectBackoff  time.Duration

	Logger *slog.Logger
}

// Client binds a relay websocket to an envelope stream. It re-dials the relay
// when the link drops and reports each loss on the inbound stream.
type Client struct {
	opts   Options
	logger *slog.Logger
	dialer websocket.Dialer

	incoming chan Inbound
	outgoing chan Envelope

	mu      sync.Mutex
	linkUp  bool
	started bool
	// down is closed when the current link stops serving.
	down chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client. Call Connect to dial the relay.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 500 * time.Millisecond
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	return &Client{
		opts:     opts,
		logger:   logger.With("component", "signaling", "peer", opts.PeerID),
		dialer:   dialer,
		incoming: make(chan Inbound, inboundBacklog),
		outgoing: make(chan Envelope, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay and starts the pumps. The first dial is not retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("signaling client already connected")
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.markUp()
	go c.supervise(conn)
	return nil
}

// endpoint builds the relay URL carrying the peer id and room code.
func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("peer_id", c.opts.PeerID)
	q.Set("room", c.opts.Room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

// supervise serves one link at a time and re-dials after each loss.
// It is the only goroutine that closes incoming.
func (c *Client) supervise(conn *websocket.Conn) {
	defer close(c.incoming)

	for {
		err := c.serve(conn)
		if c.isClosed() {
			return
		}

		c.logger.Warn("relay link lost", "error", err)
		c.emit(Inbound{Err: fmt.Errorf("%w: %v", ErrLinkDown, err)})

		conn, err = c.redial()
		if err != nil {
			c.logger.Error("giving up on relay", "error", err)
			return
		}
		c.logger.Info("relay link restored")
	}
}

func (c *Client) redial() (*websocket.Conn, error) {
	backoff := c.opts.ReconnectBackoff
	var lastErr error = ErrLinkDown

	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return nil, ErrClosed
		case <-time.After(backoff):
		}

		c.drainOutgoing()

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			return conn, nil
		}

		lastErr = err
		c.logger.Debug("relay redial failed", "attempt", attempt, "error", err)
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}

	return nil, fmt.Errorf("reconnect attempts exhausted: %w", lastErr)
}

// drainOutgoing drops envelopes queued for a link that no longer exists.
func (c *Client) drainOutgoing() {
	for {
		select {
		case <-c.outgoing:
		default:
			return
		}
	}
}

// serve runs the pumps for conn until the link fails or the client closes.
func (c *Client) serve(conn *websocket.Conn) error {
	c.markUp()
	defer c.markDown()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, stop)
	}()

	err := c.readPump(conn)

	close(stop)
	<-writerDone
	return err
}

// readPump decodes envelopes from conn. Malformed envelopes are dropped here.
func (c *Client) readPump(conn *websocket.Conn) error {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}

		if !c.emit(Inbound{Envelope: env}) {
			return ErrClosed
		}
	}
}

// writePump writes queued envelopes and periodic pings to conn.
func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Debug("write failed", "kind", env.Kind, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			return

		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) emit(in Inbound) bool {
	select {
	case c.incoming <- in:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) markUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.linkUp {
		c.linkUp = true
		c.down = make(chan struct{})
	}
}

func (c *Client) markDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linkUp {
		c.linkUp = false
		close(c.down)
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send queues env for delivery, waiting while the send queue is full. It
// fails when the link drops or the client closes before env is queued.
func (c *Client) Send(env Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := env.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	up, started, down := c.linkUp, c.started, c.down
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if !up {
		return ErrLinkDown
	}

	select {
	case c.outgoing <- env:
		return nil
	case <-down:
		return ErrLinkDown
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the inbound stream. It is closed after Close or once
// reconnect attempts are exhausted.
func (c *Client) Incoming() <-chan Inbound {
	return c.incoming
}

// Close shuts the link down. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
