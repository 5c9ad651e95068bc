package eventstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// writeWait is time allowed to write a message
const writeWait = 10 * time.Second

// DefaultQueueSize bounds how many messages wait for the connection
const DefaultQueueSize = 1024

// ErrQueueFull is returned by Emit when the collector cannot keep up
var ErrQueueFull = errors.New("event stream queue full")

// ErrClosed is returned by Emit after Close
var ErrClosed = errors.New("event stream closed")

// calculateBackoff returns the delay for a given attempt number using exponential backoff
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Config configures the stream client
type Config struct {
	URL       string
	Token     string // sent as a bearer token when set
	ClientID  string
	QueueSize int
	// Backoff overrides the reconnect delay, mostly for tests
	Backoff func(attempt int) time.Duration
}

// Validate checks the config is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// Client is a StatusSink that streams events to a collector. Emit never blocks on
// the network: messages are queued and written by Run, which reconnects with
// exponential backoff. Per-execution order is preserved.
type Client struct {
	config Config
	queue  chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewClient creates a stream client. Call Run to start delivering.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.ClientID == "" {
		config.ClientID = uuid.NewString()
	}
	if config.Backoff == nil {
		config.Backoff = calculateBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		queue:  make(chan []byte, config.QueueSize),
		logger: logger.With("component", "eventstream", "url", config.URL),
		done:   make(chan struct{}),
	}, nil
}

func (c *Client) Emit(ev domain.ExecutionEvent) error {
	return c.enqueue(TypeEvent, NewEventMessage(ev))
}

func (c *Client) Finished(st domain.ExecutionStatus) error {
	return c.enqueue(TypeStatus, NewStatusMessage(st))
}

func (c *Client) enqueue(msgType string, payload interface{}) error {
	data, err := MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.queue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages. Run drains what is queued and returns.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// Done is closed when Run has returned
func (c *Client) Done() <-chan struct{} { return c.done }

// Run delivers queued messages until Close was called and the queue is drained, or
// ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)

	var pending []byte
	attempt := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := c.config.Backoff(attempt)
			attempt++
			c.logger.Warn("event stream connect failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		c.logger.Debug("event stream connected")

		pings := make(chan struct{}, 1)
		readErr := make(chan error, 1)
		go func() { readErr <- c.readLoop(conn, pings) }()

		pending, err = c.pump(ctx, conn, pending, pings, readErr)
		conn.Close()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("event stream connection lost", "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	hello, err := MarshalEnvelope(TypeHello, HelloMessage{ClientID: c.config.ClientID})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.write(conn, hello); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// readLoop handles messages from the collector until the connection fails. Control
// frames (close, ping) are processed by the websocket library while reading.
func (c *Client) readLoop(conn *websocket.Conn, pings chan<- struct{}) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid message from collector", "error", err)
			continue
		}

		switch env.Type {
		case TypePing:
			select {
			case pings <- struct{}{}:
			default:
				// a pong is already due
			}
		default:
			c.logger.Debug("ignoring collector message", "type", env.Type)
		}
	}
}

// pump writes queued messages and answers pings. It returns the message that could
// not be written so that the next connection resends it, and nil once the queue is
// closed and empty. A failed read ends the connection too.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn, pending []byte, pings <-chan struct{}, readErr <-chan error) ([]byte, error) {
	if pending != nil {
		if err := c.write(conn, pending); err != nil {
			return pending, err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-readErr:
			return nil, fmt.Errorf("read failed: %w", err)
		case <-pings:
			pong, err := MarshalEnvelope(TypePong, nil)
			if err != nil {
				return nil, err
			}
			if err := c.write(conn, pong); err != nil {
				return nil, err
			}
		case data, ok := <-c.queue:
			if !ok {
				deadline := time.Now().Add(writeWait)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return nil, nil
			}
			if err := c.write(conn, data); err != nil {
				return data, err
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
