package network

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/logging"
)

// WSOptions configures WebSocket dialing and read behavior.
type WSOptions struct {
	// HandshakeTimeout bounds the initial connect.
	HandshakeTimeout time.Duration

	// ReadTimeout is the maximum silence tolerated on the connection; the
	// deadline is pushed forward on every message and pong. Zero disables
	// the deadline.
	ReadTimeout time.Duration

	Logger logging.Logger
}

// writeWait bounds every outbound frame so a stalled peer cannot block
// Send or the close handshake indefinitely.
const writeWait = 10 * time.Second

// DefaultWSOptions returns dialing defaults matching public exchange
// streams.
func DefaultWSOptions() *WSOptions {
	return &WSOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		Logger:           logging.NewNopLogger(),
	}
}

// Dialer establishes WebSocket connections. Safe for concurrent use;
// every Dial returns an independent Conn.
type Dialer struct {
	opts *WSOptions
}

// NewDialer creates a dialer with the given options; nil selects the
// defaults.
func NewDialer(opts *WSOptions) *Dialer {
	if opts == nil {
		opts = DefaultWSOptions()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Dialer{opts: opts}
}

// Dial connects to url and starts the read loop. The returned Conn is
// owned by the caller and must be closed.
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.opts.HandshakeTimeout,
	}
	wsConn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &NetworkError{Op: "dial", URL: url, Err: err}
	}

	c := &Conn{
		conn:        wsConn,
		url:         url,
		readTimeout: d.opts.ReadTimeout,
		messages:    make(chan []byte, 64),
		done:        make(chan struct{}),
		logger:      d.opts.Logger,
	}

	if c.readTimeout > 0 {
		_ = wsConn.SetReadDeadline(time.Now().Add(c.readTimeout))
		wsConn.SetPongHandler(func(string) error {
			return wsConn.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}

	go c.readLoop()
	return c, nil
}

// Conn is one live WebSocket connection. Messages are delivered on a
// channel that closes when the connection fails or is closed; Err reports
// the reason afterwards.
type Conn struct {
	conn        *websocket.Conn
	url         string
	readTimeout time.Duration
	logger      logging.Logger

	writeMu sync.Mutex

	messages chan []byte
	done     chan struct{}

	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// Messages returns the inbound message stream. The channel is closed when
// the connection ends for any reason.
func (c *Conn) Messages() <-chan []byte {
	return c.messages
}

// Err returns the error that ended the read loop, nil after a clean local
// Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Send writes one text frame.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &NetworkError{Op: "send", URL: c.url, Err: err}
	}
	return nil
}

// Close sends a close frame and releases the socket. Safe to call more
// than once and concurrently with reads.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))
		c.writeMu.Unlock()

		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.messages)

	for {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Local close, not an error.
			default:
				c.errMu.Lock()
				c.readErr = &NetworkError{Op: "read", URL: c.url, Err: err}
				c.errMu.Unlock()
				c.logger.Warn("websocket read failed",
					logging.String("url", c.url),
					logging.Error(err),
				)
			}
			_ = c.conn.Close()
			return
		}

		select {
		case c.messages <- message:
		case <-c.done:
			return
		}
	}
}
