package loupe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxFrameSize bounds inbound push frames. Image payloads are base64 and
	// can be large.
	maxFrameSize = 16 << 20

	pongWriteWait = 10 * time.Second
)

// WebSocketDialer dials the push channel with gorilla/websocket.
type WebSocketDialer struct {
	// Dialer is the underlying dialer. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the opening handshake.
	Header http.Header

	// ReadTimeout is the read deadline, extended by every frame and ping.
	// Zero uses DefaultReadTimeout; negative disables the deadline.
	ReadTimeout time.Duration
}

// Dial opens a WebSocket connection to url.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)

	timeout := d.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	c := &wsConn{conn: conn, readTimeout: timeout}
	c.extend()
	conn.SetPingHandler(c.ping)
	return c, nil
}

type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration

	mu   sync.Mutex
	beat func()
}

// OnKeepalive registers fn to run on every ping from the backend.
func (c *wsConn) OnKeepalive(fn func()) {
	c.mu.Lock()
	c.beat = fn
	c.mu.Unlock()
}

func (c *wsConn) extend() {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

// ping extends the deadline and answers like the default handler.
func (c *wsConn) ping(data string) error {
	c.extend()
	c.mu.Lock()
	beat := c.beat
	c.mu.Unlock()
	if beat != nil {
		beat()
	}

	err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pongWriteWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Text: ce.Text}
			}
			return nil, &CloseError{Code: CloseAbnormal, Text: err.Error()}
		}
		c.extend()
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
