package loupe

import (
	"context"
	"sync"
)

// ChannelDialer is an in-memory Dialer whose connections deliver frames
// from Go channels. Useful for testing and for embedding a push source in
// the same process.
type ChannelDialer struct {
	mu    sync.Mutex
	conns chan *ChannelConn
	dials int
}

// NewChannelDialer creates a dialer. Each Dial takes the next connection
// queued with Offer and blocks until one is available.
func NewChannelDialer() *ChannelDialer {
	return &ChannelDialer{conns: make(chan *ChannelConn, 16)}
}

// Offer queues a connection for the next Dial and returns it.
func (d *ChannelDialer) Offer() *ChannelConn {
	c := &ChannelConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	d.conns <- c
	return c
}

// Dials returns how many dials were attempted.
func (d *ChannelDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Dial returns the next offered connection, or ctx's error when none is
// offered before ctx is done.
func (d *ChannelDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-d.conns:
		return c, nil
	}
}

// ChannelConn is a Conn fed by Send and ended by Shutdown or Close.
type ChannelConn struct {
	frames chan []byte
	done   chan struct{}

	once sync.Once
	code int
	text string

	mu   sync.Mutex
	beat func()
}

// Send delivers a frame to the reader.
func (c *ChannelConn) Send(frame []byte) {
	select {
	case c.frames <- frame:
	case <-c.done:
	}
}

// Ping delivers a keepalive beat without a frame.
func (c *ChannelConn) Ping() {
	c.mu.Lock()
	beat := c.beat
	c.mu.Unlock()
	if beat != nil {
		beat()
	}
}

// OnKeepalive registers fn to run on every Ping.
func (c *ChannelConn) OnKeepalive(fn func()) {
	c.mu.Lock()
	c.beat = fn
	c.mu.Unlock()
}

// Shutdown closes the connection from the peer side with code.
func (c *ChannelConn) Shutdown(code int, text string) {
	c.once.Do(func() {
		c.code, c.text = code, text
		close(c.done)
	})
}

// Closed reports whether the connection has been torn down.
func (c *ChannelConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ReadMessage returns queued frames in order, then the close error.
func (c *ChannelConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		select {
		case f := <-c.frames:
			return f, nil
		default:
			return nil, &CloseError{Code: c.code, Text: c.text}
		}
	}
}

// Close tears the connection down locally.
func (c *ChannelConn) Close() error {
	c.Shutdown(CloseNormal, "")
	return nil
}
