package loupe

import (
	"context"
	"fmt"
)

// Dialer opens the push channel.
type Dialer interface {
	// Dial connects to url. Implementations must give up when ctx is done.
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is an established push channel.
type Conn interface {
	// ReadMessage blocks until the next frame arrives. When the channel
	// closes it returns an error, preferably a *CloseError.
	ReadMessage() ([]byte, error)

	// Close tears the channel down and unblocks ReadMessage.
	Close() error
}

// KeepaliveConn is implemented by channels whose peer proves liveness below
// the frame level, such as WebSocket pings. A LiveWatcher counts every beat
// as activity when enforcing its read timeout.
type KeepaliveConn interface {
	Conn

	// OnKeepalive registers fn to run on every beat. It is called once,
	// before the first ReadMessage.
	OnKeepalive(fn func())
}

// Close codes reported when the peer gave none.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// CloseError reports why a push channel closed.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("connection closed: %d", e.Code)
	}
	return fmt.Sprintf("connection closed: %d %s", e.Code, e.Text)
}
