package loupe

// ConnectionState is the state of the push channel.
type ConnectionState int32

const (
	// StateConnecting indicates a dial is in progress.
	StateConnecting ConnectionState = iota

	// StateOpen indicates the channel is established and receiving frames.
	StateOpen

	// StateClosed indicates the channel is down. The watcher may be waiting
	// to redial.
	StateClosed
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
