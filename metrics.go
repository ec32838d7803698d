package loupe

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key engine events.
type MetricsProvider interface {
	// OnRenderSuccess is called when a render response was applied.
	OnRenderSuccess(duration time.Duration)

	// OnRenderFailure is called when a render request failed after retries.
	OnRenderFailure(kind ErrorKind, duration time.Duration)

	// OnRenderDiscarded is called when a stale render response was dropped.
	OnRenderDiscarded()

	// OnHandlerCall is called after every handler invocation.
	OnHandlerCall(handler string, duration time.Duration, err error)

	// OnConnectionStateChange is called on every push channel transition.
	OnConnectionStateChange(from, to ConnectionState)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnRenderSuccess(_ time.Duration)                  {}
func (NoOpMetricsProvider) OnRenderFailure(_ ErrorKind, _ time.Duration)     {}
func (NoOpMetricsProvider) OnRenderDiscarded()                               {}
func (NoOpMetricsProvider) OnHandlerCall(_ string, _ time.Duration, _ error) {}
func (NoOpMetricsProvider) OnConnectionStateChange(_, _ ConnectionState)     {}
