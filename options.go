package loupe

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

var (
	timeoutID        = pipz.NewIdentity("loupe:render-timeout", "Bound render request duration")
	circuitBreakerID = pipz.NewIdentity("loupe:render-circuit-breaker", "Stop rendering against a failing backend")
	rateLimiterID    = pipz.NewIdentity("loupe:render-rate-limit", "Limit render request rate")
	middlewareID     = pipz.NewIdentity("loupe:render-middleware", "Render middleware sequence")
)

// Option configures the render pipeline of a PreviewEngine. Options wrap
// the render call with middleware for timeouts, rate limiting, and circuit
// breaking. They run around the client's own not-ready retry.
//
// Instance configuration (debounce, sync mode, clock) is handled via
// chainable methods on the PreviewEngine before calling Start.
type Option func(pipz.Chainable[*RenderCall]) pipz.Chainable[*RenderCall]

// buildPipeline wraps a terminal with pipeline options.
func buildPipeline(terminal pipz.Chainable[*RenderCall], opts []Option) pipz.Chainable[*RenderCall] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithTimeout bounds every render request, including its retries.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*RenderCall]) pipz.Chainable[*RenderCall] {
		return pipz.NewTimeout(timeoutID, p, d)
	}
}

// WithCircuitBreaker stops sending requests after failures consecutive
// failures until recovery has passed.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*RenderCall]) pipz.Chainable[*RenderCall] {
		return pipz.NewCircuitBreaker(circuitBreakerID, p, failures, recovery)
	}
}

// WithRateLimit limits render requests to rate per second with the given
// burst. Requests wait for capacity. Useful when the debounce window is
// disabled and the backend does not rate-limit on its own.
func WithRateLimit(rate float64, burst int) Option {
	return func(p pipz.Chainable[*RenderCall]) pipz.Chainable[*RenderCall] {
		return pipz.NewRateLimiter(rateLimiterID, rate, burst, p)
	}
}

// WithMiddleware runs processors in order before the render call.
//
// Example:
//
//	loupe.NewPreviewEngine(client, preview, errs, loading,
//	    loupe.WithMiddleware(
//	        loupe.UseEffect("log", logFn),
//	    ),
//	    loupe.WithTimeout(10*time.Second),
//	)
func WithMiddleware(processors ...pipz.Chainable[*RenderCall]) Option {
	return func(p pipz.Chainable[*RenderCall]) pipz.Chainable[*RenderCall] {
		all := make([]pipz.Chainable[*RenderCall], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence(middlewareID, all...)
	}
}

// UseEffect creates a processor that performs a side effect. The call
// passes through unchanged; an error aborts the render.
func UseEffect(name string, fn func(context.Context, *RenderCall) error) pipz.Chainable[*RenderCall] {
	return pipz.Effect(pipz.NewIdentity(name, "render effect"), fn)
}

// UseApply creates a processor that may rewrite the call, e.g. to inject
// entries the backend expects, and may fail.
func UseApply(name string, fn func(context.Context, *RenderCall) (*RenderCall, error)) pipz.Chainable[*RenderCall] {
	return pipz.Apply(pipz.NewIdentity(name, "render transform"), fn)
}
