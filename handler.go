package loupe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// handlerFailureMessage is the display text of a failed handler call.
const handlerFailureMessage = "could not call handler %s with param %s: %s"

// HandlerCaller sends a handler request to the backend. *Client implements it.
type HandlerCaller interface {
	CallHandler(ctx context.Context, handler, fieldID, param string) (json.RawMessage, error)
}

// HandlerResults is an immutable snapshot of the latest handler result per
// field id.
type HandlerResults map[string]json.RawMessage

// HandlerInvoker calls named backend handlers on behalf of fields and keeps
// the latest raw result of each. Results are transient UI data and are never
// written to the configuration unless the caller applies them.
//
// Calls for the same field are fenced: a response that arrives after a
// newer call's response for that field was applied is dropped.
type HandlerInvoker struct {
	caller  HandlerCaller
	errors  *ErrorAggregator
	loading *Loading
	clock   clockz.Clock
	metrics MetricsProvider

	mu        sync.Mutex
	results   HandlerResults
	version   uint64
	issued    map[string]uint64
	applied   map[string]uint64
	observers observers[HandlerResults]
}

// NewHandlerInvoker creates an invoker calling through caller.
func NewHandlerInvoker(caller HandlerCaller, errs *ErrorAggregator, loading *Loading) *HandlerInvoker {
	return &HandlerInvoker{
		caller:  caller,
		errors:  errs,
		loading: loading,
		clock:   clockz.RealClock,
		results: HandlerResults{},
		issued:  make(map[string]uint64),
		applied: make(map[string]uint64),
	}
}

// Clock sets the clock used to time calls.
func (h *HandlerInvoker) Clock(clock clockz.Clock) *HandlerInvoker {
	h.clock = clock
	return h
}

// Metrics sets a metrics provider.
func (h *HandlerInvoker) Metrics(provider MetricsProvider) *HandlerInvoker {
	h.metrics = provider
	return h
}

// Observe registers fn to receive every new results snapshot.
func (h *HandlerInvoker) Observe(fn func(HandlerResults)) func() {
	return h.observers.add(fn)
}

// Results returns the latest result of every field.
func (h *HandlerInvoker) Results() HandlerResults {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results
}

// Result returns the latest raw result for fieldID.
func (h *HandlerInvoker) Result(fieldID string) (json.RawMessage, bool) {
	raw, ok := h.Results()[fieldID]
	return raw, ok
}

// Options decodes the latest result for fieldID as a choice list, the shape
// returned by typeahead and location-based handlers.
func (h *HandlerInvoker) Options(fieldID string) ([]Choice, bool) {
	raw, ok := h.Result(fieldID)
	if !ok {
		return nil, false
	}
	var choices []Choice
	if err := json.Unmarshal(raw, &choices); err != nil {
		return nil, false
	}
	return choices, true
}

// Invoke calls handler with param for fieldID and stores the result. A
// failure is raised through the ErrorAggregator and returned as *Error.
func (h *HandlerInvoker) Invoke(ctx context.Context, fieldID, handler, param string) (json.RawMessage, error) {
	raw, _, err := h.invoke(ctx, fieldID, handler, param)
	return raw, err
}

// InvokeAndApply calls handler like Invoke and passes the result to apply,
// typically to write it into the ConfigStore. apply is skipped when a newer
// call for the same field has already been applied.
func (h *HandlerInvoker) InvokeAndApply(
	ctx context.Context,
	fieldID, handler, param string,
	apply func(json.RawMessage) error,
) error {
	raw, fresh, err := h.invoke(ctx, fieldID, handler, param)
	if err != nil || !fresh {
		return err
	}
	if err := apply(raw); err != nil {
		le := &Error{Kind: KindDecode, Op: "handler " + handler, Err: err}
		h.errors.RaiseError(ctx, le)
		return le
	}
	return nil
}

func (h *HandlerInvoker) invoke(ctx context.Context, fieldID, handler, param string) (json.RawMessage, bool, error) {
	done := h.loading.Begin()
	defer done()

	h.mu.Lock()
	h.issued[fieldID]++
	seq := h.issued[fieldID]
	h.mu.Unlock()

	start := h.clock.Now()
	raw, err := h.caller.CallHandler(ctx, handler, fieldID, param)
	elapsed := h.clock.Since(start)
	if h.metrics != nil {
		h.metrics.OnHandlerCall(handler, elapsed, err)
	}

	fresh := h.claim(fieldID, seq)

	if err != nil {
		cause := asError("handler "+handler, KindHandler, err)
		msg := fmt.Sprintf(handlerFailureMessage, handler, param, cause.Reason())
		le := &Error{
			Kind:    KindHandler,
			Op:      "handler " + handler,
			Status:  cause.Status,
			Message: msg,
			Err:     cause,
		}
		if fresh {
			h.errors.raise(ctx, ErrorRecord{ID: msg, Message: msg, Kind: KindHandler})
		}
		capitan.Emit(ctx, HandlerFailed,
			KeyHandler.Field(handler),
			KeyField.Field(fieldID),
			KeyError.Field(msg),
		)
		return nil, fresh, le
	}

	capitan.Emit(ctx, HandlerInvoked,
		KeyHandler.Field(handler),
		KeyField.Field(fieldID),
		KeyDuration.Field(elapsed),
	)
	if !fresh {
		return raw, false, nil
	}

	h.mu.Lock()
	next := maps.Clone(h.results)
	next[fieldID] = raw
	h.results = next
	h.version++
	h.mu.Unlock()
	h.observers.publish(h.latest)

	return raw, true, nil
}

func (h *HandlerInvoker) latest() (uint64, HandlerResults) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version, h.results
}

// claim reports whether call seq for fieldID is newer than every applied
// call for that field, and records it as applied.
func (h *HandlerInvoker) claim(fieldID string, seq uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if seq <= h.applied[fieldID] {
		return false
	}
	h.applied[fieldID] = seq
	return true
}

type oauth2Exchange struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	GrantType   string `json:"grant_type"`
}

// ExchangeOAuth2 trades an authorization code for a token through the
// field's handler and stores the token as the field's configuration value.
func (h *HandlerInvoker) ExchangeOAuth2(
	ctx context.Context,
	config *ConfigStore,
	field FieldDescriptor,
	code, redirectURI string,
) error {
	if field.Kind != FieldOAuth2 || field.Handler == "" {
		return &Error{
			Kind: KindHandler,
			Op:   "oauth2 " + field.ID,
			Err:  fmt.Errorf("field %q is not an oauth2 field with a handler", field.ID),
		}
	}

	param, err := json.Marshal(oauth2Exchange{
		Code:        code,
		ClientID:    field.ClientID,
		RedirectURI: redirectURI,
		GrantType:   "authorization_code",
	})
	if err != nil {
		return &Error{Kind: KindHandler, Op: "oauth2 " + field.ID, Err: err}
	}

	return h.InvokeAndApply(ctx, field.ID, field.Handler, string(param), func(raw json.RawMessage) error {
		token := string(bytes.TrimSpace(raw))
		var s string
		if json.Unmarshal(raw, &s) == nil {
			token = s
		}
		config.Set(field.ID, token)
		return nil
	})
}
