// Package testing provides test utilities and helpers for loupe sessions
// and the reference backend.
package testing

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/loupe"
	"github.com/zoobzio/loupe/backend"
)

// TestImage is the image every TestRenderer answers with.
var TestImage = []byte("GIF89a-test")

// TestRenderer records every configuration it renders and answers with
// TestImage as a GIF. Set Fail to embed an error in the next responses.
type TestRenderer struct {
	mu      sync.Mutex
	configs []map[string]string
	fail    string
}

// Render implements backend.Renderer.
func (r *TestRenderer) Render(_ context.Context, config map[string]string) (backend.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, config)
	if r.fail != "" {
		return backend.Image{}, renderError(r.fail)
	}
	return backend.Image{Data: TestImage, Format: "gif"}, nil
}

// Fail makes subsequent renders report msg. An empty msg restores success.
func (r *TestRenderer) Fail(msg string) {
	r.mu.Lock()
	r.fail = msg
	r.mu.Unlock()
}

// Renders returns how many configurations were rendered.
func (r *TestRenderer) Renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs)
}

// Last returns the most recently rendered configuration.
func (r *TestRenderer) Last() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

type renderError string

func (e renderError) Error() string { return string(e) }

// NewTestBackend starts a reference backend serving schema over httptest.
// The server is closed when the test ends.
func NewTestBackend(t *testing.T, schema loupe.Schema) (*backend.Server, *TestRenderer, *httptest.Server) {
	t.Helper()
	r := &TestRenderer{}
	srv := backend.New("Test", r)
	if err := srv.SetSchema(schema); err != nil {
		t.Fatalf("SetSchema() error = %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return srv, r, ts
}

// NewTestClient creates a client for ts with fast not-ready retries.
func NewTestClient(ts *httptest.Server) *loupe.Client {
	return loupe.NewClient(ts.URL).RetryDelay(time.Millisecond)
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForConnection waits until the watcher reaches the expected state or timeout occurs.
func WaitForConnection(t *testing.T, w *loupe.LiveWatcher, expected loupe.ConnectionState, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return w.State() == expected
	})
}

// RequireEntry fails the test immediately if store does not hold value for id.
func RequireEntry(t *testing.T, store *loupe.ConfigStore, id, value string) {
	t.Helper()
	got, ok := store.Get(id)
	if !ok {
		t.Fatalf("expected entry %q, got none", id)
	}
	if got != value {
		t.Fatalf("expected %s=%q, got %q", id, value, got)
	}
}

// RequireActive fails the test if id is not an active error.
func RequireActive(t *testing.T, errs *loupe.ErrorAggregator, id string) loupe.ErrorRecord {
	t.Helper()
	rec, ok := errs.Active()[id]
	if !ok {
		t.Fatalf("expected active error %q, got %v", id, errs.Active())
	}
	return rec
}

// RequireNoErrors fails the test if any error is active.
func RequireNoErrors(t *testing.T, errs *loupe.ErrorAggregator) {
	t.Helper()
	if active := errs.Active(); len(active) > 0 {
		t.Fatalf("expected no active errors, got %v", active)
	}
}
