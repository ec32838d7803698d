package loupe_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/loupe"
	loupetesting "github.com/zoobzio/loupe/testing"
)

func testSchema() loupe.Schema {
	return loupe.Schema{Version: "1", Fields: []loupe.FieldDescriptor{
		{ID: "name", Kind: loupe.FieldText, Default: "world"},
		{ID: "count", Kind: loupe.FieldText, Default: "3"},
		{ID: "label", Kind: loupe.FieldText},
	}}
}

func TestSession_StartRendersBootstrapSnapshot(t *testing.T) {
	_, r, ts := loupetesting.NewTestBackend(t, testSchema())

	session := loupe.NewSession(loupetesting.NewTestClient(ts), nil).
		Query(url.Values{"count": {"7"}, "extra": {"kept"}}).
		SyncMode()

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer session.Stop()

	if r.Renders() != 1 {
		t.Fatalf("expected exactly 1 initial render, got %d", r.Renders())
	}
	last := r.Last()
	if last["name"] != "world" {
		t.Errorf("expected default name=world, got %q", last["name"])
	}
	if last["count"] != "7" {
		t.Errorf("expected hydrated count=7, got %q", last["count"])
	}
	if last["extra"] != "kept" {
		t.Errorf("expected undeclared query entry kept, got %q", last["extra"])
	}
	if _, ok := last["label"]; ok {
		t.Error("expected no entry for field without default")
	}

	cur := session.Preview.Current()
	if cur.Placeholder || cur.Title != "Test" || cur.Format != loupe.ImageGIF {
		t.Errorf("unexpected preview %+v", cur)
	}
	loupetesting.RequireNoErrors(t, session.Errors)
}

func TestSession_ChangeRenders(t *testing.T) {
	_, r, ts := loupetesting.NewTestBackend(t, testSchema())

	session := loupe.NewSession(loupetesting.NewTestClient(ts), nil).SyncMode()
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer session.Stop()

	session.Config.Set("label", "hi")

	if r.Renders() != 2 {
		t.Fatalf("expected 2 renders, got %d", r.Renders())
	}
	if r.Last()["label"] != "hi" {
		t.Errorf("expected label=hi, got %v", r.Last())
	}
}

func TestSession_EmbeddedRenderError(t *testing.T) {
	_, r, ts := loupetesting.NewTestBackend(t, testSchema())

	session := loupe.NewSession(loupetesting.NewTestClient(ts), nil).SyncMode()
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer session.Stop()

	r.Fail("count must be a number")
	session.Config.Set("count", "x")
	rec := loupetesting.RequireActive(t, session.Errors, "count must be a number")
	if rec.Kind != loupe.KindRender {
		t.Errorf("expected render kind, got %s", rec.Kind)
	}

	r.Fail("")
	session.Config.Set("count", "4")
	loupetesting.RequireNoErrors(t, session.Errors)
}

func TestSession_SchemaNotReady(t *testing.T) {
	srv, _, ts := loupetesting.NewTestBackend(t, testSchema())
	srv.SetReady(false)

	session := loupe.NewSession(loupetesting.NewTestClient(ts).Retries(1), nil).SyncMode()
	err := session.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail while backend is not ready")
	}
	if !loupe.IsNotReady(err) {
		t.Errorf("expected not-ready cause, got %v", err)
	}
	if len(session.Errors.Active()) != 1 {
		t.Errorf("expected schema failure raised, got %v", session.Errors.Active())
	}
	if err := session.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}
}

// ctxRecorder keeps the context of the last request it forwards.
type ctxRecorder struct {
	mu   sync.Mutex
	last context.Context
}

func (r *ctxRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	r.last = req.Context()
	r.mu.Unlock()
	return http.DefaultTransport.RoundTrip(req)
}

func (r *ctxRecorder) Last() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func TestSession_EngineStartFailureCancels(t *testing.T) {
	_, _, ts := loupetesting.NewTestBackend(t, testSchema())

	rec := &ctxRecorder{}
	client := loupetesting.NewTestClient(ts).HTTPClient(&http.Client{Transport: rec})
	session := loupe.NewSession(client, nil).SyncMode()
	if err := session.Engine.Start(context.Background()); err != nil {
		t.Fatalf("Engine.Start() error = %v", err)
	}

	if err := session.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail with the engine already running")
	}
	ctx := rec.Last()
	if ctx == nil {
		t.Fatal("expected the schema request to be sent")
	}
	if ctx.Err() == nil {
		t.Error("expected session context canceled after failed start")
	}
}

func TestSession_SchemaBecomesReady(t *testing.T) {
	srv, _, ts := loupetesting.NewTestBackend(t, testSchema())
	srv.SetReady(false)

	client := loupetesting.NewTestClient(ts).OnRetry(func(string, int) {
		srv.SetReady(true)
	})
	session := loupe.NewSession(client, nil).SyncMode()
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer session.Stop()

	loupetesting.RequireEntry(t, session.Config, "name", "world")
}

func TestSession_GeneratedFields(t *testing.T) {
	schema := loupe.Schema{Version: "1", Fields: []loupe.FieldDescriptor{
		{ID: "mode", Kind: loupe.FieldDropdown, Default: "basic", Options: []loupe.Choice{
			{Display: "Basic", Value: "basic"},
			{Display: "Advanced", Value: "advanced"},
		}},
		{ID: "more", Kind: loupe.FieldGenerated, Source: "mode", Handler: "expand"},
	}}
	srv, r, ts := loupetesting.NewTestBackend(t, schema)
	srv.Handle("expand", func(_ context.Context, _, param string) (json.RawMessage, error) {
		doc := loupe.Schema{Version: "1", Fields: []loupe.FieldDescriptor{
			{ID: param + "_speed", Kind: loupe.FieldText, Default: "fast"},
		}}
		return json.Marshal(doc)
	})

	session := loupe.NewSession(loupetesting.NewTestClient(ts), nil).SyncMode()
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer session.Stop()

	if _, ok := session.Schema.Generated().Field("basic_speed"); !ok {
		t.Fatalf("expected generated field, got %+v", session.Schema.Generated())
	}
	// Defaults of generated fields are applied and rendered.
	loupetesting.RequireEntry(t, session.Config, "basic_speed", "fast")
	if r.Last()["basic_speed"] != "fast" {
		t.Errorf("expected generated default rendered, got %v", r.Last())
	}

	session.Config.Set("mode", "advanced")
	if _, ok := session.Schema.Generated().Field("advanced_speed"); !ok {
		t.Errorf("expected regenerated field, got %+v", session.Schema.Generated())
	}
}

func TestSession_Handlers(t *testing.T) {
	srv, _, ts := loupetesting.NewTestBackend(t, testSchema())
	srv.Handle("cities", func(_ context.Context, fieldID, param string) (json.RawMessage, error) {
		return json.Marshal([]loupe.Choice{{Display: fieldID + ":" + param, Value: param}})
	})

	session := loupe.NewSession(loupetesting.NewTestClient(ts), nil).SyncMode()
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer session.Stop()

	if _, err := session.Handlers.Invoke(context.Background(), "city", "cities", "ber"); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	choices, ok := session.Handlers.Options("city")
	if !ok || len(choices) != 1 || choices[0].Display != "city:ber" {
		t.Errorf("unexpected choices %+v", choices)
	}

	if _, err := session.Handlers.Invoke(context.Background(), "city", "missing", "x"); err == nil {
		t.Error("expected error for unknown handler")
	}
	loupetesting.RequireActive(t, session.Errors, `could not call handler missing with param x: no handler "missing"`)
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	_, _, ts := loupetesting.NewTestBackend(t, testSchema())

	session := loupe.NewSession(loupetesting.NewTestClient(ts), nil)
	session.Engine.Debounce(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	if !loupetesting.WaitFor(t, time.Second, func() bool {
		return !session.Preview.Current().Placeholder
	}) {
		t.Fatal("initial render not applied")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
