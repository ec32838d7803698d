// Package backend is a reference implementation of the rendering service
// contract loupe clients speak: schema, preview, and handler routes plus the
// push channel. Rendering itself is delegated to a Renderer.
package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/loupe"
	"golang.org/x/sync/errgroup"
)

// maxFormMemory bounds the in-memory part of a parsed preview form.
const maxFormMemory = 32 << 20

// Image is one rendered artifact.
type Image struct {
	Data []byte

	// Format is "webp" or "gif".
	Format string
}

// Renderer turns a configuration into an image. A returned error is
// reported to the client inside an otherwise successful response.
type Renderer interface {
	Render(ctx context.Context, config map[string]string) (Image, error)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(ctx context.Context, config map[string]string) (Image, error)

// Render calls f.
func (f RenderFunc) Render(ctx context.Context, config map[string]string) (Image, error) {
	return f(ctx, config)
}

// Reloader is implemented by renderers that rebuild from a watched file.
// A non-nil schema replaces the served one and is pushed to clients.
type Reloader interface {
	Reload(ctx context.Context, data []byte) (*loupe.Schema, error)
}

// HandlerFunc answers a named handler call. The result is sent verbatim as
// the JSON response body.
type HandlerFunc func(ctx context.Context, fieldID, param string) (json.RawMessage, error)

// Server serves the backend routes.
type Server struct {
	title    string
	renderer Renderer
	hub      *Hub

	schema atomic.Pointer[[]byte]
	ready  atomic.Bool

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	last     map[string]string

	middleware []func(http.Handler) http.Handler
	watch      *loupe.FileWatcher

	routerOnce sync.Once
	router     chi.Router
}

// New creates a server titled title rendering through renderer. The server
// starts ready with an empty schema.
func New(title string, renderer Renderer) *Server {
	s := &Server{
		title:    title,
		renderer: renderer,
		hub:      NewHub(),
		handlers: make(map[string]HandlerFunc),
	}
	s.ready.Store(true)
	empty, _ := json.Marshal(loupe.Schema{Version: "1"})
	s.schema.Store(&empty)
	return s
}

// Use adds router middleware. Must be called before Handler.
func (s *Server) Use(mw ...func(http.Handler) http.Handler) *Server {
	s.middleware = append(s.middleware, mw...)
	return s
}

// Handle registers fn under name.
func (s *Server) Handle(name string, fn HandlerFunc) *Server {
	s.mu.Lock()
	s.handlers[name] = fn
	s.mu.Unlock()
	return s
}

// WatchFile rerenders the last configuration whenever path is written.
// Must be called before Run.
func (s *Server) WatchFile(path string) *Server {
	s.watch = loupe.NewFileWatcher(path)
	return s
}

// SetReady toggles whether schema and preview routes answer. A server that
// is not ready answers 404, as a backend still loading its applet does.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// SetSchema replaces the served schema and pushes it to every client.
func (s *Server) SetSchema(schema loupe.Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	s.schema.Store(&data)
	s.hub.Broadcast(Frame{Type: loupe.FrameSchema, Message: string(data)})
	return nil
}

// PushImage sends img to every client.
func (s *Server) PushImage(img Image) {
	s.hub.Broadcast(Frame{
		Type:      loupe.FrameImg,
		Message:   base64.StdEncoding.EncodeToString(img.Data),
		ImageType: formatOf(img),
	})
}

// PushError sends a render error to every client.
func (s *Server) PushError(msg string) {
	s.hub.Broadcast(Frame{Type: loupe.FrameError, Message: msg})
}

// Hub returns the push channel hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		for _, mw := range s.middleware {
			r.Use(mw)
		}

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		r.Get(loupe.SchemaPath, s.handleSchema)
		r.Post(loupe.PreviewPath, s.handlePreview)
		r.Post(loupe.HandlersPath+"{handler}", s.handleHandler)
		r.Get(loupe.LivePath, s.hub.ServeHTTP)
		s.router = r
	})
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Run serves on addr until ctx is canceled, rerendering on file changes
// when WatchFile was set.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.watch != nil {
		g.Go(func() error {
			return s.follow(gctx)
		})
	}
	return g.Wait()
}

func (s *Server) follow(ctx context.Context) error {
	ch, err := s.watch.Watch(ctx)
	if err != nil {
		return err
	}
	for data := range ch {
		capitan.Emit(ctx, FileChanged,
			KeyPath.Field(s.watch.Path()),
		)
		s.Rerender(ctx, data)
	}
	return nil
}

// Rerender reloads the renderer from data when it supports it, then renders
// the last requested configuration and pushes the result.
func (s *Server) Rerender(ctx context.Context, data []byte) {
	if rl, ok := s.renderer.(Reloader); ok {
		schema, err := rl.Reload(ctx, data)
		if err != nil {
			s.PushError(err.Error())
			return
		}
		if schema != nil {
			if err := s.SetSchema(*schema); err != nil {
				s.PushError(err.Error())
				return
			}
		}
	}

	s.mu.RLock()
	config := maps.Clone(s.last)
	s.mu.RUnlock()
	if config == nil {
		config = map[string]string{}
	}

	img, err := s.renderer.Render(ctx, config)
	if err != nil {
		s.PushError(err.Error())
		return
	}
	s.PushImage(img)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(*s.schema.Load())
}

type previewResponse struct {
	Title   string `json:"title"`
	Img     string `json:"img"`
	ImgType string `json:"img_type"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "bad form data")
		return
	}

	config := make(map[string]string, len(r.Form))
	for k, vals := range r.Form {
		if len(vals) > 0 {
			config[k] = vals[0]
		}
	}
	s.mu.Lock()
	s.last = config
	s.mu.Unlock()

	resp := previewResponse{Title: s.title, ImgType: "webp"}
	img, err := s.renderer.Render(r.Context(), config)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Img = base64.StdEncoding.EncodeToString(img.Data)
		resp.ImgType = formatOf(img)
	}

	capitan.Emit(r.Context(), PreviewServed,
		KeyClients.Field(s.hub.Clients()),
	)
	writeJSON(w, http.StatusOK, resp)
}

type handlerRequest struct {
	ID    string `json:"id"`
	Param string `json:"param"`
}

func (s *Server) handleHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "handler")

	s.mu.RLock()
	fn, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no handler %q", name))
		return
	}

	var req handlerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFormMemory)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := fn(r.Context(), req.ID, req.Param)
	if err != nil {
		capitan.Emit(r.Context(), HandlerServed,
			KeyHandler.Field(name),
			KeyError.Field(err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	capitan.Emit(r.Context(), HandlerServed,
		KeyHandler.Field(name),
	)
	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

func formatOf(img Image) string {
	if img.Format == "" {
		return "webp"
	}
	return img.Format
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
