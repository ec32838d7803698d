package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/loupe"
	"github.com/zoobzio/loupe/backend"
)

func newServeCmd() *cobra.Command {
	var (
		schemaPath   string
		imagePath    string
		handlersPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a reference backend from a schema file and an image",
		Long: `Serve the backend routes for local client development.

The schema is read from --schema and pushed to connected clients whenever
the file is written. Every preview request answers with the --image file.
--handlers names a JSON object mapping handler names to canned responses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if schemaPath == "" {
				schemaPath = cfg.Serve.Watch
			}
			r := &fileRenderer{image: imagePath}
			srv := backend.New(cfg.Serve.Title, r).Use(middleware.Logger)

			if schemaPath != "" {
				data, err := os.ReadFile(schemaPath)
				if err != nil {
					return err
				}
				schema, err := r.Reload(cmd.Context(), data)
				if err != nil {
					return err
				}
				if err := srv.SetSchema(*schema); err != nil {
					return err
				}
				srv.WatchFile(schemaPath)
			}

			if handlersPath != "" {
				if err := registerHandlers(srv, handlersPath); err != nil {
					return err
				}
			}

			capitan.Hook(backend.ClientConnected, func(_ context.Context, e *capitan.Event) {
				remote, _ := backend.KeyRemote.From(e)
				n, _ := backend.KeyClients.From(e)
				log.Printf("[WS] %s connected (%d)", remote, n)
			})
			capitan.Hook(backend.FileChanged, func(_ context.Context, e *capitan.Event) {
				path, _ := backend.KeyPath.From(e)
				log.Printf("[WATCH] %s changed", path)
			})

			ctx, cancel := signalContext()
			defer cancel()

			log.Printf("Serving on %s", cfg.Serve.Addr)
			return srv.Run(ctx, cfg.Serve.Addr)
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "Schema document, watched for changes (default serve.watch)")
	cmd.Flags().StringVar(&imagePath, "image", "", "Image returned for every preview (.webp or .gif)")
	cmd.Flags().StringVar(&handlersPath, "handlers", "", "JSON file of canned handler responses")
	return cmd
}

// fileRenderer answers every render with the same image file and reloads
// its schema from the watched schema file.
type fileRenderer struct {
	image string
}

func (r *fileRenderer) Render(_ context.Context, _ map[string]string) (backend.Image, error) {
	if r.image == "" {
		return backend.Image{}, fmt.Errorf("no preview image configured")
	}
	data, err := os.ReadFile(r.image)
	if err != nil {
		return backend.Image{}, err
	}
	format := "webp"
	if strings.EqualFold(filepath.Ext(r.image), ".gif") {
		format = "gif"
	}
	return backend.Image{Data: data, Format: format}, nil
}

func (r *fileRenderer) Reload(_ context.Context, data []byte) (*loupe.Schema, error) {
	schema, err := loupe.DecodeSchema(data)
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

func registerHandlers(srv *backend.Server, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var canned map[string]json.RawMessage
	if err := json.Unmarshal(data, &canned); err != nil {
		return fmt.Errorf("decode handlers: %w", err)
	}
	for name, resp := range canned {
		srv.Handle(name, func(context.Context, string, string) (json.RawMessage, error) {
			return resp, nil
		})
	}
	return nil
}
