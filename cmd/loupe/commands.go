package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zoobzio/loupe"
)

func newWatchCmd() *cobra.Command {
	var (
		out    string
		follow string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Render previews as the configuration and backend change",
		Long: `Start a session against the backend and keep the preview current.

The configuration is hydrated from --query and --set, filled from schema
defaults, and replaced whenever the --follow file (JSON or YAML export) is
written. Every new preview is written to --out.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			session, err := newSession(cfg, true)
			if err != nil {
				return err
			}
			if follow != "" {
				session.Follow(follow)
			}

			hookSignals()
			session.Preview.Observe(func(p loupe.PreviewResult) {
				log.Printf("[PREVIEW] %q %s, %d bytes", p.Title, p.Format, len(p.Image))
				if out == "" || p.Placeholder {
					return
				}
				if err := os.WriteFile(out, p.Image, 0o644); err != nil {
					log.Printf("[PREVIEW] write %s: %v", out, err)
				}
			})

			ctx, cancel := signalContext()
			defer cancel()

			log.Printf("Watching %s", cfg.Backend.URL)
			return session.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write every preview image to this file")
	cmd.Flags().StringVarP(&follow, "follow", "f", "", "Configuration file to follow")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the configuration once and write the image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			session, err := newSession(cfg, false)
			if err != nil {
				return err
			}
			session.SyncMode()
			hookSignals()

			ctx, cancel := signalContext()
			defer cancel()

			if err := session.Start(ctx); err != nil {
				return err
			}
			defer session.Stop()

			result := session.Preview.Current()
			if errs := session.Errors.Active(); len(errs) > 0 {
				for _, rec := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), rec.Message)
				}
				return errors.New("render failed")
			}

			if out == "" {
				out = "preview." + result.Format.String()
			}
			if err := os.WriteFile(out, result.Image, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d bytes)\n", result.Title, out, len(result.Image))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Image file (default preview.<format>)")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the backend's field schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			schema, err := newClient(cfg).FetchSchema(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the hydrated and defaulted configuration to a file",
		Long: `Resolve the configuration the way a session would at start (query,
--set entries, schema defaults) and export it as {id: {id, value}}.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var codec loupe.Codec
			switch format {
			case "json":
				codec = loupe.JSONCodec{}
			case "yaml", "yml":
				codec = loupe.YAMLCodec{}
			case "":
				codec = loupe.CodecFor(out)
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			session, err := newSession(cfg, false)
			if err != nil {
				return err
			}
			session.SyncMode()

			ctx, cancel := signalContext()
			defer cancel()

			if err := session.Start(ctx); err != nil {
				return err
			}
			defer session.Stop()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(filepath.Clean(out))
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return loupe.Export(w, session.Config.Snapshot(), codec)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default from --out extension)")
	return cmd
}
