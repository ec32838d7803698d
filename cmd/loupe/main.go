// Command loupe drives a rendering backend from the terminal: it keeps a
// configuration in sync with a backend's preview, exports configurations,
// and serves a reference backend for local development.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/loupe"
	"github.com/zoobzio/loupe/internal/config"
)

var (
	configPath string
	backendURL string
	queryFlag  string
	setFlags   []string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loupe",
		Short: "Keep a schema-driven configuration in sync with its rendered preview",
		Long: `loupe talks to a rendering backend that declares a field schema.

It hydrates a configuration from a query string, applies schema defaults,
renders previews as the configuration changes, and follows the backend's
push channel for schema and preview updates.

Configuration is read from a TOML file (--config), a .env file in the
working directory, and LOUPE_* environment variables:
  LOUPE_URL             Backend base URL
  LOUPE_DEBOUNCE        Render debounce window (e.g. 300ms)
  LOUPE_RETRIES         Retries after a not-ready answer
  LOUPE_RETRY_DELAY     Delay between not-ready retries
  LOUPE_TIMEOUT         Render timeout (0 disables)
  LOUPE_LIVE            Follow the push channel (true/false)
  LOUPE_MAX_RECONNECTS  Push channel reconnect limit (0 = unbounded)
  LOUPE_ADDR            Listen address for serve
  LOUPE_TITLE           Preview title for serve`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVarP(&backendURL, "url", "u", "", "Backend base URL (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&queryFlag, "query", "q", "", "Query string hydrated into the configuration")
	rootCmd.PersistentFlags().StringArrayVarP(&setFlags, "set", "s", nil, "Configuration entry as id=value (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every engine signal")

	rootCmd.AddCommand(
		newWatchCmd(),
		newRenderCmd(),
		newSchemaCmd(),
		newExportCmd(),
		newServeCmd(),
	)

	err := rootCmd.Execute()
	capitan.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the configuration with flag overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendURL != "" {
		cfg.Backend.URL = backendURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newClient builds a backend client from cfg.
func newClient(cfg *config.Config) *loupe.Client {
	return loupe.NewClient(cfg.Backend.URL).
		Retries(cfg.Render.Retries).
		RetryDelay(cfg.Render.RetryDelay.Std())
}

// newSession builds a session from cfg. live selects whether the push
// channel is followed.
func newSession(cfg *config.Config, live bool) (*loupe.Session, error) {
	query, err := buildQuery()
	if err != nil {
		return nil, err
	}

	var opts []loupe.Option
	if cfg.Render.Timeout > 0 {
		opts = append(opts, loupe.WithTimeout(cfg.Render.Timeout.Std()))
	}

	var dialer loupe.Dialer
	if live && cfg.Live.Enabled {
		dialer = loupe.WebSocketDialer{}
	}

	session := loupe.NewSession(newClient(cfg), dialer, opts...).Query(query)
	session.Engine.
		Debounce(cfg.Render.Debounce.Std()).
		QueryLimit(cfg.Render.QueryLimit)
	if session.Live != nil {
		session.Live.
			ConnectTimeout(cfg.Live.ConnectTimeout.Std()).
			Backoff(cfg.Live.BackoffBase.Std(), cfg.Live.BackoffMax.Std()).
			MaxReconnects(cfg.Live.MaxReconnects)
	}
	return session, nil
}

// buildQuery merges --query with --set pairs. --set wins.
func buildQuery() (url.Values, error) {
	query, err := url.ParseQuery(strings.TrimPrefix(queryFlag, "?"))
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	for _, pair := range setFlags {
		id, value, ok := strings.Cut(pair, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --set %q, expected id=value", pair)
		}
		query.Set(id, value)
	}
	return query, nil
}

// hookSignals prints engine signals. Errors and state changes are always
// shown; everything else only with --verbose.
func hookSignals() {
	capitan.Hook(loupe.ErrorRaised, func(_ context.Context, e *capitan.Event) {
		msg, _ := loupe.KeyError.From(e)
		kind, _ := loupe.KeyErrorKind.From(e)
		log.Printf("[ERROR] %s: %s", kind, msg)
	})
	capitan.Hook(loupe.ErrorsCleared, func(_ context.Context, e *capitan.Event) {
		n, _ := loupe.KeyCount.From(e)
		if n > 0 {
			log.Printf("[CLEARED] %d error(s)", n)
		}
	})
	capitan.Hook(loupe.LiveStateChanged, func(_ context.Context, e *capitan.Event) {
		oldState, _ := loupe.KeyOldState.From(e)
		newState, _ := loupe.KeyNewState.From(e)
		log.Printf("[LIVE] %s → %s", oldState, newState)
	})

	if !verbose {
		return
	}
	capitan.Hook(loupe.RenderSucceeded, func(_ context.Context, e *capitan.Event) {
		seq, _ := loupe.KeySequence.From(e)
		d, _ := loupe.KeyDuration.From(e)
		log.Printf("[RENDER] #%d in %s", seq, d)
	})
	capitan.Hook(loupe.RenderDiscarded, func(_ context.Context, e *capitan.Event) {
		seq, _ := loupe.KeySequence.From(e)
		log.Printf("[RENDER] #%d discarded", seq)
	})
	capitan.Hook(loupe.RequestRetried, func(_ context.Context, e *capitan.Event) {
		op, _ := loupe.KeyOp.From(e)
		attempt, _ := loupe.KeyAttempt.From(e)
		log.Printf("[RETRY] %s attempt %d", op, attempt)
	})
	capitan.Hook(loupe.SchemaUpdated, func(_ context.Context, e *capitan.Event) {
		n, _ := loupe.KeyCount.From(e)
		log.Printf("[SCHEMA] %d field(s)", n)
	})
	capitan.Hook(loupe.HandlerFailed, func(_ context.Context, e *capitan.Event) {
		h, _ := loupe.KeyHandler.From(e)
		msg, _ := loupe.KeyError.From(e)
		log.Printf("[HANDLER] %s: %s", h, msg)
	})
	capitan.Hook(loupe.ConfigImported, func(_ context.Context, e *capitan.Event) {
		path, _ := loupe.KeyPath.From(e)
		n, _ := loupe.KeyCount.From(e)
		log.Printf("[IMPORT] %d entries from %s", n, path)
	})
}
