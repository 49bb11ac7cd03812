package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/campaign-gateway/internal/completion"
	"github.com/tjfontaine/campaign-gateway/internal/config"
	"github.com/tjfontaine/campaign-gateway/internal/ratelimit"
	"github.com/tjfontaine/campaign-gateway/internal/storage"
	"github.com/tjfontaine/campaign-gateway/internal/storage/memory"
	"github.com/tjfontaine/campaign-gateway/internal/storage/sqlite"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads configuration from a yaml file plus CAMPAIGN_*
// environment overrides.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config must not be nil")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets the logger for the gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithCompleter replaces the configured upstream client. The model name is
// still taken from llm.model.
func WithCompleter(c completion.Completer) Option {
	return func(g *Gateway) error {
		g.completer = c
		return nil
	}
}

// WithMemoryStore keeps run records in memory.
func WithMemoryStore() Option {
	return func(g *Gateway) error {
		g.store = memory.New()
		return nil
	}
}

// WithSQLite records runs in a SQLite database at path.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithStore uses a custom run store. The gateway closes it on Shutdown.
func WithStore(store storage.RunStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithLimiter replaces the per-client rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(g *Gateway) error {
		g.limiter = l
		return nil
	}
}

// WithCallbackClient sets the HTTP client used to deliver callbacks.
func WithCallbackClient(c *http.Client) Option {
	return func(g *Gateway) error {
		g.callbackClient = c
		return nil
	}
}
