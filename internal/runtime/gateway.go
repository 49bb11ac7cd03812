// Package runtime provides the Gateway struct and lifecycle management for
// the campaign gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/tjfontaine/campaign-gateway/internal/callback"
	"github.com/tjfontaine/campaign-gateway/internal/completion"
	"github.com/tjfontaine/campaign-gateway/internal/config"
	frontdoor "github.com/tjfontaine/campaign-gateway/internal/frontdoor/campaign"
	"github.com/tjfontaine/campaign-gateway/internal/pipeline"
	"github.com/tjfontaine/campaign-gateway/internal/ratelimit"
	"github.com/tjfontaine/campaign-gateway/internal/server"
	"github.com/tjfontaine/campaign-gateway/internal/storage"
	"github.com/tjfontaine/campaign-gateway/internal/storage/memory"
	"github.com/tjfontaine/campaign-gateway/internal/storage/sqlite"
	"github.com/tjfontaine/campaign-gateway/internal/tokens"
)

// Gateway wires the pipeline, callback dispatcher, run store and HTTP server
// together. It can be embedded in larger applications or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	cfg            *config.Config
	completer      completion.Completer
	store          storage.RunStore
	limiter        ratelimit.Limiter
	callbackClient *http.Client
	logger         *slog.Logger

	orchestrator *pipeline.Orchestrator
	dispatcher   *callback.Dispatcher
	server       *server.Server

	mu       sync.Mutex
	shutdown bool
}

// New creates a Gateway. Without WithFileConfig or WithConfig the default
// config file and environment are loaded.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			gw.closeStore()
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.logger == nil {
		gw.logger = slog.Default()
	}
	if gw.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			gw.closeStore()
			return nil, fmt.Errorf("load config: %w", err)
		}
		gw.cfg = cfg
	}

	if err := gw.init(); err != nil {
		gw.closeStore()
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) init() error {
	cfg := g.cfg

	if g.completer == nil {
		g.completer = completion.NewFromConfig(cfg.LLM, g.logger)
	}

	if g.store == nil {
		store, err := newStore(cfg.Storage)
		if err != nil {
			return err
		}
		g.store = store
	}

	g.orchestrator = pipeline.New(g.completer, pipeline.Options{
		Logger:          g.logger,
		ValidateOutputs: cfg.Pipeline.ValidateOutputs,
		Tokens:          tokens.NewCounter(),
		Model:           cfg.LLM.Model,
	})

	g.dispatcher = callback.NewDispatcher(callback.Options{
		Client:        g.callbackClient,
		Timeout:       cfg.Callback.Timeout,
		MaxConcurrent: cfg.Callback.MaxConcurrent,
		BlockPrivate:  cfg.Callback.BlockPrivate,
		Logger:        g.logger,
	})

	if g.limiter == nil {
		g.limiter = ratelimit.NewFixedWindow(cfg.RateLimit.RequestsPerMinute)
	}

	g.server = server.New(server.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         g.logger,
	})

	handler := frontdoor.NewHandler(frontdoor.Config{
		Runner:      g.orchestrator,
		Completer:   g.completer,
		Dispatcher:  g.dispatcher,
		Store:       g.store,
		Model:       cfg.LLM.Model,
		ParseResult: cfg.Response.ParseResult,
		Logger:      g.logger,
	})
	frontdoor.Mount(g.server.Router, frontdoor.CreateHandlerRegistrations(handler, ""),
		server.RateLimitMiddleware(g.limiter, server.RateLimitOptions{
			TrustForwarded: cfg.RateLimit.TrustForwarded,
			Logger:         g.logger,
		}))

	g.logger.Info("gateway initialized",
		slog.String("model", cfg.LLM.Model),
		slog.String("storage", cfg.Storage.Type),
		slog.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute),
		slog.Bool("validate_outputs", cfg.Pipeline.ValidateOutputs),
	)
	return nil
}

func newStore(cfg config.StorageConfig) (storage.RunStore, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.server.Router
}

// Orchestrator returns the stage pipeline the gateway runs.
func (g *Gateway) Orchestrator() *pipeline.Orchestrator {
	return g.orchestrator
}

// Config returns the configuration the gateway was built from.
func (g *Gateway) Config() *config.Config {
	return g.cfg
}

// Start listens on the configured port and serves until Shutdown.
func (g *Gateway) Start() error {
	return g.server.Start()
}

// Serve accepts connections on ln until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	return g.server.Serve(ln)
}

// Shutdown stops the HTTP server, waits for queued callbacks and closes the
// run store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shutdown {
		return nil
	}
	g.shutdown = true

	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := g.dispatcher.Wait(ctx); err != nil {
		g.logger.Error("callbacks still pending at shutdown", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := g.closeStore(); err != nil {
		g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

func (g *Gateway) closeStore() error {
	if g.store == nil {
		return nil
	}
	return g.store.Close()
}
