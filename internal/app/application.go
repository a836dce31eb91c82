package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"confeed/internal/ai"
	"confeed/internal/api"
	"confeed/internal/config"
	"confeed/internal/database"
	"confeed/internal/hub"
	"confeed/internal/presence"
	"confeed/internal/router"
	"confeed/internal/session"
	"confeed/internal/websocket"
	pkgdatabase "confeed/pkg/database"
	"confeed/pkg/llm"
	"confeed/pkg/llm/gemini"
	"confeed/pkg/llm/openai"
)

// ShutdownTimeout bounds Run's graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// Application owns every component and their start/stop ordering.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	sessions   *session.Manager
	registry   *websocket.Registry
	hub        *hub.Hub
	router     *router.Router
	pool       *ai.Pool
	sweeper    *ai.Sweeper
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	group    *errgroup.Group
	groupCtx context.Context
}

// Option customizes wiring, mostly for tests.
type Option func(*options)

type options struct {
	provider    llm.Provider
	poolOptions []ai.Option
}

// WithProvider replaces the configured text generation backend.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithPoolOptions passes extra options, such as a seeded random source, to
// the AI pool.
func WithPoolOptions(opts ...ai.Option) Option {
	return func(o *options) { o.poolOptions = append(o.poolOptions, opts...) }
}

// NewApplication opens storage, applies migrations and wires all components.
// Order: Database → Session → Registry → Hub → Router → AI pool → API → HTTP.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dbManager, err := OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), pkgdatabase.Migrations()).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	sessions := session.NewManager(dbManager, dbManager, cfg.Auth.TokenTTL, nil)
	registry := websocket.NewRegistry()
	messageHub := hub.NewHub(registry, nil)

	messageRouter := router.NewRouter(router.Config{
		MaxMessageLength:   cfg.Chat.MaxMessageLength,
		RateLimitPerMinute: cfg.Chat.RateLimitPerMinute,
		ContextWindow:      cfg.Chat.ContextWindow,
		PersistTimeout:     cfg.Database.Timeout,
	}, messageHub, registry, dbManager,
		presence.NewTypingTracker(cfg.Chat.TypingTimeout, nil),
		presence.NewUnreadLedger(), nil)

	app := &Application{
		config:    cfg,
		dbManager: dbManager,
		sessions:  sessions,
		registry:  registry,
		hub:       messageHub,
		router:    messageRouter,
	}

	if cfg.AI.Enabled {
		provider := o.provider
		if provider == nil {
			provider = NewProvider(cfg.AI)
		}
		pool, err := newPool(cfg.AI, cfg.Chat.TypingTimeout, dbManager, provider, o.poolOptions)
		if err != nil {
			_ = dbManager.Close()
			return nil, err
		}
		pool.SetSink(messageRouter)
		messageRouter.SetResponder(pool)
		messageHub.SetRoster(pool)
		app.pool = pool
	}

	app.sweeper = ai.NewSweeper(app.pool, cfg.AI.SweepSchedule, func(evicted []string) {
		messageRouter.BroadcastPresence()
	})
	app.sweeper.AddHook(messageRouter.RateLimiter().Cleanup)

	app.apiServer = api.NewServer(sessions, dbManager, messageHub, dbManager, api.Options{
		CORSOrigin:   cfg.HTTP.CORSOrigin,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})
	app.apiServer.AddStats("registry", registry)
	app.apiServer.AddStats("hub", messageHub)

	wsHandler := websocket.NewHandler(sessions, messageHub, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
		MaxFrameSize: websocket.DefaultConfig().MaxFrameSize,
	})
	app.apiServer.Handle("/ws", http.HandlerFunc(wsHandler.HandleWebSocket))

	app.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// OpenDatabase opens the SQLite store described by cfg, creating its
// directory if needed.
func OpenDatabase(cfg *config.Config) (*database.Manager, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.WriteTimeout = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	return dbManager, nil
}

// NewProvider builds the text generation client named by cfg.Provider.
func NewProvider(cfg config.AIConfig) llm.Provider {
	llmCfg := &llm.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: float32(cfg.Temperature),
		Timeout:     cfg.RequestTimeout,
	}
	if cfg.Provider == config.ProviderOpenAI {
		return openai.New(llmCfg)
	}
	return gemini.New(llmCfg)
}

func newPool(cfg config.AIConfig, typingTimeout time.Duration, store *database.Manager, provider llm.Provider, extra []ai.Option) (*ai.Pool, error) {
	poolCfg := ai.DefaultConfig()
	poolCfg.ReuseCooldown = cfg.ReuseCooldown
	poolCfg.IdleEviction = cfg.IdleEviction
	poolCfg.ResponseCooldown = cfg.ResponseCooldown
	poolCfg.TypingDelayMin = cfg.TypingDelayMin
	poolCfg.TypingDelayMax = cfg.TypingDelayMax
	poolCfg.MaxContextTokens = cfg.MaxContextTokens
	poolCfg.TypingRefresh = typingTimeout / 2

	var opts []ai.Option
	if cfg.MaxContextTokens > 0 {
		counter, err := ai.NewTiktokenCounter(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create token counter: %w", err)
		}
		opts = append(opts, ai.WithTokenCounter(counter))
	}
	return ai.NewPool(poolCfg, store, provider, append(opts, extra...)...), nil
}

// Start runs the hub, seeds the AI context from storage, schedules the sweep
// and begins serving HTTP.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx, app.router); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	seed, err := app.dbManager.ChatHistory(ctx, app.config.Chat.ContextWindow, 0)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to load recent messages: %w", err)
	}
	app.router.SeedContext(seed)

	if err := app.sweeper.Start(); err != nil {
		_ = app.hub.Stop()
		return err
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.sweeper.Stop()
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = ln
	app.mu.Unlock()

	app.group, app.groupCtx = errgroup.WithContext(context.Background())
	app.group.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	slog.Info("confeed started", "addr", ln.Addr().String(), "ai", app.pool != nil, "seeded", len(seed))
	return nil
}

// Run starts the application and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down within ShutdownTimeout.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-app.groupCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return app.Stop(shutdownCtx)
}

// Stop shuts down in reverse dependency order: HTTP, live sockets, AI pool,
// router, hub and finally the database.
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down confeed")

	var serveErr error
	if app.group != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
		serveErr = app.group.Wait()
	}

	for _, id := range app.registry.IDs() {
		if conn, ok := app.registry.Get(id); ok {
			_ = conn.Close()
		}
	}

	app.sweeper.Stop()
	if app.pool != nil {
		app.pool.Close()
	}
	app.router.Close()

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		slog.Warn("message hub shutdown error", "error", err)
	}
	if err := app.dbManager.Close(); err != nil {
		slog.Warn("database shutdown error", "error", err)
	}

	slog.Info("confeed shutdown complete")
	return serveErr
}

// Addr returns the bound listen address once started.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Pool returns the AI pool, nil when AI participants are disabled.
func (app *Application) Pool() *ai.Pool {
	return app.pool
}
