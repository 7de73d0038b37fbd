package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/mongo-crud/internal/api"
	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const appName = "mongo-crud-server"

// App encapsulates the application dependencies and HTTP server.
type App struct {
	client  *storage.Client
	users   storage.UserStore
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// New initializes the application from the provided configuration. With the
// mongo backend the database is connected before New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{logger: logger}

	handlerOpts := []api.HandlerOption{api.WithOperationTimeout(cfg.OperationTimeout)}
	switch cfg.Storage {
	case config.StorageMemory:
		store := storage.NewMemoryUserStore(nil)
		app.users = store
		handlerOpts = append(handlerOpts, api.WithPinger(store))
		logger.Warn("serving users from memory; data is lost on shutdown")
	default:
		client, repo, err := connectMongo(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.client = client
		app.users = repo
		handlerOpts = append(handlerOpts, api.WithPinger(client))
	}

	app.handler = api.NewHandler(app.users, logger, handlerOpts...)
	app.router = api.NewRouter(app.handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	app.server = NewServer(cfg, app.router)
	return app, nil
}

func connectMongo(ctx context.Context, cfg config.Config, logger *zap.Logger) (*storage.Client, *storage.UserRepository, error) {
	settings := cfg.StorageSettings(appName)
	logger.Info("connecting to MongoDB", zap.String("database", settings.Database))

	client := storage.NewClient(settings)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	repo := storage.NewUserRepository(client.Collection(storage.UsersCollection))
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Warn("could not install users schema", zap.Error(err))
	}
	if _, err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("could not create user indexes", zap.Error(err))
	}
	return client, repo, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Close releases the database connection, if any.
func (a *App) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}
