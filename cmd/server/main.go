package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/mongo-crud/internal/application"
	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	overrides, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid arguments")

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogFormat)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ServerSelectionTimeout+cfg.OperationTimeout)
	app, err := application.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), app.Close, cfg.ShutdownGracePeriod, logger)
}

// parseFlags maps command-line flags onto configuration overrides. Negative
// rate limit values mean the flag was not given.
func parseFlags(args []string) (*config.CLIOverrides, error) {
	app := kingpin.New("mongo-crud-server", "HTTP API exposing CRUD operations on the MongoDB users collection")
	configFile := app.Flag("config", "Path to YAML configuration file").String()
	envFile := app.Flag("env-file", "Path to a dotenv file (defaults to .env when present)").String()
	environment := app.Flag("env", "Connection profile: local, docker_host, docker_container or atlas").String()
	uri := app.Flag("uri", "MongoDB connection string").String()
	database := app.Flag("database", "Database name").String()
	storageBackend := app.Flag("storage", "User store backend: mongo or memory").String()
	logFormat := app.Flag("log-format", "Log output format: json or console").String()
	port := app.Flag("port", "HTTP port exposed by the service").String()
	rateLimitRPS := app.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurst := app.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}

	overrides := &config.CLIOverrides{
		ConfigFile:  *configFile,
		EnvFile:     *envFile,
		Storage:     storageBackend,
		Environment: environment,
		MongoURI:    uri,
		Database:    database,
		LogFormat:   logFormat,
		Port:        port,
	}
	if *rateLimitRPS >= 0 {
		overrides.RateLimitRPS = rateLimitRPS
	}
	if *rateLimitBurst >= 0 {
		overrides.RateLimitBurst = rateLimitBurst
	}
	return overrides, nil
}

func shutdown(server *http.Server, closeStore func(context.Context) error, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}

	if closeStore != nil {
		if err := closeStore(ctx); err != nil {
			logger.Warn("failed to close database connection", zap.Error(err))
		}
	}
}
