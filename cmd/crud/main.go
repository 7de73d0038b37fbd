package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/console"
	"github.com/eugenenazirov/mongo-crud/internal/crud"
	"github.com/eugenenazirov/mongo-crud/internal/logging"
)

const (
	commandMenu = "menu"
	commandDemo = "demo"
	commandEnvs = "envs"
)

type options struct {
	command   string
	overrides *config.CLIOverrides
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid arguments")

	if opts.command == commandEnvs {
		console.PrintEnvironments(os.Stdout, config.Profiles())
		return
	}

	cfg, err := config.Load(opts.overrides)
	kingpin.FatalIfError(err, "failed to load configuration")

	logger, err := logging.New(cfg.LogFormat)
	kingpin.FatalIfError(err, "failed to initialize logger")
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts.command, cfg, logger); err != nil {
		logger.Error("crud tool failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg config.Config, logger *zap.Logger) error {
	profile := cfg.Profile()
	facade := crud.NewForProfile(profile, cfg.ServerSelectionTimeout, logger)

	if !facade.Connect(ctx) {
		fmt.Fprintln(os.Stderr, "Could not connect to MongoDB. Available environments:")
		console.PrintEnvironments(os.Stderr, config.Profiles())
		return fmt.Errorf("connect to %s", profile.Description)
	}
	defer facade.Disconnect(context.WithoutCancel(ctx))

	if !facade.EnsureSchema(ctx) {
		logger.Warn("continuing without the users schema validator")
	}
	if !facade.EnsureIndexes(ctx) {
		logger.Warn("continuing without user indexes")
	}

	if command == commandDemo {
		return crud.RunDemo(ctx, facade, os.Stdout)
	}

	c := console.New(os.Stdin, os.Stdout)
	return c.Menu(ctx, "MONGODB CRUD - "+profile.Description, menuItems(facade, c))
}

// parseFlags reads the subcommand and the connection flags. The interactive
// menu is the default command.
func parseFlags(args []string) (options, error) {
	app := kingpin.New("mongo-crud", "Create, read, update and delete users in MongoDB")
	configFile := app.Flag("config", "Path to YAML configuration file").String()
	envFile := app.Flag("env-file", "Path to a dotenv file (defaults to .env when present)").String()
	environment := app.Flag("env", "Connection profile: local, docker_host, docker_container or atlas").String()
	uri := app.Flag("uri", "MongoDB connection string").String()
	database := app.Flag("database", "Database name").String()
	logFormat := app.Flag("log-format", "Log output format: json or console (default console)").String()

	app.Command(commandMenu, "Interactive menu").Default()
	app.Command(commandDemo, "Run the full CRUD demonstration")
	app.Command(commandEnvs, "List the known connection profiles")

	command, err := app.Parse(args)
	if err != nil {
		return options{}, err
	}

	return options{
		command: command,
		overrides: &config.CLIOverrides{
			ConfigFile:  *configFile,
			EnvFile:     *envFile,
			Environment: environment,
			MongoURI:    uri,
			Database:    database,
			LogFormat:   logFormat,

			DefaultLogFormat: config.LogFormatConsole,
		},
	}, nil
}
