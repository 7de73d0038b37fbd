package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/mongo-crud/internal/blog"
	"github.com/eugenenazirov/mongo-crud/internal/catalog"
	"github.com/eugenenazirov/mongo-crud/internal/config"
	"github.com/eugenenazirov/mongo-crud/internal/console"
	"github.com/eugenenazirov/mongo-crud/internal/logging"
	"github.com/eugenenazirov/mongo-crud/internal/sales"
	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const appName = "mongo-crud-examples"

// example is one self-contained scenario run against its own database.
type example struct {
	key      string
	label    string
	database string
	run      func(ctx context.Context, client *storage.Client, out io.Writer) error
}

func examples(saleCount int) []example {
	return []example{
		{key: "1", label: "Product catalog", database: catalog.Database, run: func(ctx context.Context, client *storage.Client, out io.Writer) error {
			return catalog.New(client.Collection(catalog.Collection)).Run(ctx, out)
		}},
		{key: "2", label: "Blog", database: blog.Database, run: func(ctx context.Context, client *storage.Client, out io.Writer) error {
			return blog.New(client.Collection(blog.Collection)).Run(ctx, out)
		}},
		{key: "3", label: "Sales analytics", database: sales.Database, run: func(ctx context.Context, client *storage.Client, out io.Writer) error {
			return sales.New(client.Collection(sales.Collection)).Run(ctx, out, saleCount)
		}},
	}
}

type runner struct {
	cfg    config.Config
	logger *zap.Logger
	out    io.Writer
}

// runExample connects to the example's database, runs it and disconnects.
func (r runner) runExample(ctx context.Context, ex example) error {
	settings := r.cfg.StorageSettings(appName)
	settings.Database = ex.database

	client := storage.NewClient(settings)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("%s: %w", ex.label, err)
	}
	defer func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to disconnect", zap.String("example", ex.label), zap.Error(err))
		}
	}()

	r.logger.Info("running example", zap.String("example", ex.label), zap.String("database", ex.database))
	if err := ex.run(ctx, client, r.out); err != nil {
		return fmt.Errorf("%s: %w", ex.label, err)
	}
	return nil
}

func (r runner) runAll(ctx context.Context, all []example) error {
	for _, ex := range all {
		if err := r.runExample(ctx, ex); err != nil {
			return err
		}
	}
	fmt.Fprintln(r.out, "\nAll examples finished.")
	return nil
}

func (r runner) menuItems(all []example) []console.Item {
	items := make([]console.Item, 0, len(all)+1)
	for _, ex := range all {
		items = append(items, console.Item{Key: ex.key, Label: ex.label, Run: func(ctx context.Context) error {
			return r.runExample(ctx, ex)
		}})
	}
	items = append(items, console.Item{Key: fmt.Sprint(len(all) + 1), Label: "Run all examples", Run: func(ctx context.Context) error {
		return r.runAll(ctx, all)
	}})
	return items
}

type options struct {
	command   string
	saleCount int
	overrides *config.CLIOverrides
}

func parseFlags(args []string) (options, error) {
	app := kingpin.New("mongo-crud-examples", "Practical MongoDB examples: product catalog, blog and sales analytics")
	configFile := app.Flag("config", "Path to YAML configuration file").String()
	envFile := app.Flag("env-file", "Path to a dotenv file (defaults to .env when present)").String()
	environment := app.Flag("env", "Connection profile: local, docker_host, docker_container or atlas").String()
	uri := app.Flag("uri", "MongoDB connection string").String()
	logFormat := app.Flag("log-format", "Log output format: json or console (default console)").String()
	saleCount := app.Flag("sales", "Number of random sales to generate").Default(fmt.Sprint(sales.DefaultSaleCount)).Int()

	app.Command("menu", "Interactive menu").Default()
	app.Command("catalog", "Run the product catalog example")
	app.Command("blog", "Run the blog example")
	app.Command("sales", "Run the sales analytics example")
	app.Command("all", "Run every example in turn")

	command, err := app.Parse(args)
	if err != nil {
		return options{}, err
	}
	if *saleCount <= 0 {
		return options{}, fmt.Errorf("--sales must be positive, got %d", *saleCount)
	}

	return options{
		command:   command,
		saleCount: *saleCount,
		overrides: &config.CLIOverrides{
			ConfigFile:  *configFile,
			EnvFile:     *envFile,
			Environment: environment,
			MongoURI:    uri,
			LogFormat:   logFormat,

			DefaultLogFormat: config.LogFormatConsole,
		},
	}, nil
}

func (r runner) dispatch(ctx context.Context, command string, all []example) error {
	switch command {
	case "catalog":
		return r.runExample(ctx, all[0])
	case "blog":
		return r.runExample(ctx, all[1])
	case "sales":
		return r.runExample(ctx, all[2])
	case "all":
		return r.runAll(ctx, all)
	default:
		c := console.New(os.Stdin, r.out)
		return c.Menu(ctx, "MONGODB PRACTICAL EXAMPLES", r.menuItems(all))
	}
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid arguments")

	cfg, err := config.Load(opts.overrides)
	kingpin.FatalIfError(err, "failed to load configuration")

	logger, err := logging.New(cfg.LogFormat)
	kingpin.FatalIfError(err, "failed to initialize logger")
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner{cfg: cfg, logger: logger, out: os.Stdout}
	if err := r.dispatch(ctx, opts.command, examples(opts.saleCount)); err != nil {
		logger.Error("examples failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
