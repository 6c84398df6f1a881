// Gray Logic Capture - sensor telemetry capture core
//
// This is the main entry point for the capture service. It connects to the
// building's MQTT broker, tracks every topic and device the bridge reports,
// and records matching messages into the active capture sessions on disk.
//
// Startup order:
//   - configuration (file, environment, flags)
//   - SQLite catalog and migrations
//   - topic registry hydrated from the catalog
//   - capture store and session controller
//   - optional InfluxDB mirror
//   - ingest service (broker connection and message loop)
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
	"github.com/nerrad567/gray-logic-capture/internal/catalog"
	"github.com/nerrad567/gray-logic-capture/internal/discovery"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-capture/internal/ingest"
	"github.com/nerrad567/gray-logic-capture/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds session finalisation on exit.
const shutdownTimeout = 30 * time.Second

// options holds the parsed command line.
type options struct {
	configPath  string
	broker      string
	logLevel    string
	showVersion bool
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("capture %s (%s, %s)\n", version, commit, date)
		return
	}

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path defaults to
// CAPTURE_CONFIG, then configs/config.yaml.
func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("capture", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&opts.broker, "broker", "", "broker URL tried before every configured broker (e.g. tcp://10.0.0.5:1883)")
	fs.StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses CAPTURE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CAPTURE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the file and applies flag overrides. A missing file at
// the default path falls back to the built-in defaults.
func loadConfig(opts options, log *logging.Logger) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if opts.configPath != defaultConfigPath || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Warn("config file not found, using defaults", "path", opts.configPath)
		if cfg, err = config.Default(); err != nil {
			return nil, err
		}
	}

	if opts.broker != "" {
		cfg.MQTT.URL = opts.broker
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Capture",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts, log)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"site", cfg.Site.ID,
		"base_topic", cfg.MQTT.BaseTopic,
		"sessions_dir", cfg.Storage.SessionsDir,
	)

	// Open catalog database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	cat := catalog.New(db)
	if ids, markErr := cat.MarkInterrupted(ctx, time.Now()); markErr != nil {
		log.Warn("marking interrupted sessions failed", "error", markErr)
	} else if len(ids) > 0 {
		log.Warn("sessions left active by a previous run marked interrupted", "sessions", ids)
	}

	registry := discovery.NewRegistry(cfg.MQTT.BaseTopic, cat)
	registry.SetLogger(log.Component("discovery"))
	if loadErr := registry.Load(ctx); loadErr != nil {
		log.Warn("topic registry not hydrated", "error", loadErr)
	}
	log.Info("topic registry initialised",
		"topics", len(registry.Topics()),
		"devices", len(registry.Devices()),
	)

	store := capture.NewStore(capture.OptionsFromConfig(cfg.Storage, cfg.MQTT.BaseTopic))
	store.SetLogger(log.Component("capture"))

	controller := capture.NewController(cfg.Storage.SessionsDir, store, registry)
	controller.SetLogger(log.Component("capture"))
	controller.SetJournal(ingest.NewJournal(cat))

	broker := mqtt.New(cfg.MQTT)
	broker.SetLogger(log.Component("mqtt"))

	svc := ingest.New(cfg.MQTT, broker, registry, controller, store)
	svc.SetLogger(log.Component("ingest"))

	// Connect to InfluxDB (optional). The mirror is best-effort, so an
	// unreachable server is logged and capture continues without it.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, mirror disabled", "url", cfg.InfluxDB.URL, "error", err)
			influxClient = nil
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			svc.SetMirror(influxClient)
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	log.Info("initialisation complete, waiting for shutdown signal",
		"candidates", len(broker.Candidates()),
		"client_id", broker.ClientID(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, finalising sessions")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
	if err := <-runErr; err != nil {
		log.Error("ingest loop failed", "error", err)
	}

	log.Info("Gray Logic Capture stopped")
	return nil
}

// healthCheck verifies the infrastructure needed at startup. The broker is
// not checked: the service runs without one and reconnects on its own.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
