// Keystone Auth - identity and token service
//
// This is the main entry point for the Keystone Auth service. It owns user
// registration, password login and JWT access/refresh tokens for the
// property platform, and streams auth events to the audit trail, MQTT,
// InfluxDB, Prometheus and WebSocket subscribers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nerrad567/keystone-auth/internal/api"
	"github.com/nerrad567/keystone-auth/internal/audit"
	"github.com/nerrad567/keystone-auth/internal/auth"
	"github.com/nerrad567/keystone-auth/internal/events"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/config"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/database"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/influxdb"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/logging"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/mqtt"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/postgres"
	"github.com/nerrad567/keystone-auth/internal/observability"
	"github.com/nerrad567/keystone-auth/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// dotEnvPath is loaded, when present, before the configuration.
	dotEnvPath = ".env"
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence with optional components
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Keystone Auth",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	loadDotEnv(log)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, cfg.Service.Name, version)
	log.Info("configuration loaded",
		"path", configPath,
		"driver", cfg.Database.Driver,
		"level", cfg.Logging.Level,
	)

	if missing := cfg.MissingSecrets(); len(missing) > 0 {
		log.Warn("JWT secrets not configured; register, login and refresh will fail until they are set",
			"missing", missing,
		)
	}

	// Credential store
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	metrics := observability.NewMetrics()
	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"), metrics.WSConnections)

	sinks := []events.Sink{
		{Name: "metrics", EventSink: metrics},
		{Name: "websocket", EventSink: hub},
	}

	if st.audit != nil {
		sinks = append(sinks, events.Sink{Name: "audit", EventSink: audit.NewSink(st.audit, log.With("component", "audit"))})
		log.Info("audit trail enabled")
	}

	// MQTT (optional; a missing broker is not fatal)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, auth events will not be published", "error", err)
		} else {
			mqttClient.SetLogger(log.With("component", "mqtt"))
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
			sinks = append(sinks, events.Sink{
				Name:      "mqtt",
				EventSink: mqtt.NewEventPublisher(mqttClient, cfg.MQTT, log.With("component", "mqtt")),
			})
		}
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, auth events will not be recorded as time series", "error", err)
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
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
			sinks = append(sinks, events.Sink{Name: "influxdb", EventSink: influxClient})
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Event dispatch outlives the request context so queued events are
	// delivered after the server stops accepting requests.
	dispatcher := events.NewDispatcher(cfg.Events.BufferSize, log.With("component", "events"), sinks,
		events.WithDropHook(metrics.EventsDroppedTotal.Inc),
	)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go dispatcher.Run(dispatchCtx)
	defer func() {
		stopDispatch()
		<-dispatcher.Done()
		log.Info("event dispatcher stopped", "dropped", dispatcher.Dropped())
	}()

	svc, err := auth.NewService(auth.ServiceDeps{
		Store:  st.users,
		Hasher: auth.NewHasher(cfg.Security.Password.MaxConcurrent),
		Issuer: auth.NewIssuer(tokenConfig(cfg.Security.JWT)),
		Events: dispatcher,
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		RateLimit: cfg.Security.RateLimit,
		Logger:    log.With("component", "api"),
		Auth:      svc,
		Store:     st.health,
		Audit:     st.audit,
		Metrics:   metrics,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, st.health, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Event dispatcher (drains queued events)
	// 3. InfluxDB and MQTT (if connected)
	// 4. Credential store

	log.Info("Keystone Auth stopped")
	return nil
}

// store bundles the backend chosen by database.driver.
type store struct {
	users  auth.UserStore
	health api.HealthChecker
	audit  audit.Repository // nil unless sqlite with audit enabled
	close  func()
}

// openStore opens and migrates the configured backend.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.Database.Postgres.DSN,
			MaxConns: cfg.Database.Postgres.MaxConns,
			MinConns: cfg.Database.Postgres.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.Migrate(ctx, migrations.Postgres); err != nil {
			db.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("running postgres migrations: %w", err)
		}
		log.Info("postgres connected and migrated")
		if cfg.Audit.Enabled {
			log.Warn("audit trail requires the sqlite driver; disabled")
		}

		return &store{
			users:  auth.NewPostgresUserStore(db.Pool()),
			health: db,
			close: func() {
				log.Info("closing postgres pool")
				db.Close() //nolint:errcheck // pool Close cannot fail
			},
		}, nil

	default:
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx, migrations.SQLite); err != nil {
			db.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database connected and migrated", "path", cfg.Database.Path)

		s := &store{
			users:  auth.NewSQLiteUserStore(db.DB),
			health: db,
			close: func() {
				log.Info("closing database")
				if closeErr := db.Close(); closeErr != nil {
					log.Error("error closing database", "error", closeErr)
				}
			},
		}
		if cfg.Audit.Enabled {
			s.audit = audit.NewSQLiteRepository(db.DB)
		}
		return s, nil
	}
}

// tokenConfig maps the security.jwt section onto the issuer's configuration.
func tokenConfig(j config.JWTConfig) auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  j.AccessSecret,
		RefreshSecret: j.RefreshSecret,
		AccessTTL:     j.AccessTokenTTL.Std(),
		RefreshTTL:    j.RefreshTokenTTL.Std(),
		Issuer:        j.Issuer,
	}
}

// loadDotEnv loads .env into the process environment. Variables already set
// win over the file.
func loadDotEnv(log *logging.Logger) {
	if err := godotenv.Load(dotEnvPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to load .env file", "path", dotEnvPath, "error", err)
		}
		return
	}
	log.Info("environment loaded from file", "path", dotEnvPath)
}

// getConfigPath returns the configuration file path.
// Uses KEYSTONE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KEYSTONE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the store and any connected optional backends.
// mqttClient and influxClient may be nil.
func healthCheck(ctx context.Context, st api.HealthChecker, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := st.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
