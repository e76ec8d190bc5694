// Package server parses sync command flags and composes the sync service
// entrypoint: update log, presence registry, and HTTP/WebSocket transport.
package server

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/hearthgrid/hearthgrid/internal/platform/cmd"
	"github.com/hearthgrid/hearthgrid/internal/sync/app"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage/postgres"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage/redispresence"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage/sqlite"
)

// Storage driver names accepted by -db-driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds sync command configuration.
type Config struct {
	HTTPAddr      string        `env:"HEARTHGRID_SYNC_HTTP_ADDR"     envDefault:":8090"`
	DBDriver      string        `env:"HEARTHGRID_SYNC_DB_DRIVER"     envDefault:"sqlite"`
	DBPath        string        `env:"HEARTHGRID_SYNC_DB_PATH"       envDefault:"sync.db"`
	DatabaseURL   string        `env:"HEARTHGRID_SYNC_DATABASE_URL"`
	RedisAddr     string        `env:"HEARTHGRID_SYNC_REDIS_ADDR"`
	RedisPassword string        `env:"HEARTHGRID_SYNC_REDIS_PASSWORD"`
	RedisDB       int           `env:"HEARTHGRID_SYNC_REDIS_DB"      envDefault:"0"`
	PresenceTTL   time.Duration `env:"HEARTHGRID_SYNC_PRESENCE_TTL"  envDefault:"60s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "sync HTTP listen address")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "update log driver (sqlite or postgres)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection URL")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the presence registry (empty keeps presence in the database)")
	fs.DurationVar(&cfg.PresenceTTL, "presence-ttl", cfg.PresenceTTL, "presence row lifetime without a heartbeat")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the sync stores and serves the transport until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSync, func(context.Context) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		presence := storage.PresenceRegistry(store)
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			registry, err := redispresence.Open(ctx, redispresence.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
				TTL:      cfg.PresenceTTL,
			})
			if err != nil {
				return fmt.Errorf("open redis presence: %w", err)
			}
			defer registry.Close()
			presence = registry
		}

		if err := app.Run(ctx, app.Config{
			HTTPAddr:    cfg.HTTPAddr,
			PresenceTTL: cfg.PresenceTTL,
		}, store, presence); err != nil {
			return fmt.Errorf("serve sync: %w", err)
		}
		return nil
	})
}

func openStore(cfg Config) (storage.Store, error) {
	switch strings.TrimSpace(cfg.DBDriver) {
	case DriverSQLite, "":
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres driver requires a database URL")
		}
		store, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}
