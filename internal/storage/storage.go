package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FlightBox/config"
	"github.com/BearBump/FlightBox/internal/models"
	"github.com/BearBump/FlightBox/internal/services/flights"
	"github.com/BearBump/FlightBox/internal/storage/memflights"
	"github.com/BearBump/FlightBox/internal/storage/mongoflights"
	"github.com/BearBump/FlightBox/internal/storage/pgflights"
	"github.com/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Store is what both binaries need from a backend: the flights repository,
// the sweeper queries and connection lifecycle.
type Store interface {
	flights.Repository

	ListIdleFlights(ctx context.Context, before time.Time, limit int) ([]string, error)
	FindConsistencyRisks(ctx context.Context, limit int) ([]models.ConsistencyRisk, error)
	RepairConsistencyRisk(ctx context.Context, risk models.ConsistencyRisk) error

	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*pgflights.Storage)(nil)
	_ Store = (*mongoflights.Storage)(nil)
	_ Store = (*memflights.Store)(nil)
)

// Driver returns the configured driver, postgres by default.
func Driver(cfg *config.Config) string {
	if cfg.Storage.Driver == "" {
		return DriverPostgres
	}
	return cfg.Storage.Driver
}

// Open connects to the configured backend, retrying until wait elapses.
func Open(ctx context.Context, cfg *config.Config, wait time.Duration) (Store, error) {
	driver := Driver(cfg)

	var connect func() (Store, error)
	switch driver {
	case DriverMemory:
		return memflights.New(), nil
	case DriverPostgres:
		dsn := PostgresDSN(cfg.Database)
		connect = func() (Store, error) { return pgflights.New(ctx, dsn) }
	case DriverMongo:
		database := cfg.Mongo.Database
		if database == "" {
			database = "flightbox"
		}
		connect = func() (Store, error) { return mongoflights.New(ctx, cfg.Mongo.URI, database) }
	default:
		return nil, errors.Errorf("unknown storage driver %q", driver)
	}

	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := connect()
		if err == nil {
			return st, nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			break
		}
		slog.Warn("storage is not ready", "driver", driver, "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "%s is not ready after %s", driver, wait)
}

func PostgresDSN(db config.DatabaseConfig) string {
	sslMode := db.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.DBName, sslMode)
}
