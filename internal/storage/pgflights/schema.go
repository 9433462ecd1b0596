package pgflights

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// Один счётчик на все записи: порядок ревизий совпадает с порядком коммитов под блокировкой строки.
		`CREATE SEQUENCE IF NOT EXISTS flight_revision_seq`,
		`
CREATE TABLE IF NOT EXISTS flight_states (
  flight_id TEXT PRIMARY KEY,
  airline TEXT NOT NULL DEFAULT '',
  flight_number TEXT NOT NULL DEFAULT '',
  origin JSONB NULL,
  destination JSONB NULL,
  aircraft JSONB NULL,
  scheduled_departure TIMESTAMPTZ NULL,
  scheduled_arrival TIMESTAMPTZ NULL,
  status TEXT NOT NULL,
  current_position JSONB NULL,
  actual_departure TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  revision BIGINT NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_flight_states_status_updated_at ON flight_states(status, updated_at)`,
		`
CREATE TABLE IF NOT EXISTS position_samples (
  id BIGSERIAL PRIMARY KEY,
  flight_id TEXT NOT NULL,
  ts TIMESTAMPTZ NOT NULL,
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  altitude DOUBLE PRECISION NOT NULL,
  heading DOUBLE PRECISION NOT NULL,
  speed DOUBLE PRECISION NOT NULL,
  vertical_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
  receiver_id TEXT NOT NULL,
  signal_strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
  ingested_at TIMESTAMPTZ NOT NULL,
  revision BIGINT NOT NULL DEFAULT 0
)`,
		// Samples are not unique per (flight_id, ts): ties are ordered by id.
		`CREATE INDEX IF NOT EXISTS idx_position_samples_flight_id_ts ON position_samples(flight_id, ts ASC, id ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_position_samples_ts ON position_samples(ts DESC)`,
		`
CREATE TABLE IF NOT EXISTS flight_logs (
  id TEXT PRIMARY KEY,
  flight_id TEXT NOT NULL,
  airline TEXT NOT NULL DEFAULT '',
  flight_number TEXT NOT NULL DEFAULT '',
  origin JSONB NULL,
  destination JSONB NULL,
  aircraft JSONB NULL,
  scheduled_departure TIMESTAMPTZ NULL,
  scheduled_arrival TIMESTAMPTZ NULL,
  actual_departure TIMESTAMPTZ NULL,
  actual_arrival TIMESTAMPTZ NOT NULL,
  tracking_path JSONB NOT NULL,
  point_count INT NOT NULL,
  distance_km DOUBLE PRECISION NOT NULL,
  max_altitude DOUBLE PRECISION NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NOT NULL,
  revision BIGINT NOT NULL DEFAULT 0
)`,
		`ALTER TABLE flight_states ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 0`,
		`ALTER TABLE position_samples ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 0`,
		`ALTER TABLE flight_logs ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS idx_flight_logs_flight_id ON flight_logs(flight_id)`,
		`CREATE INDEX IF NOT EXISTS idx_flight_logs_completed_at ON flight_logs(completed_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
