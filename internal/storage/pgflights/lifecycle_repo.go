package pgflights

import (
	"context"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const logColumns = `
  id, flight_id, airline, flight_number,
  origin, destination, aircraft,
  scheduled_departure, scheduled_arrival,
  actual_departure, actual_arrival, tracking_path,
  point_count, distance_km, max_altitude,
  created_at, completed_at, revision`

// CompleteFlight locks the projection row, reads every sample, writes the archive
// and deletes the live data in one transaction. The archive revision is drawn under
// the lock: writes that were waiting for it get a greater one.
func (s *Storage) CompleteFlight(ctx context.Context, flightID string, archive models.ArchiveFunc) (*models.FlightLog, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, models.NewStorageError(models.StepBegin, errors.Wrap(err, "begin tx"))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st, err := scanState(tx.QueryRow(ctx, `SELECT`+stateColumns+` FROM flight_states WHERE flight_id = $1 FOR UPDATE`, flightID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStorageError(models.StepRead, errors.Wrap(err, "lock flight state"))
	}

	samples, err := s.querySamples(ctx, tx, `
SELECT`+sampleColumns+`
FROM position_samples
WHERE flight_id = $1
ORDER BY ts ASC, id ASC
`, flightID)
	if err != nil {
		return nil, models.NewStorageError(models.StepRead, err)
	}

	var revision int64
	if err := tx.QueryRow(ctx, `SELECT nextval('flight_revision_seq')`).Scan(&revision); err != nil {
		return nil, models.NewStorageError(models.StepArchive, errors.Wrap(err, "next revision"))
	}

	l := archive(st, samples)
	l.Revision = revision
	_, err = tx.Exec(ctx, `
INSERT INTO flight_logs (`+logColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`,
		l.ID, l.FlightID, l.Airline, l.FlightNumber,
		l.Origin, l.Destination, l.Aircraft,
		l.ScheduledDeparture, l.ScheduledArrival,
		l.ActualDeparture, l.ActualArrival, l.TrackingPath,
		l.PointCount, l.DistanceKm, l.MaxAltitude,
		l.CreatedAt, l.CompletedAt, l.Revision)
	if err != nil {
		return nil, models.NewStorageError(models.StepArchive, errors.Wrap(err, "insert flight log"))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM flight_states WHERE flight_id = $1`, flightID); err != nil {
		return nil, models.NewStorageError(models.StepDeleteState, errors.Wrap(err, "delete flight state"))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM position_samples WHERE flight_id = $1`, flightID); err != nil {
		return nil, models.NewStorageError(models.StepDeleteSamples, errors.Wrap(err, "delete samples"))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, models.NewStorageError(models.StepCommit, errors.Wrap(err, "commit tx"))
	}
	return l, nil
}

func (s *Storage) LatestFlightLog(ctx context.Context, flightID string) (*models.FlightLog, error) {
	var l models.FlightLog
	err := s.db.QueryRow(ctx, `
SELECT`+logColumns+`
FROM flight_logs
WHERE flight_id = $1
ORDER BY revision DESC, completed_at DESC
LIMIT 1
`, flightID).Scan(
		&l.ID, &l.FlightID, &l.Airline, &l.FlightNumber,
		&l.Origin, &l.Destination, &l.Aircraft,
		&l.ScheduledDeparture, &l.ScheduledArrival,
		&l.ActualDeparture, &l.ActualArrival, &l.TrackingPath,
		&l.PointCount, &l.DistanceKm, &l.MaxAltitude,
		&l.CreatedAt, &l.CompletedAt, &l.Revision,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select flight log")
	}
	return &l, nil
}

func (s *Storage) ListIdleFlights(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT flight_id
FROM flight_states
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3
`, models.FlightStatusActive, before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select idle flights")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan idle flight")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// FindConsistencyRisks compares the latest archive of each flight with live rows
// whose revision is not newer than the archive's.
func (s *Storage) FindConsistencyRisks(ctx context.Context, limit int) ([]models.ConsistencyRisk, error) {
	rows, err := s.db.Query(ctx, `
WITH latest AS (
  SELECT DISTINCT ON (flight_id) flight_id, id, completed_at, revision
  FROM flight_logs
  ORDER BY flight_id, revision DESC, completed_at DESC
), checked AS (
  SELECT
    l.flight_id, l.id, l.completed_at, l.revision,
    EXISTS (
      SELECT 1 FROM flight_states st
      WHERE st.flight_id = l.flight_id AND st.revision <= l.revision
    ) AS leftover_state,
    (
      SELECT count(*) FROM position_samples ps
      WHERE ps.flight_id = l.flight_id AND ps.revision <= l.revision
    ) AS leftover_samples
  FROM latest l
  WHERE l.flight_id IN (SELECT flight_id FROM flight_states UNION SELECT flight_id FROM position_samples)
)
SELECT flight_id, id, completed_at, revision, leftover_state, leftover_samples
FROM checked
WHERE leftover_state OR leftover_samples > 0
ORDER BY completed_at
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select consistency risks")
	}
	defer rows.Close()

	var out []models.ConsistencyRisk
	for rows.Next() {
		var r models.ConsistencyRisk
		if err := rows.Scan(&r.FlightID, &r.LogID, &r.CompletedAt, &r.Revision, &r.LeftoverState, &r.LeftoverSamples); err != nil {
			return nil, errors.Wrap(err, "scan consistency risk")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// RepairConsistencyRisk removes leftovers of an archived flight. Rows newer than
// the archive belong to the next incarnation and survive.
func (s *Storage) RepairConsistencyRisk(ctx context.Context, risk models.ConsistencyRisk) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.NewStorageError(models.StepBegin, errors.Wrap(err, "begin tx"))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM flight_states WHERE flight_id = $1 AND revision <= $2`, risk.FlightID, risk.Revision); err != nil {
		return models.NewStorageError(models.StepDeleteState, errors.Wrap(err, "delete leftover state"))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM position_samples WHERE flight_id = $1 AND revision <= $2`, risk.FlightID, risk.Revision); err != nil {
		return models.NewStorageError(models.StepDeleteSamples, errors.Wrap(err, "delete leftover samples"))
	}

	if err := tx.Commit(ctx); err != nil {
		return models.NewStorageError(models.StepCommit, errors.Wrap(err, "commit tx"))
	}
	return nil
}
