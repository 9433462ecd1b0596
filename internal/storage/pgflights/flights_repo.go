package pgflights

import (
	"context"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const stateColumns = `
  flight_id, airline, flight_number,
  origin, destination, aircraft,
  scheduled_departure, scheduled_arrival,
  status, current_position, actual_departure,
  created_at, updated_at, revision`

// bumpRevision runs after the row lock is taken, so the revision is newer than
// anything a transaction that held the lock before could have drawn.
const bumpRevision = `
UPDATE flight_states SET revision = nextval('flight_revision_seq')
WHERE flight_id = $1
RETURNING` + stateColumns

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*models.FlightState, error) {
	var st models.FlightState
	if err := row.Scan(
		&st.FlightID, &st.Airline, &st.FlightNumber,
		&st.Origin, &st.Destination, &st.Aircraft,
		&st.ScheduledDeparture, &st.ScheduledArrival,
		&st.Status, &st.CurrentPosition, &st.ActualDeparture,
		&st.CreatedAt, &st.UpdatedAt, &st.Revision,
	); err != nil {
		return nil, err
	}
	return &st, nil
}

// IngestSample upserts the projection first so the row lock is held while the
// sample goes in; a concurrent CompleteFlight either sees the sample or runs before it.
func (s *Storage) IngestSample(ctx context.Context, sample *models.PositionSample) (*models.FlightState, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, models.NewStorageError(models.StepBegin, errors.Wrap(err, "begin tx"))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO flight_states (
  flight_id, status, current_position, actual_departure, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (flight_id) DO UPDATE SET
  status = EXCLUDED.status,
  current_position = EXCLUDED.current_position,
  actual_departure = COALESCE(flight_states.actual_departure, EXCLUDED.actual_departure),
  updated_at = EXCLUDED.updated_at
`,
		sample.FlightID, models.FlightStatusActive, sample.Position, sample.Timestamp, sample.IngestedAt)
	if err != nil {
		return nil, models.NewStorageError(models.StepProjection, errors.Wrap(err, "upsert flight state"))
	}
	st, err := scanState(tx.QueryRow(ctx, bumpRevision, sample.FlightID))
	if err != nil {
		return nil, models.NewStorageError(models.StepProjection, errors.Wrap(err, "bump flight revision"))
	}

	_, err = tx.Exec(ctx, `
INSERT INTO position_samples (
  flight_id, ts,
  latitude, longitude, altitude, heading, speed, vertical_rate,
  receiver_id, signal_strength, ingested_at, revision
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		sample.FlightID, sample.Timestamp,
		sample.Position.Latitude, sample.Position.Longitude, sample.Position.Altitude,
		sample.Position.Heading, sample.Position.Speed, sample.Position.VerticalRate,
		sample.Receiver.ID, sample.Receiver.SignalStrength, sample.IngestedAt, st.Revision)
	if err != nil {
		return nil, models.NewStorageError(models.StepSample, errors.Wrap(err, "insert sample"))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, models.NewStorageError(models.StepCommit, errors.Wrap(err, "commit tx"))
	}
	return st, nil
}

// RegisterFlight creates a scheduled flight or rewrites the identity of an existing one.
// Status and position are left as they are.
func (s *Storage) RegisterFlight(ctx context.Context, reg models.FlightRegistration, now time.Time) (*models.FlightState, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, models.NewStorageError(models.StepBegin, errors.Wrap(err, "begin tx"))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO flight_states (
  flight_id, airline, flight_number,
  origin, destination, aircraft,
  scheduled_departure, scheduled_arrival,
  status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (flight_id) DO UPDATE SET
  airline = EXCLUDED.airline,
  flight_number = EXCLUDED.flight_number,
  origin = EXCLUDED.origin,
  destination = EXCLUDED.destination,
  aircraft = EXCLUDED.aircraft,
  scheduled_departure = EXCLUDED.scheduled_departure,
  scheduled_arrival = EXCLUDED.scheduled_arrival
`,
		reg.FlightID, reg.Airline, reg.FlightNumber,
		reg.Origin, reg.Destination, reg.Aircraft,
		reg.ScheduledDeparture, reg.ScheduledArrival,
		models.FlightStatusScheduled, now)
	if err != nil {
		return nil, models.NewStorageError(models.StepProjection, errors.Wrap(err, "register flight"))
	}
	st, err := scanState(tx.QueryRow(ctx, bumpRevision, reg.FlightID))
	if err != nil {
		return nil, models.NewStorageError(models.StepProjection, errors.Wrap(err, "bump flight revision"))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, models.NewStorageError(models.StepCommit, errors.Wrap(err, "commit tx"))
	}
	return st, nil
}

func (s *Storage) GetFlight(ctx context.Context, flightID string) (*models.FlightState, error) {
	st, err := scanState(s.db.QueryRow(ctx, `SELECT`+stateColumns+` FROM flight_states WHERE flight_id = $1`, flightID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select flight state")
	}
	return st, nil
}

func (s *Storage) ListFlights(ctx context.Context, status string) ([]*models.FlightState, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+stateColumns+`
FROM flight_states
WHERE $1::text = '' OR status = $1
ORDER BY flight_id
`, status)
	if err != nil {
		return nil, errors.Wrap(err, "select flight states")
	}
	defer rows.Close()

	out := make([]*models.FlightState, 0)
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan flight state")
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
