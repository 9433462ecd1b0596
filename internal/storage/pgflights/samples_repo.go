package pgflights

import (
	"context"
	"strconv"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const sampleColumns = `
  id, flight_id, ts,
  latitude, longitude, altitude, heading, speed, vertical_rate,
  receiver_id, signal_strength, ingested_at, revision`

func scanSample(row scanner) (*models.PositionSample, error) {
	var smp models.PositionSample
	var id int64
	if err := row.Scan(
		&id, &smp.FlightID, &smp.Timestamp,
		&smp.Position.Latitude, &smp.Position.Longitude, &smp.Position.Altitude,
		&smp.Position.Heading, &smp.Position.Speed, &smp.Position.VerticalRate,
		&smp.Receiver.ID, &smp.Receiver.SignalStrength, &smp.IngestedAt, &smp.Revision,
	); err != nil {
		return nil, err
	}
	smp.ID = strconv.FormatInt(id, 10)
	smp.Timestamp = smp.Timestamp.UTC()
	smp.IngestedAt = smp.IngestedAt.UTC()
	return &smp, nil
}

func (s *Storage) SampleAt(ctx context.Context, flightID string, at time.Time) (*models.PositionSample, error) {
	smp, err := scanSample(s.db.QueryRow(ctx, `
SELECT`+sampleColumns+`
FROM position_samples
WHERE flight_id = $1 AND ts <= $2
ORDER BY ts DESC, id DESC
LIMIT 1
`, flightID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select sample at")
	}
	return smp, nil
}

func (s *Storage) RecentSamples(ctx context.Context, flightID string, limit int) ([]*models.PositionSample, error) {
	return s.querySamples(ctx, s.db, `
SELECT`+sampleColumns+`
FROM position_samples
WHERE flight_id = $1
ORDER BY ts DESC, id DESC
LIMIT $2
`, flightID, limit)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Storage) querySamples(ctx context.Context, q querier, sql string, args ...any) ([]*models.PositionSample, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select samples")
	}
	defer rows.Close()

	var out []*models.PositionSample
	for rows.Next() {
		smp, err := scanSample(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan sample")
		}
		out = append(out, smp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
