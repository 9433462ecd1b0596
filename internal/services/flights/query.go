package flights

import (
	"context"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
)

type PositionQuery struct {
	// At selects positionAt; nil means the current position.
	At          *time.Time
	IncludePath bool
	PathLimit   int
}

// CurrentPosition reads the projection; the position is the last applied by arrival order.
func (s *Service) CurrentPosition(ctx context.Context, flightID string) (*models.FlightSnapshot, error) {
	if snap, ok := s.loadCurrent(ctx, flightID); ok {
		return snap, nil
	}
	st, err := s.repo.GetFlight(ctx, flightID)
	if err != nil {
		return nil, wrapRead(err)
	}
	snap := st.Snapshot()
	s.storeCurrent(ctx, snap, st.Revision)
	return snap, nil
}

// PositionAt answers with the latest sample at or before at. Position is nil when
// there is none; it never falls back to the current position.
func (s *Service) PositionAt(ctx context.Context, flightID string, at time.Time) (*models.FlightSnapshot, error) {
	st, err := s.repo.GetFlight(ctx, flightID)
	if err != nil {
		return nil, wrapRead(err)
	}
	snap := st.Snapshot()
	snap.Position = nil

	sample, err := s.repo.SampleAt(ctx, flightID, at.UTC())
	switch {
	case err == nil:
		pos := sample.Position
		snap.Position = &pos
	case models.IsNotFound(err):
	default:
		return nil, wrapRead(err)
	}
	return snap, nil
}

// RecentPath returns up to limit latest points in ascending timestamp order.
func (s *Service) RecentPath(ctx context.Context, flightID string, limit int) ([]models.PathPoint, error) {
	if _, err := s.repo.GetFlight(ctx, flightID); err != nil {
		return nil, wrapRead(err)
	}
	return s.recentPath(ctx, flightID, limit)
}

func (s *Service) recentPath(ctx context.Context, flightID string, limit int) ([]models.PathPoint, error) {
	limit = s.clampLimit(limit)
	samples, err := s.repo.RecentSamples(ctx, flightID, limit)
	if err != nil {
		return nil, wrapRead(err)
	}
	out := make([]models.PathPoint, 0, len(samples))
	for i := len(samples) - 1; i >= 0; i-- {
		out = append(out, samples[i].PathPoint())
	}
	return out, nil
}

// GetPosition is the combined position query. The recent path is only attached
// when asked for and when the snapshot has a position.
func (s *Service) GetPosition(ctx context.Context, flightID string, q PositionQuery) (*models.FlightSnapshot, error) {
	var snap *models.FlightSnapshot
	var err error
	if q.At != nil {
		snap, err = s.PositionAt(ctx, flightID, *q.At)
	} else {
		snap, err = s.CurrentPosition(ctx, flightID)
	}
	if err != nil {
		return nil, err
	}
	if q.IncludePath && snap.Position != nil {
		path, err := s.recentPath(ctx, flightID, q.PathLimit)
		if err != nil {
			return nil, err
		}
		snap.RecentPath = path
	}
	return snap, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.recentPathLimit
	}
	if limit > s.maxTrackingPoints {
		return s.maxTrackingPoints
	}
	return limit
}
