package flights

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/geo"
	"github.com/BearBump/FlightBox/internal/models"
	"github.com/google/uuid"
)

// CompleteFlight moves an active flight into the archive. A second call for the
// same flight finds no projection and returns models.ErrNotFound.
func (s *Service) CompleteFlight(ctx context.Context, flightID string) (*models.CompletionResult, error) {
	completedAt := s.now()

	archived, err := s.repo.CompleteFlight(ctx, flightID, archiveAt(completedAt))
	if err != nil {
		if models.IsNotFound(err) {
			return nil, err
		}
		slog.Error("complete flight", "flight_id", flightID, "error", err.Error())
		return nil, err
	}

	s.fenceCurrent(ctx, flightID, archived.Revision)
	s.publishCompleted(ctx, archived)

	return &models.CompletionResult{
		FlightID:    archived.FlightID,
		LogID:       archived.ID,
		PointCount:  archived.PointCount,
		CompletedAt: archived.CompletedAt,
	}, nil
}

func (s *Service) FlightHistory(ctx context.Context, flightID string) (*models.FlightLog, error) {
	l, err := s.repo.LatestFlightLog(ctx, flightID)
	if err != nil {
		return nil, wrapRead(err)
	}
	return l, nil
}

func (s *Service) FlightHistoryGeoJSON(ctx context.Context, flightID string) ([]byte, error) {
	l, err := s.FlightHistory(ctx, flightID)
	if err != nil {
		return nil, err
	}
	return geo.FlightLogGeoJSON(l)
}

// archiveAt builds the archive record from the locked projection and its ordered samples.
func archiveAt(completedAt time.Time) models.ArchiveFunc {
	return func(st *models.FlightState, samples []*models.PositionSample) *models.FlightLog {
		path := make([]models.TrackPoint, 0, len(samples))
		for _, smp := range samples {
			path = append(path, smp.TrackPoint())
		}
		sum := geo.Summarize(path)
		return &models.FlightLog{
			ID:              uuid.NewString(),
			FlightID:        st.FlightID,
			FlightIdentity:  st.FlightIdentity,
			ActualDeparture: st.ActualDeparture,
			ActualArrival:   completedAt,
			TrackingPath:    path,
			PointCount:      sum.PointCount,
			DistanceKm:      sum.DistanceKm,
			MaxAltitude:     sum.MaxAltitude,
			CreatedAt:       st.CreatedAt,
			CompletedAt:     completedAt,
		}
	}
}

func (s *Service) publishCompleted(ctx context.Context, l *models.FlightLog) {
	if s.publisher == nil || s.completedTopic == "" {
		return
	}
	b, err := json.Marshal(messages.FlightCompleted{
		FlightID:    l.FlightID,
		LogID:       l.ID,
		CompletedAt: l.CompletedAt,
		PointCount:  l.PointCount,
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.completedTopic, []byte(l.FlightID), b); err != nil {
		slog.Warn("publish flight completed", "flight_id", l.FlightID, "error", err.Error())
	}
}
