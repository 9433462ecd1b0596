package memflights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func sample(flightID string, ts time.Time, lat float64) *models.PositionSample {
	return &models.PositionSample{
		FlightID:   flightID,
		Timestamp:  ts,
		Position:   models.Position{Latitude: lat, Longitude: -74, Altitude: 35000},
		Receiver:   models.Receiver{ID: "R1", SignalStrength: 1},
		IngestedAt: ts.Add(time.Second),
	}
}

func archiveAll(completedAt time.Time) models.ArchiveFunc {
	return func(st *models.FlightState, samples []*models.PositionSample) *models.FlightLog {
		l := &models.FlightLog{ID: "log-" + completedAt.Format(time.RFC3339), FlightID: st.FlightID, CompletedAt: completedAt}
		for _, smp := range samples {
			l.TrackingPath = append(l.TrackingPath, smp.TrackPoint())
		}
		l.PointCount = len(l.TrackingPath)
		return l
	}
}

func TestIngest_ProjectionFollowsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.IngestSample(ctx, sample("PK303", t0.Add(time.Minute), 41))
	require.NoError(t, err)
	// пришёл позже, но с более ранним timestamp
	st, err := s.IngestSample(ctx, sample("PK303", t0, 40))
	require.NoError(t, err)

	require.Equal(t, 40.0, st.CurrentPosition.Latitude)
	require.Equal(t, models.FlightStatusActive, st.Status)
	require.Equal(t, t0.Add(time.Minute), *st.ActualDeparture)

	at, err := s.SampleAt(ctx, "PK303", t0.Add(90*time.Second))
	require.NoError(t, err)
	require.Equal(t, 41.0, at.Position.Latitude)
}

func TestSampleAt_TieGoesToLaterInsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.IngestSample(ctx, sample("X", t0, 1))
	_, _ = s.IngestSample(ctx, sample("X", t0, 2))

	at, err := s.SampleAt(ctx, "X", t0)
	require.NoError(t, err)
	require.Equal(t, 2.0, at.Position.Latitude)

	_, err = s.SampleAt(ctx, "X", t0.Add(-time.Second))
	require.ErrorIs(t, err, models.ErrNotFound)

	recent, err := s.RecentSamples(ctx, "X", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, 2.0, recent[0].Position.Latitude)
}

func TestRegisterFlight_KeepsLiveFields(t *testing.T) {
	ctx := context.Background()
	s := New()

	st, err := s.RegisterFlight(ctx, models.FlightRegistration{
		FlightID:       "PK303",
		FlightIdentity: models.FlightIdentity{Airline: "PIA"},
	}, t0)
	require.NoError(t, err)
	require.Equal(t, models.FlightStatusScheduled, st.Status)

	_, err = s.IngestSample(ctx, sample("PK303", t0.Add(time.Minute), 40))
	require.NoError(t, err)

	st, err = s.RegisterFlight(ctx, models.FlightRegistration{
		FlightID:       "PK303",
		FlightIdentity: models.FlightIdentity{Airline: "PIA", FlightNumber: "303"},
	}, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.FlightStatusActive, st.Status)
	require.Equal(t, "303", st.FlightNumber)
	require.NotNil(t, st.CurrentPosition)
	require.Equal(t, t0, st.CreatedAt)
}

func TestIngest_FailureAppliesNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailNext(models.StepSample, errors.New("disk full"))

	_, err := s.IngestSample(ctx, sample("PK303", t0, 40))
	var se *models.StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, models.StepSample, se.Step)

	_, err = s.GetFlight(ctx, "PK303")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompleteFlight_FailureKeepsFlightActive(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.IngestSample(ctx, sample("PK303", t0, 40))
	s.FailNext(models.StepDeleteSamples, nil)

	_, err := s.CompleteFlight(ctx, "PK303", archiveAll(t0.Add(time.Hour)))
	var se *models.StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, models.StepDeleteSamples, se.Step)

	_, err = s.GetFlight(ctx, "PK303")
	require.NoError(t, err)
	_, err = s.LatestFlightLog(ctx, "PK303")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompleteFlight_LatestArchiveWins(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, _ = s.IngestSample(ctx, sample("PK303", t0, 40))
	first, err := s.CompleteFlight(ctx, "PK303", archiveAll(t0.Add(time.Hour)))
	require.NoError(t, err)

	_, err = s.CompleteFlight(ctx, "PK303", archiveAll(t0.Add(2*time.Hour)))
	require.ErrorIs(t, err, models.ErrNotFound)

	_, _ = s.IngestSample(ctx, sample("PK303", t0.Add(24*time.Hour), 50))
	second, err := s.CompleteFlight(ctx, "PK303", archiveAll(t0.Add(25*time.Hour)))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	l, err := s.LatestFlightLog(ctx, "PK303")
	require.NoError(t, err)
	require.Equal(t, second.ID, l.ID)
	require.Equal(t, 50.0, l.TrackingPath[0].Latitude)
}

func TestListIdleFlights(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.IngestSample(ctx, sample("OLD", t0, 1))
	_, _ = s.IngestSample(ctx, sample("NEW", t0.Add(time.Hour), 1))
	_, _ = s.RegisterFlight(ctx, models.FlightRegistration{FlightID: "SCHED"}, t0)

	ids, err := s.ListIdleFlights(ctx, t0.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"OLD"}, ids)
}

func TestConsistencyRisks_FindAndRepair(t *testing.T) {
	ctx := context.Background()
	s := New()
	completedAt := t0.Add(time.Hour)

	// архив есть, но состояние и точки остались (запись в обход транзакции)
	_, _ = s.IngestSample(ctx, sample("PK303", t0, 40))
	s.seq++
	s.logs = append(s.logs, &models.FlightLog{ID: "log-1", FlightID: "PK303", CompletedAt: completedAt, Revision: s.seq})
	// точка новой инкарнации
	s.seq++
	fresh := sample("PK303", completedAt.Add(time.Minute), 41)
	fresh.Revision = s.seq
	s.samples["PK303"] = append(s.samples["PK303"], fresh)

	risks, err := s.FindConsistencyRisks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, risks, 1)
	require.True(t, risks[0].LeftoverState)
	require.Equal(t, int64(1), risks[0].LeftoverSamples)
	require.Equal(t, int64(2), risks[0].Revision)

	require.NoError(t, s.RepairConsistencyRisk(ctx, risks[0]))

	risks, err = s.FindConsistencyRisks(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, risks)
	require.Len(t, s.samples["PK303"], 1)
	_, err = s.GetFlight(ctx, "PK303")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestConsistencyRisks_LateStampedIngestIsNewIncarnation(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.IngestSample(ctx, sample("PK303", t0, 40))
	require.NoError(t, err)
	_, err = s.CompleteFlight(ctx, "PK303", archiveAll(t0.Add(10*time.Second)))
	require.NoError(t, err)

	// часы приёма отстают от часов завершения, но запись применена после архива
	late := sample("PK303", t0.Add(4*time.Second), 41)
	late.IngestedAt = t0.Add(5 * time.Second)
	_, err = s.IngestSample(ctx, late)
	require.NoError(t, err)

	risks, err := s.FindConsistencyRisks(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, risks)

	l, err := s.LatestFlightLog(ctx, "PK303")
	require.NoError(t, err)
	require.NoError(t, s.RepairConsistencyRisk(ctx, models.ConsistencyRisk{FlightID: "PK303", LogID: l.ID, Revision: l.Revision}))

	st, err := s.GetFlight(ctx, "PK303")
	require.NoError(t, err)
	require.Equal(t, 41.0, st.CurrentPosition.Latitude)
	recent, err := s.RecentSamples(ctx, "PK303", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestLatestFlightLog_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.IngestSample(ctx, sample("PK303", t0, 40))
	_, err := s.CompleteFlight(ctx, "PK303", archiveAll(t0.Add(time.Hour)))
	require.NoError(t, err)

	l, err := s.LatestFlightLog(ctx, "PK303")
	require.NoError(t, err)
	l.PointCount = 99
	l.TrackingPath[0].Latitude = -1

	again, err := s.LatestFlightLog(ctx, "PK303")
	require.NoError(t, err)
	require.Equal(t, 1, again.PointCount)
	require.Equal(t, 40.0, again.TrackingPath[0].Latitude)
}
