package memflights

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"github.com/pkg/errors"
)

// Store keeps everything in process memory behind one mutex, so ingestion and
// completion never interleave. Used for local runs and tests.
type Store struct {
	mu sync.Mutex
	// seq feeds sample ids and every revision.
	seq     int64
	states  map[string]*models.FlightState
	samples map[string][]*models.PositionSample
	logs    []*models.FlightLog

	failStep string
	failErr  error
}

func New() *Store {
	return &Store{
		states:  make(map[string]*models.FlightState),
		samples: make(map[string][]*models.PositionSample),
	}
}

// FailNext makes the next write reaching step fail with err. Nothing of that write is applied.
func (s *Store) FailNext(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStep, s.failErr = step, err
}

func (s *Store) check(step string) error {
	if s.failStep != step {
		return nil
	}
	err := s.failErr
	s.failStep, s.failErr = "", nil
	if err == nil {
		err = errors.New("injected failure")
	}
	return models.NewStorageError(step, err)
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

func (s *Store) IngestSample(ctx context.Context, sample *models.PositionSample) (*models.FlightState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(models.StepProjection); err != nil {
		return nil, err
	}
	if err := s.check(models.StepSample); err != nil {
		return nil, err
	}

	st, ok := s.states[sample.FlightID]
	if !ok {
		st = &models.FlightState{FlightID: sample.FlightID, CreatedAt: sample.IngestedAt}
		s.states[sample.FlightID] = st
	}
	pos := sample.Position
	st.CurrentPosition = &pos
	st.Status = models.FlightStatusActive
	st.UpdatedAt = sample.IngestedAt
	if st.ActualDeparture == nil {
		dep := sample.Timestamp
		st.ActualDeparture = &dep
	}

	s.seq++
	st.Revision = s.seq
	stored := *sample
	stored.ID = strconv.FormatInt(s.seq, 10)
	stored.Revision = s.seq
	s.samples[sample.FlightID] = append(s.samples[sample.FlightID], &stored)

	return cloneState(st), nil
}

func (s *Store) RegisterFlight(ctx context.Context, reg models.FlightRegistration, now time.Time) (*models.FlightState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(models.StepProjection); err != nil {
		return nil, err
	}
	st, ok := s.states[reg.FlightID]
	if !ok {
		st = &models.FlightState{
			FlightID:  reg.FlightID,
			Status:    models.FlightStatusScheduled,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.states[reg.FlightID] = st
	}
	st.FlightIdentity = reg.FlightIdentity
	s.seq++
	st.Revision = s.seq
	return cloneState(st), nil
}

func (s *Store) GetFlight(ctx context.Context, flightID string) (*models.FlightState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[flightID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneState(st), nil
}

func (s *Store) ListFlights(ctx context.Context, status string) ([]*models.FlightState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.FlightState, 0, len(s.states))
	for _, st := range s.states {
		if status != "" && st.Status != status {
			continue
		}
		out = append(out, cloneState(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlightID < out[j].FlightID })
	return out, nil
}

func (s *Store) SampleAt(ctx context.Context, flightID string, at time.Time) (*models.PositionSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.PositionSample
	// Равные timestamp: выигрывает более поздняя вставка.
	for _, smp := range s.samples[flightID] {
		if smp.Timestamp.After(at) {
			continue
		}
		if best == nil || !smp.Timestamp.Before(best.Timestamp) {
			best = smp
		}
	}
	if best == nil {
		return nil, models.ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *Store) RecentSamples(ctx context.Context, flightID string, limit int) ([]*models.PositionSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.ordered(flightID)
	out := make([]*models.PositionSample, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) CompleteFlight(ctx context.Context, flightID string, archive models.ArchiveFunc) (*models.FlightLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[flightID]
	if !ok {
		return nil, models.ErrNotFound
	}
	for _, step := range []string{models.StepArchive, models.StepDeleteState, models.StepDeleteSamples} {
		if err := s.check(step); err != nil {
			return nil, err
		}
	}

	s.seq++
	l := archive(cloneState(st), s.ordered(flightID))
	l.Revision = s.seq
	s.logs = append(s.logs, cloneLog(l))
	delete(s.states, flightID)
	delete(s.samples, flightID)
	return l, nil
}

func (s *Store) LatestFlightLog(ctx context.Context, flightID string) (*models.FlightLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.latestLog(flightID)
	if l == nil {
		return nil, models.ErrNotFound
	}
	return cloneLog(l), nil
}

// ListIdleFlights returns active flights not updated since before, oldest first.
func (s *Store) ListIdleFlights(ctx context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idle []*models.FlightState
	for _, st := range s.states {
		if st.Status == models.FlightStatusActive && st.UpdatedAt.Before(before) {
			idle = append(idle, st)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].UpdatedAt.Before(idle[j].UpdatedAt) })

	out := make([]string, 0, len(idle))
	for _, st := range idle {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, st.FlightID)
	}
	return out, nil
}

func (s *Store) FindConsistencyRisks(ctx context.Context, limit int) ([]models.ConsistencyRisk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []models.ConsistencyRisk
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if seen[l.FlightID] {
			continue
		}
		seen[l.FlightID] = true

		r := s.riskFor(l)
		if !r.LeftoverState && r.LeftoverSamples == 0 {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RepairConsistencyRisk deletes the leftovers of risk.FlightID with revision <= risk.Revision.
func (s *Store) RepairConsistencyRisk(ctx context.Context, risk models.ConsistencyRisk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[risk.FlightID]; ok && st.Revision <= risk.Revision {
		if err := s.check(models.StepDeleteState); err != nil {
			return err
		}
		delete(s.states, risk.FlightID)
	}

	kept := s.samples[risk.FlightID][:0]
	for _, smp := range s.samples[risk.FlightID] {
		if smp.Revision > risk.Revision {
			kept = append(kept, smp)
		}
	}
	if len(kept) == 0 {
		delete(s.samples, risk.FlightID)
	} else {
		s.samples[risk.FlightID] = kept
	}
	return nil
}

func (s *Store) riskFor(l *models.FlightLog) models.ConsistencyRisk {
	r := models.ConsistencyRisk{FlightID: l.FlightID, LogID: l.ID, CompletedAt: l.CompletedAt, Revision: l.Revision}
	if st, ok := s.states[l.FlightID]; ok && st.Revision <= l.Revision {
		r.LeftoverState = true
	}
	for _, smp := range s.samples[l.FlightID] {
		if smp.Revision <= l.Revision {
			r.LeftoverSamples++
		}
	}
	return r
}

func (s *Store) latestLog(flightID string) *models.FlightLog {
	var latest *models.FlightLog
	for _, l := range s.logs {
		if l.FlightID != flightID {
			continue
		}
		if latest == nil || l.Revision >= latest.Revision {
			latest = l
		}
	}
	return latest
}

// ordered returns copies of the flight's samples ascending by timestamp, ties by insertion.
func (s *Store) ordered(flightID string) []*models.PositionSample {
	src := s.samples[flightID]
	out := make([]*models.PositionSample, 0, len(src))
	for _, smp := range src {
		c := *smp
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func cloneLog(l *models.FlightLog) *models.FlightLog {
	c := *l
	c.TrackingPath = append([]models.TrackPoint(nil), l.TrackingPath...)
	c.FlightIdentity = cloneIdentity(l.FlightIdentity)
	if l.ActualDeparture != nil {
		t := *l.ActualDeparture
		c.ActualDeparture = &t
	}
	return &c
}

func cloneIdentity(id models.FlightIdentity) models.FlightIdentity {
	if id.Origin != nil {
		a := *id.Origin
		id.Origin = &a
	}
	if id.Destination != nil {
		a := *id.Destination
		id.Destination = &a
	}
	if id.Aircraft != nil {
		a := *id.Aircraft
		id.Aircraft = &a
	}
	if id.ScheduledDeparture != nil {
		t := *id.ScheduledDeparture
		id.ScheduledDeparture = &t
	}
	if id.ScheduledArrival != nil {
		t := *id.ScheduledArrival
		id.ScheduledArrival = &t
	}
	return id
}

func cloneState(st *models.FlightState) *models.FlightState {
	c := *st
	c.FlightIdentity = cloneIdentity(st.FlightIdentity)
	if st.CurrentPosition != nil {
		pos := *st.CurrentPosition
		c.CurrentPosition = &pos
	}
	if st.ActualDeparture != nil {
		t := *st.ActualDeparture
		c.ActualDeparture = &t
	}
	return &c
}
