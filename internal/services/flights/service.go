package flights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/cache"
	"github.com/BearBump/FlightBox/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultRecentPathLimit   = 10
	DefaultMaxTrackingPoints = 10_000
)

// Repository is the temporal store, the projection table and the archive behind one handle.
// Lookups of absent flights return models.ErrNotFound.
type Repository interface {
	// IngestSample applies the projection upsert and the sample insert as one unit.
	IngestSample(ctx context.Context, sample *models.PositionSample) (*models.FlightState, error)
	RegisterFlight(ctx context.Context, reg models.FlightRegistration, now time.Time) (*models.FlightState, error)
	GetFlight(ctx context.Context, flightID string) (*models.FlightState, error)
	ListFlights(ctx context.Context, status string) ([]*models.FlightState, error)
	// SampleAt returns the sample with the greatest timestamp <= at.
	SampleAt(ctx context.Context, flightID string, at time.Time) (*models.PositionSample, error)
	// RecentSamples returns up to limit samples, newest first.
	RecentSamples(ctx context.Context, flightID string, limit int) ([]*models.PositionSample, error)
	// CompleteFlight archives and removes the flight as one unit.
	CompleteFlight(ctx context.Context, flightID string, archive models.ArchiveFunc) (*models.FlightLog, error)
	LatestFlightLog(ctx context.Context, flightID string) (*models.FlightLog, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration

	rl              cache.RateLimiter
	ingestPerMinute int64

	publisher      Publisher
	completedTopic string

	recentPathLimit   int
	maxTrackingPoints int

	now func() time.Time
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:              repo,
		cache:             c,
		currentTTL:        currentTTL,
		recentPathLimit:   DefaultRecentPathLimit,
		maxTrackingPoints: DefaultMaxTrackingPoints,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithRateLimiter caps accepted samples per receiver per minute. perMinute <= 0 disables it.
func (s *Service) WithRateLimiter(rl cache.RateLimiter, perMinute int64) *Service {
	s.rl = rl
	s.ingestPerMinute = perMinute
	return s
}

func (s *Service) WithPublisher(p Publisher, completedTopic string) *Service {
	s.publisher = p
	s.completedTopic = completedTopic
	return s
}

func (s *Service) WithPathLimits(recent, maxPoints int) *Service {
	if recent > 0 {
		s.recentPathLimit = recent
	}
	if maxPoints > 0 {
		s.maxTrackingPoints = maxPoints
	}
	if s.recentPathLimit > s.maxTrackingPoints {
		s.recentPathLimit = s.maxTrackingPoints
	}
	return s
}

func (s *Service) Ingest(ctx context.Context, m messages.PositionReported) (*models.IngestAck, error) {
	now := s.now()
	sample, err := ValidateReport(m, now)
	if err != nil {
		return nil, err
	}

	if s.rl != nil && s.ingestPerMinute > 0 {
		key := fmt.Sprintf("rl:receiver:%s:%s", sample.Receiver.ID, now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, key, s.ingestPerMinute, 70*time.Second)
		if err != nil {
			// Лимитер недоступен: не блокируем приём.
			slog.Warn("receiver rate limiter unavailable", "receiver_id", sample.Receiver.ID, "error", err.Error())
		} else if !allowed {
			slog.Warn("receiver rate limit exceeded", "receiver_id", sample.Receiver.ID, "count", n)
			return nil, models.ErrRateLimited
		}
	}

	st, err := s.repo.IngestSample(ctx, sample)
	if err != nil {
		return nil, err
	}

	s.storeCurrent(ctx, st.Snapshot(), st.Revision)

	return &models.IngestAck{
		FlightID:   sample.FlightID,
		Timestamp:  sample.Timestamp,
		IngestedAt: sample.IngestedAt,
	}, nil
}

func (s *Service) RegisterFlight(ctx context.Context, reg models.FlightRegistration) (*models.FlightState, error) {
	if strings.TrimSpace(reg.FlightID) == "" {
		return nil, models.NewValidationError("flight_id", "flight_id must not be empty")
	}
	st, err := s.repo.RegisterFlight(ctx, reg, s.now())
	if err != nil {
		return nil, err
	}
	s.storeCurrent(ctx, st.Snapshot(), st.Revision)
	return st, nil
}

func (s *Service) ListFlights(ctx context.Context, status string) ([]*models.FlightState, error) {
	if status != "" && !models.IsValidFlightStatus(status) {
		return nil, models.NewValidationError("status", "unknown status filter: %q", status)
	}
	out, err := s.repo.ListFlights(ctx, status)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.FlightState{}
	}
	return out, nil
}

func (s *Service) enabledCache() bool {
	return s.cache != nil && s.currentTTL > 0
}

// storeCurrent caches snap taken at revision. The cache keeps the highest revision,
// so a writer that lost a race to the store cannot overwrite the winner.
func (s *Service) storeCurrent(ctx context.Context, snap *models.FlightSnapshot, revision int64) {
	if !s.enabledCache() {
		return
	}
	b, _ := json.Marshal(snap)
	if _, err := s.cache.SetVersioned(ctx, currentKey(snap.FlightID), revision, b, s.currentTTL); err != nil {
		slog.Warn("cache current position", "flight_id", snap.FlightID, "error", err.Error())
	}
}

func (s *Service) loadCurrent(ctx context.Context, flightID string) (*models.FlightSnapshot, bool) {
	if !s.enabledCache() {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, currentKey(flightID))
	if err != nil || !ok {
		return nil, false
	}
	var snap models.FlightSnapshot
	if json.Unmarshal(b, &snap) != nil {
		return nil, false
	}
	return &snap, true
}

// fenceCurrent drops the cached position of a completed flight and blocks refills
// from reads that saw the projection at or before revision.
func (s *Service) fenceCurrent(ctx context.Context, flightID string, revision int64) {
	if !s.enabledCache() {
		return
	}
	if err := s.cache.Fence(ctx, currentKey(flightID), revision, s.currentTTL); err != nil {
		slog.Warn("drop cached position", "flight_id", flightID, "error", err.Error())
	}
}

func currentKey(flightID string) string {
	return fmt.Sprintf("flight:{%s}:current", flightID)
}

// wrapRead keeps ErrNotFound as is and marks anything else as a failed read.
func wrapRead(err error) error {
	if err == nil || models.IsNotFound(err) {
		return err
	}
	var se *models.StorageError
	if errors.As(err, &se) {
		return err
	}
	return models.NewStorageError(models.StepRead, err)
}
