package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"golang.org/x/time/rate"
)

type Store interface {
	ListIdleFlights(ctx context.Context, before time.Time, limit int) ([]string, error)
	FindConsistencyRisks(ctx context.Context, limit int) ([]models.ConsistencyRisk, error)
	RepairConsistencyRisk(ctx context.Context, risk models.ConsistencyRisk) error
}

type Completer interface {
	CompleteFlight(ctx context.Context, flightID string) (*models.CompletionResult, error)
}

// Sweeper auto-completes flights that stopped reporting and reports
// (optionally repairs) archived flights that still have live data.
type Sweeper struct {
	store     Store
	completer Completer

	interval    time.Duration
	idleTimeout time.Duration
	batchSize   int
	limiter     *rate.Limiter
	repair      bool

	now       func() time.Time
	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCompleted      atomic.Int64
	totalRisks          atomic.Int64
	totalRepaired       atomic.Int64
	totalErrors         atomic.Int64

	mu        sync.Mutex
	lastError string
	lastRisks []models.ConsistencyRisk
}

func New(store Store, completer Completer) *Sweeper {
	return &Sweeper{
		store:             store,
		completer:         completer,
		interval:          time.Minute,
		batchSize:         100,
		limiter:           rate.NewLimiter(rate.Limit(5), 1),
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithSettings: idleTimeout <= 0 turns auto-completion off; completionsPerSecond <= 0 leaves it unpaced.
func (s *Sweeper) WithSettings(interval, idleTimeout time.Duration, batchSize int, completionsPerSecond float64, repair bool) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	s.idleTimeout = idleTimeout
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if completionsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(completionsPerSecond), 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	s.repair = repair
	return s
}

func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time                `json:"startedAt"`
	LastCycleAt    *time.Time               `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time               `json:"lastTriggerAt,omitempty"`
	TotalCompleted int64                    `json:"totalCompleted"`
	TotalRisks     int64                    `json:"totalRisks"`
	TotalRepaired  int64                    `json:"totalRepaired"`
	TotalErrors    int64                    `json:"totalErrors"`
	LastError      string                   `json:"lastError,omitempty"`
	LastRisks      []models.ConsistencyRisk `json:"lastRisks"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalCompleted: s.totalCompleted.Load(),
		TotalRisks:     s.totalRisks.Load(),
		TotalRepaired:  s.totalRepaired.Load(),
		TotalErrors:    s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.mu.Lock()
	st.LastError = s.lastError
	st.LastRisks = append([]models.ConsistencyRisk{}, s.lastRisks...)
	s.mu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	s.lastCycleUnixNano.Store(s.now().UnixNano())
	s.completeIdle(ctx)
	s.reconcile(ctx)
}

func (s *Sweeper) completeIdle(ctx context.Context) {
	if s.idleTimeout <= 0 {
		return
	}
	ids, err := s.store.ListIdleFlights(ctx, s.now().Add(-s.idleTimeout), s.batchSize)
	if err != nil {
		s.fail("list idle flights", err)
		return
	}

	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		res, err := s.completer.CompleteFlight(ctx, id)
		if models.IsNotFound(err) {
			// уже завершён кем-то другим
			continue
		}
		if err != nil {
			s.fail("auto-complete flight", err, "flight_id", id)
			continue
		}
		s.totalCompleted.Add(1)
		slog.Info("flight auto-completed", "flight_id", id, "log_id", res.LogID, "point_count", res.PointCount)
	}
}

func (s *Sweeper) reconcile(ctx context.Context) {
	risks, err := s.store.FindConsistencyRisks(ctx, s.batchSize)
	if err != nil {
		s.fail("find consistency risks", err)
		return
	}

	s.mu.Lock()
	s.lastRisks = risks
	s.mu.Unlock()

	for _, r := range risks {
		s.totalRisks.Add(1)
		slog.Warn("consistency risk",
			"flight_id", r.FlightID,
			"log_id", r.LogID,
			"completed_at", r.CompletedAt,
			"leftover_state", r.LeftoverState,
			"leftover_samples", r.LeftoverSamples,
			"repair", s.repair,
		)
		if !s.repair {
			continue
		}
		if err := s.store.RepairConsistencyRisk(ctx, r); err != nil {
			s.fail("repair consistency risk", err, "flight_id", r.FlightID)
			continue
		}
		s.totalRepaired.Add(1)
		slog.Info("consistency risk repaired", "flight_id", r.FlightID, "log_id", r.LogID)
	}
}

func (s *Sweeper) fail(msg string, err error, args ...any) {
	s.totalErrors.Add(1)
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
	slog.Error(msg, append(args, "error", err.Error())...)
}
