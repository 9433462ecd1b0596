package poller

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

// PlannerConfig holds the delays before a failing feed is polled again.
type PlannerConfig struct {
	Backoff1 time.Duration // default: 5 seconds
	Backoff2 time.Duration // default: 15 seconds
	Backoff3 time.Duration // default: 30 seconds
	Backoff4 time.Duration // default: 60 seconds

	// Jitter adds up to this fraction of the step, so feeds behind one proxy do not retry together.
	Jitter float64
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 5 * time.Second,
		Backoff2: 15 * time.Second,
		Backoff3: 30 * time.Second,
		Backoff4: 60 * time.Second,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// BackoffDelay is the wait after the failCount-th consecutive failure.
func (p *Planner) BackoffDelay(failCount int) time.Duration {
	var d time.Duration
	switch {
	case failCount <= 1:
		d = p.cfg.Backoff1
	case failCount == 2:
		d = p.cfg.Backoff2
	case failCount == 3:
		d = p.cfg.Backoff3
	default:
		d = p.cfg.Backoff4
	}
	if p.cfg.Jitter > 0 {
		maxMs := int(float64(d.Milliseconds()) * p.cfg.Jitter)
		if maxMs > 0 {
			d += time.Duration(p.r.Intn(maxMs+1)) * time.Millisecond
		}
	}
	return d
}

func BackoffDelay(failCount int) time.Duration {
	return NewPlanner(DefaultPlannerConfig(), nil).BackoffDelay(failCount)
}
