package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FlightBox/internal/integrations/receiver"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Feed is one receiver whose reports are republished as position.reported messages.
type Feed struct {
	ReceiverID string
	Client     receiver.Client
}

type feedState struct {
	Feed

	mu         sync.Mutex
	failCount  int
	nextPollAt time.Time
	lastPollAt time.Time
	lastError  string
	published  int64
}

type Poller struct {
	feeds    []*feedState
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner

	pollInterval           time.Duration
	concurrency            int
	feedRateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalPolls          atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(feeds []Feed, producer Producer, rl RateLimiter, topic string) *Poller {
	states := make([]*feedState, 0, len(feeds))
	for _, f := range feeds {
		states = append(states, &feedState{Feed: f})
	}
	return &Poller{
		feeds: states, producer: producer, rl: rl, topic: topic,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:      5 * time.Second,
		concurrency:       4,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, concurrency int, feedRlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if feedRlPerMin > 0 {
		p.feedRateLimitPerMinute = feedRlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// Trigger forces an immediate poll of every feed, backoff included (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type FeedStats struct {
	ReceiverID string     `json:"receiverId"`
	FailCount  int        `json:"failCount"`
	NextPollAt *time.Time `json:"nextPollAt,omitempty"`
	LastPollAt *time.Time `json:"lastPollAt,omitempty"`
	Published  int64      `json:"published"`
	LastError  string     `json:"lastError,omitempty"`
}

type Stats struct {
	StartedAt      time.Time   `json:"startedAt"`
	LastCycleAt    *time.Time  `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time  `json:"lastTriggerAt,omitempty"`
	TotalPolls     int64       `json:"totalPolls"`
	TotalPublished int64       `json:"totalPublished"`
	TotalErrors    int64       `json:"totalErrors"`
	InFlight       int64       `json:"inFlight"`
	LastError      string      `json:"lastError,omitempty"`
	Feeds          []FeedStats `json:"feeds"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalPolls:     p.totalPolls.Load(),
		TotalPublished: p.totalPublished.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
		Feeds:          make([]FeedStats, 0, len(p.feeds)),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()

	for _, fs := range p.feeds {
		fs.mu.Lock()
		s := FeedStats{
			ReceiverID: fs.ReceiverID,
			FailCount:  fs.failCount,
			Published:  fs.published,
			LastError:  fs.lastError,
		}
		if !fs.nextPollAt.IsZero() {
			t := fs.nextPollAt
			s.NextPollAt = &t
		}
		if !fs.lastPollAt.IsZero() {
			t := fs.lastPollAt
			s.LastPollAt = &t
		}
		fs.mu.Unlock()
		st.Feeds = append(st.Feeds, s)
	}
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx, false)
		case <-p.triggerCh:
			p.runOnce(ctx, true)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context, force bool) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, fs := range p.feeds {
		if !force && !fs.due(now) {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		fsCopy := fs
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, fsCopy, now); err != nil {
				p.totalErrors.Add(1)
				p.lastErrorMu.Lock()
				p.lastError = err.Error()
				p.lastErrorMu.Unlock()
				slog.Error("poll receiver feed", "receiver_id", fsCopy.ReceiverID, "error", err.Error())
			}
			p.totalPolls.Add(1)
		}()
	}
	wg.Wait()
}

func (fs *feedState) due(now time.Time) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return !now.Before(fs.nextPollAt)
}

func (p *Poller) processOne(ctx context.Context, fs *feedState, now time.Time) error {
	if p.rl != nil && p.feedRateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:feed:%s:%s", fs.ReceiverID, now.Format("200601021504"))
		allowed, n, err := p.rl.Allow(ctx, minuteKey, p.feedRateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Бюджет фида на минуту исчерпан: пропускаем цикл без backoff.
			slog.Warn("feed poll budget exceeded", "receiver_id", fs.ReceiverID, "count", n)
			return nil
		}
	}

	reports, err := fs.Client.Fetch(ctx)
	if err != nil {
		fs.mu.Lock()
		fs.failCount++
		fs.nextPollAt = now.Add(p.planner.BackoffDelay(fs.failCount))
		fs.lastPollAt = now
		fs.lastError = err.Error()
		fs.mu.Unlock()
		return errors.Wrapf(err, "fetch feed %s", fs.ReceiverID)
	}

	fs.mu.Lock()
	fs.failCount = 0
	fs.nextPollAt = time.Time{}
	fs.lastPollAt = now
	fs.lastError = ""
	fs.mu.Unlock()

	for _, r := range reports {
		msg := r.Message(fs.ReceiverID)
		b, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "marshal kafka msg")
		}
		if err := p.publish(ctx, msg.Key(), b); err != nil {
			return err
		}
		p.totalPublished.Add(1)
		fs.mu.Lock()
		fs.published++
		fs.mu.Unlock()
	}
	return nil
}

func (p *Poller) publish(ctx context.Context, key, value []byte) error {
	// Kafka может быть не готова сразу после старта docker compose.
	var pubErr error
	for i := 0; i < 5; i++ {
		if err := p.producer.Publish(ctx, p.topic, key, value); err == nil {
			return nil
		} else {
			pubErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	return pubErr
}
