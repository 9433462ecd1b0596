package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FlightBox/config"
	"github.com/BearBump/FlightBox/internal/broker/kafka"
	"github.com/BearBump/FlightBox/internal/cache"
	"github.com/BearBump/FlightBox/internal/cache/rediscache"
	"github.com/BearBump/FlightBox/internal/integrations/receiver"
	"github.com/BearBump/FlightBox/internal/integrations/receiver/dump1090"
	"github.com/BearBump/FlightBox/internal/integrations/receiver/fake"
	"github.com/BearBump/FlightBox/internal/services/flights"
	"github.com/BearBump/FlightBox/internal/services/poller"
	"github.com/BearBump/FlightBox/internal/services/sweeper"
	"github.com/BearBump/FlightBox/internal/storage"
	"github.com/pkg/errors"
)

const (
	feedKindDump1090 = "dump1090"
	feedKindFake     = "fake"
)

type workerFactories struct {
	newStorage     func(ctx context.Context, cfg *config.Config) (storage.Store, error)
	newProducer    func(cfg *config.Config) poller.Producer
	newRateLimiter func(cfg *config.Config) poller.RateLimiter
	newCache       func(cfg *config.Config) cache.BytesCache
	newFeedClient  func(cfg *config.Config, feed config.FeedConfig) (receiver.Client, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (storage.Store, error) {
			return storage.Open(ctx, cfg, 60*time.Second)
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newFeedClient: func(cfg *config.Config, feed config.FeedConfig) (receiver.Client, error) {
			switch feed.Kind {
			case feedKindDump1090:
				if feed.URL == "" {
					return nil, errors.Errorf("feed %s: url is required for dump1090", feed.ReceiverID)
				}
				return dump1090.New(feed.URL, cfg.FlightBox.WorkerFeedRatePerMinute), nil
			case feedKindFake, "":
				return fake.New(feed.ReceiverID, 0), nil
			default:
				return nil, errors.Errorf("feed %s: unknown kind %q", feed.ReceiverID, feed.Kind)
			}
		},
	}
}

// worker bundles the two background loops with what the ops HTTP server shows.
type worker struct {
	poller  *poller.Poller
	sweeper *sweeper.Sweeper
	store   storage.Store
	cfg     *config.Config
}

func buildFeeds(cfg *config.Config, f workerFactories) ([]poller.Feed, error) {
	feeds := make([]poller.Feed, 0, len(cfg.FlightBox.Feeds))
	seen := make(map[string]struct{}, len(cfg.FlightBox.Feeds))
	for _, fc := range cfg.FlightBox.Feeds {
		if fc.ReceiverID == "" {
			return nil, errors.New("feed receiver_id is required")
		}
		if _, dup := seen[fc.ReceiverID]; dup {
			return nil, errors.Errorf("duplicate feed receiver_id %q", fc.ReceiverID)
		}
		seen[fc.ReceiverID] = struct{}{}

		c, err := f.newFeedClient(cfg, fc)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, poller.Feed{ReceiverID: fc.ReceiverID, Client: c})
	}
	return feeds, nil
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func newWorker(ctx context.Context, cfg *config.Config, f workerFactories) (*worker, func(), error) {
	topic := cfg.Kafka.PositionReportedTopicName
	if topic == "" {
		topic = "position.reported"
	}
	completedTopic := cfg.Kafka.FlightCompletedTopicName
	if completedTopic == "" {
		completedTopic = "flight.completed"
	}

	feeds, err := buildFeeds(cfg, f)
	if err != nil {
		return nil, nil, err
	}

	st, err := f.newStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	bc := f.newCache(cfg)
	closeFn := closeAll(st, producer, rl, bc)

	p := poller.New(feeds, producer, rl, topic).
		WithSettings(
			seconds(cfg.FlightBox.WorkerPollIntervalSeconds, 5),
			cfg.FlightBox.WorkerConcurrency,
			int64(cfg.FlightBox.WorkerFeedRatePerMinute),
		).
		WithPlanner(poller.PlannerConfig{
			Backoff1: seconds(cfg.FlightBox.WorkerBackoff1Seconds, 5),
			Backoff2: seconds(cfg.FlightBox.WorkerBackoff2Seconds, 15),
			Backoff3: seconds(cfg.FlightBox.WorkerBackoff3Seconds, 30),
			Backoff4: seconds(cfg.FlightBox.WorkerBackoff4Seconds, 60),
		})

	// Завершение идёт через тот же сервис, что и в API: кэш и событие flight.completed.
	svc := flights.New(st, bc, seconds(cfg.FlightBox.CurrentPositionTTLSeconds, 300)).
		WithPublisher(producer, completedTopic)

	var idle time.Duration
	if cfg.FlightBox.WorkerIdleTimeoutSeconds > 0 {
		idle = time.Duration(cfg.FlightBox.WorkerIdleTimeoutSeconds) * time.Second
	}
	sw := sweeper.New(st, svc).WithSettings(
		seconds(cfg.FlightBox.WorkerSweepIntervalSeconds, 60),
		idle,
		cfg.FlightBox.WorkerSweepBatchSize,
		cfg.FlightBox.WorkerCompletionsPerSecond,
		cfg.FlightBox.WorkerRepair,
	)

	slog.Info("flight worker configured",
		"feeds", len(feeds), "topic", topic, "storage", storage.Driver(cfg),
		"idle_timeout", idle.String(), "repair", cfg.FlightBox.WorkerRepair)

	return &worker{poller: p, sweeper: sw, store: st, cfg: cfg}, closeFn, nil
}

// closeAll closes every dependency that has Close() error, then the store.
func closeAll(st storage.Store, deps ...any) func() {
	var closers []func() error
	for _, d := range deps {
		if c, ok := d.(interface{ Close() error }); ok {
			closers = append(closers, c.Close)
		}
	}
	return func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("close worker dependency", "error", err.Error())
			}
		}
		st.Close()
	}
}

// RunFlightWorker runs the feed poller and the lifecycle sweeper until ctx is done
// or one of them fails. httpOpts, when set, also serves the ops endpoints.
func RunFlightWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts *workerHTTPOpts) error {
	w, closeFn, err := newWorker(ctx, cfg, f)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- errors.Wrap(w.poller.Run(ctx), "poller") }()
	go func() { errCh <- errors.Wrap(w.sweeper.Run(ctx), "sweeper") }()
	if httpOpts != nil {
		opts := *httpOpts
		opts.worker = w
		go func() { errCh <- runWorkerHTTPServer(ctx, opts) }()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
