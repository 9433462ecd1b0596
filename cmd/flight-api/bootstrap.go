package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FlightBox/config"
	"github.com/BearBump/FlightBox/internal/broker/kafka"
	"github.com/BearBump/FlightBox/internal/cache"
	"github.com/BearBump/FlightBox/internal/cache/rediscache"
	"github.com/BearBump/FlightBox/internal/services/flights"
	"github.com/BearBump/FlightBox/internal/storage"
)

type flightAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   flightAPIOpts
	svc    *flights.Service
	store  storage.Store

	consumer *kafka.Consumer
	closers  []func() error
}

func mustBootstrapFlightAPI() *flightAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	grpcAddr := cfg.FlightBox.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	httpAddr := cfg.FlightBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.FlightBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "flight-api"
	}
	topic := cfg.Kafka.PositionReportedTopicName
	if topic == "" {
		topic = "position.reported"
	}
	completedTopic := cfg.Kafka.FlightCompletedTopicName
	if completedTopic == "" {
		completedTopic = "flight.completed"
	}

	cacheTTL := time.Duration(cfg.FlightBox.CurrentPositionTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	st, err := storage.Open(ctx, cfg, 60*time.Second)
	if err != nil {
		cancel()
		panic(err)
	}

	app := &flightAPIApp{
		ctx:    ctx,
		cancel: cancel,
		store:  st,
	}

	var bc cache.BytesCache
	var rl cache.RateLimiter
	if cfg.Redis.Host != "" {
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		rc := rediscache.New(redisAddr)
		limiter := rediscache.NewRateLimiter(redisAddr)
		bc, rl = rc, limiter
		app.closers = append(app.closers, rc.Close, limiter.Close)
	} else {
		slog.Warn("redis is not configured, position cache and ingest rate limit disabled")
	}

	svc := flights.New(st, bc, cacheTTL).
		WithRateLimiter(rl, int64(cfg.FlightBox.IngestRateLimitPerMinute)).
		WithPathLimits(cfg.FlightBox.RecentPathLimit, cfg.FlightBox.MaxTrackingPoints)

	if cfg.Kafka.Host != "" {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		producer := kafka.NewProducer(brokers)
		app.closers = append(app.closers, producer.Close)
		svc = svc.WithPublisher(producer, completedTopic)
		app.consumer = kafka.NewConsumer(brokers, topic, consumerGroup)
	}

	app.svc = svc
	app.opts = flightAPIOpts{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		grpcDialAddr:  grpcAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
		storageDriver: storage.Driver(cfg),
	}
	return app
}

func (a *flightAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for _, c := range a.closers {
		_ = c()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *flightAPIApp) Run() error {
	// nil *kafka.Consumer в интерфейсе не nil
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runFlightAPI(a.ctx, a.opts, a.svc, a.store, consumer)
}
