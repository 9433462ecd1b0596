package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	flightsapi "github.com/BearBump/FlightBox/internal/api/flights_api"
	"github.com/BearBump/FlightBox/internal/broker/kafka"
	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/models"
	"github.com/BearBump/FlightBox/internal/services/flights"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService is the name flight-api reports on the gRPC health service.
const healthService = "flightbox.FlightsService"

type flightAPIOpts struct {
	grpcAddr     string
	httpAddr     string
	grpcDialAddr string
	swaggerPath  string

	topic         string
	consumerGroup string

	storageDriver string

	ingestRetry ingestRetry

	onListen func(grpcAddr, httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// runFlightAPI serves gRPC health, the REST gateway and, when consumer is set,
// ingests position reports from the broker. It returns when ctx is done or any part fails.
func runFlightAPI(ctx context.Context, opts flightAPIOpts, svc *flights.Service, pinger flightsapi.Pinger, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	api := flightsapi.New(svc, opts.storageDriver, pinger)

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	if opts.onListen != nil {
		opts.onListen(grpcLis.Addr().String(), httpLis.Addr().String())
	}

	dialAddr := opts.grpcDialAddr
	if dialAddr == "" || strings.HasSuffix(dialAddr, ":0") {
		dialAddr = grpcLis.Addr().String()
	}

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runGatewayServer(ctx, httpLis, dialAddr, opts.swaggerPath, api)
	}()

	consumerErr := make(chan error, 1)
	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			err := consumer.Consume(ctx, positionHandler(ctx, svc, opts.ingestRetry))
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("consumer returned")
			}
			// Сообщение не закоммичено и придёт снова после рестарта.
			slog.Error("kafka consumer stopped", "topic", opts.topic, "error", err.Error())
			consumerErr <- errors.Wrap(err, "position consumer")
		}()
	} else {
		slog.Warn("kafka is not configured, broker ingestion disabled")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-grpcErr:
		return err
	case err := <-httpErr:
		return err
	case err := <-consumerErr:
		return err
	}
}

// ingestRetry bounds how long one message waits for storage to come back.
type ingestRetry struct {
	attempts int
	backoff  time.Duration
}

func (r ingestRetry) withDefaults() ingestRetry {
	if r.attempts <= 0 {
		r.attempts = 5
	}
	if r.backoff <= 0 {
		r.backoff = 200 * time.Millisecond
	}
	return r
}

// positionHandler ingests one broker message. Messages that can never be accepted
// are skipped (committed). Storage failures are retried with a growing pause; the
// last one is returned so the message is redelivered after restart.
func positionHandler(ctx context.Context, svc *flights.Service, retry ingestRetry) func(key, value []byte) error {
	retry = retry.withDefaults()
	return func(key, value []byte) error {
		var m messages.PositionReported
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip malformed position message", "key", string(key), "error", err.Error())
			return kafka.ErrSkip
		}

		var err error
		for i := 0; i < retry.attempts; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(i) * retry.backoff):
				}
			}
			err = ingestPosition(ctx, svc, key, m)
			var se *models.StorageError
			if !errors.As(err, &se) {
				return err
			}
			slog.Warn("position ingest failed", "key", string(key), "attempt", i+1, "step", se.Step, "error", err.Error())
		}
		return err
	}
}

func ingestPosition(ctx context.Context, svc *flights.Service, key []byte, m messages.PositionReported) error {
	_, err := svc.Ingest(ctx, m)
	if err == nil {
		return nil
	}
	if ve, ok := models.AsValidationError(err); ok {
		slog.Warn("skip invalid position message", "key", string(key), "field", ve.Field, "error", ve.Message)
		return kafka.ErrSkip
	}
	if errors.Is(err, models.ErrRateLimited) {
		slog.Warn("drop rate limited position message", "key", string(key))
		return kafka.ErrSkip
	}
	return err
}

func runGRPCServer(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
		_ = lis.Close()
	}()

	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

func runGatewayServer(ctx context.Context, lis net.Listener, grpcAddr string, swaggerPath string, api *flightsapi.FlightsAPI) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, swaggerPath)
	})

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	// /healthz проксирует gRPC health, /api/health проверяет хранилище.
	mux := runtime.NewServeMux(runtime.WithHealthzEndpoint(healthpb.NewHealthClient(conn)))
	if err := api.Register(mux); err != nil {
		return err
	}
	r.Mount("/", mux)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP gateway listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
