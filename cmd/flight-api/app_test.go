package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	flightsapi "github.com/BearBump/FlightBox/internal/api/flights_api"
	"github.com/BearBump/FlightBox/internal/broker/kafka"
	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/models"
	"github.com/BearBump/FlightBox/internal/services/flights"
	"github.com/BearBump/FlightBox/internal/storage/memflights"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func TestRunServers_SwaggerAndHealthServed(t *testing.T) {
	sw := writeSwagger(t)
	store := memflights.New()
	api := flightsapi.New(flights.New(store, nil, 0), "memory", store)

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	grpcErr := make(chan error, 1)
	go func() { grpcErr <- runGRPCServer(ctx, grpcLis) }()

	httpErr := make(chan error, 1)
	go func() { httpErr <- runGatewayServer(ctx, httpLis, grpcLis.Addr().String(), sw, api) }()

	base := "http://" + httpLis.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/swagger.json")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), `"swagger"`)
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "healthy", health["status"])
	require.Equal(t, "memory", health["storage"])

	cancel()

	select {
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting servers to stop")
	case <-grpcErr:
	}
	select {
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting gateway to stop")
	case <-httpErr:
	}
}

// chanConsumer hands the queued messages to the handler and records how each ended.
type chanConsumer struct {
	msgs    [][]byte
	results chan error
}

func (c *chanConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for _, m := range c.msgs {
		err := handler(nil, m)
		c.results <- err
		if err != nil && !errors.Is(err, kafka.ErrSkip) {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunFlightAPI_ConsumesPositions(t *testing.T) {
	sw := writeSwagger(t)
	store := memflights.New()
	svc := flights.New(store, nil, 0)

	good, err := json.Marshal(messages.NewPositionReported("PK303", "R1", 0.9, 40.71, -74.0, 35000, 85, 450, 0,
		time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	require.NoError(t, err)

	cons := &chanConsumer{
		msgs:    [][]byte{[]byte(`{broken`), []byte(`{"flight_id":"X"}`), good},
		results: make(chan error, 3),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := flightAPIOpts{
		grpcAddr:      "127.0.0.1:0",
		httpAddr:      "127.0.0.1:0",
		grpcDialAddr:  "127.0.0.1:0", // будет подменён внутри runFlightAPI
		swaggerPath:   sw,
		topic:         "position.reported",
		consumerGroup: "g",
		storageDriver: "memory",
		onListen:      func(_grpcAddr, httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runFlightAPI(ctx, opts, svc, store, cons) }()

	httpAddr := <-addrCh
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, <-cons.results, kafka.ErrSkip)
	}
	require.NoError(t, <-cons.results)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + httpAddr + "/api/flights/PK303/position")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.Error(t, <-errCh)
}

// downStore fails every ingest as if the database were unreachable.
type downStore struct {
	*memflights.Store
	calls int
}

func (d *downStore) IngestSample(ctx context.Context, sample *models.PositionSample) (*models.FlightState, error) {
	d.calls++
	return nil, models.NewStorageError(models.StepProjection, errors.New("connection reset"))
}

func TestRunFlightAPI_StorageFailureStops(t *testing.T) {
	sw := writeSwagger(t)
	store := &downStore{Store: memflights.New()}
	svc := flights.New(store, nil, 0)

	good, err := json.Marshal(messages.NewPositionReported("PK303", "R1", 0.9, 40.71, -74.0, 35000, 85, 450, 0,
		time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	require.NoError(t, err)
	cons := &chanConsumer{msgs: [][]byte{good}, results: make(chan error, 1)}

	opts := flightAPIOpts{
		grpcAddr:    "127.0.0.1:0",
		httpAddr:    "127.0.0.1:0",
		swaggerPath: sw,
		ingestRetry: ingestRetry{attempts: 3, backoff: time.Millisecond},
	}
	err = runFlightAPI(context.Background(), opts, svc, store, cons)
	require.Error(t, err)

	var se *models.StorageError
	require.True(t, errors.As(err, &se))
	require.Equal(t, models.StepProjection, se.Step)
	require.Equal(t, 3, store.calls)
}

func TestPositionHandler_TransientStorageErrorIsRetried(t *testing.T) {
	store := memflights.New()
	store.FailNext(models.StepProjection, errors.New("connection reset"))
	svc := flights.New(store, nil, 0)

	good, err := json.Marshal(messages.NewPositionReported("PK303", "R1", 0.9, 40.71, -74.0, 35000, 85, 450, 0,
		time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	require.NoError(t, err)

	h := positionHandler(context.Background(), svc, ingestRetry{attempts: 3, backoff: time.Millisecond})
	require.NoError(t, h(nil, good))

	st, err := store.GetFlight(context.Background(), "PK303")
	require.NoError(t, err)
	require.Equal(t, 40.71, st.CurrentPosition.Latitude)
}

func TestPositionHandler_RetryStopsOnCancel(t *testing.T) {
	svc := flights.New(&downStore{Store: memflights.New()}, nil, 0)
	good, err := json.Marshal(messages.NewPositionReported("PK303", "R1", 0.9, 40.71, -74.0, 35000, 85, 450, 0,
		time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := positionHandler(ctx, svc, ingestRetry{attempts: 5, backoff: time.Hour})
	require.ErrorIs(t, h(nil, good), context.Canceled)
}

func TestRunFlightAPI_SwaggerRequired(t *testing.T) {
	svc := flights.New(memflights.New(), nil, 0)
	err := runFlightAPI(context.Background(), flightAPIOpts{swaggerPath: filepath.Join(t.TempDir(), "nope.json")}, svc, nil, nil)
	require.ErrorContains(t, err, "swagger file not found")

	err = runFlightAPI(context.Background(), flightAPIOpts{}, svc, nil, nil)
	require.ErrorContains(t, err, "swaggerPath")
}

func TestPositionHandler_RateLimitedIsSkipped(t *testing.T) {
	svc := flights.New(memflights.New(), nil, 0).WithRateLimiter(denyLimiter{}, 1)
	good, err := json.Marshal(messages.NewPositionReported("A1", "R1", 1, 1, 1, 1, 1, 1, 0, time.Now()))
	require.NoError(t, err)
	require.ErrorIs(t, positionHandler(context.Background(), svc, ingestRetry{})(nil, good), kafka.ErrSkip)
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return false, limit + 1, nil
}
