package dump1090

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_Fetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/aircraft.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "now": 1705314600.5,
  "messages": 1234,
  "aircraft": [
    {"hex":"a1b2c3","flight":"PK303   ","lat":40.71,"lon":-74.0,"alt_baro":35000,"track":85.2,"gs":450.1,"baro_rate":-64,"seen_pos":0.5,"rssi":-10},
    {"hex":"d4e5f6","alt_baro":"ground","lat":51.47,"lon":-0.45},
    {"hex":"ffffff","flight":"NOPOS"}
  ]
}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/data/aircraft.json", 0)
	res, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 2)

	require.Equal(t, "PK303", res[0].FlightID())
	require.Equal(t, 35000.0, res[0].Altitude)
	require.Equal(t, -64.0, res[0].VerticalRate)
	require.Equal(t, time.Unix(1705314600, 0).UTC(), res[0].SeenAt)
	require.NotNil(t, res[0].SignalStrength)
	require.InDelta(t, 0.1, *res[0].SignalStrength, 1e-9)

	require.Equal(t, "D4E5F6", res[1].FlightID())
	require.Equal(t, 0.0, res[1].Altitude)
	require.Nil(t, res[1].SignalStrength)
}

func TestClient_Fetch_429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0).Fetch(context.Background())
	require.ErrorIs(t, err, ErrThrottled)
}

func TestClient_Fetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0).Fetch(context.Background())
	require.ErrorContains(t, err, "http 502")
}

func TestClient_Fetch_LimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"aircraft":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 1)
	_, err := c.Fetch(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx)
	require.Error(t, err)
}
