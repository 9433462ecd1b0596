package fake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_Deterministic(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	a := New("SIM", 3)
	a.now = func() time.Time { return now }
	b := New("SIM", 3)
	b.now = func() time.Time { return now }

	ra, err := a.Fetch(context.Background())
	require.NoError(t, err)
	rb, err := b.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, ra, rb)
	require.Len(t, ra, 3)

	for _, r := range ra {
		require.GreaterOrEqual(t, r.Latitude, -90.0)
		require.LessOrEqual(t, r.Latitude, 90.0)
		require.GreaterOrEqual(t, r.Longitude, -180.0)
		require.LessOrEqual(t, r.Longitude, 180.0)
		require.Equal(t, now, r.SeenAt)
	}
	require.Equal(t, "SIM001", ra[0].FlightID())
}

func TestClient_Moves(t *testing.T) {
	c := New("SIM", 1)
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return t0 }
	r0, _ := c.Fetch(context.Background())
	c.now = func() time.Time { return t0.Add(10 * time.Minute) }
	r1, _ := c.Fetch(context.Background())

	require.NotEqual(t, [2]float64{r0[0].Latitude, r0[0].Longitude}, [2]float64{r1[0].Latitude, r1[0].Longitude})
}
