package flights

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/cache/rediscache"
	"github.com/BearBump/FlightBox/internal/models"
	"github.com/BearBump/FlightBox/internal/storage/memflights"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// hookedStore runs a one-shot hook right after a store call returns,
// before the service gets to update the cache.
type hookedStore struct {
	*memflights.Store
	afterRead   func()
	afterIngest func()
}

func (h *hookedStore) GetFlight(ctx context.Context, flightID string) (*models.FlightState, error) {
	st, err := h.Store.GetFlight(ctx, flightID)
	if fn := h.afterRead; fn != nil {
		h.afterRead = nil
		fn()
	}
	return st, err
}

func (h *hookedStore) IngestSample(ctx context.Context, sample *models.PositionSample) (*models.FlightState, error) {
	st, err := h.Store.IngestSample(ctx, sample)
	if fn := h.afterIngest; fn != nil {
		h.afterIngest = nil
		fn()
	}
	return st, err
}

func newCachedService(t *testing.T) (*Service, *hookedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	store := &hookedStore{Store: memflights.New()}
	return New(store, rc, 5*time.Minute), store, mr
}

func positionReport(flightID string, lat float64, ts time.Time) messages.PositionReported {
	return messages.NewPositionReported(flightID, "R1", 0.9, lat, -74.006, 35000, 90, 450, 0, ts)
}

func TestCurrentPosition_ReaderRacingCompletionDoesNotRefill(t *testing.T) {
	ctx := context.Background()
	svc, store, mr := newCachedService(t)
	ts := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)

	_, err := svc.Ingest(ctx, positionReport("PK303", 40.7, ts))
	require.NoError(t, err)

	// кэш истёк, следующий читатель пойдёт в хранилище
	mr.FastForward(6 * time.Minute)

	store.afterRead = func() {
		_, err := svc.CompleteFlight(ctx, "PK303")
		require.NoError(t, err)
	}
	snap, err := svc.CurrentPosition(ctx, "PK303")
	require.NoError(t, err)
	require.Equal(t, models.FlightStatusActive, snap.Status)

	_, err = svc.CurrentPosition(ctx, "PK303")
	require.ErrorIs(t, err, models.ErrNotFound)

	// новая инкарнация рейса снова кэшируется
	_, err = svc.Ingest(ctx, positionReport("PK303", 41.0, ts.Add(30*time.Second)))
	require.NoError(t, err)
	_, ok, err := svc.cache.Get(ctx, currentKey("PK303"))
	require.NoError(t, err)
	require.True(t, ok)
	snap, err = svc.CurrentPosition(ctx, "PK303")
	require.NoError(t, err)
	require.Equal(t, 41.0, snap.Position.Latitude)
}

func TestIngest_LoserOfRaceDoesNotOverwriteCache(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newCachedService(t)
	ts := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)

	// вторая запись применяется после первой, но успевает в кэш раньше
	store.afterIngest = func() {
		_, err := svc.Ingest(ctx, positionReport("PK303", 41.0, ts.Add(time.Second)))
		require.NoError(t, err)
	}
	_, err := svc.Ingest(ctx, positionReport("PK303", 40.0, ts))
	require.NoError(t, err)

	st, err := store.Store.GetFlight(ctx, "PK303")
	require.NoError(t, err)
	require.Equal(t, 41.0, st.CurrentPosition.Latitude)

	snap, err := svc.CurrentPosition(ctx, "PK303")
	require.NoError(t, err)
	require.Equal(t, 41.0, snap.Position.Latitude)
}
