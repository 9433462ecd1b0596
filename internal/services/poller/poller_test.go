package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/integrations/receiver"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu     sync.Mutex
	topic  string
	keys   [][]byte
	values [][]byte
	calls  int
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

type fakeRL struct {
	allowed bool
	count   int64
	err     error
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	return r.allowed, r.count, r.err
}

type fakeFeed struct {
	res   []receiver.Report
	err   error
	calls int
}

func (f *fakeFeed) Fetch(ctx context.Context) ([]receiver.Report, error) {
	f.calls++
	return f.res, f.err
}

func TestPoller_processOne_okPublishes(t *testing.T) {
	now := time.Now().UTC()
	fp := &fakeProducer{}
	feed := &fakeFeed{res: []receiver.Report{
		{Hex: "a1b2c3", Callsign: "PK303 ", Latitude: 40.71, Longitude: -74, Altitude: 35000, SeenAt: now},
		{Hex: "d4e5f6", Latitude: 51.47, Longitude: -0.45, SeenAt: now},
	}}
	p := New([]Feed{{ReceiverID: "R1", Client: feed}}, fp, &fakeRL{allowed: true}, "position.reported").
		WithSettings(time.Second, 1, 60)

	require.NoError(t, p.processOne(context.Background(), p.feeds[0], now))
	require.Equal(t, 2, fp.calls)
	require.Equal(t, "position.reported", fp.topic)
	require.Equal(t, []byte("PK303"), fp.keys[0])

	var m messages.PositionReported
	require.NoError(t, json.Unmarshal(fp.values[1], &m))
	require.Equal(t, "D4E5F6", *m.FlightID)
	require.Equal(t, "R1", *m.ReceiverID)
	require.Equal(t, int64(2), p.Stats().TotalPublished)
}

func TestPoller_processOne_errorBackoff(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	fp := &fakeProducer{}
	feed := &fakeFeed{err: errors.New("boom")}
	p := New([]Feed{{ReceiverID: "R1", Client: feed}}, fp, nil, "position.reported")
	fs := p.feeds[0]

	require.Error(t, p.processOne(context.Background(), fs, now))
	require.Equal(t, 0, fp.calls)
	require.Equal(t, now.Add(5*time.Second), fs.nextPollAt)
	require.False(t, fs.due(now.Add(time.Second)))

	require.Error(t, p.processOne(context.Background(), fs, now))
	require.Equal(t, now.Add(15*time.Second), fs.nextPollAt)

	// успешный опрос сбрасывает backoff
	feed.err = nil
	require.NoError(t, p.processOne(context.Background(), fs, now))
	require.Equal(t, 0, fs.failCount)
	require.True(t, fs.due(now))

	st := p.Stats()
	require.Len(t, st.Feeds, 1)
	require.Equal(t, "R1", st.Feeds[0].ReceiverID)
}

func TestPoller_processOne_budgetExceededSkips(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 7, 0, 0, time.UTC)
	feed := &fakeFeed{}
	rl := &fakeRL{allowed: false, count: 61}
	p := New([]Feed{{ReceiverID: "R1", Client: feed}}, &fakeProducer{}, rl, "t").WithSettings(0, 0, 60)

	require.NoError(t, p.processOne(context.Background(), p.feeds[0], now))
	require.Equal(t, 0, feed.calls)
	require.Equal(t, []string{"rl:feed:R1:202401151007"}, rl.keys)
	require.Equal(t, 0, p.feeds[0].failCount)
}

func TestPoller_processOne_publishFailure(t *testing.T) {
	fp := &fakeProducer{err: errors.New("kafka down")}
	feed := &fakeFeed{res: []receiver.Report{{Hex: "abc", SeenAt: time.Now()}}}
	p := New([]Feed{{ReceiverID: "R1", Client: feed}}, fp, nil, "t")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.Error(t, p.processOne(ctx, p.feeds[0], time.Now()))
	require.GreaterOrEqual(t, fp.calls, 1)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, &fakeProducer{}, nil, "t").WithSettings(5*time.Second, 7, 13)
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.concurrency)
	require.Equal(t, int64(13), p.feedRateLimitPerMinute)

	p.WithSettings(0, 0, 0)
	require.Equal(t, 5*time.Second, p.pollInterval)
}
