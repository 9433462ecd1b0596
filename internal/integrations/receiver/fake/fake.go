package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/BearBump/FlightBox/internal/integrations/receiver"
)

// Client simulates a receiver for local runs: a fixed set of aircraft flying
// straight lines whose position depends only on the wall clock.
type Client struct {
	receiverID string
	count      int
	now        func() time.Time
}

func New(receiverID string, count int) *Client {
	if count <= 0 {
		count = 5
	}
	return &Client{
		receiverID: receiverID,
		count:      count,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) Fetch(ctx context.Context) ([]receiver.Report, error) {
	now := c.now()
	out := make([]receiver.Report, 0, c.count)
	for i := 0; i < c.count; i++ {
		callsign := fmt.Sprintf("SIM%03d", i+1)

		h := fnv.New32a()
		_, _ = h.Write([]byte(c.receiverID))
		_, _ = h.Write([]byte("|"))
		_, _ = h.Write([]byte(callsign))
		v := h.Sum32()

		heading := float64(v % 360)
		speed := 380 + float64(v%120) // knots
		startLat := float64(int(v>>8)%120) - 60
		startLon := float64(int(v>>16)%340) - 170

		// часовой цикл полёта, чтобы координаты не уходили за пределы
		elapsed := float64(now.Unix()%3600) / 3600
		dist := speed * elapsed / 60 // градусы, грубо: 60 nm на градус
		rad := heading * math.Pi / 180
		lat := clamp(startLat+dist*math.Cos(rad), -89, 89)
		lon := wrapLon(startLon + dist*math.Sin(rad))

		out = append(out, receiver.Report{
			Hex:       fmt.Sprintf("%06x", v&0xffffff),
			Callsign:  callsign,
			Latitude:  lat,
			Longitude: lon,
			Altitude:  30000 + float64(v%8)*1000,
			Heading:   heading,
			Speed:     speed,
			SeenAt:    now,
		})
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrapLon(v float64) float64 {
	for v > 180 {
		v -= 360
	}
	for v < -180 {
		v += 360
	}
	return v
}
