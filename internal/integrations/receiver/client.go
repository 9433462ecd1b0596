package receiver

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/FlightBox/internal/broker/messages"
)

// Report is one aircraft with a position as seen by a receiver feed.
type Report struct {
	Hex      string
	Callsign string

	Latitude     float64
	Longitude    float64
	Altitude     float64
	Heading      float64
	Speed        float64
	VerticalRate float64

	// nil when the feed does not report signal levels
	SignalStrength *float64
	SeenAt         time.Time
}

type Client interface {
	Fetch(ctx context.Context) ([]Report, error)
}

// FlightID is the trimmed callsign, or the ICAO hex when no callsign was decoded.
func (r Report) FlightID() string {
	if cs := strings.TrimSpace(r.Callsign); cs != "" {
		return strings.ToUpper(cs)
	}
	return strings.ToUpper(strings.TrimSpace(r.Hex))
}

// Message converts a report to the broker message published for receiverID.
func (r Report) Message(receiverID string) messages.PositionReported {
	signal := 1.0
	if r.SignalStrength != nil {
		signal = *r.SignalStrength
	}
	m := messages.NewPositionReported(r.FlightID(), receiverID, signal,
		r.Latitude, r.Longitude, r.Altitude, r.Heading, r.Speed, r.VerticalRate, r.SeenAt)
	if r.SignalStrength == nil {
		m.SignalStrength = nil
	}
	return m
}
