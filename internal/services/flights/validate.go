package flights

import (
	"strings"
	"time"

	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/models"
)

// ValidateReport checks a raw report and turns it into a sample.
// Order is fixed: top-level presence, position presence, coordinate ranges, timestamp format.
// It has no side effects; ingestedAt is only copied into the result.
func ValidateReport(m messages.PositionReported, ingestedAt time.Time) (*models.PositionSample, error) {
	switch {
	case m.FlightID == nil:
		return nil, missing("flight_id")
	case m.ReceiverID == nil:
		return nil, missing("receiver_id")
	case m.Position == nil:
		return nil, missing("position")
	case m.Timestamp == nil:
		return nil, missing("timestamp")
	}
	if strings.TrimSpace(*m.FlightID) == "" {
		return nil, models.NewValidationError("flight_id", "flight_id must not be empty")
	}
	if strings.TrimSpace(*m.ReceiverID) == "" {
		return nil, models.NewValidationError("receiver_id", "receiver_id must not be empty")
	}

	p := m.Position
	switch {
	case p.Latitude == nil:
		return nil, missingPosition("latitude")
	case p.Longitude == nil:
		return nil, missingPosition("longitude")
	case p.Altitude == nil:
		return nil, missingPosition("altitude")
	case p.Heading == nil:
		return nil, missingPosition("heading")
	case p.Speed == nil:
		return nil, missingPosition("speed")
	}

	// NaN fails both comparisons.
	if !(*p.Latitude >= -90 && *p.Latitude <= 90) {
		return nil, models.NewValidationError("latitude", "Latitude must be between -90 and 90")
	}
	if !(*p.Longitude >= -180 && *p.Longitude <= 180) {
		return nil, models.NewValidationError("longitude", "Longitude must be between -180 and 180")
	}

	ts, err := time.Parse(time.RFC3339Nano, *m.Timestamp)
	if err != nil {
		return nil, models.NewValidationError("timestamp", "timestamp must be an RFC3339 instant with a timezone: %q", *m.Timestamp)
	}

	signal := models.DefaultSignalStrength
	if m.SignalStrength != nil {
		signal = *m.SignalStrength
	}
	var vrate float64
	if p.VerticalRate != nil {
		vrate = *p.VerticalRate
	}

	return &models.PositionSample{
		FlightID:  *m.FlightID,
		Timestamp: ts.UTC(),
		Position: models.Position{
			Latitude:     *p.Latitude,
			Longitude:    *p.Longitude,
			Altitude:     *p.Altitude,
			Heading:      *p.Heading,
			Speed:        *p.Speed,
			VerticalRate: vrate,
		},
		Receiver: models.Receiver{
			ID:             *m.ReceiverID,
			SignalStrength: signal,
		},
		IngestedAt: ingestedAt.UTC(),
	}, nil
}

func missing(field string) error {
	return models.NewValidationError(field, "Missing required field: %s", field)
}

func missingPosition(field string) error {
	return models.NewValidationError(field, "Missing required position field: %s", field)
}
