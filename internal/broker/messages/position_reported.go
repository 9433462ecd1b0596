package messages

import "time"

// PositionReported is what receivers (and the feed poller) put on the positions topic.
// Fields are pointers so that a missing field can be told apart from a zero value.
type PositionReported struct {
	FlightID       *string         `json:"flight_id,omitempty"`
	ReceiverID     *string         `json:"receiver_id,omitempty"`
	SignalStrength *float64        `json:"signal_strength,omitempty"`
	Position       *ReportedCoords `json:"position,omitempty"`
	Timestamp      *string         `json:"timestamp,omitempty"`
}

type ReportedCoords struct {
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	VerticalRate *float64 `json:"vertical_rate,omitempty"`
}

// NewPositionReported builds a fully populated report.
func NewPositionReported(flightID, receiverID string, signal float64, lat, lon, alt, heading, speed, vrate float64, ts time.Time) PositionReported {
	stamp := ts.UTC().Format(time.RFC3339Nano)
	return PositionReported{
		FlightID:       &flightID,
		ReceiverID:     &receiverID,
		SignalStrength: &signal,
		Position: &ReportedCoords{
			Latitude:     &lat,
			Longitude:    &lon,
			Altitude:     &alt,
			Heading:      &heading,
			Speed:        &speed,
			VerticalRate: &vrate,
		},
		Timestamp: &stamp,
	}
}

// Key is the partition key: samples of one flight stay on one partition.
func (m PositionReported) Key() []byte {
	if m.FlightID == nil {
		return nil
	}
	return []byte(*m.FlightID)
}
