package models

import "time"

// Статусы рейса.
const (
	FlightStatusScheduled = "scheduled"
	FlightStatusActive    = "active"
	FlightStatusCompleted = "completed"
)

func IsValidFlightStatus(s string) bool {
	switch s {
	case FlightStatusScheduled, FlightStatusActive, FlightStatusCompleted:
		return true
	}
	return false
}

type Position struct {
	Latitude     float64 `json:"latitude" bson:"latitude"`
	Longitude    float64 `json:"longitude" bson:"longitude"`
	Altitude     float64 `json:"altitude" bson:"altitude"`
	Heading      float64 `json:"heading" bson:"heading"`
	Speed        float64 `json:"speed" bson:"speed"`
	VerticalRate float64 `json:"vertical_rate" bson:"vertical_rate"`
}

type Receiver struct {
	ID             string  `json:"id" bson:"id"`
	SignalStrength float64 `json:"signal_strength" bson:"signal_strength"`
}

const DefaultSignalStrength = 1.0

// PositionSample is one receiver observation. Samples are never updated.
type PositionSample struct {
	ID         string    `json:"id,omitempty"`
	FlightID   string    `json:"flight_id"`
	Timestamp  time.Time `json:"timestamp"`
	Position   Position  `json:"position"`
	Receiver   Receiver  `json:"receiver"`
	IngestedAt time.Time `json:"ingested_at"`

	Revision int64 `json:"-"`
}

type Airport struct {
	Code    string `json:"code" bson:"code"`
	Name    string `json:"name,omitempty" bson:"name,omitempty"`
	City    string `json:"city,omitempty" bson:"city,omitempty"`
	Country string `json:"country,omitempty" bson:"country,omitempty"`
}

type Aircraft struct {
	Registration string `json:"registration" bson:"registration"`
	Type         string `json:"type,omitempty" bson:"type,omitempty"`
	Model        string `json:"model,omitempty" bson:"model,omitempty"`
}

// FlightIdentity holds the fields set by registration. Ingestion never touches them.
type FlightIdentity struct {
	Airline            string     `json:"airline,omitempty"`
	FlightNumber       string     `json:"flight_number,omitempty"`
	Origin             *Airport   `json:"origin,omitempty"`
	Destination        *Airport   `json:"destination,omitempty"`
	Aircraft           *Aircraft  `json:"aircraft,omitempty"`
	ScheduledDeparture *time.Time `json:"scheduled_departure,omitempty"`
	ScheduledArrival   *time.Time `json:"scheduled_arrival,omitempty"`
}

// FlightState is the live projection of an active flight.
type FlightState struct {
	FlightID string `json:"flight_id"`
	FlightIdentity

	Status          string     `json:"status"`
	CurrentPosition *Position  `json:"current_position,omitempty"`
	ActualDeparture *time.Time `json:"actual_departure,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Revision is assigned by storage from one counter per backend on every
	// projection write. It orders writes regardless of process clocks.
	Revision int64 `json:"-"`
}

type FlightRegistration struct {
	FlightID string `json:"flight_id"`
	FlightIdentity
}

// TrackPoint is a sample reduced for the archive.
type TrackPoint struct {
	Latitude  float64   `json:"latitude" bson:"latitude"`
	Longitude float64   `json:"longitude" bson:"longitude"`
	Altitude  float64   `json:"altitude" bson:"altitude"`
	Heading   float64   `json:"heading" bson:"heading"`
	Speed     float64   `json:"speed" bson:"speed"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// PathPoint is one element of a recent path window.
type PathPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Timestamp time.Time `json:"timestamp"`
}

// FlightLog is the immutable archive of a completed flight.
type FlightLog struct {
	ID       string `json:"id"`
	FlightID string `json:"flight_id"`
	FlightIdentity

	ActualDeparture *time.Time   `json:"actual_departure,omitempty"`
	ActualArrival   time.Time    `json:"actual_arrival"`
	TrackingPath    []TrackPoint `json:"tracking_path"`

	PointCount  int     `json:"point_count"`
	DistanceKm  float64 `json:"distance_km"`
	MaxAltitude float64 `json:"max_altitude"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Revision is taken from the projection counter while completing: every
	// state or sample revision <= it was live before the archive.
	Revision int64 `json:"-"`
}

type FlightSnapshot struct {
	FlightID     string      `json:"flight_id"`
	Airline      string      `json:"airline,omitempty"`
	FlightNumber string      `json:"flight_number,omitempty"`
	Status       string      `json:"status"`
	Position     *Position   `json:"position"`
	Origin       *Airport    `json:"origin,omitempty"`
	Destination  *Airport    `json:"destination,omitempty"`
	Aircraft     *Aircraft   `json:"aircraft,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
	RecentPath   []PathPoint `json:"recent_path,omitempty"`
}

type CompletionResult struct {
	FlightID    string    `json:"flight_id"`
	LogID       string    `json:"log_id"`
	PointCount  int       `json:"point_count"`
	CompletedAt time.Time `json:"completed_at"`
}

func (s *FlightState) Snapshot() *FlightSnapshot {
	return &FlightSnapshot{
		FlightID:     s.FlightID,
		Airline:      s.Airline,
		FlightNumber: s.FlightNumber,
		Status:       s.Status,
		Position:     s.CurrentPosition,
		Origin:       s.Origin,
		Destination:  s.Destination,
		Aircraft:     s.Aircraft,
		UpdatedAt:    s.UpdatedAt,
	}
}

func (s *PositionSample) TrackPoint() TrackPoint {
	return TrackPoint{
		Latitude:  s.Position.Latitude,
		Longitude: s.Position.Longitude,
		Altitude:  s.Position.Altitude,
		Heading:   s.Position.Heading,
		Speed:     s.Position.Speed,
		Timestamp: s.Timestamp,
	}
}

func (s *PositionSample) PathPoint() PathPoint {
	return PathPoint{
		Latitude:  s.Position.Latitude,
		Longitude: s.Position.Longitude,
		Altitude:  s.Position.Altitude,
		Timestamp: s.Timestamp,
	}
}

// ArchiveFunc turns a flight's projection and its samples (ascending by timestamp)
// into the archive record. Storage calls it inside the completion transaction.
type ArchiveFunc func(state *FlightState, samples []*PositionSample) *FlightLog

type IngestAck struct {
	FlightID   string    `json:"flight_id"`
	Timestamp  time.Time `json:"timestamp"`
	IngestedAt time.Time `json:"ingested_at"`
}
