package messages

import "time"

type FlightCompleted struct {
	FlightID    string    `json:"flight_id"`
	LogID       string    `json:"log_id"`
	CompletedAt time.Time `json:"completed_at"`
	PointCount  int       `json:"point_count"`
}
