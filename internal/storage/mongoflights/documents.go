package mongoflights

import (
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type flightDoc struct {
	FlightID           string           `bson:"flight_id"`
	Airline            string           `bson:"airline"`
	FlightNumber       string           `bson:"flight_number"`
	Origin             *models.Airport  `bson:"origin,omitempty"`
	Destination        *models.Airport  `bson:"destination,omitempty"`
	Aircraft           *models.Aircraft `bson:"aircraft,omitempty"`
	ScheduledDeparture *time.Time       `bson:"scheduled_departure,omitempty"`
	ScheduledArrival   *time.Time       `bson:"scheduled_arrival,omitempty"`
	Status             string           `bson:"status"`
	CurrentPosition    *models.Position `bson:"current_position,omitempty"`
	ActualDeparture    *time.Time       `bson:"actual_departure,omitempty"`
	CreatedAt          time.Time        `bson:"created_at"`
	UpdatedAt          time.Time        `bson:"updated_at"`
	Revision           int64            `bson:"revision"`
}

func (d *flightDoc) model() *models.FlightState {
	return &models.FlightState{
		FlightID: d.FlightID,
		FlightIdentity: models.FlightIdentity{
			Airline:            d.Airline,
			FlightNumber:       d.FlightNumber,
			Origin:             d.Origin,
			Destination:        d.Destination,
			Aircraft:           d.Aircraft,
			ScheduledDeparture: utcPtr(d.ScheduledDeparture),
			ScheduledArrival:   utcPtr(d.ScheduledArrival),
		},
		Status:          d.Status,
		CurrentPosition: d.CurrentPosition,
		ActualDeparture: utcPtr(d.ActualDeparture),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
		Revision:        d.Revision,
	}
}

type sampleDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	FlightID   string             `bson:"flight_id"`
	Timestamp  time.Time          `bson:"timestamp"`
	Position   models.Position    `bson:"position"`
	Receiver   models.Receiver    `bson:"receiver"`
	IngestedAt time.Time          `bson:"ingested_at"`
	Revision   int64              `bson:"revision"`
}

func (d *sampleDoc) model() *models.PositionSample {
	return &models.PositionSample{
		ID:         d.ID.Hex(),
		FlightID:   d.FlightID,
		Timestamp:  d.Timestamp.UTC(),
		Position:   d.Position,
		Receiver:   d.Receiver,
		IngestedAt: d.IngestedAt.UTC(),
		Revision:   d.Revision,
	}
}

type logDoc struct {
	ID                 string              `bson:"_id"`
	FlightID           string              `bson:"flight_id"`
	Airline            string              `bson:"airline"`
	FlightNumber       string              `bson:"flight_number"`
	Origin             *models.Airport     `bson:"origin,omitempty"`
	Destination        *models.Airport     `bson:"destination,omitempty"`
	Aircraft           *models.Aircraft    `bson:"aircraft,omitempty"`
	ScheduledDeparture *time.Time          `bson:"scheduled_departure,omitempty"`
	ScheduledArrival   *time.Time          `bson:"scheduled_arrival,omitempty"`
	ActualDeparture    *time.Time          `bson:"actual_departure,omitempty"`
	ActualArrival      time.Time           `bson:"actual_arrival"`
	TrackingPath       []models.TrackPoint `bson:"tracking_path"`
	PointCount         int                 `bson:"point_count"`
	DistanceKm         float64             `bson:"distance_km"`
	MaxAltitude        float64             `bson:"max_altitude"`
	CreatedAt          time.Time           `bson:"created_at"`
	CompletedAt        time.Time           `bson:"completed_at"`
	Revision           int64               `bson:"revision"`
}

func newLogDoc(l *models.FlightLog) *logDoc {
	path := l.TrackingPath
	if path == nil {
		path = []models.TrackPoint{}
	}
	return &logDoc{
		ID:                 l.ID,
		FlightID:           l.FlightID,
		Airline:            l.Airline,
		FlightNumber:       l.FlightNumber,
		Origin:             l.Origin,
		Destination:        l.Destination,
		Aircraft:           l.Aircraft,
		ScheduledDeparture: l.ScheduledDeparture,
		ScheduledArrival:   l.ScheduledArrival,
		ActualDeparture:    l.ActualDeparture,
		ActualArrival:      l.ActualArrival,
		TrackingPath:       path,
		PointCount:         l.PointCount,
		DistanceKm:         l.DistanceKm,
		MaxAltitude:        l.MaxAltitude,
		CreatedAt:          l.CreatedAt,
		CompletedAt:        l.CompletedAt,
		Revision:           l.Revision,
	}
}

func (d *logDoc) model() *models.FlightLog {
	path := make([]models.TrackPoint, 0, len(d.TrackingPath))
	for _, p := range d.TrackingPath {
		p.Timestamp = p.Timestamp.UTC()
		path = append(path, p)
	}
	return &models.FlightLog{
		ID:       d.ID,
		FlightID: d.FlightID,
		FlightIdentity: models.FlightIdentity{
			Airline:            d.Airline,
			FlightNumber:       d.FlightNumber,
			Origin:             d.Origin,
			Destination:        d.Destination,
			Aircraft:           d.Aircraft,
			ScheduledDeparture: utcPtr(d.ScheduledDeparture),
			ScheduledArrival:   utcPtr(d.ScheduledArrival),
		},
		ActualDeparture: utcPtr(d.ActualDeparture),
		ActualArrival:   d.ActualArrival.UTC(),
		TrackingPath:    path,
		PointCount:      d.PointCount,
		DistanceKm:      d.DistanceKm,
		MaxAltitude:     d.MaxAltitude,
		CreatedAt:       d.CreatedAt.UTC(),
		CompletedAt:     d.CompletedAt.UTC(),
		Revision:        d.Revision,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
