package geo

import (
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

type PathSummary struct {
	PointCount  int
	DistanceKm  float64
	MaxAltitude float64
}

// Summarize walks an ordered path and sums great-circle legs.
func Summarize(path []models.TrackPoint) PathSummary {
	s := PathSummary{PointCount: len(path)}
	for i, p := range path {
		if i == 0 || p.Altitude > s.MaxAltitude {
			s.MaxAltitude = p.Altitude
		}
		if i > 0 {
			s.DistanceKm += orbgeo.DistanceHaversine(point(path[i-1]), point(p)) / 1000
		}
	}
	return s
}

// FlightLogGeoJSON renders the archived path as a FeatureCollection with one feature.
// A single-point path becomes a Point, an empty path an empty collection.
func FlightLogGeoJSON(l *models.FlightLog) ([]byte, error) {
	fc := geojson.NewFeatureCollection()

	if len(l.TrackingPath) > 0 {
		var g orb.Geometry
		if len(l.TrackingPath) == 1 {
			g = point(l.TrackingPath[0])
		} else {
			ls := make(orb.LineString, 0, len(l.TrackingPath))
			for _, p := range l.TrackingPath {
				ls = append(ls, point(p))
			}
			g = ls
		}

		altitudes := make([]float64, 0, len(l.TrackingPath))
		timestamps := make([]string, 0, len(l.TrackingPath))
		for _, p := range l.TrackingPath {
			altitudes = append(altitudes, p.Altitude)
			timestamps = append(timestamps, p.Timestamp.UTC().Format(time.RFC3339))
		}

		f := geojson.NewFeature(g)
		f.Properties["flight_id"] = l.FlightID
		f.Properties["altitudes"] = altitudes
		f.Properties["timestamps"] = timestamps
		f.Properties["distance_km"] = l.DistanceKm
		fc.Append(f)
	}

	b, err := fc.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "marshal geojson")
	}
	return b, nil
}

func point(p models.TrackPoint) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}
