package mongoflights

import (
	"context"
	"time"

	"github.com/BearBump/FlightBox/internal/models"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Storage) CompleteFlight(ctx context.Context, flightID string, archive models.ArchiveFunc) (*models.FlightLog, error) {
	res, err := s.inTx(ctx, func(sc mongo.SessionContext) (any, error) {
		var doc flightDoc
		err := s.flights.FindOne(sc, bson.M{"flight_id": flightID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		if err != nil {
			return nil, models.NewStorageError(models.StepRead, errors.Wrap(err, "find flight"))
		}

		samples, err := s.findSamples(sc, flightID, 1, 0)
		if err != nil {
			return nil, models.NewStorageError(models.StepRead, err)
		}
		rev, err := s.nextRevision(sc)
		if err != nil {
			return nil, models.NewStorageError(models.StepArchive, err)
		}

		l := archive(doc.model(), samples)
		l.Revision = rev
		if _, err := s.logs.InsertOne(sc, newLogDoc(l)); err != nil {
			return nil, models.NewStorageError(models.StepArchive, errors.Wrap(err, "insert flight log"))
		}
		if _, err := s.flights.DeleteOne(sc, bson.M{"flight_id": flightID}); err != nil {
			return nil, models.NewStorageError(models.StepDeleteState, errors.Wrap(err, "delete flight"))
		}
		if _, err := s.samples.DeleteMany(sc, bson.M{"flight_id": flightID}); err != nil {
			return nil, models.NewStorageError(models.StepDeleteSamples, errors.Wrap(err, "delete samples"))
		}
		return l, nil
	})
	if err != nil {
		return nil, asStorageError(models.StepCommit, err)
	}
	return res.(*models.FlightLog), nil
}

func (s *Storage) LatestFlightLog(ctx context.Context, flightID string) (*models.FlightLog, error) {
	var doc logDoc
	err := s.logs.FindOne(ctx,
		bson.M{"flight_id": flightID},
		options.FindOne().SetSort(bson.D{{Key: "revision", Value: -1}, {Key: "completed_at", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find flight log")
	}
	return doc.model(), nil
}

func (s *Storage) ListIdleFlights(ctx context.Context, before time.Time, limit int) ([]string, error) {
	cur, err := s.flights.Find(ctx,
		bson.M{"status": models.FlightStatusActive, "updated_at": bson.M{"$lt": before}},
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"flight_id": 1}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find idle flights")
	}
	defer cur.Close(ctx)

	var docs []flightDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode idle flights")
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.FlightID)
	}
	return out, nil
}

// FindConsistencyRisks checks every flight id that still has live data against its
// latest archive; live documents with revision <= the archive's are leftovers.
func (s *Storage) FindConsistencyRisks(ctx context.Context, limit int) ([]models.ConsistencyRisk, error) {
	ids := make(map[string]struct{})
	for _, coll := range []*mongo.Collection{s.flights, s.samples} {
		vals, err := coll.Distinct(ctx, "flight_id", bson.M{})
		if err != nil {
			return nil, errors.Wrap(err, "distinct flight ids")
		}
		for _, v := range vals {
			if id, ok := v.(string); ok {
				ids[id] = struct{}{}
			}
		}
	}

	var out []models.ConsistencyRisk
	for id := range ids {
		l, err := s.LatestFlightLog(ctx, id)
		if models.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		r := models.ConsistencyRisk{FlightID: id, LogID: l.ID, CompletedAt: l.CompletedAt, Revision: l.Revision}
		n, err := s.flights.CountDocuments(ctx, bson.M{"flight_id": id, "revision": bson.M{"$lte": l.Revision}})
		if err != nil {
			return nil, errors.Wrap(err, "count leftover flight")
		}
		r.LeftoverState = n > 0
		r.LeftoverSamples, err = s.samples.CountDocuments(ctx, bson.M{"flight_id": id, "revision": bson.M{"$lte": l.Revision}})
		if err != nil {
			return nil, errors.Wrap(err, "count leftover samples")
		}

		if r.LeftoverState || r.LeftoverSamples > 0 {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Storage) RepairConsistencyRisk(ctx context.Context, risk models.ConsistencyRisk) error {
	_, err := s.inTx(ctx, func(sc mongo.SessionContext) (any, error) {
		if _, err := s.flights.DeleteOne(sc, bson.M{"flight_id": risk.FlightID, "revision": bson.M{"$lte": risk.Revision}}); err != nil {
			return nil, models.NewStorageError(models.StepDeleteState, errors.Wrap(err, "delete leftover flight"))
		}
		if _, err := s.samples.DeleteMany(sc, bson.M{"flight_id": risk.FlightID, "revision": bson.M{"$lte": risk.Revision}}); err != nil {
			return nil, models.NewStorageError(models.StepDeleteSamples, errors.Wrap(err, "delete leftover samples"))
		}
		return nil, nil
	})
	if err != nil {
		return asStorageError(models.StepCommit, err)
	}
	return nil
}
