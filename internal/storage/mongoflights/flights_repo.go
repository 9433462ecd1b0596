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

func (s *Storage) IngestSample(ctx context.Context, sample *models.PositionSample) (*models.FlightState, error) {
	res, err := s.inTx(ctx, func(sc mongo.SessionContext) (any, error) {
		rev, err := s.nextRevision(sc)
		if err != nil {
			return nil, models.NewStorageError(models.StepProjection, err)
		}
		// Конвейерный update: created_at и actual_departure ставятся только один раз.
		update := mongo.Pipeline{
			{{Key: "$set", Value: bson.D{
				{Key: "status", Value: models.FlightStatusActive},
				{Key: "revision", Value: rev},
				{Key: "current_position", Value: bson.D{{Key: "$literal", Value: sample.Position}}},
				{Key: "updated_at", Value: sample.IngestedAt},
				{Key: "created_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$created_at", sample.IngestedAt}}}},
				{Key: "actual_departure", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$actual_departure", sample.Timestamp}}}},
				{Key: "airline", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$airline", ""}}}},
				{Key: "flight_number", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$flight_number", ""}}}},
			}}},
		}
		var doc flightDoc
		err = s.flights.FindOneAndUpdate(sc,
			bson.M{"flight_id": sample.FlightID},
			update,
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&doc)
		if err != nil {
			return nil, models.NewStorageError(models.StepProjection, errors.Wrap(err, "upsert flight"))
		}

		if _, err := s.samples.InsertOne(sc, &sampleDoc{
			FlightID:   sample.FlightID,
			Timestamp:  sample.Timestamp,
			Position:   sample.Position,
			Receiver:   sample.Receiver,
			IngestedAt: sample.IngestedAt,
			Revision:   rev,
		}); err != nil {
			return nil, models.NewStorageError(models.StepSample, errors.Wrap(err, "insert sample"))
		}
		return doc.model(), nil
	})
	if err != nil {
		return nil, asStorageError(models.StepCommit, err)
	}
	return res.(*models.FlightState), nil
}

func (s *Storage) RegisterFlight(ctx context.Context, reg models.FlightRegistration, now time.Time) (*models.FlightState, error) {
	set := bson.D{
		{Key: "airline", Value: reg.Airline},
		{Key: "flight_number", Value: reg.FlightNumber},
		{Key: "origin", Value: reg.Origin},
		{Key: "destination", Value: reg.Destination},
		{Key: "aircraft", Value: reg.Aircraft},
		{Key: "scheduled_departure", Value: reg.ScheduledDeparture},
		{Key: "scheduled_arrival", Value: reg.ScheduledArrival},
	}
	res, err := s.inTx(ctx, func(sc mongo.SessionContext) (any, error) {
		rev, err := s.nextRevision(sc)
		if err != nil {
			return nil, models.NewStorageError(models.StepProjection, err)
		}
		update := bson.D{
			{Key: "$set", Value: append(set, bson.E{Key: "revision", Value: rev})},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "status", Value: models.FlightStatusScheduled},
				{Key: "created_at", Value: now},
				{Key: "updated_at", Value: now},
			}},
		}

		var doc flightDoc
		err = s.flights.FindOneAndUpdate(sc,
			bson.M{"flight_id": reg.FlightID},
			update,
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&doc)
		if err != nil {
			return nil, models.NewStorageError(models.StepProjection, errors.Wrap(err, "register flight"))
		}
		return doc.model(), nil
	})
	if err != nil {
		return nil, asStorageError(models.StepCommit, err)
	}
	return res.(*models.FlightState), nil
}

func (s *Storage) GetFlight(ctx context.Context, flightID string) (*models.FlightState, error) {
	var doc flightDoc
	err := s.flights.FindOne(ctx, bson.M{"flight_id": flightID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find flight")
	}
	return doc.model(), nil
}

func (s *Storage) ListFlights(ctx context.Context, status string) ([]*models.FlightState, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	cur, err := s.flights.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "flight_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find flights")
	}
	defer cur.Close(ctx)

	var docs []flightDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode flights")
	}
	out := make([]*models.FlightState, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (s *Storage) SampleAt(ctx context.Context, flightID string, at time.Time) (*models.PositionSample, error) {
	var doc sampleDoc
	err := s.samples.FindOne(ctx,
		bson.M{"flight_id": flightID, "timestamp": bson.M{"$lte": at}},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find sample at")
	}
	return doc.model(), nil
}

func (s *Storage) RecentSamples(ctx context.Context, flightID string, limit int) ([]*models.PositionSample, error) {
	return s.findSamples(ctx, flightID, -1, int64(limit))
}

// findSamples reads a flight's samples in timestamp order; ties follow insertion (_id).
func (s *Storage) findSamples(ctx context.Context, flightID string, dir int, limit int64) ([]*models.PositionSample, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: dir}, {Key: "_id", Value: dir}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.samples.Find(ctx, bson.M{"flight_id": flightID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find samples")
	}
	defer cur.Close(ctx)

	var docs []sampleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode samples")
	}
	out := make([]*models.PositionSample, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

// asStorageError keeps the step of an error raised inside a transaction body.
// Anything else failed while committing.
func asStorageError(step string, err error) error {
	if models.IsNotFound(err) {
		return err
	}
	var se *models.StorageError
	if errors.As(err, &se) {
		return err
	}
	return models.NewStorageError(step, err)
}
