package mongoflights

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	flightsCollection  = "flights"
	samplesCollection  = "tracking_updates"
	logsCollection     = "flight_logs"
	countersCollection = "counters"

	revisionCounter = "flight_revision"
)

// Storage needs a replica set: ingestion and completion run in multi-document transactions.
type Storage struct {
	client   *mongo.Client
	flights  *mongo.Collection
	samples  *mongo.Collection
	logs     *mongo.Collection
	counters *mongo.Collection
}

func New(ctx context.Context, uri, database string) (*Storage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		flights:  db.Collection(flightsCollection),
		samples:  db.Collection(samplesCollection),
		logs:     db.Collection(logsCollection),
		counters: db.Collection(countersCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	if _, err := s.flights.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "flight_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "create flights index")
	}
	if _, err := s.flights.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "create flights index")
	}

	if _, err := s.samples.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "flight_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	}); err != nil {
		return errors.Wrap(err, "create tracking_updates indexes")
	}

	if _, err := s.logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "flight_id", Value: 1}, {Key: "revision", Value: -1}}},
		{Keys: bson.D{{Key: "completed_at", Value: -1}}},
	}); err != nil {
		return errors.Wrap(err, "create flight_logs indexes")
	}

	// Счётчик создаём заранее, чтобы транзакции его только обновляли.
	if _, err := s.counters.UpdateOne(ctx,
		bson.M{"_id": revisionCounter},
		bson.M{"$setOnInsert": bson.M{"seq": int64(0)}},
		options.Update().SetUpsert(true),
	); err != nil {
		return errors.Wrap(err, "create revision counter")
	}
	return nil
}

// nextRevision increments the shared counter. Transactions that call it write the
// same document, so they conflict and commit one after another in counter order.
func (s *Storage) nextRevision(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": revisionCounter},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrap(err, "next revision")
	}
	return doc.Seq, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx, nil), "ping mongo")
}

func (s *Storage) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

// inTx runs fn in a transaction; the driver retries it on transient write conflicts.
func (s *Storage) inTx(ctx context.Context, fn func(sc mongo.SessionContext) (any, error)) (any, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	return sess.WithTransaction(ctx, fn)
}
