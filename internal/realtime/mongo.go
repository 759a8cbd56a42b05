package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"ifindlife/internal/db"
	"ifindlife/internal/metrics"
)

// MongoSource watches a collection through a change stream
type MongoSource[T any] struct {
	repo   *db.Repository[T]
	logger *zap.Logger
}

func NewMongoSource[T any](repo *db.Repository[T], logger *zap.Logger) *MongoSource[T] {
	return &MongoSource[T]{repo: repo, logger: logger}
}

type insertEvent[T any] struct {
	FullDocument T `bson:"fullDocument"`
}

// InsertPipeline matches inserts whose document field equals the filter value
func InsertPipeline(filter Filter) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "fullDocument." + filter.Field, Value: filter.Value},
		}}},
	}
}

func (s *MongoSource[T]) Subscribe(ctx context.Context, filter Filter, onInsert func(T), onError func(error)) (Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.repo.Watch(streamCtx, InsertPipeline(filter))
	if err != nil {
		cancel()
		metrics.SubscriptionErrors.WithLabelValues(s.repo.Name()).Inc()
		return nil, fmt.Errorf("%w: watch %s: %w", ErrSubscription, s.repo.Name(), err)
	}

	sub := &mongoSubscription{cancel: cancel}
	log := s.logger.With(
		zap.String("collection", s.repo.Name()),
		zap.String("field", filter.Field),
		zap.String("value", filter.Value),
	)

	go func() {
		defer stream.Close(context.Background())

		for stream.Next(streamCtx) {
			var ev insertEvent[T]
			if err := stream.Decode(&ev); err != nil {
				log.Warn("dropping undecodable change event", zap.Error(err))
				continue
			}
			onInsert(ev.FullDocument)
		}

		if streamCtx.Err() != nil {
			log.Debug("subscription closed")
			return
		}
		err := stream.Err()
		if err == nil {
			return
		}
		metrics.SubscriptionErrors.WithLabelValues(s.repo.Name()).Inc()
		log.Error("subscription failed", zap.Error(err))
		if onError != nil {
			onError(fmt.Errorf("%w: %w", ErrSubscription, err))
		}
	}()

	return sub, nil
}

type mongoSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *mongoSubscription) Close() {
	s.once.Do(s.cancel)
}
