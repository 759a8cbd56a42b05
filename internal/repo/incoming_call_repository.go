package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"ifindlife/internal/db"
	"ifindlife/internal/model"
)

type IncomingCallRepository interface {
	Create(ctx context.Context, req *model.IncomingCallRequest) error
	FindByID(ctx context.Context, id string) (*model.IncomingCallRequest, error)
	// Resolve moves a pending request to status. ErrStateConflict when it is no longer pending.
	Resolve(ctx context.Context, id string, status model.IncomingCallStatus) error
	ListPending(ctx context.Context, receiverID string, now time.Time) ([]model.IncomingCallRequest, error)
	// PendingForCall returns the unanswered requests of a call session, expired or not
	PendingForCall(ctx context.Context, callSessionID string) ([]model.IncomingCallRequest, error)
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}

type incomingCallRepository struct {
	mongoRepo *db.Repository[model.IncomingCallRequest]
	logger    *zap.Logger
}

func NewIncomingCallRepository(repo *db.Repository[model.IncomingCallRequest], logger *zap.Logger) IncomingCallRepository {
	return &incomingCallRepository{mongoRepo: repo, logger: logger}
}

func (r *incomingCallRepository) Create(ctx context.Context, req *model.IncomingCallRequest) error {
	if req == nil || req.ID == "" || req.ReceiverID == "" {
		return fmt.Errorf("%w: request id and receiver are required", ErrInvalidArgument)
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	err := withRetry(ctx, r.logger, "incoming_call.create", func(ctx context.Context) error {
		_, err := r.mongoRepo.Create(ctx, *req)
		return err
	})
	if err != nil {
		r.logger.Error("failed to insert incoming call request", zap.String("request_id", req.ID), zap.Error(err))
		return fmt.Errorf("insert incoming call request: %w", err)
	}

	r.logger.Info("incoming call request inserted",
		zap.String("request_id", req.ID),
		zap.String("receiver_id", req.ReceiverID),
		zap.Time("expires_at", req.ExpiresAt),
	)
	return nil
}

func (r *incomingCallRepository) FindByID(ctx context.Context, id string) (*model.IncomingCallRequest, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var found *model.IncomingCallRequest
	err := withRetry(ctx, r.logger, "incoming_call.find", func(ctx context.Context) error {
		req, err := r.mongoRepo.FindByID(ctx, id)
		found = req
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (r *incomingCallRepository) Resolve(ctx context.Context, id string, status model.IncomingCallStatus) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", id).Eq("status", model.IncomingCallPending).Build()

	return withRetry(ctx, r.logger, "incoming_call.resolve", func(ctx context.Context) error {
		res, err := r.mongoRepo.Update(ctx, filter, bson.M{"status": status})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrStateConflict
		}
		return nil
	})
}

func (r *incomingCallRepository) ListPending(ctx context.Context, receiverID string, now time.Time) ([]model.IncomingCallRequest, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("receiver_id", receiverID).
		Eq("status", model.IncomingCallPending).
		Gt("expires_at", now).
		Build()
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	var out []model.IncomingCallRequest
	err := withRetry(ctx, r.logger, "incoming_call.list_pending", func(ctx context.Context) error {
		reqs, err := r.mongoRepo.FindAll(ctx, filter, opts)
		out = reqs
		return err
	})
	return out, err
}

func (r *incomingCallRepository) PendingForCall(ctx context.Context, callSessionID string) ([]model.IncomingCallRequest, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("call_session_id", callSessionID).
		Eq("status", model.IncomingCallPending).
		Build()

	var out []model.IncomingCallRequest
	err := withRetry(ctx, r.logger, "incoming_call.pending_for_call", func(ctx context.Context) error {
		reqs, err := r.mongoRepo.FindAll(ctx, filter)
		out = reqs
		return err
	})
	return out, err
}

// ExpireBefore marks every pending request whose expiry has passed
func (r *incomingCallRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("status", model.IncomingCallPending).
		Lte("expires_at", now).
		Build()

	var modified int64
	err := withRetry(ctx, r.logger, "incoming_call.expire", func(ctx context.Context) error {
		res, err := r.mongoRepo.UpdateMany(ctx, filter, bson.M{"status": model.IncomingCallExpired})
		if err != nil {
			return err
		}
		modified = res.ModifiedCount
		return nil
	})
	return modified, err
}
