package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"ifindlife/internal/db"
	"ifindlife/internal/model"
)

type CallSessionRepository interface {
	Create(ctx context.Context, session *model.CallSession) error
	FindByID(ctx context.Context, id string) (*model.CallSession, error)
	ExistsActive(ctx context.Context, expertID, userID, channel string) (bool, error)
	MarkActive(ctx context.Context, id string, startedAt time.Time) error
	Complete(ctx context.Context, session *model.CallSession) error
	ListByParticipant(ctx context.Context, participantID string, page int64) (*db.PaginatedResult[model.CallSession], error)
}

type callSessionRepository struct {
	mongoRepo *db.Repository[model.CallSession]
	logger    *zap.Logger
}

func NewCallSessionRepository(repo *db.Repository[model.CallSession], logger *zap.Logger) CallSessionRepository {
	return &callSessionRepository{mongoRepo: repo, logger: logger}
}

func (r *callSessionRepository) Create(ctx context.Context, session *model.CallSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: call session id is required", ErrInvalidArgument)
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	err := withRetry(ctx, r.logger, "call_session.create", func(ctx context.Context) error {
		_, err := r.mongoRepo.Create(ctx, *session)
		return err
	})
	if err != nil {
		r.logger.Error("failed to insert call session", zap.String("call_id", session.ID), zap.Error(err))
		return fmt.Errorf("insert call session: %w", err)
	}
	return nil
}

func (r *callSessionRepository) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var found *model.CallSession
	err := withRetry(ctx, r.logger, "call_session.find", func(ctx context.Context) error {
		s, err := r.mongoRepo.FindByID(ctx, id)
		found = s
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (r *callSessionRepository) ExistsActive(ctx context.Context, expertID, userID, channel string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("expert_id", expertID).
		Eq("user_id", userID).
		Eq("channel_name", channel).
		In("status", []model.CallSessionStatus{model.CallSessionPending, model.CallSessionActive}).
		Build()

	var exists bool
	err := withRetry(ctx, r.logger, "call_session.exists_active", func(ctx context.Context) error {
		ok, err := r.mongoRepo.Exists(ctx, filter)
		exists = ok
		return err
	})
	return exists, err
}

func (r *callSessionRepository) MarkActive(ctx context.Context, id string, startedAt time.Time) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", id).In("status", []model.CallSessionStatus{model.CallSessionPending, model.CallSessionActive}).Build()

	return withRetry(ctx, r.logger, "call_session.mark_active", func(ctx context.Context) error {
		res, err := r.mongoRepo.Update(ctx, filter, bson.M{
			"status":     model.CallSessionActive,
			"start_time": startedAt,
			"updated_at": startedAt,
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrStateConflict
		}
		return nil
	})
}

// Complete stores the final duration and cost. A completed session is never updated again.
func (r *callSessionRepository) Complete(ctx context.Context, session *model.CallSession) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", session.ID).In("status", []model.CallSessionStatus{model.CallSessionPending, model.CallSessionActive}).Build()

	err := withRetry(ctx, r.logger, "call_session.complete", func(ctx context.Context) error {
		res, err := r.mongoRepo.Update(ctx, filter, bson.M{
			"status":           model.CallSessionCompleted,
			"end_time":         session.EndTime,
			"duration_seconds": session.DurationSeconds,
			"cost_accrued":     session.CostAccrued,
			"ended_by":         session.EndedBy,
			"updated_at":       session.UpdatedAt,
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrStateConflict
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to complete call session", zap.String("call_id", session.ID), zap.Error(err))
	}
	return err
}

func (r *callSessionRepository) ListByParticipant(ctx context.Context, participantID string, page int64) (*db.PaginatedResult[model.CallSession], error) {
	if participantID == "" {
		return nil, fmt.Errorf("%w: participant id is required", ErrInvalidArgument)
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Or(bson.M{"user_id": participantID}, bson.M{"expert_id": participantID}).Build()

	var result *db.PaginatedResult[model.CallSession]
	err := withRetry(ctx, r.logger, "call_session.list", func(ctx context.Context) error {
		res, err := r.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: defaultPageSize,
			SortBy:   "created_at",
			SortDesc: true,
		})
		result = res
		return err
	})
	return result, err
}
