// Package ledger records what completed consultations cost in PostgreSQL.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ifindlife/internal/metrics"
)

var ErrInvalidCharge = errors.New("ledger: charge requires a call session and a user")

// CallCharge is one wallet debit for a completed call
type CallCharge struct {
	gorm.Model
	CallSessionID   string    `gorm:"type:varchar(100);uniqueIndex" json:"call_session_id"`
	UserID          string    `gorm:"type:varchar(100);index" json:"user_id"`
	ExpertID        string    `gorm:"type:varchar(100);index" json:"expert_id"`
	Amount          float64   `json:"amount"`
	Currency        string    `gorm:"type:varchar(8)" json:"currency"`
	DurationSeconds int       `json:"duration_seconds"`
	ChargedAt       time.Time `json:"charged_at"`
}

type Recorder interface {
	Record(ctx context.Context, charge CallCharge) error
	ChargesForUser(ctx context.Context, userID string) ([]CallCharge, error)
	Close() error
}

type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to PostgreSQL and migrates the charges table
func Open(dsn string, logger *zap.Logger) (*Ledger, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if err := gdb.AutoMigrate(&CallCharge{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: gdb, logger: logger}, nil
}

// Record stores charge once per call session. Zero-cost calls are not recorded.
func (l *Ledger) Record(ctx context.Context, charge CallCharge) error {
	if charge.CallSessionID == "" || charge.UserID == "" {
		return ErrInvalidCharge
	}
	if charge.Amount <= 0 {
		return nil
	}
	if charge.ChargedAt.IsZero() {
		charge.ChargedAt = time.Now()
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "call_session_id"}}, DoNothing: true}).
		Create(&charge)
	if res.Error != nil {
		l.logger.Error("failed to record call charge",
			zap.String("call_id", charge.CallSessionID),
			zap.Float64("amount", charge.Amount),
			zap.Error(res.Error),
		)
		return fmt.Errorf("record charge: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		metrics.BilledAmount.WithLabelValues(charge.Currency).Add(charge.Amount)
	}
	l.logger.Info("call charge recorded",
		zap.String("call_id", charge.CallSessionID),
		zap.String("user_id", charge.UserID),
		zap.Float64("amount", charge.Amount),
		zap.String("currency", charge.Currency),
	)
	return nil
}

func (l *Ledger) ChargesForUser(ctx context.Context, userID string) ([]CallCharge, error) {
	var charges []CallCharge
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("charged_at desc").
		Find(&charges).Error
	if err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	return charges, nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Noop is used when no ledger database is configured
type Noop struct{}

func (Noop) Record(_ context.Context, charge CallCharge) error {
	if charge.CallSessionID == "" || charge.UserID == "" {
		return ErrInvalidCharge
	}
	return nil
}

func (Noop) ChargesForUser(context.Context, string) ([]CallCharge, error) { return nil, nil }

func (Noop) Close() error { return nil }
