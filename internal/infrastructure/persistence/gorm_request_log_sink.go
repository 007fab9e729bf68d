package persistence

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
	"gorm.io/gorm"
)

// GormRequestLogSink implements service.RequestLogSink over a GORM
// connection, appending one row per completed request rather than
// maintaining any mutable conversation state.
type GormRequestLogSink struct {
	db *gorm.DB
}

var _ service.RequestLogSink = (*GormRequestLogSink)(nil)

// NewGormRequestLogSink creates a sink backed by db. Migrate must be called
// once at startup (see AutoMigrate).
func NewGormRequestLogSink(db *gorm.DB) *GormRequestLogSink {
	return &GormRequestLogSink{db: db}
}

// AutoMigrate ensures the request_logs table exists.
func (s *GormRequestLogSink) AutoMigrate() error {
	return s.db.AutoMigrate(&models.RequestLogModel{})
}

// Record persists one request outcome.
func (s *GormRequestLogSink) Record(ctx context.Context, rec service.LogRecord) error {
	model := &models.RequestLogModel{
		Backend:        rec.Backend,
		DecisionReason: rec.DecisionReason,
		DurationMS:     rec.DurationMS,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
		CostUSD:        rec.CostUSD,
		IsFallback:     rec.IsFallback,
		Error:          rec.Error,
		CreatedAt:      rec.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to persist request log", err)
	}
	return nil
}
