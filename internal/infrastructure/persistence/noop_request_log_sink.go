package persistence

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
)

// NoopRequestLogSink discards every record; used when ENABLE_SQLITE_LOGGING
// is false.
type NoopRequestLogSink struct{}

var _ service.RequestLogSink = NoopRequestLogSink{}

func (NoopRequestLogSink) Record(ctx context.Context, rec service.LogRecord) error {
	return nil
}
