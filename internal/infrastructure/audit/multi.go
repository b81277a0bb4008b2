package audit

import (
	"context"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/logger"
)

// multiSink fans one event out to every configured sink.
type multiSink struct {
	sinks []service.AuditService
}

// NewMultiSink combines sinks into one AuditService. With no sinks it is a
// silent no-op.
func NewMultiSink(sinks ...service.AuditService) service.AuditService {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) Record(ctx context.Context, event models.AuditEvent) {
	for _, sink := range m.sinks {
		sink.Record(ctx, event)
	}
}

// logSink writes audit events to the structured log. It is the fallback when
// neither database nor Kafka auditing is configured.
type logSink struct {
	log logger.Logger
}

// NewLogSink returns the log-backed audit sink.
func NewLogSink(log logger.Logger) service.AuditService {
	return &logSink{log: log.WithComponent("audit")}
}

func (s *logSink) Record(ctx context.Context, event models.AuditEvent) {
	s.log.Info(ctx, "audit event", logger.Fields{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"principal":  event.Principal,
		"actor":      event.Actor,
		"target":     event.Target,
		"slip_id":    event.SlipID,
		"detail":     event.Detail,
	})
}
