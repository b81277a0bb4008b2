// Package audit provides the audit trail sinks. Events fan out to a durable
// database store and, when enabled, a Kafka topic for downstream consumers.
// Every sink is best effort: a failing sink logs and drops, it never fails
// the operation being audited.
package audit

import (
	"context"

	"gorm.io/gorm"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/logger"
)

// gormStore persists audit events through GORM. Works against PostgreSQL in
// production and SQLite in tests.
type gormStore struct {
	db  *gorm.DB
	log logger.Logger
}

// NewGormStore migrates the audit table and returns the sink.
func NewGormStore(db *gorm.DB, log logger.Logger) (service.AuditService, error) {
	if err := db.AutoMigrate(&models.AuditEvent{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db, log: log.WithComponent("audit-store")}, nil
}

func (s *gormStore) Record(ctx context.Context, event models.AuditEvent) {
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.log.Error(ctx, "failed to persist audit event", err, logger.Fields{
			"event_type": string(event.Type),
			"slip_id":    event.SlipID,
		})
	}
}

// Query returns events for a slip, oldest first. Used by the admin surface.
func Query(ctx context.Context, db *gorm.DB, slipID string) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := db.WithContext(ctx).
		Where("slip_id = ?", slipID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
