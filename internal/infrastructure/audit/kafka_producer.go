package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/logger"
)

// kafkaProducer publishes audit events to a Kafka topic, keyed by slip ID so
// one slip's trail stays ordered within a partition.
type kafkaProducer struct {
	writer  *kafka.Writer
	timeout time.Duration
	log     logger.Logger
}

// NewKafkaProducer builds the Kafka audit sink from configuration.
func NewKafkaProducer(cfg *config.KafkaConfig, log logger.Logger) service.AuditService {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &kafkaProducer{
		writer:  writer,
		timeout: timeout,
		log:     log.WithComponent("audit-kafka"),
	}
}

func (p *kafkaProducer) Record(ctx context.Context, event models.AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error(ctx, "failed to encode audit event", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.SlipID),
		Value: payload,
	})
	if err != nil {
		p.log.Error(ctx, "failed to publish audit event", err, logger.Fields{
			"event_type": string(event.Type),
		})
	}
}

// Close flushes buffered messages.
func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}
