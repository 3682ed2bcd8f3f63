package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink publishes records to a Kafka topic, keyed by identifier so all
// attempts against one identity land in the same partition in order.
type KafkaSink struct {
	writer  *kafka.Writer
	logger  *zap.Logger
	timeout time.Duration
}

// KafkaSinkConfig holds broker and topic settings for a [KafkaSink].
type KafkaSinkConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaSink builds a sink with its own writer. Callers own closing it.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaSink{
		writer:  writer,
		logger:  logger,
		timeout: cfg.WriteTimeout,
	}
}

// Emit publishes the record. Failures are logged and swallowed: the audit
// trail is best-effort and must not fail the request that produced it.
func (s *KafkaSink) Emit(ctx context.Context, record Record) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("audit record marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.Identifier),
		Value: data,
	})
	if err != nil {
		s.logger.Error("audit record publish failed",
			zap.String("identifier", record.Identifier),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
