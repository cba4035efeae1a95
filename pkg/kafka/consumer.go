package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// BatchHandler resolves one batch of source records. Offsets are committed only when it returns nil.
type BatchHandler func(ctx context.Context, records []models.SourceRecord) error

// messageReader is the part of kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer collects source records into batches, flushing when a batch is full or the topic has
// been idle for the configured window
type Consumer struct {
	reader    messageReader
	logger    ectologger.Logger
	handler   BatchHandler
	topic     string
	batchSize int
	idle      time.Duration
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	BatchSize     int
	Idle          time.Duration
}

// ConsumerConfigFrom reads the consumer settings from the service config
func ConsumerConfigFrom(cfg *config.Config) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaInputTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
		BatchSize:     cfg.KafkaIngestBatchSize,
		Idle:          cfg.KafkaIngestIdle,
	}
}

// NewConsumer creates a new batch consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(reader, cfg, logger, handler)
}

func newConsumer(reader messageReader, cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler) *Consumer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	idle := cfg.Idle
	if idle <= 0 {
		idle = 5 * time.Second
	}
	return &Consumer{
		reader:    reader,
		logger:    logger,
		handler:   handler,
		topic:     cfg.Topic,
		batchSize: batchSize,
		idle:      idle,
	}
}

// GetName implements startup.StartupDependency
func (c *Consumer) GetName() string {
	return "kafka-consumer"
}

// DependsOn implements startup.StartupDependency
func (c *Consumer) DependsOn() []string {
	return []string{"database"}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      c.topic,
		"batch_size": c.batchSize,
		"idle":       c.idle.String(),
	}).Info("Kafka consumer started")
	return nil
}

// Stop stops fetching, waits for the batch in flight and closes the reader
func (c *Consumer) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	var batch []kafka.Message
	for {
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if len(batch) > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, c.idle)
		}
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		switch {
		case err == nil:
			batch = append(batch, msg)
			if len(batch) >= c.batchSize {
				c.flush(ctx, batch)
				batch = nil
			}
		case ctx.Err() != nil || errors.Is(err, io.EOF):
			// uncommitted messages are redelivered to the next consumer
			c.logger.WithContext(ctx).Info("Consumer loop stopping")
			return
		case errors.Is(err, context.DeadlineExceeded):
			c.flush(ctx, batch)
			batch = nil
		default:
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
		}
	}
}

func (c *Consumer) flush(ctx context.Context, batch []kafka.Message) {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.flush")
	defer span.End()

	last := batch[len(batch)-1]
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     last.Topic,
		"messages":  len(batch),
		"partition": last.Partition,
		"offset":    last.Offset,
	})

	records := make([]models.SourceRecord, 0, len(batch))
	for _, msg := range batch {
		rec, err := toIncoming(msg).SourceRecord()
		if err != nil {
			// undecodable payloads never succeed on retry; they are skipped and committed with the batch
			log.WithError(err).Warn("Skipping undecodable source record message")
			continue
		}
		records = append(records, rec)
	}

	if len(records) > 0 {
		if err := c.handler(ctx, records); err != nil {
			log.WithError(err).Error("Failed to resolve batch (not committing)")
			return
		}
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		log.WithError(err).Error("Failed to commit messages")
		return
	}
	log.Debugf("Committed batch of %d records", len(records))
}

func toIncoming(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}
