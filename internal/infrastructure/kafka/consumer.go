package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/domain"
	"cowindex/internal/infrastructure/telemetry"
	"cowindex/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type ConsumerObserver interface {
	IncKafkaFetchErr()
	IncKafkaDecodeErr()
	IncKafkaFlushErr()
}

type ConsumerConfig struct {
	ChainID       uint64
	BatchSize     int
	FlushInterval time.Duration
	RetryDelay    time.Duration
}

// Consumer computes every settlement message and flushes results in
// batches. Offsets are committed only after the batch is stored.
type Consumer struct {
	reader   MessageReader
	calc     application.Calculator
	repo     application.ResultRepository
	observer ConsumerObserver
	cfg      ConsumerConfig
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewConsumer(reader MessageReader, calc application.Calculator, repo application.ResultRepository, observer ConsumerObserver, cfg ConsumerConfig) (*Consumer, error) {
	if reader == nil || calc == nil || repo == nil {
		return nil, errors.New("consumer dependencies must not be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Consumer{reader: reader, calc: calc, repo: repo, observer: observer, cfg: cfg}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	batch := application.NewBatch()

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FlushInterval)
		message, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return c.drain(batch, ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				c.flush(ctx, batch)
				continue
			}
			if c.observer != nil {
				c.observer.IncKafkaFetchErr()
			}
			slog.Error("kafka fetch error", "err", err)
			if !sleep(ctx, c.cfg.RetryDelay) {
				return c.drain(batch, ctx.Err())
			}
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("message decode error", "offset", message.Offset, "err", err)
			if c.observer != nil {
				c.observer.IncKafkaDecodeErr()
			}
			batch.Skip(message)
			continue
		}
		if c.cfg.ChainID != 0 && decoded.ChainID != c.cfg.ChainID {
			slog.Warn("unexpected chain id on topic", "chain_id", decoded.ChainID, "tx_hash", decoded.TxHash)
			batch.Skip(message)
			continue
		}

		record, volumes, err := c.process(ctx, message, decoded)
		if err != nil {
			if ctx.Err() != nil {
				return c.drain(batch, ctx.Err())
			}
			slog.WarnContext(ctx, "message skipped", "tx_hash", decoded.TxHash, "err", err)
			batch.Skip(message)
			continue
		}
		batch.Add(record, volumes, message)

		if batch.Len() >= c.cfg.BatchSize {
			c.flush(ctx, batch)
		}
	}
}

func (c *Consumer) process(ctx context.Context, message kafka.Message, decoded streaming.Message) (record domain.SettlementRecord, volumes []domain.TokenVolume, err error) {
	messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
	if !trace.SpanContextFromContext(messageCtx).IsValid() && decoded.TraceID != "" {
		if ctxWithTrace, ok := telemetry.ContextWithTraceID(messageCtx, decoded.TraceID); ok {
			messageCtx = ctxWithTrace
		}
	}
	messageCtx, span := otel.Tracer("cowindex/compute").Start(messageCtx, "compute.process_message", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("message.type", string(decoded.Type)),
		attribute.Int64("chain.id", int64(decoded.ChainID)),
		attribute.String("tx.hash", decoded.TxHash),
	)

	record, volumes, err = application.ComputeMessage(messageCtx, c.calc, decoded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return record, nil, err
	}
	span.SetAttributes(attribute.String("settlement.status", string(record.Status)))
	return record, volumes, nil
}

// flush keeps the batch on failure so the next flush retries it.
func (c *Consumer) flush(ctx context.Context, batch *application.Batch) {
	if batch.Len() == 0 {
		return
	}
	if err := batch.Flush(ctx, c.repo, c.reader); err != nil {
		if c.observer != nil {
			c.observer.IncKafkaFlushErr()
		}
		slog.Error("batch flush error", "pending", batch.Len(), "err", err)
		sleep(ctx, c.cfg.RetryDelay)
	}
}

// drain flushes what is pending on shutdown with a fresh deadline.
func (c *Consumer) drain(batch *application.Batch, cause error) error {
	if batch.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := batch.Flush(ctx, c.repo, c.reader); err != nil {
			slog.Error("final flush error", "pending", batch.Len(), "err", err)
		}
	}
	return cause
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
