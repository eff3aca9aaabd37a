package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"cowindex/internal/domain"
	"cowindex/internal/infrastructure/telemetry"
	"cowindex/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes one message per settlement, keyed by tx hash so a
// settlement always lands on the same partition.
type Producer struct {
	writer  messageWriter
	chainID uint64
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
	ChainID uint64
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "cowindex-settlements"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 500 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer, chainID: cfg.ChainID}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishSettlements(ctx context.Context, settlements []domain.Settlement) error {
	if len(settlements) == 0 {
		return nil
	}
	tracer := otel.Tracer("cowindex/kafka")
	messages := make([]kafka.Message, 0, len(settlements))
	spans := make([]trace.Span, 0, len(settlements))
	for _, settlement := range settlements {
		traceID, traceIDHex, ok := telemetry.NewTraceID()
		if !ok {
			traceIDHex = ""
		}
		traceCtx := ctx
		if ok {
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
			}
		}
		traceCtx, span := tracer.Start(traceCtx, "ingest.publish_settlement", trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(
			attribute.Int64("chain.id", int64(p.chainID)),
			attribute.String("tx.hash", settlement.TxHash),
			attribute.Int64("settlement.first_trade_timestamp", settlement.FirstTradeTimestamp),
		)

		payload, err := streaming.Encode(streaming.Message{
			Type:                streaming.MessageTypeSettlement,
			ChainID:             p.chainID,
			TraceID:             traceIDHex,
			TxHash:              settlement.TxHash,
			SettlementID:        settlement.ID,
			FirstTradeTimestamp: settlement.FirstTradeTimestamp,
			Solver:              settlement.Solver,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			for _, started := range spans {
				started.End()
			}
			return err
		}
		headers := make([]kafka.Header, 0, 2)
		telemetry.InjectKafkaHeaders(traceCtx, &headers)
		messages = append(messages, kafka.Message{
			Key:     []byte(settlement.TxHash),
			Value:   payload,
			Headers: headers,
		})
		spans = append(spans, span)
	}
	err := p.writer.WriteMessages(ctx, messages...)
	if err != nil {
		for _, span := range spans {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	for _, span := range spans {
		span.End()
	}
	return err
}
