package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cowindex/internal/domain"

	"github.com/segmentio/kafka-go"
)

type Batch struct {
	records   []domain.SettlementRecord
	volumes   []domain.TokenVolume
	messages  []kafka.Message
	failed    int
	minOffset map[int]int64
	maxOffset map[int]int64
}

func NewBatch() *Batch {
	return &Batch{
		minOffset: make(map[int]int64),
		maxOffset: make(map[int]int64),
	}
}

func (b *Batch) Add(record domain.SettlementRecord, volumes []domain.TokenVolume, kafkaMsg kafka.Message) {
	b.records = append(b.records, record)
	b.volumes = append(b.volumes, volumes...)
	if record.Status == domain.SettlementStatusFailed {
		b.failed++
	}
	b.Skip(kafkaMsg)
}

// Skip tracks a message that produced nothing to store so its offset is
// still committed with the batch.
func (b *Batch) Skip(kafkaMsg kafka.Message) {
	b.messages = append(b.messages, kafkaMsg)

	partition := kafkaMsg.Partition
	offset := kafkaMsg.Offset
	if min, ok := b.minOffset[partition]; !ok || offset < min {
		b.minOffset[partition] = offset
	}
	if max, ok := b.maxOffset[partition]; !ok || offset > max {
		b.maxOffset[partition] = offset
	}
}

func (b *Batch) Len() int {
	return len(b.messages)
}

type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Flush stores records before volumes and commits offsets last, so a crash
// replays the batch instead of losing it. Stores are upserts.
func (b *Batch) Flush(ctx context.Context, repo ResultRepository, committer Committer) error {
	if b.Len() == 0 {
		return nil
	}

	start := time.Now()

	if len(b.records) > 0 {
		if err := repo.StoreSettlementRecords(ctx, b.records); err != nil {
			return fmt.Errorf("failed to store settlement records: %w", err)
		}
	}
	if len(b.volumes) > 0 {
		if err := repo.StoreTokenVolumes(ctx, b.volumes); err != nil {
			return fmt.Errorf("failed to store token volumes: %w", err)
		}
	}

	if err := committer.CommitMessages(ctx, b.messages...); err != nil {
		return fmt.Errorf("failed to commit kafka messages: %w", err)
	}

	slog.Info("flushed batch",
		"count", b.Len(),
		"records", len(b.records),
		"failed", b.failed,
		"volumes", len(b.volumes),
		"offsets", b.offsetRanges(),
		"duration", time.Since(start),
	)

	b.Reset()
	return nil
}

func (b *Batch) offsetRanges() map[int]string {
	ranges := make(map[int]string, len(b.minOffset))
	for partition, min := range b.minOffset {
		ranges[partition] = fmt.Sprintf("%d-%d", min, b.maxOffset[partition])
	}
	return ranges
}

func (b *Batch) Reset() {
	b.records = b.records[:0]
	b.volumes = b.volumes[:0]
	b.messages = b.messages[:0]
	b.failed = 0
	clear(b.minOffset)
	clear(b.maxOffset)
}
