package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cowindex/internal/domain"
)

type SettlementSource interface {
	FetchSettlementsSince(ctx context.Context, timestamp int64, inclusive bool, limit int) ([]domain.Settlement, error)
}

type SettlementWriter interface {
	PublishSettlements(ctx context.Context, settlements []domain.Settlement) error
}

type CursorRepository interface {
	LastSettlementTimestamp(ctx context.Context) (int64, bool, error)
	SetLastSettlementTimestamp(ctx context.Context, timestamp int64) error
}

type IngestObserver interface {
	OnPageIngested(cursor int64, count int)
}

type IngestConfig struct {
	StartTimestamp int64
	PollInterval   time.Duration
	BatchSize      int
}

// Ingester pages through settlements ordered by first trade timestamp and
// hands each page to the writer before advancing the stored cursor. After a
// full page the next query includes the cursor timestamp, since the page may
// have cut through settlements sharing it; ones already published there are
// dropped by tx hash.
type Ingester struct {
	source   SettlementSource
	writer   SettlementWriter
	cursor   CursorRepository
	observer IngestObserver
	cfg      IngestConfig

	inclusive  bool
	boundaryTS int64
	boundary   map[string]struct{}
}

func NewIngester(source SettlementSource, writer SettlementWriter, cursor CursorRepository, observer IngestObserver, cfg IngestConfig) (*Ingester, error) {
	if source == nil || writer == nil || cursor == nil {
		return nil, errors.New("ingester dependencies must not be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Ingester{
		source:   source,
		writer:   writer,
		cursor:   cursor,
		observer: observer,
		cfg:      cfg,
		// a restart may have stopped mid-timestamp; stores upsert the replay
		inclusive: true,
		boundary:  make(map[string]struct{}),
	}, nil
}

func (i *Ingester) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		count, err := i.RunOnce(ctx)
		if err != nil {
			return err
		}
		if count > 0 && i.inclusive {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.cfg.PollInterval):
		}
	}
}

// RunOnce ingests a single page and reports how many new settlements it
// published.
func (i *Ingester) RunOnce(ctx context.Context) (int, error) {
	current := i.cfg.StartTimestamp
	if last, ok, err := i.cursor.LastSettlementTimestamp(ctx); err != nil {
		return 0, err
	} else if ok {
		current = last
	}
	if current != i.boundaryTS {
		i.boundaryTS = current
		clear(i.boundary)
	}

	settlements, err := i.source.FetchSettlementsSince(ctx, current, i.inclusive, i.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	full := len(settlements) >= i.cfg.BatchSize

	fresh := make([]domain.Settlement, 0, len(settlements))
	for _, settlement := range settlements {
		if settlement.FirstTradeTimestamp == current {
			if _, seen := i.boundary[settlementKey(settlement)]; seen {
				continue
			}
		}
		fresh = append(fresh, settlement)
	}
	if len(fresh) == 0 {
		if full && i.inclusive {
			// every row of a full page sits at the cursor and was already sent
			slog.Warn("settlement page stuck at cursor timestamp, moving past it",
				"cursor", current,
				"page_size", len(settlements),
			)
		}
		i.inclusive = false
		slog.Debug("no new settlements", "cursor", current)
		return 0, nil
	}

	if err := i.writer.PublishSettlements(ctx, fresh); err != nil {
		return 0, err
	}

	next := current
	for _, settlement := range fresh {
		if settlement.FirstTradeTimestamp > next {
			next = settlement.FirstTradeTimestamp
		}
	}
	if err := i.cursor.SetLastSettlementTimestamp(ctx, next); err != nil {
		return 0, err
	}
	if next != i.boundaryTS {
		i.boundaryTS = next
		clear(i.boundary)
	}
	for _, settlement := range fresh {
		if settlement.FirstTradeTimestamp == next {
			i.boundary[settlementKey(settlement)] = struct{}{}
		}
	}
	i.inclusive = full

	if i.observer != nil {
		i.observer.OnPageIngested(next, len(fresh))
	}
	slog.Info("settlements ingested", "from", current, "to", next, "count", len(fresh), "full_page", full)
	return len(fresh), nil
}

func settlementKey(settlement domain.Settlement) string {
	if settlement.TxHash != "" {
		return strings.ToLower(settlement.TxHash)
	}
	return strings.ToLower(settlement.ID)
}
