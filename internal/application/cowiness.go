package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"cowindex/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

type ReceiptSource interface {
	FetchReceipt(ctx context.Context, txHash string) (domain.Receipt, error)
}

type OrderSource interface {
	FetchOrder(ctx context.Context, uid string) (domain.Order, error)
}

// PriceSource returns prices keyed by lowercased token address.
type PriceSource interface {
	FetchTxTokenPrices(ctx context.Context, txHash string) (map[string]domain.TokenPrice, error)
	FetchTokenPriceAtBlock(ctx context.Context, blockNumber uint64, token string) (domain.TokenPrice, error)
}

var ErrInvalidTxHash = errors.New("invalid transaction hash")

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func NormalizeTxHash(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !txHashPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTxHash, raw)
	}
	return strings.ToLower(trimmed), nil
}

type Stage string

const (
	StageInput       Stage = "input"
	StageReceipt     Stage = "receipt"
	StageOrders      Stage = "orders"
	StageReconstruct Stage = "reconstruct"
	StagePricing     Stage = "pricing"
	StageRatio       Stage = "ratio"
)

// ComputeError is the single error a failed computation returns.
type ComputeError struct {
	TxHash string
	Stage  Stage
	Err    error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("cowiness %s: %s: %v", e.TxHash, e.Stage, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// ErrorClass maps an error to the stable label used by the API, metrics and
// persisted failures.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTxHash):
		return "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrFormatViolation):
		return "format_violation"
	case errors.Is(err, domain.ErrDivisionUndefined):
		return "division_undefined"
	case errors.Is(err, domain.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

type ServiceConfig struct {
	Network      Network
	Strategy     ReconstructionStrategy
	PricePinning PricePinning
	FetchWorkers int
}

type ComputeObserver interface {
	OnComputed(duration time.Duration, err error)
}

type Service struct {
	receipts   ReceiptSource
	orders     OrderSource
	prices     PriceSource
	classifier *Classifier
	observer   ComputeObserver
	cfg        ServiceConfig
}

func NewService(receipts ReceiptSource, orders OrderSource, prices PriceSource, observer ComputeObserver, cfg ServiceConfig) (*Service, error) {
	if receipts == nil || orders == nil || prices == nil {
		return nil, errors.New("cowiness service dependencies must not be nil")
	}
	cfg.Network = cfg.Network.withDefaults()
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAccumulator
	}
	if cfg.PricePinning == "" {
		cfg.PricePinning = PricePinningSnapshot
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 8
	}
	return &Service{
		receipts:   receipts,
		orders:     orders,
		prices:     prices,
		classifier: NewClassifier(cfg.Network.Settlement),
		observer:   observer,
		cfg:        cfg,
	}, nil
}

func (s *Service) ComputeSummary(ctx context.Context, txHash string) (float64, error) {
	result, err := s.ComputeDetailed(ctx, txHash)
	if err != nil {
		return 0, err
	}
	return result.CowValue, nil
}

func (s *Service) ComputeDetailed(ctx context.Context, txHash string) (result domain.CowinessResult, err error) {
	ctx, span := otel.Tracer("cowindex/compute").Start(ctx, "cowiness.compute")
	span.SetAttributes(
		attribute.String("tx.hash", txHash),
		attribute.String("reconstruction.strategy", string(s.cfg.Strategy)),
		attribute.String("price.pinning", string(s.cfg.PricePinning)),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.observer != nil {
			s.observer.OnComputed(time.Since(start), err)
		}
	}()

	normalized, err := NormalizeTxHash(txHash)
	if err != nil {
		return domain.CowinessResult{}, &ComputeError{TxHash: txHash, Stage: StageInput, Err: err}
	}
	fail := func(stage Stage, err error) (domain.CowinessResult, error) {
		return domain.CowinessResult{}, &ComputeError{TxHash: normalized, Stage: stage, Err: err}
	}

	receipt, err := s.receipts.FetchReceipt(ctx, normalized)
	if err != nil {
		return fail(StageReceipt, err)
	}
	logs := append([]domain.LogEntry(nil), receipt.Logs...)
	sort.SliceStable(logs, func(a, b int) bool { return logs[a].LogIndex < logs[b].LogIndex })
	events := s.classifier.ClassifyAll(logs)

	orders, err := s.fetchOrders(ctx, events)
	if err != nil {
		return fail(StageOrders, err)
	}

	swaps, err := ReconstructSwaps(events, orders, s.cfg.Network, s.cfg.Strategy)
	if err != nil {
		return fail(StageReconstruct, err)
	}
	volumeIn, volumeOut := ComputeVolume(swaps)

	book, err := newPriceBook(ctx, s.prices, s.cfg.Network, normalized, receipt.BlockNumber, s.cfg.PricePinning, s.cfg.FetchWorkers)
	if err != nil {
		return fail(StagePricing, err)
	}
	if err := book.resolve(ctx, append(volumeIn.Tokens(), volumeOut.Tokens()...)); err != nil {
		return fail(StagePricing, err)
	}
	pricedIn, totalIn := book.value(volumeIn)
	pricedOut, totalOut := book.value(volumeOut)

	cowValue, err := CowinessRatio(totalIn, totalOut)
	if err != nil {
		return fail(StageRatio, err)
	}

	slog.DebugContext(ctx, "cowiness computed",
		"tx_hash", normalized,
		"block_number", receipt.BlockNumber,
		"events", len(events),
		"swaps", len(swaps),
		"cowiness", cowValue,
	)
	span.SetAttributes(attribute.Int("swap.count", len(swaps)), attribute.Float64("cowiness", cowValue))

	return domain.CowinessResult{
		TxHash:            normalized,
		BlockNumber:       receipt.BlockNumber,
		CowValue:          cowValue,
		TotalVolumeInUSD:  totalIn,
		TotalVolumeOutUSD: totalOut,
		VolumeInUSD:       pricedIn,
		VolumeOutUSD:      pricedOut,
		Swaps:             swaps,
	}, nil
}

// fetchOrders loads metadata for every distinct order uid traded in events.
func (s *Service) fetchOrders(ctx context.Context, events []ClassifiedEvent) (map[string]domain.Order, error) {
	var uids []string
	seen := make(map[string]struct{})
	for _, event := range events {
		if event.Kind != EventTrade {
			continue
		}
		uid := strings.ToLower(event.Trade.OrderUIDHex())
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		uids = append(uids, uid)
	}

	fetched := make([]domain.Order, len(uids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchWorkers)
	for i, uid := range uids {
		g.Go(func() error {
			order, err := s.orders.FetchOrder(gctx, uid)
			if err != nil {
				return fmt.Errorf("order %s: %w", uid, err)
			}
			fetched[i] = order
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	orders := make(map[string]domain.Order, len(uids))
	for i, uid := range uids {
		orders[uid] = fetched[i]
	}
	return orders, nil
}
