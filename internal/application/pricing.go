package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cowindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type PricePinning string

const (
	// PricePinningSnapshot prices from the settlement's own trades and falls
	// back to the settlement block for tokens no trade priced.
	PricePinningSnapshot PricePinning = "snapshot"
	// PricePinningBlock prices every token at the settlement block.
	PricePinningBlock PricePinning = "block"
)

func ParsePricePinning(raw string) (PricePinning, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(PricePinningSnapshot):
		return PricePinningSnapshot, nil
	case string(PricePinningBlock):
		return PricePinningBlock, nil
	default:
		return "", fmt.Errorf("unknown price pinning %q", raw)
	}
}

// priceBook caches token prices for a single computation.
type priceBook struct {
	source  PriceSource
	network Network
	block   uint64
	workers int
	prices  map[string]domain.TokenPrice
}

func newPriceBook(ctx context.Context, source PriceSource, network Network, txHash string, block uint64, pinning PricePinning, workers int) (*priceBook, error) {
	if workers <= 0 {
		workers = 1
	}
	book := &priceBook{
		source:  source,
		network: network,
		block:   block,
		workers: workers,
		prices:  make(map[string]domain.TokenPrice),
	}
	if pinning == PricePinningBlock {
		return book, nil
	}

	snapshot, err := source.FetchTxTokenPrices(ctx, txHash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		slog.DebugContext(ctx, "no price snapshot for settlement", "tx_hash", txHash)
	}
	for token, price := range snapshot {
		book.prices[book.priceKey(token)] = price
	}
	return book, nil
}

func (b *priceBook) priceKey(token string) string {
	if common.IsHexAddress(token) {
		return domain.TokenKey(b.network.WrapNative(common.HexToAddress(token)))
	}
	return strings.ToLower(token)
}

// resolve fetches block prices for every token the book does not hold yet.
func (b *priceBook) resolve(ctx context.Context, tokens []string) error {
	seen := make(map[string]struct{}, len(tokens))
	var missing []string
	for _, token := range tokens {
		key := b.priceKey(token)
		if _, ok := b.prices[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		missing = append(missing, key)
	}
	if len(missing) == 0 {
		return nil
	}

	fetched := make([]domain.TokenPrice, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, token := range missing {
		g.Go(func() error {
			price, err := b.source.FetchTokenPriceAtBlock(gctx, b.block, token)
			if err != nil {
				return fmt.Errorf("price for %s at block %d: %w", token, b.block, err)
			}
			fetched[i] = price
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, token := range missing {
		b.prices[token] = fetched[i]
	}
	return nil
}

// value prices every entry of volumes. resolve must have been called for
// the same tokens first.
func (b *priceBook) value(volumes domain.VolumeMap) (map[string]domain.PricedVolume, decimal.Decimal) {
	priced := make(map[string]domain.PricedVolume, len(volumes))
	total := decimal.Zero
	for _, token := range volumes.Tokens() {
		price := b.prices[b.priceKey(token)]
		amount := decimal.NewFromBigInt(volumes[token], -price.Decimals)
		usd := amount.Mul(price.PriceUSD)
		priced[token] = domain.PricedVolume{
			Amount:   amount,
			USDValue: usd,
			Token:    price,
		}
		total = total.Add(usd)
	}
	return priced, total
}

// CowinessRatio is the share of volume-in that did not leave through
// external liquidity.
func CowinessRatio(volumeIn, volumeOut decimal.Decimal) (float64, error) {
	if volumeIn.IsZero() {
		return 0, fmt.Errorf("%w: total volume in is zero", domain.ErrDivisionUndefined)
	}
	return volumeIn.Sub(volumeOut).Div(volumeIn).InexactFloat64(), nil
}
