package application

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"cowindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

var (
	testSettlement = DefaultSettlementAddress
	tokenA         = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tokenB         = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	tokenC         = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	trader         = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherTrader    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	poolX          = common.HexToAddress("0x3333333333333333333333333333333333333333")
	poolY          = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testTxHash     = "0x" + strings.Repeat("ab", 32)
)

func addressTopic(address common.Address) string {
	return common.BytesToHash(address.Bytes()).Hex()
}

func orderUID(seed byte) []byte {
	uid := make([]byte, 56)
	for i := range uid {
		uid[i] = seed
	}
	return uid
}

func tradeLog(t *testing.T, index uint64, owner, sellToken, buyToken common.Address, sellAmount, buyAmount int64, uid []byte) domain.LogEntry {
	t.Helper()
	data, err := tradeEvent.Inputs.NonIndexed().Pack(sellToken, buyToken, big.NewInt(sellAmount), big.NewInt(buyAmount), big.NewInt(0), uid)
	require.NoError(t, err)
	return domain.LogEntry{
		TxHash:   testTxHash,
		LogIndex: index,
		Address:  testSettlement.Hex(),
		Topics:   []string{tradeEvent.ID.Hex(), addressTopic(owner)},
		Data:     hexutil.Encode(data),
	}
}

func interactionLog(t *testing.T, index uint64, target common.Address, value int64, selector [4]byte) domain.LogEntry {
	t.Helper()
	data, err := interactionEvent.Inputs.NonIndexed().Pack(big.NewInt(value), selector)
	require.NoError(t, err)
	return domain.LogEntry{
		TxHash:   testTxHash,
		LogIndex: index,
		Address:  testSettlement.Hex(),
		Topics:   []string{interactionEvent.ID.Hex(), addressTopic(target)},
		Data:     hexutil.Encode(data),
	}
}

func transferLog(t *testing.T, index uint64, token, from, to common.Address, value int64) domain.LogEntry {
	t.Helper()
	data, err := transferEvent.Inputs.NonIndexed().Pack(big.NewInt(value))
	require.NoError(t, err)
	return domain.LogEntry{
		TxHash:   testTxHash,
		LogIndex: index,
		Address:  strings.ToLower(token.Hex()),
		Topics:   []string{transferEvent.ID.Hex(), addressTopic(from), addressTopic(to)},
		Data:     hexutil.Encode(data),
	}
}

var swapSelector = [4]byte{0x12, 0x8a, 0xcb, 0x08}

func classify(logs ...domain.LogEntry) []ClassifiedEvent {
	return NewClassifier(testSettlement).ClassifyAll(logs)
}

type fakeReceipts struct {
	receipts map[string]domain.Receipt
}

func (f *fakeReceipts) FetchReceipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	receipt, ok := f.receipts[txHash]
	if !ok {
		return domain.Receipt{}, domain.ErrNotFound
	}
	return receipt, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	calls  int
}

func (f *fakeOrders) FetchOrder(ctx context.Context, uid string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	order, ok := f.orders[uid]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

type fakePrices struct {
	mu         sync.Mutex
	snapshot   map[string]domain.TokenPrice
	atBlock    map[string]domain.TokenPrice
	blockCalls []string
	txCalls    int
}

func (f *fakePrices) FetchTxTokenPrices(ctx context.Context, txHash string) (map[string]domain.TokenPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	return f.snapshot, nil
}

func (f *fakePrices) FetchTokenPriceAtBlock(ctx context.Context, blockNumber uint64, token string) (domain.TokenPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCalls = append(f.blockCalls, token)
	price, ok := f.atBlock[token]
	if !ok {
		return domain.TokenPrice{}, domain.ErrPriceUnavailable
	}
	return price, nil
}
