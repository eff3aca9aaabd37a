package application

import (
	"math/big"
	"testing"

	"cowindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestExpectedTransfersConsumeOnce(t *testing.T) {
	ledger := NewExpectedTransfers()
	trade := domain.TradeEvent{
		Owner:      trader,
		SellToken:  tokenA,
		BuyToken:   tokenB,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(50),
	}
	ledger.RegisterTrade(trade, common.Address{}, DefaultNetwork())
	assert.Equal(t, 2, ledger.Pending())

	sell := domain.TransferEvent{Token: tokenA, From: trader, To: testSettlement, Value: big.NewInt(100)}
	buy := domain.TransferEvent{Token: tokenB, From: testSettlement, To: trader, Value: big.NewInt(50)}

	assert.True(t, ledger.ConsumeIfExpected(sell))
	assert.False(t, ledger.ConsumeIfExpected(sell))
	assert.True(t, ledger.ConsumeIfExpected(buy))
	assert.Zero(t, ledger.Pending())
}

func TestExpectedTransfersExactMatchOnly(t *testing.T) {
	ledger := NewExpectedTransfers()
	ledger.Register(tokenA, trader, testSettlement, big.NewInt(100))

	assert.False(t, ledger.ConsumeIfExpected(domain.TransferEvent{Token: tokenA, From: trader, To: testSettlement, Value: big.NewInt(99)}))
	assert.False(t, ledger.ConsumeIfExpected(domain.TransferEvent{Token: tokenB, From: trader, To: testSettlement, Value: big.NewInt(100)}))
	assert.Equal(t, 1, ledger.Pending())
}

func TestExpectedTransfersMultiset(t *testing.T) {
	ledger := NewExpectedTransfers()
	ledger.Register(tokenA, trader, testSettlement, big.NewInt(5))
	ledger.Register(tokenA, trader, testSettlement, big.NewInt(5))

	transfer := domain.TransferEvent{Token: tokenA, From: trader, To: testSettlement, Value: big.NewInt(5)}
	assert.True(t, ledger.ConsumeIfExpected(transfer))
	assert.True(t, ledger.ConsumeIfExpected(transfer))
	assert.False(t, ledger.ConsumeIfExpected(transfer))
}

func TestExpectedTransfersNativeBuySkipsBuyLeg(t *testing.T) {
	ledger := NewExpectedTransfers()
	ledger.RegisterTrade(domain.TradeEvent{
		Owner:      trader,
		SellToken:  tokenA,
		BuyToken:   DefaultNativeToken,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(1),
	}, common.Address{}, DefaultNetwork())

	assert.Equal(t, 1, ledger.Pending())
}

func TestExpectedTransfersUsesExplicitReceiver(t *testing.T) {
	ledger := NewExpectedTransfers()
	ledger.RegisterTrade(domain.TradeEvent{
		Owner:      trader,
		SellToken:  tokenA,
		BuyToken:   tokenB,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(50),
	}, otherTrader, DefaultNetwork())

	toOwner := domain.TransferEvent{Token: tokenB, From: testSettlement, To: trader, Value: big.NewInt(50)}
	toReceiver := domain.TransferEvent{Token: tokenB, From: testSettlement, To: otherTrader, Value: big.NewInt(50)}
	assert.False(t, ledger.ConsumeIfExpected(toOwner))
	assert.True(t, ledger.ConsumeIfExpected(toReceiver))
}
