package application

import (
	"context"
	"testing"

	"cowindex/internal/domain"
	"cowindex/internal/streaming"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCalculator struct {
	result domain.CowinessResult
	err    error
}

func (s stubCalculator) ComputeDetailed(ctx context.Context, txHash string) (domain.CowinessResult, error) {
	return s.result, s.err
}

func settlementMessage() streaming.Message {
	return streaming.Message{
		Type:                streaming.MessageTypeSettlement,
		ChainID:             1,
		TxHash:              testTxHash,
		SettlementID:        testTxHash,
		FirstTradeTimestamp: 1700000000,
		Solver:              "0xABC",
	}
}

func TestComputeMessageSuccess(t *testing.T) {
	calc := stubCalculator{result: domain.CowinessResult{
		TxHash:            testTxHash,
		BlockNumber:       42,
		CowValue:          0.5,
		TotalVolumeInUSD:  decimal.NewFromInt(10),
		TotalVolumeOutUSD: decimal.NewFromInt(5),
		VolumeInUSD: map[string]domain.PricedVolume{
			"0xa": {Amount: decimal.NewFromInt(1), USDValue: decimal.NewFromInt(10), Token: domain.TokenPrice{Name: "A", Decimals: 6}},
		},
		VolumeOutUSD: map[string]domain.PricedVolume{
			"0xb": {Amount: decimal.NewFromInt(2), USDValue: decimal.NewFromInt(5)},
		},
	}}

	record, volumes, err := ComputeMessage(context.Background(), calc, settlementMessage())
	require.NoError(t, err)

	assert.Equal(t, domain.SettlementStatusComputed, record.Status)
	assert.Equal(t, uint64(42), record.BlockNumber)
	assert.Equal(t, 0.5, record.Cowiness)
	assert.Equal(t, "0xabc", record.Solver)
	assert.Len(t, volumes, 2)
	for _, volume := range volumes {
		assert.Equal(t, int64(1700000000), volume.FirstTradeTimestamp)
	}
}

func TestComputeMessageRecordsFailure(t *testing.T) {
	calc := stubCalculator{err: &ComputeError{TxHash: testTxHash, Stage: StageRatio, Err: domain.ErrDivisionUndefined}}

	record, volumes, err := ComputeMessage(context.Background(), calc, settlementMessage())
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusFailed, record.Status)
	assert.Equal(t, "division_undefined", record.ErrorClass)
	assert.NotEmpty(t, record.Error)
	assert.Empty(t, volumes)
}

func TestComputeMessageStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calc := stubCalculator{err: context.Canceled}

	_, _, err := ComputeMessage(ctx, calc, settlementMessage())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeMessageRejectsUnknownType(t *testing.T) {
	msg := settlementMessage()
	msg.Type = "block"
	_, _, err := ComputeMessage(context.Background(), stubCalculator{}, msg)
	assert.Error(t, err)
}
