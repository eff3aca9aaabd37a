package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement is a batch settlement as listed by the indexing subgraph.
type Settlement struct {
	ID                  string `json:"id"`
	TxHash              string `json:"tx_hash"`
	FirstTradeTimestamp int64  `json:"first_trade_timestamp"`
	Solver              string `json:"solver"`
}

type SettlementStatus string

const (
	SettlementStatusComputed SettlementStatus = "computed"
	SettlementStatusFailed   SettlementStatus = "failed"
)

type SettlementRecord struct {
	TxHash              string           `json:"tx_hash"`
	SettlementID        string           `json:"settlement_id"`
	FirstTradeTimestamp int64            `json:"first_trade_timestamp"`
	Solver              string           `json:"solver"`
	BlockNumber         uint64           `json:"block_number"`
	Status              SettlementStatus `json:"status"`
	Cowiness            float64          `json:"cowiness"`
	TotalVolumeInUSD    decimal.Decimal  `json:"total_volume_in_usd"`
	TotalVolumeOutUSD   decimal.Decimal  `json:"total_volume_out_usd"`
	ErrorClass          string           `json:"error_class,omitempty"`
	Error               string           `json:"error,omitempty"`
	ComputedAt          time.Time        `json:"computed_at"`
}

type VolumeDirection string

const (
	VolumeDirectionIn  VolumeDirection = "in"
	VolumeDirectionOut VolumeDirection = "out"
)

// TokenVolume is one priced token leg of a computed settlement.
type TokenVolume struct {
	TxHash              string          `json:"tx_hash"`
	FirstTradeTimestamp int64           `json:"first_trade_timestamp"`
	Direction           VolumeDirection `json:"direction"`
	Token               string          `json:"token"`
	Name                string          `json:"name"`
	Decimals            int32           `json:"decimals"`
	Amount              decimal.Decimal `json:"amount"`
	PriceUSD            decimal.Decimal `json:"price_usd"`
	USDValue            decimal.Decimal `json:"usd_value"`
}
