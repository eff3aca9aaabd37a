package domain

import "github.com/shopspring/decimal"

type TokenPrice struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Decimals int32           `json:"decimals"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
}

type PricedVolume struct {
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usd_value"`
	Token    TokenPrice      `json:"token"`
}

type CowinessResult struct {
	TxHash            string                  `json:"tx_hash"`
	BlockNumber       uint64                  `json:"block_number"`
	CowValue          float64                 `json:"cow_value"`
	TotalVolumeInUSD  decimal.Decimal         `json:"total_volume_in_usd"`
	TotalVolumeOutUSD decimal.Decimal         `json:"total_volume_out_usd"`
	VolumeInUSD       map[string]PricedVolume `json:"volume_in_usd"`
	VolumeOutUSD      map[string]PricedVolume `json:"volume_out_usd"`
	Swaps             []Swap                  `json:"swaps"`
}
