package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TradeEvent is one decoded settlement Trade log.
type TradeEvent struct {
	Owner      common.Address
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	OrderUID   []byte
	LogIndex   uint64
}

func (t TradeEvent) OrderUIDHex() string {
	return hexutil.Encode(t.OrderUID)
}

type TransferEvent struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	LogIndex uint64
}

// InteractionMarker marks the end of one external liquidity call.
type InteractionMarker struct {
	Target   common.Address
	Value    *big.Int
	Selector [4]byte
	LogIndex uint64
}

func (m InteractionMarker) SelectorHex() string {
	return hexutil.Encode(m.Selector[:])
}

// Order holds the orderbook metadata needed to settle a trade.
type Order struct {
	UID              string `json:"uid"`
	Owner            string `json:"owner"`
	Receiver         string `json:"receiver"`
	SellToken        string `json:"sell_token"`
	BuyToken         string `json:"buy_token"`
	IsLiquidityOrder bool   `json:"is_liquidity_order"`
}
