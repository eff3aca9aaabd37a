package domain

import (
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type SwapKind string

const (
	SwapKindTrade       SwapKind = "trade"
	SwapKindInteraction SwapKind = "interaction"
)

// Swap is one economic exchange of SellAmount of SellToken for BuyAmount of BuyToken.
// Trade swaps carry order fields, interaction swaps carry Target and Selector.
type Swap struct {
	Kind             SwapKind       `json:"kind"`
	SellToken        common.Address `json:"sell_token"`
	SellAmount       *big.Int       `json:"sell_amount"`
	BuyToken         common.Address `json:"buy_token"`
	BuyAmount        *big.Int       `json:"buy_amount"`
	FeeAmount        *big.Int       `json:"fee_amount,omitempty"`
	OrderUID         string         `json:"order_uid,omitempty"`
	IsLiquidityOrder bool           `json:"is_liquidity_order,omitempty"`
	Target           string         `json:"target,omitempty"`
	Selector         string         `json:"selector,omitempty"`
}

// VolumeMap is keyed by lowercased token address.
type VolumeMap map[string]*big.Int

func TokenKey(token common.Address) string {
	return strings.ToLower(token.Hex())
}

func (v VolumeMap) Add(token common.Address, amount *big.Int) {
	key := TokenKey(token)
	current, ok := v[key]
	if !ok {
		v[key] = new(big.Int).Set(amount)
		return
	}
	current.Add(current, amount)
}

func (v VolumeMap) Tokens() []string {
	tokens := make([]string, 0, len(v))
	for token := range v {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
