package application

import (
	"math/big"

	"cowindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type transferFingerprint struct {
	token common.Address
	from  common.Address
	to    common.Address
	value string
}

func fingerprintOf(token, from, to common.Address, value *big.Int) transferFingerprint {
	return transferFingerprint{token: token, from: from, to: to, value: value.String()}
}

// ExpectedTransfers is the multiset of token movements already explained by
// trades. Each registration is consumed by at most one transfer.
type ExpectedTransfers struct {
	pending map[transferFingerprint]int
}

func NewExpectedTransfers() *ExpectedTransfers {
	return &ExpectedTransfers{pending: make(map[transferFingerprint]int)}
}

func (l *ExpectedTransfers) Register(token, from, to common.Address, value *big.Int) {
	l.pending[fingerprintOf(token, from, to, value)]++
}

// RegisterTrade records the sell leg (owner to settlement) and, unless the
// buy token is the native asset, the buy leg (settlement to receiver).
func (l *ExpectedTransfers) RegisterTrade(trade domain.TradeEvent, receiver common.Address, network Network) {
	l.Register(trade.SellToken, trade.Owner, network.Settlement, trade.SellAmount)
	if trade.BuyToken == network.Native {
		return
	}
	l.Register(trade.BuyToken, network.Settlement, normalizeReceiver(receiver, trade.Owner), trade.BuyAmount)
}

func (l *ExpectedTransfers) ConsumeIfExpected(transfer domain.TransferEvent) bool {
	key := fingerprintOf(transfer.Token, transfer.From, transfer.To, transfer.Value)
	count := l.pending[key]
	if count == 0 {
		return false
	}
	if count == 1 {
		delete(l.pending, key)
	} else {
		l.pending[key] = count - 1
	}
	return true
}

func (l *ExpectedTransfers) Pending() int {
	total := 0
	for _, count := range l.pending {
		total += count
	}
	return total
}

func normalizeReceiver(receiver, owner common.Address) common.Address {
	if receiver == (common.Address{}) {
		return owner
	}
	return receiver
}
