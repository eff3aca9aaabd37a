package application

import (
	"math/big"

	"cowindex/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventTrade
	EventInteraction
	EventTransfer
)

func (k EventKind) String() string {
	switch k {
	case EventTrade:
		return "trade"
	case EventInteraction:
		return "interaction"
	case EventTransfer:
		return "transfer"
	default:
		return "unrecognized"
	}
}

// ClassifiedEvent is a decoded log. Exactly one payload is set, matching Kind.
type ClassifiedEvent struct {
	Kind        EventKind
	LogIndex    uint64
	Trade       *domain.TradeEvent
	Interaction *domain.InteractionMarker
	Transfer    *domain.TransferEvent
}

type Classifier struct {
	settlement common.Address
}

func NewClassifier(settlement common.Address) *Classifier {
	return &Classifier{settlement: settlement}
}

// Classify decodes entry as a settlement Trade, a settlement Interaction or an
// ERC20 Transfer, in that order. Logs matching none of them are unrecognized.
func (c *Classifier) Classify(entry domain.LogEntry) ClassifiedEvent {
	if trade, ok := c.decodeTrade(entry); ok {
		return ClassifiedEvent{Kind: EventTrade, LogIndex: entry.LogIndex, Trade: &trade}
	}
	if marker, ok := c.decodeInteraction(entry); ok {
		return ClassifiedEvent{Kind: EventInteraction, LogIndex: entry.LogIndex, Interaction: &marker}
	}
	if transfer, ok := decodeTransfer(entry); ok {
		return ClassifiedEvent{Kind: EventTransfer, LogIndex: entry.LogIndex, Transfer: &transfer}
	}
	return ClassifiedEvent{Kind: EventUnrecognized, LogIndex: entry.LogIndex}
}

func (c *Classifier) ClassifyAll(logs []domain.LogEntry) []ClassifiedEvent {
	events := make([]ClassifiedEvent, 0, len(logs))
	for _, entry := range logs {
		events = append(events, c.Classify(entry))
	}
	return events
}

func (c *Classifier) fromSettlement(entry domain.LogEntry) bool {
	return common.IsHexAddress(entry.Address) && common.HexToAddress(entry.Address) == c.settlement
}

func (c *Classifier) decodeTrade(entry domain.LogEntry) (domain.TradeEvent, bool) {
	if !c.fromSettlement(entry) {
		return domain.TradeEvent{}, false
	}
	values, ok := decodeEvent(tradeEvent, entry)
	if !ok {
		return domain.TradeEvent{}, false
	}
	owner, ok1 := values["owner"].(common.Address)
	sellToken, ok2 := values["sellToken"].(common.Address)
	buyToken, ok3 := values["buyToken"].(common.Address)
	sellAmount, ok4 := values["sellAmount"].(*big.Int)
	buyAmount, ok5 := values["buyAmount"].(*big.Int)
	feeAmount, ok6 := values["feeAmount"].(*big.Int)
	orderUID, ok7 := values["orderUid"].([]byte)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return domain.TradeEvent{}, false
	}
	return domain.TradeEvent{
		Owner:      owner,
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: sellAmount,
		BuyAmount:  buyAmount,
		FeeAmount:  feeAmount,
		OrderUID:   orderUID,
		LogIndex:   entry.LogIndex,
	}, true
}

func (c *Classifier) decodeInteraction(entry domain.LogEntry) (domain.InteractionMarker, bool) {
	if !c.fromSettlement(entry) {
		return domain.InteractionMarker{}, false
	}
	values, ok := decodeEvent(interactionEvent, entry)
	if !ok {
		return domain.InteractionMarker{}, false
	}
	target, ok1 := values["target"].(common.Address)
	value, ok2 := values["value"].(*big.Int)
	selector, ok3 := values["selector"].([4]byte)
	if !(ok1 && ok2 && ok3) {
		return domain.InteractionMarker{}, false
	}
	return domain.InteractionMarker{
		Target:   target,
		Value:    value,
		Selector: selector,
		LogIndex: entry.LogIndex,
	}, true
}

func decodeTransfer(entry domain.LogEntry) (domain.TransferEvent, bool) {
	if !common.IsHexAddress(entry.Address) {
		return domain.TransferEvent{}, false
	}
	values, ok := decodeEvent(transferEvent, entry)
	if !ok {
		return domain.TransferEvent{}, false
	}
	from, ok1 := values["from"].(common.Address)
	to, ok2 := values["to"].(common.Address)
	value, ok3 := values["value"].(*big.Int)
	if !(ok1 && ok2 && ok3) {
		return domain.TransferEvent{}, false
	}
	return domain.TransferEvent{
		Token:    common.HexToAddress(entry.Address),
		From:     from,
		To:       to,
		Value:    value,
		LogIndex: entry.LogIndex,
	}, true
}

// decodeEvent unpacks entry against event. Any mismatch in topic0, indexed
// topic count or data layout reports false.
func decodeEvent(event abi.Event, entry domain.LogEntry) (map[string]any, bool) {
	if len(entry.Topics) == 0 || common.HexToHash(entry.Topics[0]) != event.ID {
		return nil, false
	}
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(entry.Topics)-1 != len(indexed) {
		return nil, false
	}

	data := []byte{}
	if entry.Data != "" && entry.Data != "0x" {
		decoded, err := hexutil.Decode(entry.Data)
		if err != nil {
			return nil, false
		}
		data = decoded
	}

	values := make(map[string]any, len(event.Inputs))
	if err := event.Inputs.UnpackIntoMap(values, data); err != nil {
		return nil, false
	}
	topics := make([]common.Hash, 0, len(indexed))
	for _, topic := range entry.Topics[1:] {
		topics = append(topics, common.HexToHash(topic))
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, topics); err != nil {
		return nil, false
	}
	return values, true
}
