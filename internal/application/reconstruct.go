package application

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"cowindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type ReconstructionStrategy string

const (
	StrategyAccumulator ReconstructionStrategy = "accumulator"
	StrategyGraph       ReconstructionStrategy = "graph"
)

func ParseReconstructionStrategy(raw string) (ReconstructionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(StrategyAccumulator):
		return StrategyAccumulator, nil
	case string(StrategyGraph):
		return StrategyGraph, nil
	default:
		return "", fmt.Errorf("unknown reconstruction strategy %q", raw)
	}
}

// collapser turns transfers the ledger could not explain into interaction swaps.
type collapser interface {
	observeTransfer(transfer domain.TransferEvent) ([]domain.Swap, error)
	observeInteraction(marker domain.InteractionMarker) ([]domain.Swap, error)
}

func newCollapser(strategy ReconstructionStrategy, settlement common.Address) collapser {
	if strategy == StrategyGraph {
		return newCycleGraph(settlement)
	}
	return newCounterpartyAccumulator(settlement)
}

// ReconstructSwaps walks the classified events in log order. Trades become
// trade swaps and register their expected transfers; everything else the
// ledger cannot explain is collapsed into interaction swaps by strategy.
// orders is keyed by lowercased order uid.
func ReconstructSwaps(events []ClassifiedEvent, orders map[string]domain.Order, network Network, strategy ReconstructionStrategy) ([]domain.Swap, error) {
	network = network.withDefaults()
	ledger := NewExpectedTransfers()
	collapse := newCollapser(strategy, network.Settlement)

	swaps := make([]domain.Swap, 0)
	for _, event := range events {
		switch event.Kind {
		case EventTrade:
			trade := *event.Trade
			order := orders[strings.ToLower(trade.OrderUIDHex())]
			receiver := common.Address{}
			if common.IsHexAddress(order.Receiver) {
				receiver = common.HexToAddress(order.Receiver)
			}
			ledger.RegisterTrade(trade, receiver, network)
			swaps = append(swaps, tradeSwap(trade, order, network))
		case EventTransfer:
			if ledger.ConsumeIfExpected(*event.Transfer) {
				continue
			}
			collapsed, err := collapse.observeTransfer(*event.Transfer)
			if err != nil {
				return nil, err
			}
			swaps = append(swaps, collapsed...)
		case EventInteraction:
			collapsed, err := collapse.observeInteraction(*event.Interaction)
			if err != nil {
				return nil, err
			}
			swaps = append(swaps, collapsed...)
		}
	}
	if pending := ledger.Pending(); pending > 0 {
		slog.Debug("expected transfers not observed", "pending", pending, "strategy", string(strategy))
	}
	return swaps, nil
}

func tradeSwap(trade domain.TradeEvent, order domain.Order, network Network) domain.Swap {
	return domain.Swap{
		Kind:             domain.SwapKindTrade,
		SellToken:        trade.SellToken,
		SellAmount:       new(big.Int).Set(trade.SellAmount),
		BuyToken:         network.WrapNative(trade.BuyToken),
		BuyAmount:        new(big.Int).Set(trade.BuyAmount),
		FeeAmount:        new(big.Int).Set(trade.FeeAmount),
		OrderUID:         strings.ToLower(trade.OrderUIDHex()),
		IsLiquidityOrder: order.IsLiquidityOrder,
	}
}

type counterpartyFlows struct {
	ins  []domain.TransferEvent
	outs []domain.TransferEvent
}

// counterpartyAccumulator groups unexplained transfers by the address on the
// other side of the settlement contract and collapses each group at the next
// interaction boundary.
type counterpartyAccumulator struct {
	settlement common.Address
	order      []common.Address
	flows      map[common.Address]*counterpartyFlows
}

func newCounterpartyAccumulator(settlement common.Address) *counterpartyAccumulator {
	return &counterpartyAccumulator{
		settlement: settlement,
		flows:      make(map[common.Address]*counterpartyFlows),
	}
}

func (a *counterpartyAccumulator) observeTransfer(transfer domain.TransferEvent) ([]domain.Swap, error) {
	var (
		counterparty common.Address
		inbound      bool
	)
	switch {
	case transfer.From == a.settlement && transfer.To == a.settlement:
		return nil, nil
	case transfer.To == a.settlement:
		counterparty, inbound = transfer.From, true
	case transfer.From == a.settlement:
		counterparty = transfer.To
	default:
		return nil, nil
	}

	flows, ok := a.flows[counterparty]
	if !ok {
		flows = &counterpartyFlows{}
		a.flows[counterparty] = flows
		a.order = append(a.order, counterparty)
	}
	if inbound {
		flows.ins = append(flows.ins, transfer)
	} else {
		flows.outs = append(flows.outs, transfer)
	}
	return nil, nil
}

func (a *counterpartyAccumulator) observeInteraction(marker domain.InteractionMarker) ([]domain.Swap, error) {
	var swaps []domain.Swap
	for _, counterparty := range a.order {
		flows := a.flows[counterparty]
		if len(flows.ins) == 0 || len(flows.outs) == 0 {
			continue
		}
		swap, err := collapseFlows(flows, marker)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
		flows.ins = nil
		flows.outs = nil
	}
	return swaps, nil
}

// collapseFlows nets one counterparty's transfers per token. Exactly two
// tokens must remain non-zero, one received and one sent. A group that nets
// to nothing is malformed too.
func collapseFlows(flows *counterpartyFlows, marker domain.InteractionMarker) (domain.Swap, error) {
	var tokens []common.Address
	net := make(map[common.Address]*big.Int)
	apply := func(token common.Address, value *big.Int, sign int) {
		current, ok := net[token]
		if !ok {
			current = new(big.Int)
			net[token] = current
			tokens = append(tokens, token)
		}
		if sign > 0 {
			current.Add(current, value)
		} else {
			current.Sub(current, value)
		}
	}
	for _, transfer := range flows.ins {
		apply(transfer.Token, transfer.Value, 1)
	}
	for _, transfer := range flows.outs {
		apply(transfer.Token, transfer.Value, -1)
	}

	nonZero := tokens[:0:0]
	for _, token := range tokens {
		if net[token].Sign() != 0 {
			nonZero = append(nonZero, token)
		}
	}
	boundary := fmt.Sprintf("%s@%s", strings.ToLower(marker.Target.Hex()), marker.SelectorHex())
	if marker.Value != nil && marker.Value.Sign() != 0 {
		return domain.Swap{}, fmt.Errorf("%w: interaction %s carries native value %s", domain.ErrFormatViolation, boundary, marker.Value)
	}
	if len(nonZero) != 2 {
		return domain.Swap{}, fmt.Errorf("%w: interaction %s nets %d tokens", domain.ErrFormatViolation, boundary, len(nonZero))
	}

	first, second := nonZero[0], nonZero[1]
	if net[first].Sign() == net[second].Sign() {
		return domain.Swap{}, fmt.Errorf("%w: interaction %s nets both tokens in one direction", domain.ErrFormatViolation, boundary)
	}
	bought, sold := first, second
	if net[first].Sign() < 0 {
		bought, sold = second, first
	}
	return domain.Swap{
		Kind:       domain.SwapKindInteraction,
		SellToken:  sold,
		SellAmount: new(big.Int).Neg(net[sold]),
		BuyToken:   bought,
		BuyAmount:  new(big.Int).Set(net[bought]),
		Target:     strings.ToLower(marker.Target.Hex()),
		Selector:   marker.SelectorHex(),
	}, nil
}
