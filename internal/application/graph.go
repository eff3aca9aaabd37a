package application

import (
	"math/big"

	"cowindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type graphEdge struct {
	from  int
	to    int
	token common.Address
	value *big.Int
	alive bool
}

// cycleGraph is a directed multigraph of unexplained transfers. Nodes and
// edges live in slices and are addressed by index; removed edges stay in
// place with alive unset.
type cycleGraph struct {
	settlement int
	nodes      []common.Address
	index      map[common.Address]int
	out        [][]int
	edges      []graphEdge
}

func newCycleGraph(settlement common.Address) *cycleGraph {
	g := &cycleGraph{index: make(map[common.Address]int)}
	g.settlement = g.node(settlement)
	return g
}

func (g *cycleGraph) node(address common.Address) int {
	if idx, ok := g.index[address]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, address)
	g.out = append(g.out, nil)
	g.index[address] = idx
	return idx
}

func (g *cycleGraph) observeTransfer(transfer domain.TransferEvent) ([]domain.Swap, error) {
	if transfer.From == transfer.To {
		return nil, nil
	}
	from := g.node(transfer.From)
	to := g.node(transfer.To)
	g.edges = append(g.edges, graphEdge{
		from:  from,
		to:    to,
		token: transfer.Token,
		value: new(big.Int).Set(transfer.Value),
		alive: true,
	})
	g.out[from] = append(g.out[from], len(g.edges)-1)

	var swaps []domain.Swap
	for {
		cycle := g.findCycle()
		if cycle == nil {
			return swaps, nil
		}
		swaps = append(swaps, g.collapse(cycle))
	}
}

func (g *cycleGraph) observeInteraction(domain.InteractionMarker) ([]domain.Swap, error) {
	return nil, nil
}

// findCycle returns the edge indices of a simple cycle that leaves and
// re-enters the settlement node through at least one other node.
func (g *cycleGraph) findCycle() []int {
	visited := make([]bool, len(g.nodes))
	visited[g.settlement] = true
	var path []int

	var walk func(node int) bool
	walk = func(node int) bool {
		for _, edgeIdx := range g.out[node] {
			edge := g.edges[edgeIdx]
			if !edge.alive {
				continue
			}
			if edge.to == g.settlement {
				if len(path) > 0 {
					path = append(path, edgeIdx)
					return true
				}
				continue
			}
			if visited[edge.to] {
				continue
			}
			visited[edge.to] = true
			path = append(path, edgeIdx)
			if walk(edge.to) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	if walk(g.settlement) {
		return path
	}
	return nil
}

// collapse turns a cycle into one swap. The edge leaving settlement is the
// sold leg and the edge returning to it is the bought leg.
func (g *cycleGraph) collapse(cycle []int) domain.Swap {
	sold := g.edges[cycle[0]]
	bought := g.edges[cycle[len(cycle)-1]]
	touched := make([]int, 0, len(cycle))
	for _, edgeIdx := range cycle {
		g.edges[edgeIdx].alive = false
		touched = append(touched, g.edges[edgeIdx].to)
	}
	for _, node := range touched {
		if node != g.settlement && g.isolated(node) {
			g.drop(node)
		}
	}
	return domain.Swap{
		Kind:       domain.SwapKindInteraction,
		SellToken:  sold.token,
		SellAmount: new(big.Int).Set(sold.value),
		BuyToken:   bought.token,
		BuyAmount:  new(big.Int).Set(bought.value),
	}
}

func (g *cycleGraph) isolated(node int) bool {
	for _, edge := range g.edges {
		if edge.alive && (edge.from == node || edge.to == node) {
			return false
		}
	}
	return true
}

// drop detaches node so a later transfer to the same address starts fresh.
func (g *cycleGraph) drop(node int) {
	delete(g.index, g.nodes[node])
	g.out[node] = nil
}
