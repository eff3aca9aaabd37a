package application

import (
	"math/big"

	"cowindex/internal/domain"
)

// hopTolerancePercent bounds how far an intermediate hop's amount may drift
// from the previous hop's output and still count as the same route.
const hopTolerancePercent = 1

// ComputeVolume sums trade sells into volume-in and interaction sells into
// volume-out. An interaction whose sell side continues an earlier interaction's
// buy side within tolerance is an intermediate hop and is not counted again.
func ComputeVolume(swaps []domain.Swap) (domain.VolumeMap, domain.VolumeMap) {
	volumeIn := make(domain.VolumeMap)
	volumeOut := make(domain.VolumeMap)

	visited := make([]bool, len(swaps))
	for i, swap := range swaps {
		switch swap.Kind {
		case domain.SwapKindTrade:
			volumeIn.Add(swap.SellToken, swap.SellAmount)
		case domain.SwapKindInteraction:
			if visited[i] {
				continue
			}
			volumeOut.Add(swap.SellToken, swap.SellAmount)
			for j, other := range swaps {
				if j == i || visited[j] || other.Kind != domain.SwapKindInteraction {
					continue
				}
				if other.SellToken == swap.BuyToken && withinTolerance(swap.BuyAmount, other.SellAmount) {
					visited[j] = true
					break
				}
			}
		}
	}
	return volumeIn, volumeOut
}

// withinTolerance reports |a-b| <= max(a,b) * hopTolerancePercent / 100 using
// integer arithmetic only.
func withinTolerance(a, b *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	limit := a
	if b.Cmp(a) > 0 {
		limit = b
	}
	lhs := diff.Mul(diff, big.NewInt(100))
	rhs := new(big.Int).Mul(limit, big.NewInt(hopTolerancePercent))
	return lhs.Cmp(rhs) <= 0
}
