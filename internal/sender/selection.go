package sender

import (
	"math/rand"
	"sort"

	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
)

// selectInputs implements spec.md §4.4's input selection: dust is excluded
// from the pool unless mixin is zero (decoys make dust harder to avoid
// spending eventually, so there's no ring-cost reason to duck it) or unless
// the non-dust pool alone can't cover required. Eligible outputs are
// shuffled, then taken largest-first so fewer inputs are needed — equal
// amounts keep the shuffle's random relative order, which is the spec's
// "prefer fewer inputs, then larger individual amounts" tie-break.
func selectInputs(rng *rand.Rand, pool []container.Output, required uint64, dustThreshold uint64, mixin uint64) ([]container.Output, error) {
	eligible := poolFor(pool, dustThreshold, mixin, false)
	if sum(eligible) < required {
		eligible = poolFor(pool, dustThreshold, mixin, true)
	}

	shuffled := make([]container.Output, len(eligible))
	copy(shuffled, eligible)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	sort.SliceStable(shuffled, func(i, j int) bool { return shuffled[i].Amount > shuffled[j].Amount })

	var selected []container.Output
	var total uint64
	for _, o := range shuffled {
		selected = append(selected, o)
		total += o.Amount
		if total >= required {
			return selected, nil
		}
	}
	return nil, walleterr.New(walleterr.InsufficientFunds, "unlocked outputs do not cover the requested amount")
}

func poolFor(pool []container.Output, dustThreshold uint64, mixin uint64, includeDust bool) []container.Output {
	if mixin == 0 || includeDust {
		return pool
	}
	var out []container.Output
	for _, o := range pool {
		if o.Amount > dustThreshold {
			out = append(out, o)
		}
	}
	return out
}

func sum(outputs []container.Output) uint64 {
	var total uint64
	for _, o := range outputs {
		total += o.Amount
	}
	return total
}
