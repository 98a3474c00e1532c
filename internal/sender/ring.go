package sender

import (
	"context"
	"fmt"
	"sort"

	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/node"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
)

// ringPlan is the resolved ring for one selected input: its candidate
// members' global indices and public keys, sorted ascending, and the
// position the real (spent) output landed at after insertion.
type ringPlan struct {
	input         container.Output
	globalIndices []uint32
	members       []cryptonote.PublicKey
	realIndex     int
	realSecret    cryptonote.SecretKey
	sig           cryptonote.RingSignature
}

// buildRings requests mixin+1 decoys per amount from the Node and resolves
// one sorted ring per selected input. Decoys for inputs that share an
// amount are drawn from the same candidate set (one Node round trip per
// distinct amount rather than per input).
func (s *Sender) buildRings(ctx context.Context, selected []container.Output, mixin uint64) ([]ringPlan, error) {
	plans := make([]ringPlan, len(selected))

	if mixin == 0 {
		for i, o := range selected {
			plans[i] = ringPlan{input: o, globalIndices: []uint32{o.GlobalIndex}, members: []cryptonote.PublicKey{o.Pub}, realIndex: 0}
		}
		return plans, nil
	}

	uniqueAmounts := make(map[uint64]bool)
	var amounts []uint64
	for _, o := range selected {
		if !uniqueAmounts[o.Amount] {
			uniqueAmounts[o.Amount] = true
			amounts = append(amounts, o.Amount)
		}
	}

	result, err := s.node.GetRandomOutputs(ctx, amounts, uint16(mixin+1))
	if err != nil {
		return nil, walleterr.Wrap(walleterr.NetworkError, "get_random_outputs", err)
	}
	byAmount := make(map[uint64][]node.RandomOutput, len(result))
	for _, ao := range result {
		byAmount[ao.Amount] = ao.Outputs
	}

	for i, o := range selected {
		candidates, ok := byAmount[o.Amount]
		if !ok {
			return nil, walleterr.New(walleterr.MixinCountTooBig, fmt.Sprintf("node returned no candidate outputs for amount %d", o.Amount))
		}
		plan, err := buildRing(o, candidates, mixin)
		if err != nil {
			return nil, err
		}
		plans[i] = plan
	}
	return plans, nil
}

// buildRing sorts the non-real candidates by global index ascending, takes
// the first mixin of them, and inserts the real output at the position that
// keeps the sequence sorted.
func buildRing(real container.Output, candidates []node.RandomOutput, mixin uint64) (ringPlan, error) {
	filtered := make([]node.RandomOutput, 0, len(candidates))
	for _, c := range candidates {
		if c.GlobalIndex != real.GlobalIndex {
			filtered = append(filtered, c)
		}
	}
	if uint64(len(filtered)) < mixin {
		return ringPlan{}, walleterr.New(walleterr.MixinCountTooBig, fmt.Sprintf("amount %d: requested mixin %d but node returned only %d usable decoys", real.Amount, mixin, len(filtered)))
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].GlobalIndex < filtered[j].GlobalIndex })
	decoys := filtered[:mixin]

	indices := make([]uint32, 0, mixin+1)
	members := make([]cryptonote.PublicKey, 0, mixin+1)
	realIndex := -1
	for _, d := range decoys {
		if realIndex < 0 && real.GlobalIndex < d.GlobalIndex {
			indices = append(indices, real.GlobalIndex)
			members = append(members, real.Pub)
			realIndex = len(indices) - 1
		}
		indices = append(indices, d.GlobalIndex)
		members = append(members, d.PublicKey)
	}
	if realIndex < 0 {
		indices = append(indices, real.GlobalIndex)
		members = append(members, real.Pub)
		realIndex = len(indices) - 1
	}

	return ringPlan{input: real, globalIndices: indices, members: members, realIndex: realIndex}, nil
}
