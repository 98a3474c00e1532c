package sender

import (
	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
)

// validate implements spec.md §4.4's precondition checks, in order, and
// returns a fresh sendContext with total/required populated on success.
func (s *Sender) validate(req SendRequest) (*sendContext, error) {
	if len(req.Destinations) == 0 {
		return nil, walleterr.New(walleterr.ZeroDestination, "no destinations given")
	}

	var total uint64
	for _, d := range req.Destinations {
		if d.Amount == 0 {
			return nil, walleterr.New(walleterr.WrongAmount, "destination amount must be non-zero")
		}
		next := total + d.Amount
		if next < total {
			return nil, walleterr.New(walleterr.SumOverflow, "sum of destination amounts overflows")
		}
		total = next
		if _, _, _, err := walletkeys.DecodeAddress(d.Address); err != nil {
			return nil, walleterr.Wrap(walleterr.BadAddress, "destination address", err)
		}
	}
	for _, m := range req.Messages {
		if _, _, _, err := walletkeys.DecodeAddress(m.Address); err != nil {
			return nil, walleterr.Wrap(walleterr.BadAddress, "message destination address", err)
		}
	}

	required := total + req.Fee
	if required < total {
		return nil, walleterr.New(walleterr.SumOverflow, "total plus fee overflows")
	}

	unlocked := s.container.Balance(container.MaskUnlocked, container.MaskKey)
	if required > unlocked {
		return nil, walleterr.New(walleterr.InsufficientFunds, "unlocked balance does not cover amount plus fee")
	}

	return &sendContext{total: total, required: required}, nil
}
