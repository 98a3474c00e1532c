package sender

import (
	"context"

	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/txcodec"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
)

// selectAndBuildRings picks the inputs to spend and resolves a ring for
// each, per spec.md §4.4's "Input selection" and "Ring construction".
func (s *Sender) selectAndBuildRings(ctx context.Context, sc *sendContext, req SendRequest) error {
	pool := s.container.GetOutputs(container.MaskUnlocked, container.MaskKey)
	selected, err := selectInputs(s.rng, pool, sc.required, s.cfg.DustThreshold, req.Mixin)
	if err != nil {
		return err
	}
	sc.selected = selected

	rings, err := s.buildRings(ctx, selected, req.Mixin)
	if err != nil {
		return err
	}
	sc.rings = rings
	return nil
}

// changeOutputPlan is one change output pending derivation-result bookkeeping.
type changeOutputPlan struct {
	amount uint64
	index  uint32
	pub    cryptonote.PublicKey
}

// buildAndSign implements spec.md §4.4's "Destination splitting" and "Tx
// build & sign": it digit-splits every destination and the change, derives
// one-time output keys, assembles the prefix and extra, and ring-signs
// every input over the prefix hash.
func (s *Sender) buildAndSign(sc *sendContext, req SendRequest) error {
	txKeypair, err := s.crypto.GenerateKeypair()
	if err != nil {
		return walleterr.Wrap(walleterr.InternalError, "generate transaction keypair", err)
	}
	sc.txKeypair = txKeypair

	var outputs []txcodec.Output
	var outputIndex uint32

	for _, d := range req.Destinations {
		_, spendPub, viewPub, err := walletkeys.DecodeAddress(d.Address)
		if err != nil {
			return walleterr.Wrap(walleterr.BadAddress, "destination address", err)
		}
		for _, amt := range decompose(d.Amount) {
			pub, err := s.crypto.DerivePublic(txKeypair.Secret, spendPub, viewPub, outputIndex)
			if err != nil {
				return walleterr.Wrap(walleterr.InternalError, "derive destination output key", err)
			}
			outputs = append(outputs, txcodec.Output{Amount: amt, Type: txcodec.OutKey, Key: pub})
			outputIndex++
		}
	}

	sumInputs := sum(sc.selected)
	change := sumInputs - sc.required

	var dustSum uint64
	var changePlans []changeOutputPlan
	for _, amt := range decompose(change) {
		if amt < s.cfg.DustThreshold {
			dustSum += amt
			continue
		}
		pub, err := s.crypto.DerivePublic(txKeypair.Secret, s.keys.SpendPublic, s.keys.ViewPublic, outputIndex)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "derive change output key", err)
		}
		outputs = append(outputs, txcodec.Output{Amount: amt, Type: txcodec.OutKey, Key: pub})
		changePlans = append(changePlans, changeOutputPlan{amount: amt, index: outputIndex, pub: pub})
		outputIndex++
	}

	if dustSum > 0 && !s.cfg.DustAddToFee {
		_, spendPub, viewPub, err := walletkeys.DecodeAddress(s.cfg.DustAddress)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "dust address", err)
		}
		pub, err := s.crypto.DerivePublic(txKeypair.Secret, spendPub, viewPub, outputIndex)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "derive dust output key", err)
		}
		outputs = append(outputs, txcodec.Output{Amount: dustSum, Type: txcodec.OutKey, Key: pub})
		outputIndex++
	}
	// dustSum folded into the implicit fee (sum(inputs) - sum(outputs)) when
	// DustAddToFee is set: no output is emitted for it at all.

	sc.changeOut = make([]container.Output, 0, len(changePlans))
	for _, cp := range changePlans {
		secret, err := s.crypto.DeriveSecret(s.keys.ViewSecret, txKeypair.Public, cp.index, s.keys.SpendSecret)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "derive change output secret", err)
		}
		image, err := s.crypto.KeyImageOf(secret, cp.pub)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "compute change output key image", err)
		}
		sc.changeOut = append(sc.changeOut, container.Output{
			Amount:      cp.amount,
			IndexInTx:   cp.index,
			GlobalIndex: cryptonote.UNCONFIRMED,
			Pub:         cp.pub,
			TxPublicKey: txKeypair.Public,
			KeyImage:    image,
			Type:        container.OutputKey,
		})
	}

	extra := txcodec.Extra{TxPublicKey: txKeypair.Public}
	if req.PaymentID != nil {
		extra.HasPaymentID = true
		extra.PaymentID = *req.PaymentID
	}
	for _, m := range req.Messages {
		_, _, viewPub, err := walletkeys.DecodeAddress(m.Address)
		if err != nil {
			return walleterr.Wrap(walleterr.BadAddress, "message destination address", err)
		}
		sealed, err := cryptonote.SealMessage(viewPub, m.Plaintext)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "seal transaction message", err)
		}
		extra.Messages = append(extra.Messages, sealed)
	}
	extra.Unknown = append(extra.Unknown, req.Extra...)

	extraBytes, err := txcodec.Encode(extra)
	if err != nil {
		return walleterr.Wrap(walleterr.InternalError, "encode transaction extra", err)
	}

	inputs := make([]txcodec.Input, len(sc.rings))
	for i, r := range sc.rings {
		realSecret, err := s.crypto.DeriveSecret(s.keys.ViewSecret, r.input.TxPublicKey, r.input.IndexInTx, s.keys.SpendSecret)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "derive real input secret", err)
		}
		candidatePub, err := s.crypto.DerivePublic(s.keys.ViewSecret, s.keys.SpendPublic, r.input.TxPublicKey, r.input.IndexInTx)
		if err != nil || candidatePub != r.input.Pub {
			return walleterr.New(walleterr.InternalError, "selected input's one-time key no longer matches the tracked output")
		}
		inputs[i] = txcodec.Input{Amount: r.input.Amount, GlobalIndices: r.globalIndices, KeyImage: r.input.KeyImage}
		sc.rings[i].realSecret = realSecret
	}

	sc.prefix = txcodec.Prefix{Version: 1, UnlockTime: req.UnlockTime, Inputs: inputs, Outputs: outputs, Extra: extraBytes}

	prefixHash, err := txcodec.PrefixHash(sc.prefix)
	if err != nil {
		return walleterr.Wrap(walleterr.InternalError, "hash transaction prefix", err)
	}
	for i, r := range sc.rings {
		sig, err := s.crypto.GenerateRingSignature(prefixHash, r.input.KeyImage, r.members, r.realSecret, r.realIndex)
		if err != nil {
			return walleterr.Wrap(walleterr.InternalError, "generate ring signature", err)
		}
		sc.rings[i].sig = sig
	}

	return nil
}
