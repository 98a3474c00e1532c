package sender

import (
	"context"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/unconfirmed"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/pkg/helpers"
)

// commit implements spec.md §4.4's atomic commit: record the send in the
// Cache and Unconfirmed Table, mark the spent inputs and track the change
// outputs in the Container, notify balance observers, and relay — rolling
// every prior step back if the relay fails.
func (s *Sender) commit(ctx context.Context, sc *sendContext, req SendRequest, txHash cryptonote.Hash, txBytes []byte) (SendResult, error) {
	transfers := make([]cache.TransferInput, len(req.Destinations))
	for i, d := range req.Destinations {
		transfers[i] = cache.TransferInput{Address: d.Address, Amount: d.Amount}
	}

	var paymentID *cache.PaymentID
	if req.PaymentID != nil {
		pid := cache.PaymentID(*req.PaymentID)
		paymentID = &pid
	}

	now := s.now()
	walletTxID, err := s.cache.InsertTransaction(cache.NewTransactionInput{
		Hash:        txHash,
		TotalAmount: -int64(sc.required),
		Fee:         req.Fee,
		BlockHeight: cryptonote.UNCONFIRMED,
		Timestamp:   now,
		UnlockTime:  req.UnlockTime,
		IsBase:      false,
		Extra:       sc.prefix.Extra,
		Transfers:   transfers,
		PaymentID:   paymentID,
	})
	if err != nil {
		return SendResult{}, walleterr.Wrap(walleterr.InternalError, "record outgoing transaction", err)
	}

	spentImages := make([]cryptonote.KeyImage, len(sc.selected))
	for i, o := range sc.selected {
		spentImages[i] = o.KeyImage
	}
	sumInputs := sum(sc.selected)
	changeAmount := sumInputs - sc.required

	if err := s.unconfirmed.Insert(unconfirmed.Outgoing{
		TxHash:       txHash,
		WalletTxID:   walletTxID,
		ChangeAmount: changeAmount,
		SentAt:       now,
		SpentImages:  spentImages,
	}); err != nil {
		_ = s.cache.SetState(txHash, cache.Failed)
		return SendResult{}, walleterr.Wrap(walleterr.InternalError, "record pending transaction", err)
	}

	if err := s.container.AddTransaction(container.BlockInfo{Height: cryptonote.UNCONFIRMED}, txHash, sc.changeOut, spentImages); err != nil {
		s.unconfirmed.Erase(txHash)
		_ = s.cache.SetState(txHash, cache.Failed)
		return SendResult{}, walleterr.Wrap(walleterr.InternalError, "mark spent inputs", err)
	}

	if s.listener != nil {
		s.listener.BalanceChanged()
	}

	if err := s.node.RelayTransaction(ctx, txBytes); err != nil {
		_ = s.container.DeleteUnconfirmedTransaction(txHash)
		s.unconfirmed.Erase(txHash)
		_ = s.cache.SetState(txHash, cache.Failed)
		if s.listener != nil {
			s.listener.BalanceChanged()
			s.listener.SendTransactionCompleted(walletTxID, err)
		}
		return SendResult{}, walleterr.Wrap(walleterr.NetworkError, "relay transaction", err)
	}

	if s.listener != nil {
		s.listener.SendTransactionCompleted(walletTxID, nil)
	}

	s.log.Info("relayed transaction",
		"tx_hash", txHash,
		"amount", helpers.FormatAmount(sc.total, s.cfg.DisplayDecimals),
		"fee", helpers.FormatAmount(req.Fee, s.cfg.DisplayDecimals),
		"change", helpers.FormatAmount(changeAmount, s.cfg.DisplayDecimals),
	)

	return SendResult{TxHash: txHash, WalletTxID: walletTxID, TxBytes: txBytes}, nil
}

// CancelTransaction implements the supplemented IWallet::cancelTransaction
// behavior (SPEC_FULL.md §5.1): it actively retracts a still-pending
// outgoing transaction rather than waiting for the aging sweep to find it.
func (s *Sender) CancelTransaction(txHash cryptonote.Hash) error {
	if _, ok := s.unconfirmed.Lookup(txHash); !ok {
		return walleterr.New(walleterr.NotFound, "transaction is not pending")
	}
	if err := s.container.DeleteUnconfirmedTransaction(txHash); err != nil {
		return err
	}
	s.unconfirmed.Erase(txHash)
	if err := s.cache.SetState(txHash, cache.Cancelled); err != nil {
		return err
	}
	if s.listener != nil {
		s.listener.BalanceChanged()
	}
	return nil
}
