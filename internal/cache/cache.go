// Package cache implements the User Transactions Cache: the user-visible
// transaction history (WalletTransaction/Transfer) and the payment-id
// secondary index built from it.
package cache

import (
	"sync"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
)

// TxState is one of a WalletTransaction's four lifecycle states.
type TxState int

const (
	Active TxState = iota
	Deleted
	Failed
	Cancelled
)

func (s TxState) String() string {
	switch s {
	case Active:
		return "Active"
	case Deleted:
		return "Deleted"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// WalletTransaction is one entry in the user-visible transaction history.
type WalletTransaction struct {
	ID               uint64
	Hash             cryptonote.Hash
	TotalAmount      int64 // positive = net received, negative = net sent
	Fee              uint64
	BlockHeight       uint32 // cryptonote.UNCONFIRMED if unconfirmed
	Timestamp        uint64
	UnlockTime       uint64
	IsBase           bool
	Extra            []byte
	State            TxState
	FirstTransferID  uint64
	TransferCount    uint64
}

// Transfer is one destination of a WalletTransaction.
type Transfer struct {
	ID      uint64
	TxID    uint64
	Address string
	Amount  uint64
}

// PaymentID is the 32-byte payment identifier parsed from a tx's extra.
type PaymentID [32]byte

// Cache owns WalletTransactions, Transfers, and the PaymentIndex. IDs are
// dense and append-only: once handed out, an id always refers to the same
// WalletTransaction or Transfer, even after the tx transitions to Deleted.
type Cache struct {
	mu sync.Mutex

	txs       []WalletTransaction
	hashToID  map[cryptonote.Hash]uint64
	transfers []Transfer

	paymentIndex map[PaymentID]map[uint64]bool
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		hashToID:     make(map[cryptonote.Hash]uint64),
		paymentIndex: make(map[PaymentID]map[uint64]bool),
	}
}

// NewTransactionInput describes a transaction to record for the first time.
type NewTransactionInput struct {
	Hash        cryptonote.Hash
	TotalAmount int64
	Fee         uint64
	BlockHeight uint32
	Timestamp   uint64
	UnlockTime  uint64
	IsBase      bool
	Extra       []byte
	Transfers   []TransferInput
	PaymentID   *PaymentID
}

// TransferInput describes one destination of a new transaction.
type TransferInput struct {
	Address string
	Amount  uint64
}

// InsertTransaction records the first sighting of a transaction. Fails with
// AlreadyExists if an Active entry for this hash is already tracked.
func (c *Cache) InsertTransaction(in NewTransactionInput) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.hashToID[in.Hash]; exists {
		return 0, walleterr.New(walleterr.AlreadyExists, "transaction already tracked")
	}

	id := uint64(len(c.txs))
	firstTransferID := uint64(len(c.transfers))
	for _, tr := range in.Transfers {
		c.transfers = append(c.transfers, Transfer{
			ID:      uint64(len(c.transfers)),
			TxID:    id,
			Address: tr.Address,
			Amount:  tr.Amount,
		})
	}

	wtx := WalletTransaction{
		ID:              id,
		Hash:            in.Hash,
		TotalAmount:     in.TotalAmount,
		Fee:             in.Fee,
		BlockHeight:     in.BlockHeight,
		Timestamp:       in.Timestamp,
		UnlockTime:      in.UnlockTime,
		IsBase:          in.IsBase,
		Extra:           in.Extra,
		State:           Active,
		FirstTransferID: firstTransferID,
		TransferCount:   uint64(len(in.Transfers)),
	}
	c.txs = append(c.txs, wtx)
	c.hashToID[in.Hash] = id

	c.updatePaymentIndexLocked(wtx, in.PaymentID)
	return id, nil
}

// ConfirmTransaction promotes a tracked transaction to a confirmed block
// height and timestamp, re-evaluating its PaymentIndex membership.
func (c *Cache) ConfirmTransaction(hash cryptonote.Hash, blockHeight uint32, timestamp uint64, paymentID *PaymentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.hashToID[hash]
	if !ok {
		return walleterr.New(walleterr.NotFound, "transaction not tracked")
	}
	wtx := &c.txs[id]
	wtx.BlockHeight = blockHeight
	wtx.Timestamp = timestamp
	c.updatePaymentIndexLocked(*wtx, paymentID)
	return nil
}

// SetState transitions a tracked transaction to a new state, maintaining the
// PaymentIndex invariant (only Active, confirmed txs are indexed).
func (c *Cache) SetState(hash cryptonote.Hash, state TxState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.hashToID[hash]
	if !ok {
		return walleterr.New(walleterr.NotFound, "transaction not tracked")
	}
	wtx := &c.txs[id]
	wtx.State = state
	if state != Active {
		c.removeFromPaymentIndexLocked(id)
		delete(c.hashToID, hash)
	}
	return nil
}

// RemoveOnDetach marks a transaction Deleted in response to a chain reorg
// removing the block it was confirmed in. The WalletTransaction's id is
// preserved; only its hash lookup and PaymentIndex membership are retracted.
func (c *Cache) RemoveOnDetach(hash cryptonote.Hash) error {
	return c.SetState(hash, Deleted)
}

func (c *Cache) updatePaymentIndexLocked(wtx WalletTransaction, paymentID *PaymentID) {
	c.removeFromPaymentIndexLocked(wtx.ID)
	if paymentID == nil {
		return
	}
	if wtx.State != Active || wtx.BlockHeight == cryptonote.UNCONFIRMED {
		return
	}
	if len(wtx.Extra) == 0 || wtx.TotalAmount == 0 {
		return
	}
	set, ok := c.paymentIndex[*paymentID]
	if !ok {
		set = make(map[uint64]bool)
		c.paymentIndex[*paymentID] = set
	}
	set[wtx.ID] = true
}

func (c *Cache) removeFromPaymentIndexLocked(txID uint64) {
	for _, set := range c.paymentIndex {
		delete(set, txID)
	}
}

// GetTransaction returns the tracked transaction for hash, if any Active
// entry exists under it.
func (c *Cache) GetTransaction(hash cryptonote.Hash) (WalletTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.hashToID[hash]
	if !ok {
		return WalletTransaction{}, false
	}
	return c.txs[id], true
}

// GetTransactionByID returns the transaction with the given dense id,
// regardless of its current state.
func (c *Cache) GetTransactionByID(id uint64) (WalletTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id >= uint64(len(c.txs)) {
		return WalletTransaction{}, false
	}
	return c.txs[id], true
}

// GetTransfers returns the transfers belonging to a transaction.
func (c *Cache) GetTransfers(txID uint64) []Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if txID >= uint64(len(c.txs)) {
		return nil
	}
	wtx := c.txs[txID]
	out := make([]Transfer, 0, wtx.TransferCount)
	for i := uint64(0); i < wtx.TransferCount; i++ {
		out = append(out, c.transfers[wtx.FirstTransferID+i])
	}
	return out
}

// FindTransactionsByPaymentID returns the ids of every Active, confirmed
// transaction indexed under id.
func (c *Cache) FindTransactionsByPaymentID(id PaymentID) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.paymentIndex[id]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(set))
	for txID := range set {
		out = append(out, txID)
	}
	return out
}

// Len returns the number of WalletTransactions ever recorded.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txs)
}

// Snapshot returns every WalletTransaction and Transfer ever recorded, in
// insertion order, for persisting the cache across wallet restarts.
func (c *Cache) Snapshot() ([]WalletTransaction, []Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txs := append([]WalletTransaction(nil), c.txs...)
	transfers := append([]Transfer(nil), c.transfers...)
	return txs, transfers
}

// Restore rebuilds a Cache's hash and payment-id indices from a prior
// Snapshot. It must only be called on a freshly constructed, empty Cache.
func (c *Cache) Restore(txs []WalletTransaction, transfers []Transfer, paymentIDOf func(extra []byte) (PaymentID, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.txs = append([]WalletTransaction(nil), txs...)
	c.transfers = append([]Transfer(nil), transfers...)
	for _, wtx := range c.txs {
		if wtx.State == Active {
			c.hashToID[wtx.Hash] = wtx.ID
		}
		if pid, ok := paymentIDOf(wtx.Extra); ok {
			c.updatePaymentIndexLocked(wtx, &pid)
		}
	}
}
