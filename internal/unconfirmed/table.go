// Package unconfirmed tracks this wallet's own outgoing transactions while
// they wait for a confirmation or a pool eviction.
package unconfirmed

import (
	"sync"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
)

// Outgoing is the pending state of one transaction this wallet sent.
type Outgoing struct {
	TxHash      cryptonote.Hash
	WalletTxID  uint64
	ChangeAmount uint64
	SentAt      uint64 // unix seconds
	SpentImages []cryptonote.KeyImage
}

// Table is the Unconfirmed Transactions Table: tx hash -> Outgoing.
type Table struct {
	mu      sync.Mutex
	entries map[cryptonote.Hash]Outgoing
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[cryptonote.Hash]Outgoing)}
}

// Insert records a newly sent transaction. Fails with AlreadyExists if the
// hash is already tracked.
func (t *Table) Insert(o Outgoing) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[o.TxHash]; exists {
		return walleterr.New(walleterr.AlreadyExists, "unconfirmed transaction already tracked")
	}
	t.entries[o.TxHash] = o
	return nil
}

// Erase removes a tracked transaction, if present.
func (t *Table) Erase(txHash cryptonote.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, txHash)
}

// Lookup returns the tracked entry for txHash, if any.
func (t *Table) Lookup(txHash cryptonote.Hash) (Outgoing, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.entries[txHash]
	return o, ok
}

// All returns every tracked entry, for iteration by the aging sweep.
func (t *Table) All() []Outgoing {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Outgoing, 0, len(t.entries))
	for _, o := range t.entries {
		out = append(out, o)
	}
	return out
}

// PendingBalance returns the sum of every tracked entry's change amount.
func (t *Table) PendingBalance() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total uint64
	for _, o := range t.entries {
		total += o.ChangeAmount
	}
	return total
}

// AgedOut returns the hashes of every entry whose SentAt + liveTimeSeconds
// has elapsed as of now.
func (t *Table) AgedOut(now uint64, liveTimeSeconds uint64) []cryptonote.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []cryptonote.Hash
	for hash, o := range t.entries {
		if o.SentAt+liveTimeSeconds < now {
			out = append(out, hash)
		}
	}
	return out
}

// Len reports the number of tracked entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
