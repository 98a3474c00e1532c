// Package engine wires the Transfers Container, the User Transactions
// Cache, the Unconfirmed Transactions Table, the Transfer Sender, and the
// Synchronizer together behind a single Wallet type, all of it serialized
// through one dispatcher goroutine, matching the cooperative single-writer
// model spec.md §5 describes.
package engine

import (
	"context"
	"fmt"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/config"
	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/dispatcher"
	"github.com/cryptonote-go/walletengine/internal/historydb"
	"github.com/cryptonote-go/walletengine/internal/node"
	"github.com/cryptonote-go/walletengine/internal/sender"
	"github.com/cryptonote-go/walletengine/internal/sync"
	"github.com/cryptonote-go/walletengine/internal/txcodec"
	"github.com/cryptonote-go/walletengine/internal/unconfirmed"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/internal/walletfile"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
	"github.com/cryptonote-go/walletengine/pkg/logging"
)

// Listener receives every wallet-facing event the engine produces,
// composing sync.Listener and sender.Listener into the one interface a UI
// or RPC layer needs to implement.
type Listener interface {
	SynchronizationProgress(height uint32)
	SynchronizationCompleted(height uint32)
	SynchronizationFailed(err error)
	BalanceChanged()
	SendTransactionCompleted(walletTxID uint64, err error)
}

// Wallet is the engine's top-level handle: every exported method either
// runs entirely on the caller's goroutine (pure reads against
// mutex-guarded collaborators) or is routed through the dispatcher when it
// mutates cross-component state.
type Wallet struct {
	cfg    *config.Config
	keys   walletkeys.AccountKeys
	crypto cryptonote.Crypto
	node   node.Node
	log    *logging.Logger

	dispatcher  *dispatcher.Dispatcher
	container   *container.Container
	cache       *cache.Cache
	unconfirmed *unconfirmed.Table
	sender      *sender.Sender
	sync        *sync.Synchronizer

	history *historydb.DB // optional secondary index, nil unless EnableHistory succeeds
}

// New constructs a Wallet around a fresh (empty) Container, Cache, and
// Unconfirmed Table. Use Load to restore one from a wallet file instead.
func New(cfg *config.Config, keys walletkeys.AccountKeys, crypto cryptonote.Crypto, n node.Node, listener Listener, log *logging.Logger) *Wallet {
	if log == nil {
		log = logging.GetDefault()
	}
	now := func() uint64 { return uint64(timeNowUnix()) }

	cont := container.New(cfg.SpendableAge, now)
	ch := cache.New()
	unc := unconfirmed.New()

	w := &Wallet{
		cfg:         cfg,
		keys:        keys,
		crypto:      crypto,
		node:        n,
		log:         log.Component("engine"),
		dispatcher:  dispatcher.New(256, log),
		container:   cont,
		cache:       ch,
		unconfirmed: unc,
	}
	w.sender = sender.New(n, cont, ch, unc, keys, crypto, cfg, listener, log)
	w.sync = sync.New(n, cont, ch, unc, keys, crypto, listener, log)
	return w
}

// Run starts the dispatcher's drain loop; it blocks until ctx is done.
func (w *Wallet) Run(ctx context.Context) {
	w.dispatcher.Run(ctx)
}

// EnableHistory opens (creating if needed) a sqlite-backed secondary index
// of this wallet's transaction history at path, mirrored from the Cache
// after every dispatcher-driven mutation. The Cache remains authoritative;
// history only makes it queryable by payment id or height range without
// replaying the chain.
func (w *Wallet) EnableHistory(path string) error {
	db, err := historydb.Open(path)
	if err != nil {
		return err
	}
	w.history = db
	return w.mirrorHistory()
}

// CloseHistory releases the secondary index's database handle, if open.
func (w *Wallet) CloseHistory() error {
	if w.history == nil {
		return nil
	}
	err := w.history.Close()
	w.history = nil
	return err
}

// mirrorHistory replays the Cache's current contents into the history
// index. It is a no-op unless EnableHistory has been called.
func (w *Wallet) mirrorHistory() error {
	if w.history == nil {
		return nil
	}
	txs, transfers := w.cache.Snapshot()
	byTx := make(map[uint64][]cache.Transfer, len(txs))
	for _, tr := range transfers {
		byTx[tr.TxID] = append(byTx[tr.TxID], tr)
	}
	for _, wtx := range txs {
		var paymentID *cache.PaymentID
		if pid, ok := paymentIDFromExtra(wtx.Extra); ok {
			paymentID = &pid
		}
		if err := w.history.UpsertTransaction(wtx, byTx[wtx.ID], paymentID); err != nil {
			return fmt.Errorf("engine: mirror history: %w", err)
		}
	}
	return nil
}

// FindTransactionsInRange queries the history index for every transaction
// confirmed in [from, to], for wallets with EnableHistory active.
func (w *Wallet) FindTransactionsInRange(from, to uint32) ([]cache.WalletTransaction, error) {
	if w.history == nil {
		return nil, walleterr.New(walleterr.NotInitialized, "history index is not enabled")
	}
	return w.history.InRange(from, to)
}

// FindHistoryByPaymentID queries the on-disk history index directly. Unlike
// the in-memory PaymentIndex, which holds only Active, confirmed
// transactions, the index returns every mirrored transaction whose extra
// carries the payment id, whatever its state or confirmation.
func (w *Wallet) FindHistoryByPaymentID(id cache.PaymentID) ([]historydb.Record, error) {
	if w.history == nil {
		return nil, walleterr.New(walleterr.NotInitialized, "history index is not enabled")
	}
	return w.history.ByPaymentID(id)
}

// Send builds, signs, and relays a transaction, serialized through the
// dispatcher so it never races a concurrent SyncOnce/PoolRound.
func (w *Wallet) Send(ctx context.Context, req sender.SendRequest) (sender.SendResult, error) {
	var result sender.SendResult
	err := w.dispatcher.Call(ctx, func() error {
		var sendErr error
		result, sendErr = w.sender.Send(ctx, req)
		if sendErr != nil {
			return sendErr
		}
		return w.mirrorHistory()
	})
	return result, err
}

// CancelTransaction actively retracts a still-pending outgoing transaction.
func (w *Wallet) CancelTransaction(ctx context.Context, txHash cryptonote.Hash) error {
	return w.dispatcher.Call(ctx, func() error {
		if err := w.sender.CancelTransaction(txHash); err != nil {
			return err
		}
		return w.mirrorHistory()
	})
}

// SyncOnce runs one round of chain synchronization.
func (w *Wallet) SyncOnce(ctx context.Context) error {
	return w.dispatcher.Call(ctx, func() error {
		if err := w.sync.SyncOnce(ctx); err != nil {
			return err
		}
		return w.mirrorHistory()
	})
}

// PoolRound runs one round of mempool synchronization and unconfirmed aging.
func (w *Wallet) PoolRound(ctx context.Context, nowUnix uint64) error {
	return w.dispatcher.Call(ctx, func() error {
		known := make([]cryptonote.Hash, 0, w.unconfirmed.Len())
		for _, o := range w.unconfirmed.All() {
			known = append(known, o.TxHash)
		}
		if err := w.sync.PoolRound(ctx, known, nowUnix, uint64(w.cfg.MempoolTxLiveTime.Seconds())); err != nil {
			return err
		}
		return w.mirrorHistory()
	})
}

// GetBalance returns the wallet's unlocked and total (all-state) balances
// of ordinary key outputs.
func (w *Wallet) GetBalance() (unlocked, total uint64) {
	return w.container.Balance(container.MaskUnlocked, container.MaskKey),
		w.container.Balance(container.MaskAllStates, container.MaskKey)
}

// FindTransactionsByPaymentIDRemote looks up id in the local PaymentIndex
// first and, for any gap, cross-checks the remote Node's payment-id index
// — the supplemented getTransactionHashesByPaymentId path for wallets
// running against a pruned local cache.
func (w *Wallet) FindTransactionsByPaymentIDRemote(ctx context.Context, id cache.PaymentID) ([]cryptonote.Hash, error) {
	local := w.cache.FindTransactionsByPaymentID(id)
	if len(local) > 0 {
		hashes := make([]cryptonote.Hash, 0, len(local))
		for _, txID := range local {
			if wtx, ok := w.cache.GetTransactionByID(txID); ok {
				hashes = append(hashes, wtx.Hash)
			}
		}
		return hashes, nil
	}
	return w.node.GetTransactionHashesByPaymentID(ctx, id)
}

// Save encrypts the wallet's keys and, if detailed is true, a snapshot of
// its Container and Cache, into path under password.
func (w *Wallet) Save(path, password string, detailed bool) error {
	var cacheBlob []byte
	if detailed {
		snap, err := w.snapshot()
		if err != nil {
			return err
		}
		cacheBlob = snap
	}
	return walletfile.Save(path, password, walletfile.File{
		Keys: walletfile.Keys{
			SpendPublic: w.keys.SpendPublic,
			SpendSecret: w.keys.SpendSecret,
			ViewPublic:  w.keys.ViewPublic,
			ViewSecret:  w.keys.ViewSecret,
			CreatedAt:   uint64(timeNowUnix()),
		},
		HasDetails: detailed,
		Cache:      cacheBlob,
	}, w.crypto)
}

// ChangePassword re-derives the wallet file's cipher key without touching
// plaintext state.
func ChangePassword(path, oldPassword, newPassword string, crypto cryptonote.Crypto) error {
	return walletfile.ChangePassword(path, oldPassword, newPassword, crypto)
}

// Load decrypts path under password and rebuilds a Wallet from it.
func Load(path, password string, cfg *config.Config, crypto cryptonote.Crypto, n node.Node, listener Listener, log *logging.Logger) (*Wallet, error) {
	f, err := walletfile.Load(path, password, crypto)
	if err != nil {
		return nil, err
	}
	keys := walletkeys.AccountKeys{
		SpendPublic: f.Keys.SpendPublic,
		SpendSecret: f.Keys.SpendSecret,
		ViewPublic:  f.Keys.ViewPublic,
		ViewSecret:  f.Keys.ViewSecret,
	}
	w := New(cfg, keys, crypto, n, listener, log)
	if f.HasDetails && len(f.Cache) > 0 {
		if err := w.restore(f.Cache); err != nil {
			return nil, walleterr.Wrap(walleterr.InternalError, "restore wallet snapshot", err)
		}
	}
	return w, nil
}

type walletSnapshot struct {
	Outputs      []container.TxSnapshot
	Transactions []cache.WalletTransaction
	Transfers    []cache.Transfer
	Pending      []unconfirmed.Outgoing
}

func (w *Wallet) snapshot() ([]byte, error) {
	txs, transfers := w.cache.Snapshot()
	snap := walletSnapshot{
		Outputs:      w.container.Snapshot(),
		Transactions: txs,
		Transfers:    transfers,
		Pending:      w.unconfirmed.All(),
	}
	return marshalSnapshot(snap)
}

func (w *Wallet) restore(blob []byte) error {
	snap, err := unmarshalSnapshot(blob)
	if err != nil {
		return err
	}
	if err := w.container.Restore(snap.Outputs); err != nil {
		return fmt.Errorf("engine: restore container: %w", err)
	}
	w.cache.Restore(snap.Transactions, snap.Transfers, paymentIDFromExtra)
	for _, o := range snap.Pending {
		if err := w.unconfirmed.Insert(o); err != nil {
			return fmt.Errorf("engine: restore unconfirmed table: %w", err)
		}
	}
	return nil
}

func paymentIDFromExtra(extra []byte) (cache.PaymentID, bool) {
	parsed, err := txcodec.Decode(extra)
	if err != nil || !parsed.HasPaymentID {
		return cache.PaymentID{}, false
	}
	return cache.PaymentID(parsed.PaymentID), true
}
