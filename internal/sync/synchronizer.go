// Package sync drives the Container and Cache from the remote Node: it
// downloads blocks, scans their transactions against the wallet's view key,
// detaches on reorg, and keeps the pool view up to date.
package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/node"
	"github.com/cryptonote-go/walletengine/internal/txcodec"
	"github.com/cryptonote-go/walletengine/internal/unconfirmed"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
	"github.com/cryptonote-go/walletengine/pkg/logging"
)

// Listener receives the wallet-facing events the synchronizer produces,
// distinct from the Node's own push notifications (see internal/node).
type Listener interface {
	SynchronizationProgress(height uint32)
	SynchronizationCompleted(height uint32)
	// SynchronizationFailed notifies the user observer that a sync round
	// was aborted by a Container integrity error (KeyImageConflict,
	// OrderViolation) and that the synchronizer will not make further
	// progress until ResetFailed is called.
	SynchronizationFailed(err error)
	BalanceChanged()
}

// Synchronizer owns the chain-sync and pool-sync loops described in
// spec.md §4.5. It must only be driven from the wallet's dispatcher
// goroutine; it performs no internal locking of its own beyond what's
// needed to let Pool and Synchronizer share state safely.
type Synchronizer struct {
	node        node.Node
	container   *container.Container
	cache       *cache.Cache
	unconfirmed *unconfirmed.Table
	keys        walletkeys.AccountKeys
	crypto      cryptonote.Crypto
	listener    Listener
	log         *logging.Logger

	mu          sync.Mutex
	blockHashes []cryptonote.Hash // dense, index = height
	failed      error             // set when an integrity error aborted a round; nil = healthy
}

// New returns a Synchronizer wired to the given collaborators.
func New(n node.Node, c *container.Container, ch *cache.Cache, unc *unconfirmed.Table, keys walletkeys.AccountKeys, crypto cryptonote.Crypto, listener Listener, log *logging.Logger) *Synchronizer {
	if log == nil {
		log = logging.GetDefault()
	}
	return &Synchronizer{
		node:        n,
		container:   c,
		cache:       ch,
		unconfirmed: unc,
		keys:        keys,
		crypto:      crypto,
		listener:    listener,
		log:         log.Component("sync"),
	}
}

// thinnedHistory returns, most-recent-first, the indices of a sparse chain
// of known block hashes: the last 10 heights, then every power-of-two
// stride back to genesis.
func thinnedHistory(n int) []int {
	if n == 0 {
		return nil
	}
	var idxs []int
	i := n - 1
	step := 1
	count := 0
	for i > 0 {
		idxs = append(idxs, i)
		count++
		if count >= 10 {
			step *= 2
		}
		i -= step
	}
	idxs = append(idxs, 0)
	return idxs
}

func (s *Synchronizer) historyHashesLocked() []cryptonote.Hash {
	idxs := thinnedHistory(len(s.blockHashes))
	out := make([]cryptonote.Hash, len(idxs))
	for i, idx := range idxs {
		out[i] = s.blockHashes[idx]
	}
	return out
}

// Failed reports the integrity error that aborted the synchronizer's last
// round, if it is currently in the Failed state.
func (s *Synchronizer) Failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// ResetFailed clears the Failed state, letting SyncOnce resume. Callers
// should only do this once the underlying inconsistency has been dealt
// with (e.g. by reloading the wallet from its last persisted snapshot).
func (s *Synchronizer) ResetFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = nil
}

// SyncOnce runs one round of the chain sync loop: it fetches new blocks
// past the wallet's known tip, detaching on any hash mismatch, and scans
// every transaction in every new block. It returns once the Node reports no
// further blocks.
func (s *Synchronizer) SyncOnce(ctx context.Context) error {
	if failed := s.Failed(); failed != nil {
		return failed
	}
	for {
		more, err := s.syncRound(ctx)
		if err != nil {
			if isIntegrityError(err) {
				s.mu.Lock()
				s.failed = err
				s.mu.Unlock()
				s.log.Error("sync round aborted on integrity error", "error", err)
				if s.listener != nil {
					s.listener.SynchronizationFailed(err)
				}
			}
			return err
		}
		if !more {
			break
		}
	}
	s.mu.Lock()
	height := uint32(len(s.blockHashes))
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.SynchronizationCompleted(height)
	}
	return nil
}

// isIntegrityError reports whether err signals a Container-level integrity
// violation (spec.md §7: "must abort the current sync round"), as opposed
// to a tolerable or transient condition.
func isIntegrityError(err error) bool {
	code, ok := walleterr.CodeOf(err)
	return ok && (code == walleterr.KeyImageConflict || code == walleterr.OrderViolation)
}

func (s *Synchronizer) syncRound(ctx context.Context) (bool, error) {
	s.mu.Lock()
	history := s.historyHashesLocked()
	knownLen := len(s.blockHashes)
	s.mu.Unlock()

	result, err := s.node.QueryBlocks(ctx, history, 0)
	if err != nil {
		return false, fmt.Errorf("sync: query_blocks: %w", err)
	}
	if len(result.Blocks) == 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range result.Blocks {
		height := result.StartHeight + uint32(i)
		if int(height) < knownLen {
			if s.blockHashes[height] != entry.BlockHash {
				s.detachLocked(height)
				return true, nil
			}
			continue
		}

		if err := s.scanBlockLocked(ctx, height, entry); err != nil {
			return false, err
		}
		s.blockHashes = append(s.blockHashes, entry.BlockHash)
		s.container.AdvanceHeight(height)
	}

	if s.listener != nil {
		s.listener.SynchronizationProgress(uint32(len(s.blockHashes)))
	}
	return len(result.Blocks) > 0, nil
}

func (s *Synchronizer) detachLocked(height uint32) {
	s.log.Warn("chain reorg detected, detaching", "height", height)
	hashes := s.container.Detach(height)
	for _, h := range hashes {
		_ = s.cache.RemoveOnDetach(h)
	}
	if int(height) < len(s.blockHashes) {
		s.blockHashes = s.blockHashes[:height]
	}
	if s.listener != nil {
		s.listener.BalanceChanged()
	}
}

func (s *Synchronizer) scanBlockLocked(ctx context.Context, height uint32, entry node.BlockShortEntry) error {
	for txIndex, tx := range entry.Txs {
		isBase := txIndex == 0
		if err := s.ingestTransactionLocked(ingestParams{
			ctx:       ctx,
			height:    height,
			txIndex:   uint32(txIndex),
			timestamp: 0,
			txHash:    tx.TxHash,
			raw:       tx.TxRaw,
			isBase:    isBase,
		}); err != nil {
			return err
		}
	}
	return nil
}

type ingestParams struct {
	ctx       context.Context
	height    uint32 // cryptonote.UNCONFIRMED for pool transactions
	txIndex   uint32
	timestamp uint64
	txHash    cryptonote.Hash
	raw       []byte
	isBase    bool
}

// ingestTransactionLocked scans one transaction's outputs against the
// wallet's view key, records any matches in the Container and Cache, and
// propagates spends for any input key image the Container already tracks.
// Callers must hold s.mu.
func (s *Synchronizer) ingestTransactionLocked(p ingestParams) error {
	prefix, err := txcodec.Deserialize(p.raw)
	if err != nil {
		return fmt.Errorf("sync: deserialize tx %s: %w", hashHex(p.txHash), err)
	}
	extra, err := txcodec.Decode(prefix.Extra)
	if err != nil {
		return fmt.Errorf("sync: decode extra of tx %s: %w", hashHex(p.txHash), err)
	}

	block := container.BlockInfo{Height: p.height, TxIndex: p.txIndex, Timestamp: p.timestamp}

	var matched []container.Output
	var transfers []cache.TransferInput
	var totalReceived int64

	for i, out := range prefix.Outputs {
		if out.Type != txcodec.OutKey {
			continue
		}
		candidate, err := s.crypto.DerivePublic(s.keys.ViewSecret, s.keys.SpendPublic, extra.TxPublicKey, uint32(i))
		if err != nil || candidate != out.Key {
			continue
		}
		oneTimeSecret, err := s.crypto.DeriveSecret(s.keys.ViewSecret, extra.TxPublicKey, uint32(i), s.keys.SpendSecret)
		if err != nil {
			return fmt.Errorf("sync: derive one-time secret for tx %s output %d: %w", hashHex(p.txHash), i, err)
		}
		image, err := s.crypto.KeyImageOf(oneTimeSecret, out.Key)
		if err != nil {
			return fmt.Errorf("sync: key image for tx %s output %d: %w", hashHex(p.txHash), i, err)
		}

		o := container.Output{
			Amount:      out.Amount,
			IndexInTx:   uint32(i),
			GlobalIndex: cryptonote.UNCONFIRMED,
			Pub:         out.Key,
			TxPublicKey: extra.TxPublicKey,
			KeyImage:    image,
			Type:        container.OutputKey,
			UnlockTime:  prefix.UnlockTime,
		}
		matched = append(matched, o)
		totalReceived += int64(out.Amount)
	}

	var inputImages []cryptonote.KeyImage
	for _, in := range prefix.Inputs {
		inputImages = append(inputImages, in.KeyImage)
	}

	if len(matched) == 0 && len(inputImages) == 0 {
		return nil
	}

	if !block.Unconfirmed() {
		indices, err := s.node.GetTxOutsGlobalIndices(p.ctx, p.txHash)
		if err == nil && len(indices) == len(prefix.Outputs) {
			for i := range matched {
				matched[i].GlobalIndex = indices[matched[i].IndexInTx]
			}
		}
	}

	// A tx already tracked unconfirmed (our own send's change output, or
	// any incoming tx first seen in the pool) that now appears in a
	// confirmed block is promoted via mark_transaction_confirmed rather
	// than re-added, per spec.md §4.5 chain-sync step 2. Re-adding it would
	// leave the Container record pinned at Height=UNCONFIRMED forever and,
	// for our own sends, strand the UnconfirmedOutgoing entry so the aging
	// sweep later unspends inputs that are already confirmed-spent.
	priorBlock, tracked := s.container.GetTransactionInformation(p.txHash)
	if tracked && priorBlock.Unconfirmed() && !block.Unconfirmed() {
		globalIndices := make([]uint32, len(matched))
		for i, o := range matched {
			globalIndices[i] = o.GlobalIndex
		}
		if err := s.container.MarkTransactionConfirmed(block, p.txHash, globalIndices); err != nil {
			if isIntegrityError(err) {
				return fmt.Errorf("sync: mark_transaction_confirmed integrity failure for tx %s: %w", hashHex(p.txHash), err)
			}
			s.log.Warn("container mark_transaction_confirmed rejected", "tx", hashHex(p.txHash), "error", err)
		} else {
			s.unconfirmed.Erase(p.txHash)
		}
	} else if err := s.container.AddTransaction(block, p.txHash, matched, inputImages); err != nil {
		if isIntegrityError(err) {
			return fmt.Errorf("sync: add_transaction integrity failure for tx %s: %w", hashHex(p.txHash), err)
		}
		s.log.Warn("container add_transaction rejected", "tx", hashHex(p.txHash), "error", err)
	}

	if len(matched) > 0 {
		var paymentID *cache.PaymentID
		if extra.HasPaymentID {
			pid := cache.PaymentID(extra.PaymentID)
			paymentID = &pid
		}
		for _, o := range matched {
			transfers = append(transfers, cache.TransferInput{Address: "", Amount: o.Amount})
		}
		if _, ok := s.cache.GetTransaction(p.txHash); !ok {
			_, err = s.cache.InsertTransaction(cache.NewTransactionInput{
				Hash:        p.txHash,
				TotalAmount: totalReceived,
				BlockHeight: block.Height,
				Timestamp:   block.Timestamp,
				UnlockTime:  prefix.UnlockTime,
				IsBase:      p.isBase,
				Extra:       prefix.Extra,
				Transfers:   transfers,
				PaymentID:   paymentID,
			})
			if err != nil {
				s.log.Warn("cache insert_transaction rejected", "tx", hashHex(p.txHash), "error", err)
			}
		} else if !block.Unconfirmed() {
			_ = s.cache.ConfirmTransaction(p.txHash, block.Height, block.Timestamp, paymentID)
		}
		if s.listener != nil {
			s.listener.BalanceChanged()
		}
	}

	return nil
}

func hashHex(h cryptonote.Hash) string { return h.String() }
