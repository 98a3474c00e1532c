package sync

import (
	"context"
	"fmt"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// PoolRound runs one iteration of the pool sync loop: it diffs the wallet's
// known mempool against the Node's, ingests newly seen transactions,
// retracts evicted ones, and sweeps aged-out unconfirmed sends.
func (s *Synchronizer) PoolRound(ctx context.Context, knownPoolIDs []cryptonote.Hash, nowUnix uint64, liveTimeSeconds uint64) error {
	if failed := s.Failed(); failed != nil {
		return failed
	}

	s.mu.Lock()
	var tail cryptonote.Hash
	if n := len(s.blockHashes); n > 0 {
		tail = s.blockHashes[n-1]
	}
	s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync: pool round cancelled: %w", err)
		}
		diff, err := s.node.GetPoolSymmetricDifference(ctx, knownPoolIDs, tail)
		if err != nil {
			return fmt.Errorf("sync: get_pool_symmetric_difference: %w", err)
		}
		if !diff.IsBcActual {
			s.mu.Lock()
			if n := len(s.blockHashes); n > 0 {
				tail = s.blockHashes[n-1]
			}
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		for _, id := range diff.DeletedIDs {
			s.handlePoolEvictionLocked(id)
		}
		var integrityErr error
		for _, tx := range diff.NewTxs {
			if err := s.ingestTransactionLocked(ingestParams{
				ctx:    ctx,
				height: cryptonote.UNCONFIRMED,
				txHash: tx.TxHash,
				raw:    tx.TxRaw,
			}); err != nil {
				if isIntegrityError(err) {
					integrityErr = err
					break
				}
				s.log.Warn("pool tx ingest failed", "tx", hashHex(tx.TxHash), "error", err)
			}
		}
		if integrityErr != nil {
			s.failed = integrityErr
		}
		s.mu.Unlock()

		if integrityErr != nil {
			s.log.Error("pool round aborted on integrity error", "error", integrityErr)
			if s.listener != nil {
				s.listener.SynchronizationFailed(integrityErr)
			}
			return integrityErr
		}

		s.sweepAgedOut(nowUnix, liveTimeSeconds)
		return nil
	}
}

// handlePoolEvictionLocked implements spec.md's deleted-id handling: an
// evicted UnconfirmedOutgoing is marked Deleted and its spent-marks undone;
// an evicted unconfirmed incoming is dropped from the Container and its
// Cache record marked Deleted.
func (s *Synchronizer) handlePoolEvictionLocked(txHash cryptonote.Hash) {
	if out, ok := s.unconfirmed.Lookup(txHash); ok {
		_ = s.cache.SetState(txHash, cache.Deleted)
		_ = s.container.DeleteUnconfirmedTransaction(txHash)
		s.unconfirmed.Erase(txHash)
		_ = out
		if s.listener != nil {
			s.listener.BalanceChanged()
		}
		return
	}
	_ = s.container.DeleteUnconfirmedTransaction(txHash)
	_ = s.cache.SetState(txHash, cache.Deleted)
}

// sweepAgedOut implements the unconfirmed-aging rule: any UnconfirmedOutgoing
// whose sentTime + live_time has elapsed is marked Deleted and its inputs
// unspent.
func (s *Synchronizer) sweepAgedOut(nowUnix uint64, liveTimeSeconds uint64) {
	for _, txHash := range s.unconfirmed.AgedOut(nowUnix, liveTimeSeconds) {
		s.mu.Lock()
		_ = s.container.DeleteUnconfirmedTransaction(txHash)
		s.mu.Unlock()
		_ = s.cache.SetState(txHash, cache.Deleted)
		s.unconfirmed.Erase(txHash)
		if s.listener != nil {
			s.listener.BalanceChanged()
		}
	}
}
