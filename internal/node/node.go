// Package node defines the Node interface the Synchronizer and Sender use
// to reach the remote daemon, plus the types exchanged across it.
package node

import (
	"context"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// TxShortInfo is one transaction as it appears inside a BlockShortEntry.
type TxShortInfo struct {
	TxHash cryptonote.Hash
	TxRaw  []byte // empty if the caller already has this tx cached
}

// BlockShortEntry is one block in a query_blocks response. MaybeBlock is
// false when the daemon determined the caller already has this block's
// contents cached and only its hash is needed to walk the chain.
type BlockShortEntry struct {
	BlockHash  cryptonote.Hash
	MaybeBlock bool
	TxHashes   []cryptonote.Hash
	Txs        []TxShortInfo
}

// QueryBlocksResult is the response to query_blocks.
type QueryBlocksResult struct {
	StartHeight uint32
	Blocks      []BlockShortEntry
}

// RandomOutput is one candidate ring member returned by get_random_outputs.
type RandomOutput struct {
	GlobalIndex uint32
	PublicKey   cryptonote.PublicKey
}

// AmountOutputs groups the random outputs returned for one requested amount.
type AmountOutputs struct {
	Amount  uint64
	Outputs []RandomOutput
}

// TxReader is one transaction as returned from the mempool by
// get_pool_symmetric_difference.
type TxReader struct {
	TxHash cryptonote.Hash
	TxRaw  []byte
}

// PoolDiffResult is the response to get_pool_symmetric_difference.
type PoolDiffResult struct {
	IsBcActual bool
	NewTxs     []TxReader
	DeletedIDs []cryptonote.Hash
}

// Observer receives asynchronous notifications pushed by the Node,
// independent of any in-flight request/response call.
type Observer interface {
	PeerCountUpdated(count uint32)
	LocalHeightUpdated(height uint32)
	KnownHeightUpdated(height uint32)
	PoolChanged()
	BlockchainSynchronized(topHeight uint32)
	ChainSwitched(newTop uint32, commonRoot uint32, hashes []cryptonote.Hash)
}

// Node is the remote daemon's interface, as consumed by the Synchronizer
// and Sender. Every method blocks the calling goroutine until the daemon
// responds or ctx is done; callers run it behind the dispatcher so the rest
// of the wallet keeps making progress.
type Node interface {
	QueryBlocks(ctx context.Context, knownBlockHashes []cryptonote.Hash, timestamp uint64) (QueryBlocksResult, error)
	GetTxOutsGlobalIndices(ctx context.Context, txHash cryptonote.Hash) ([]uint32, error)
	GetRandomOutputs(ctx context.Context, amounts []uint64, outsPerAmount uint16) ([]AmountOutputs, error)
	RelayTransaction(ctx context.Context, tx []byte) error
	GetPoolSymmetricDifference(ctx context.Context, knownPoolIDs []cryptonote.Hash, tailBlock cryptonote.Hash) (PoolDiffResult, error)

	// GetBlockHashesByTimestamps returns the hashes of blocks whose
	// timestamp falls within [begin, begin+seconds), the server-side
	// counterpart INode.h exposes for timestamp-ranged history lookups.
	GetBlockHashesByTimestamps(ctx context.Context, begin uint64, seconds uint64) ([]cryptonote.Hash, error)

	// GetTransactionHashesByPaymentID returns every transaction hash the
	// daemon has indexed under id, the server-side counterpart to the
	// wallet-local PaymentIndex.
	GetTransactionHashesByPaymentID(ctx context.Context, id [32]byte) ([]cryptonote.Hash, error)

	// Subscribe registers obs to receive push notifications until ctx is
	// done or the returned cancel func is called.
	Subscribe(ctx context.Context, obs Observer) (cancel func(), err error)
}
