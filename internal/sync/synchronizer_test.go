package sync

import (
	"context"
	"testing"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/node"
	"github.com/cryptonote-go/walletengine/internal/txcodec"
	"github.com/cryptonote-go/walletengine/internal/unconfirmed"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
)

type fakeNode struct {
	blocksQueue  [][]node.BlockShortEntry
	startHeights []uint32
	call         int

	globalIndices []uint32
	poolDiff      node.PoolDiffResult
}

func (f *fakeNode) QueryBlocks(ctx context.Context, known []cryptonote.Hash, ts uint64) (node.QueryBlocksResult, error) {
	if f.call >= len(f.blocksQueue) {
		return node.QueryBlocksResult{}, nil
	}
	res := node.QueryBlocksResult{StartHeight: f.startHeights[f.call], Blocks: f.blocksQueue[f.call]}
	f.call++
	return res, nil
}

func (f *fakeNode) GetTxOutsGlobalIndices(ctx context.Context, txHash cryptonote.Hash) ([]uint32, error) {
	return f.globalIndices, nil
}

func (f *fakeNode) GetRandomOutputs(ctx context.Context, amounts []uint64, outsPerAmount uint16) ([]node.AmountOutputs, error) {
	return nil, nil
}

func (f *fakeNode) RelayTransaction(ctx context.Context, tx []byte) error { return nil }

func (f *fakeNode) GetPoolSymmetricDifference(ctx context.Context, known []cryptonote.Hash, tail cryptonote.Hash) (node.PoolDiffResult, error) {
	return f.poolDiff, nil
}

func (f *fakeNode) Subscribe(ctx context.Context, obs node.Observer) (func(), error) {
	return func() {}, nil
}

func (f *fakeNode) GetBlockHashesByTimestamps(ctx context.Context, begin uint64, seconds uint64) ([]cryptonote.Hash, error) {
	return nil, nil
}

func (f *fakeNode) GetTransactionHashesByPaymentID(ctx context.Context, id [32]byte) ([]cryptonote.Hash, error) {
	return nil, nil
}

type noopListener struct {
	balanceChanges int
	failures       int
	lastFailure    error
}

func (l *noopListener) SynchronizationProgress(uint32)  {}
func (l *noopListener) SynchronizationCompleted(uint32) {}
func (l *noopListener) SynchronizationFailed(err error) {
	l.failures++
	l.lastFailure = err
}
func (l *noopListener) BalanceChanged() { l.balanceChanges++ }

func buildOwnedTx(t *testing.T, acct walletkeys.AccountKeys, crypto cryptonote.Crypto, amount uint64) (cryptonote.Hash, []byte) {
	t.Helper()
	txKeys, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	outPub, err := crypto.DerivePublic(acct.ViewSecret, acct.SpendPublic, txKeys.Public, 0)
	if err != nil {
		t.Fatalf("DerivePublic: %v", err)
	}
	extra, err := txcodec.Encode(txcodec.Extra{TxPublicKey: txKeys.Public})
	if err != nil {
		t.Fatalf("Encode extra: %v", err)
	}
	prefix := txcodec.Prefix{
		Version: 1,
		Outputs: []txcodec.Output{{Amount: amount, Type: txcodec.OutKey, Key: outPub}},
		Extra:   extra,
	}
	raw, err := txcodec.Serialize(prefix)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	hash, err := txcodec.PrefixHash(prefix)
	if err != nil {
		t.Fatalf("PrefixHash: %v", err)
	}
	return hash, raw
}

func newTestWallet(t *testing.T) (*Synchronizer, walletkeys.AccountKeys, *container.Container, *cache.Cache, *fakeNode, *noopListener) {
	t.Helper()
	crypto := cryptonote.New()
	acct, err := walletkeys.NewAccount(crypto)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	c := container.New(10, func() uint64 { return 1000 })
	ch := cache.New()
	unc := unconfirmed.New()
	fn := &fakeNode{}
	listener := &noopListener{}
	s := New(fn, c, ch, unc, acct, crypto, listener, nil)
	return s, acct, c, ch, fn, listener
}

func TestSyncOnceIngestsOwnedOutput(t *testing.T) {
	s, acct, c, ch, fn, listener := newTestWallet(t)
	txHash, raw := buildOwnedTx(t, acct, cryptonote.New(), 5000)

	fn.blocksQueue = [][]node.BlockShortEntry{
		{{BlockHash: hashN(1), Txs: []node.TxShortInfo{{TxHash: txHash, TxRaw: raw}}}},
	}
	fn.startHeights = []uint32{0}
	fn.globalIndices = []uint32{42}

	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if got := c.Balance(container.MaskAllStates, container.MaskAllTypes); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
	if _, ok := ch.GetTransaction(txHash); !ok {
		t.Fatal("expected cache to track the owned transaction")
	}
	if listener.balanceChanges == 0 {
		t.Fatal("expected BalanceChanged to be notified")
	}
}

func TestSyncOnceIgnoresForeignOutput(t *testing.T) {
	s, _, c, _, fn, _ := newTestWallet(t)
	crypto := cryptonote.New()
	foreign, err := walletkeys.NewAccount(crypto)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	txHash, raw := buildOwnedTx(t, foreign, crypto, 7000)

	fn.blocksQueue = [][]node.BlockShortEntry{
		{{BlockHash: hashN(1), Txs: []node.TxShortInfo{{TxHash: txHash, TxRaw: raw}}}},
	}
	fn.startHeights = []uint32{0}

	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if got := c.Balance(container.MaskAllStates, container.MaskAllTypes); got != 0 {
		t.Fatalf("balance = %d, want 0 for a foreign output", got)
	}
}

// TestSyncOnceConfirmsAlreadyTrackedUnconfirmedTx covers the change-output
// promotion path: a tx already tracked unconfirmed (as our own send's change
// output would be, via commit.go) must be promoted via
// mark_transaction_confirmed when a block re-sights it, not re-inserted via
// add_transaction. A plain AddTransaction would return AlreadyExists and
// strand the output at Height=UNCONFIRMED forever.
func TestSyncOnceConfirmsAlreadyTrackedUnconfirmedTx(t *testing.T) {
	s, acct, c, ch, fn, listener := newTestWallet(t)
	txHash, raw := buildOwnedTx(t, acct, cryptonote.New(), 5000)

	s.mu.Lock()
	err := s.ingestTransactionLocked(ingestParams{
		ctx:    context.Background(),
		height: cryptonote.UNCONFIRMED,
		txHash: txHash,
		raw:    raw,
	})
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("ingest unconfirmed: %v", err)
	}
	if err := s.unconfirmed.Insert(unconfirmed.Outgoing{TxHash: txHash, SentAt: 1000}); err != nil {
		t.Fatalf("unconfirmed.Insert: %v", err)
	}
	if info, ok := c.GetTransactionInformation(txHash); !ok || !info.Unconfirmed() {
		t.Fatalf("expected tx tracked unconfirmed before the block arrives, got %+v ok=%v", info, ok)
	}

	fn.blocksQueue = [][]node.BlockShortEntry{
		{{BlockHash: hashN(1), Txs: []node.TxShortInfo{{TxHash: txHash, TxRaw: raw}}}},
	}
	fn.startHeights = []uint32{0}
	fn.globalIndices = []uint32{42}

	if err := s.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	info, ok := c.GetTransactionInformation(txHash)
	if !ok {
		t.Fatal("expected tx to remain tracked after confirmation")
	}
	if info.Unconfirmed() {
		t.Fatal("expected mark_transaction_confirmed to clear the unconfirmed height, not add_transaction to re-add it")
	}
	if _, ok := s.unconfirmed.Lookup(txHash); ok {
		t.Fatal("expected the unconfirmed outgoing entry to be erased on confirmation")
	}
	if got := c.Balance(container.MaskAllStates, container.MaskAllTypes); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
	if listener.failures != 0 {
		t.Fatalf("expected no SynchronizationFailed, got %d (%v)", listener.failures, listener.lastFailure)
	}
	if wtx, ok := ch.GetTransaction(txHash); !ok || wtx.BlockHeight == cryptonote.UNCONFIRMED {
		t.Fatalf("expected the cache record confirmed too, got %+v ok=%v", wtx, ok)
	}
}

func hashN(n byte) cryptonote.Hash {
	var h cryptonote.Hash
	h[0] = n
	return h
}
