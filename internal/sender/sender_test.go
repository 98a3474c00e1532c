package sender

import (
	"context"
	"testing"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/config"
	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/node"
	"github.com/cryptonote-go/walletengine/internal/unconfirmed"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
)

func fixedClock(t uint64) func() uint64 { return func() uint64 { return t } }

// fakeNode is a minimal in-memory node.Node for exercising Send without a
// real daemon. GetRandomOutputs hands back decoyCount freshly generated
// candidate keys per requested amount; RelayErr, when set, makes
// RelayTransaction fail so commit's rollback path can be exercised.
type fakeNode struct {
	crypto     cryptonote.Crypto
	decoyCount int
	RelayErr   error
	Relayed    [][]byte
}

func (f *fakeNode) QueryBlocks(ctx context.Context, known []cryptonote.Hash, ts uint64) (node.QueryBlocksResult, error) {
	return node.QueryBlocksResult{}, nil
}

func (f *fakeNode) GetTxOutsGlobalIndices(ctx context.Context, txHash cryptonote.Hash) ([]uint32, error) {
	return nil, nil
}

func (f *fakeNode) GetRandomOutputs(ctx context.Context, amounts []uint64, outsPerAmount uint16) ([]node.AmountOutputs, error) {
	result := make([]node.AmountOutputs, len(amounts))
	for i, amt := range amounts {
		outs := make([]node.RandomOutput, 0, f.decoyCount)
		for j := 0; j < f.decoyCount; j++ {
			kp, err := f.crypto.GenerateKeypair()
			if err != nil {
				return nil, err
			}
			outs = append(outs, node.RandomOutput{GlobalIndex: uint32(9000 + j), PublicKey: kp.Public})
		}
		result[i] = node.AmountOutputs{Amount: amt, Outputs: outs}
	}
	return result, nil
}

func (f *fakeNode) RelayTransaction(ctx context.Context, tx []byte) error {
	if f.RelayErr != nil {
		return f.RelayErr
	}
	f.Relayed = append(f.Relayed, tx)
	return nil
}

func (f *fakeNode) GetPoolSymmetricDifference(ctx context.Context, known []cryptonote.Hash, tail cryptonote.Hash) (node.PoolDiffResult, error) {
	return node.PoolDiffResult{}, nil
}

func (f *fakeNode) GetBlockHashesByTimestamps(ctx context.Context, begin uint64, seconds uint64) ([]cryptonote.Hash, error) {
	return nil, nil
}

func (f *fakeNode) GetTransactionHashesByPaymentID(ctx context.Context, id [32]byte) ([]cryptonote.Hash, error) {
	return nil, nil
}

func (f *fakeNode) Subscribe(ctx context.Context, obs node.Observer) (func(), error) {
	return func() {}, nil
}

// testFixture wires a Sender against a funded Container for one account,
// with a second account to address destinations at.
type testFixture struct {
	crypto  cryptonote.Crypto
	keys    walletkeys.AccountKeys
	destKey walletkeys.AccountKeys
	cont    *container.Container
	cache   *cache.Cache
	unc     *unconfirmed.Table
	cfg     *config.Config
	node    *fakeNode
	sender  *Sender
}

// addOutput mints a spendable output of amount owned by f.keys, confirmed
// at height 1, far more than spendableAge blocks below the container's
// current height (see newFixture), so it reads as unlocked, and returns it.
func (f *testFixture) addOutput(t *testing.T, amount uint64, globalIndex uint32) container.Output {
	t.Helper()
	txKeypair, err := f.crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate tx keypair: %v", err)
	}
	pub, err := f.crypto.DerivePublic(f.keys.ViewSecret, f.keys.SpendPublic, txKeypair.Public, 0)
	if err != nil {
		t.Fatalf("derive output public key: %v", err)
	}
	secret, err := f.crypto.DeriveSecret(f.keys.ViewSecret, txKeypair.Public, 0, f.keys.SpendSecret)
	if err != nil {
		t.Fatalf("derive output secret: %v", err)
	}
	image, err := f.crypto.KeyImageOf(secret, pub)
	if err != nil {
		t.Fatalf("compute key image: %v", err)
	}

	var txHash cryptonote.Hash
	txHash[0] = byte(globalIndex)
	txHash[1] = byte(globalIndex >> 8)

	out := container.Output{
		Amount:      amount,
		TxHash:      txHash,
		IndexInTx:   0,
		GlobalIndex: globalIndex,
		Pub:         pub,
		TxPublicKey: txKeypair.Public,
		KeyImage:    image,
		Type:        container.OutputKey,
	}
	if err := f.cont.AddTransaction(container.BlockInfo{Height: 1, TxIndex: globalIndex}, txHash, []container.Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	return out
}

func newFixture(t *testing.T, decoyCount int) *testFixture {
	t.Helper()
	crypto := cryptonote.New()

	keys, err := walletkeys.NewAccount(crypto)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	destKey, err := walletkeys.NewAccount(crypto)
	if err != nil {
		t.Fatalf("NewAccount (dest): %v", err)
	}

	cont := container.New(10, fixedClock(1000))
	cont.AdvanceHeight(100) // outputs confirmed at height 1 are long unlocked

	cfg := config.Default()
	cfg.DustThreshold = 10
	cfg.UpperTransactionSizeLimit = 1_000_000
	cfg.DustAddToFee = true

	n := &fakeNode{crypto: crypto, decoyCount: decoyCount}

	f := &testFixture{
		crypto:  crypto,
		keys:    keys,
		destKey: destKey,
		cont:    cont,
		cache:   cache.New(),
		unc:     unconfirmed.New(),
		cfg:     cfg,
		node:    n,
	}
	f.sender = NewWithSeed(n, cont, f.cache, f.unc, keys, crypto, cfg, nil, nil, 1)
	f.sender.SetClock(fixedClock(2000))
	return f
}

func (f *testFixture) destAddress() string {
	return walletkeys.EncodeAddress(0x17, f.destKey.SpendPublic, f.destKey.ViewPublic)
}

func TestSendExactBalanceSucceeds(t *testing.T) {
	f := newFixture(t, 0)
	f.addOutput(t, 1000, 1)

	const fee = 10
	res, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: f.destAddress(), Amount: 990}},
		Fee:          fee,
		Mixin:        0,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.WalletTxID == 0 && len(f.node.Relayed) == 0 {
		t.Fatal("expected transaction to be relayed")
	}
	if len(f.node.Relayed) != 1 {
		t.Fatalf("expected exactly one relayed transaction, got %d", len(f.node.Relayed))
	}
	if _, ok := f.unc.Lookup(res.TxHash); !ok {
		t.Fatal("expected the send to be tracked as pending")
	}
	if got := f.cont.Balance(container.MaskUnlocked, container.MaskKey); got != 0 {
		t.Fatalf("expected the spent input to leave no unlocked balance, got %d", got)
	}
}

func TestSendInsufficientFundsOneOverBoundary(t *testing.T) {
	f := newFixture(t, 0)
	f.addOutput(t, 1000, 1)

	const fee = 10
	// unlocked balance (1000) - fee (10) = 990 is exactly spendable; one more
	// must fail with InsufficientFunds and leave no trace behind.
	_, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: f.destAddress(), Amount: 991}},
		Fee:          fee,
		Mixin:        0,
	})
	if code, _ := walleterr.CodeOf(err); code != walleterr.InsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if f.unc.Len() != 0 {
		t.Fatalf("expected no pending transaction recorded on failure, got %d", f.unc.Len())
	}
	if len(f.node.Relayed) != 0 {
		t.Fatal("expected nothing relayed on a failed validation")
	}
}

func TestSendMixinZeroUsesTrackedOutputAsSoleRingMember(t *testing.T) {
	f := newFixture(t, 0)
	f.addOutput(t, 500, 1)

	res, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: f.destAddress(), Amount: 490}},
		Fee:          10,
		Mixin:        0,
	})
	if err != nil {
		t.Fatalf("Send with mixin 0: %v", err)
	}
	if res.TxHash == (cryptonote.Hash{}) {
		t.Fatal("expected a non-zero transaction hash")
	}
}

func TestSendMixinCountTooBigWhenNodeLacksDecoys(t *testing.T) {
	f := newFixture(t, 1) // only one decoy candidate available per amount
	f.addOutput(t, 500, 1)

	_, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: f.destAddress(), Amount: 480}},
		Fee:          10,
		Mixin:        4, // requires 4 decoys; node only has 1
	})
	if code, _ := walleterr.CodeOf(err); code != walleterr.MixinCountTooBig {
		t.Fatalf("expected MixinCountTooBig, got %v", err)
	}
	if f.unc.Len() != 0 {
		t.Fatalf("expected no pending transaction recorded on a ring-build failure, got %d", f.unc.Len())
	}
}

func TestSendRelayFailureRollsBackState(t *testing.T) {
	f := newFixture(t, 0)
	f.addOutput(t, 1000, 1)
	f.node.RelayErr = walleterr.New(walleterr.NetworkError, "connection refused")

	before := f.cont.Balance(container.MaskAllStates, container.MaskKey)

	_, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: f.destAddress(), Amount: 990}},
		Fee:          10,
		Mixin:        0,
	})
	if code, _ := walleterr.CodeOf(err); code != walleterr.NetworkError {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if f.unc.Len() != 0 {
		t.Fatalf("expected the pending entry to be rolled back, got %d entries", f.unc.Len())
	}
	after := f.cont.Balance(container.MaskAllStates, container.MaskKey)
	if before != after {
		t.Fatalf("expected container balance restored after rollback: before=%d after=%d", before, after)
	}
}

func TestSendZeroDestinations(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.sender.Send(context.Background(), SendRequest{Fee: 10})
	if code, _ := walleterr.CodeOf(err); code != walleterr.ZeroDestination {
		t.Fatalf("expected ZeroDestination, got %v", err)
	}
}

func TestSendZeroAmountDestination(t *testing.T) {
	f := newFixture(t, 0)
	f.addOutput(t, 1000, 1)
	_, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: f.destAddress(), Amount: 0}},
		Fee:          10,
	})
	if code, _ := walleterr.CodeOf(err); code != walleterr.WrongAmount {
		t.Fatalf("expected WrongAmount, got %v", err)
	}
}

func TestSendBadAddress(t *testing.T) {
	f := newFixture(t, 0)
	f.addOutput(t, 1000, 1)
	_, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: "not-a-real-address", Amount: 100}},
		Fee:          10,
	})
	if code, _ := walleterr.CodeOf(err); code != walleterr.BadAddress {
		t.Fatalf("expected BadAddress, got %v", err)
	}
}

func TestDecompose(t *testing.T) {
	cases := []struct {
		amount uint64
		want   []uint64
	}{
		{0, nil},
		{4, []uint64{4}},
		{1234, []uint64{1000, 200, 30, 4}},
		{1000, []uint64{1000}},
		{90009, []uint64{90000, 9}},
	}
	for _, c := range cases {
		got := decompose(c.amount)
		if len(got) != len(c.want) {
			t.Fatalf("decompose(%d) = %v, want %v", c.amount, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("decompose(%d) = %v, want %v", c.amount, got, c.want)
			}
		}
	}
}

func TestCancelTransaction(t *testing.T) {
	f := newFixture(t, 0)
	f.addOutput(t, 1000, 1)

	res, err := f.sender.Send(context.Background(), SendRequest{
		Destinations: []Destination{{Address: f.destAddress(), Amount: 990}},
		Fee:          10,
		Mixin:        0,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := f.sender.CancelTransaction(res.TxHash); err != nil {
		t.Fatalf("CancelTransaction: %v", err)
	}
	if _, ok := f.unc.Lookup(res.TxHash); ok {
		t.Fatal("expected the cancelled transaction to no longer be pending")
	}
	if got := f.cont.Balance(container.MaskUnlocked, container.MaskKey); got != 1000 {
		t.Fatalf("expected the spent input restored to unlocked balance, got %d", got)
	}
}

func TestCancelTransactionNotPending(t *testing.T) {
	f := newFixture(t, 0)
	err := f.sender.CancelTransaction(cryptonote.Hash{1})
	if code, _ := walleterr.CodeOf(err); code != walleterr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
