package container

import (
	"testing"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

func fixedClock(t uint64) func() uint64 {
	return func() uint64 { return t }
}

func hashN(n byte) cryptonote.Hash {
	var h cryptonote.Hash
	h[0] = n
	return h
}

func imageN(n byte) cryptonote.KeyImage {
	var k cryptonote.KeyImage
	k[0] = n
	return k
}

func TestAddTransactionRejectsDuplicate(t *testing.T) {
	c := New(10, fixedClock(0))
	tx := hashN(1)
	out := Output{Amount: 100, KeyImage: imageN(1), Type: OutputKey}

	if err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, tx, []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, tx, []Output{out}, nil)
	if err == nil {
		t.Fatal("expected AlreadyExists on duplicate insertion")
	}
}

func TestAddTransactionOrderViolation(t *testing.T) {
	c := New(10, fixedClock(0))
	out := Output{Amount: 100, KeyImage: imageN(1), Type: OutputKey}

	if err := c.AddTransaction(BlockInfo{Height: 100, TxIndex: 1}, hashN(1), []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	out2 := Output{Amount: 200, KeyImage: imageN(2), Type: OutputKey}
	err := c.AddTransaction(BlockInfo{Height: 99, TxIndex: 0}, hashN(2), []Output{out2}, nil)
	if err == nil {
		t.Fatal("expected OrderViolation for a confirmed tx inserted below an existing one")
	}
}

func TestUnlockedBalanceAndSoftLockFrontier(t *testing.T) {
	c := New(10, fixedClock(0))
	out := Output{Amount: 1000, KeyImage: imageN(1), Type: OutputKey, UnlockTime: 0}

	if err := c.AddTransaction(BlockInfo{Height: 50, TxIndex: 0}, hashN(1), []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	c.AdvanceHeight(50)

	if got := c.Balance(MaskUnlocked, MaskAllTypes); got != 0 {
		t.Fatalf("expected 0 unlocked balance before spendable age, got %d", got)
	}
	if got := c.Balance(MaskSoftLocked, MaskAllTypes); got != 1000 {
		t.Fatalf("expected 1000 soft-locked, got %d", got)
	}

	// Output confirmed at height 50 with age 10 becomes unlocked exactly at
	// advance_height(60).
	c.AdvanceHeight(59)
	if got := c.Balance(MaskUnlocked, MaskAllTypes); got != 0 {
		t.Fatalf("expected still locked at height 59, got unlocked %d", got)
	}
	c.AdvanceHeight(60)
	if got := c.Balance(MaskUnlocked, MaskAllTypes); got != 1000 {
		t.Fatalf("expected 1000 unlocked at height 60, got %d", got)
	}
}

func TestInvariant4DeleteUnconfirmedRestoresPreState(t *testing.T) {
	c := New(10, fixedClock(0))
	tx := hashN(1)
	out := Output{Amount: 500, KeyImage: imageN(1), Type: OutputKey}

	before := c.Balance(MaskAllStates, MaskAllTypes)
	if err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, tx, []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := c.DeleteUnconfirmedTransaction(tx); err != nil {
		t.Fatalf("DeleteUnconfirmedTransaction: %v", err)
	}
	after := c.Balance(MaskAllStates, MaskAllTypes)
	if before != after {
		t.Fatalf("balance not restored: before=%d after=%d", before, after)
	}
	if len(c.GetOutputs(MaskAllStates, MaskAllTypes)) != 0 {
		t.Fatal("expected no tracked outputs after delete")
	}
}

func TestInvariant5DetachAtCreationHeightRestoresPreState(t *testing.T) {
	c := New(10, fixedClock(0))
	tx := hashN(1)
	out := Output{Amount: 500, KeyImage: imageN(1), Type: OutputKey}

	if err := c.AddTransaction(BlockInfo{Height: 100, TxIndex: 0}, tx, []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	removed := c.Detach(100)
	if len(removed) != 1 || removed[0] != tx {
		t.Fatalf("expected tx to be removed by detach at its own height, got %v", removed)
	}
	if len(c.GetOutputs(MaskAllStates, MaskAllTypes)) != 0 {
		t.Fatal("expected no tracked outputs after detach")
	}
}

func TestDetachAtHeightPlusOnePreservesTx(t *testing.T) {
	c := New(10, fixedClock(0))
	tx := hashN(1)
	out := Output{Amount: 500, KeyImage: imageN(1), Type: OutputKey}

	if err := c.AddTransaction(BlockInfo{Height: 100, TxIndex: 0}, tx, []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	removed := c.Detach(101)
	if len(removed) != 0 {
		t.Fatalf("expected detach above the tx height to preserve it, removed %v", removed)
	}
	if _, ok := c.GetTransactionInformation(tx); !ok {
		t.Fatal("expected tx to still be tracked")
	}
}

func TestDetachClearsSpentMarkOfRemovedSpendingTx(t *testing.T) {
	c := New(10, fixedClock(0))
	img := imageN(1)
	fundingOut := Output{Amount: 1000, KeyImage: img, Type: OutputKey}

	if err := c.AddTransaction(BlockInfo{Height: 10, TxIndex: 0}, hashN(1), []Output{fundingOut}, nil); err != nil {
		t.Fatalf("AddTransaction(funding): %v", err)
	}
	spendTx := hashN(2)
	spendOut := Output{Amount: 10, KeyImage: imageN(2), Type: OutputKey}
	if err := c.AddTransaction(BlockInfo{Height: 20, TxIndex: 0}, spendTx, []Output{spendOut}, []cryptonote.KeyImage{img}); err != nil {
		t.Fatalf("AddTransaction(spend): %v", err)
	}

	c.AdvanceHeight(20)
	if got := c.Balance(MaskSpent, MaskAllTypes); got != 1000 {
		t.Fatalf("expected funding output spent, got spent balance %d", got)
	}

	c.Detach(20)
	if got := c.Balance(MaskSpent, MaskAllTypes); got != 0 {
		t.Fatalf("expected spent mark cleared after detaching the spending tx, got %d", got)
	}
}

func TestKeyImageCollisionBothUnconfirmedAreHidden(t *testing.T) {
	c := New(10, fixedClock(0))
	img := imageN(1)
	out1 := Output{Amount: 100, KeyImage: img, Type: OutputKey}
	out2 := Output{Amount: 200, KeyImage: img, Type: OutputKey}

	if err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, hashN(1), []Output{out1}, nil); err != nil {
		t.Fatalf("AddTransaction(1): %v", err)
	}
	if err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, hashN(2), []Output{out2}, nil); err != nil {
		t.Fatalf("AddTransaction(2): %v", err)
	}
	if got := c.Balance(MaskAllStates, MaskAllTypes); got != 0 {
		t.Fatalf("expected both colliding unconfirmed outputs hidden from balance, got %d", got)
	}

	if err := c.DeleteUnconfirmedTransaction(hashN(2)); err != nil {
		t.Fatalf("DeleteUnconfirmedTransaction: %v", err)
	}
	if got := c.Balance(MaskAllStates, MaskAllTypes); got != 100 {
		t.Fatalf("expected surviving output visible after sibling removed, got %d", got)
	}
}

func TestKeyImageCollisionConfirmedWinsOverUnconfirmed(t *testing.T) {
	c := New(10, fixedClock(0))
	img := imageN(1)
	unconfirmed := Output{Amount: 100, KeyImage: img, Type: OutputKey}
	confirmed := Output{Amount: 200, KeyImage: img, Type: OutputKey}

	if err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, hashN(1), []Output{unconfirmed}, nil); err != nil {
		t.Fatalf("AddTransaction(unconfirmed): %v", err)
	}
	if err := c.AddTransaction(BlockInfo{Height: 5, TxIndex: 0}, hashN(2), []Output{confirmed}, nil); err != nil {
		t.Fatalf("AddTransaction(confirmed): %v", err)
	}

	outs := c.GetOutputs(MaskAllStates, MaskAllTypes)
	if len(outs) != 1 {
		t.Fatalf("expected exactly one visible output, got %d", len(outs))
	}
	if outs[0].Amount != 200 {
		t.Fatalf("expected the confirmed output to be the visible one, got amount %d", outs[0].Amount)
	}
}

func TestKeyImageCollisionConfirmedConfirmedConflicts(t *testing.T) {
	c := New(10, fixedClock(0))
	img := imageN(1)
	first := Output{Amount: 100, KeyImage: img, Type: OutputMultisig}
	second := Output{Amount: 200, KeyImage: img, Type: OutputMultisig}

	if err := c.AddTransaction(BlockInfo{Height: 5, TxIndex: 0}, hashN(1), []Output{first}, nil); err != nil {
		t.Fatalf("AddTransaction(first): %v", err)
	}
	err := c.AddTransaction(BlockInfo{Height: 6, TxIndex: 0}, hashN(2), []Output{second}, nil)
	if err == nil {
		t.Fatal("expected KeyImageConflict for two confirmed outputs sharing a key image")
	}

	// No partial mutation: the second tx must not be tracked at all.
	if _, ok := c.GetTransactionInformation(hashN(2)); ok {
		t.Fatal("conflicting transaction must not be tracked after rejection")
	}
}

func TestMarkTransactionConfirmedAssignsGlobalIndices(t *testing.T) {
	c := New(10, fixedClock(0))
	tx := hashN(1)
	out := Output{Amount: 100, KeyImage: imageN(1), Type: OutputKey, GlobalIndex: cryptonote.UNCONFIRMED}

	if err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, tx, []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := c.MarkTransactionConfirmed(BlockInfo{Height: 10, TxIndex: 0}, tx, []uint32{42}); err != nil {
		t.Fatalf("MarkTransactionConfirmed: %v", err)
	}

	outs := c.GetOutputs(MaskAllStates, MaskAllTypes)
	if len(outs) != 1 || outs[0].GlobalIndex != 42 {
		t.Fatalf("expected global index 42 assigned, got %+v", outs)
	}
}

func TestMarkTransactionConfirmedWrongIndexCountFails(t *testing.T) {
	c := New(10, fixedClock(0))
	tx := hashN(1)
	out := Output{Amount: 100, KeyImage: imageN(1), Type: OutputKey}
	if err := c.AddTransaction(BlockInfo{Height: cryptonote.UNCONFIRMED}, tx, []Output{out}, nil); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := c.MarkTransactionConfirmed(BlockInfo{Height: 10, TxIndex: 0}, tx, nil); err == nil {
		t.Fatal("expected an error when global index count mismatches output count")
	}
}
