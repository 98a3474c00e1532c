package cache

import (
	"testing"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

func hashN(n byte) cryptonote.Hash {
	var h cryptonote.Hash
	h[0] = n
	return h
}

func paymentIDN(n byte) PaymentID {
	var p PaymentID
	p[0] = n
	return p
}

func TestInsertTransactionRejectsDuplicate(t *testing.T) {
	c := New()
	in := NewTransactionInput{Hash: hashN(1), TotalAmount: 100, BlockHeight: cryptonote.UNCONFIRMED}
	if _, err := c.InsertTransaction(in); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if _, err := c.InsertTransaction(in); err == nil {
		t.Fatal("expected AlreadyExists on duplicate hash")
	}
}

func TestTransferAccounting(t *testing.T) {
	c := New()
	in := NewTransactionInput{
		Hash:        hashN(1),
		TotalAmount: -110,
		Fee:         10,
		BlockHeight: cryptonote.UNCONFIRMED,
		Transfers: []TransferInput{
			{Address: "addrBob", Amount: 100},
		},
	}
	id, err := c.InsertTransaction(in)
	if err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}

	transfers := c.GetTransfers(id)
	if len(transfers) != 1 || transfers[0].Amount != 100 || transfers[0].Address != "addrBob" {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}

	wtx, ok := c.GetTransactionByID(id)
	if !ok {
		t.Fatal("expected transaction to be found by id")
	}
	if wtx.TotalAmount != -110 {
		t.Fatalf("TotalAmount = %d, want -110", wtx.TotalAmount)
	}
}

func TestPaymentIndexOnlyIndexesActiveConfirmed(t *testing.T) {
	c := New()
	pid := paymentIDN(0xde)

	in := NewTransactionInput{
		Hash:        hashN(1),
		TotalAmount: 500,
		BlockHeight: cryptonote.UNCONFIRMED,
		Extra:       []byte{0x02, 0x01, 0x00},
		PaymentID:   &pid,
	}
	id, err := c.InsertTransaction(in)
	if err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}

	if got := c.FindTransactionsByPaymentID(pid); len(got) != 0 {
		t.Fatalf("expected no payment index entry while unconfirmed, got %v", got)
	}

	if err := c.ConfirmTransaction(hashN(1), 100, 1000, &pid); err != nil {
		t.Fatalf("ConfirmTransaction: %v", err)
	}
	got := c.FindTransactionsByPaymentID(pid)
	if len(got) != 1 || got[0] != id {
		t.Fatalf("FindTransactionsByPaymentID = %v, want [%d]", got, id)
	}

	if err := c.SetState(hashN(1), Deleted); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if got := c.FindTransactionsByPaymentID(pid); len(got) != 0 {
		t.Fatalf("expected payment index entry retracted after deletion, got %v", got)
	}

	wtx, ok := c.GetTransactionByID(id)
	if !ok || wtx.State != Deleted {
		t.Fatalf("expected tx %d to remain retrievable by id with state Deleted", id)
	}
}

func TestRemoveOnDetachRetractsHashLookup(t *testing.T) {
	c := New()
	in := NewTransactionInput{Hash: hashN(1), TotalAmount: 10, BlockHeight: 50}
	if _, err := c.InsertTransaction(in); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := c.RemoveOnDetach(hashN(1)); err != nil {
		t.Fatalf("RemoveOnDetach: %v", err)
	}
	if _, ok := c.GetTransaction(hashN(1)); ok {
		t.Fatal("expected hash lookup to fail after detach removal")
	}
}
