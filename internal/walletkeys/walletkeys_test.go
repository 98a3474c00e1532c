package walletkeys

import (
	"testing"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

func TestNewAccountProducesUsableKeys(t *testing.T) {
	crypto := cryptonote.New()
	acct, err := NewAccount(crypto)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	if acct.SpendPublic.IsZero() || acct.ViewPublic.IsZero() {
		t.Fatal("generated account has a zero public key")
	}
	if acct.SpendSecret == acct.ViewSecret {
		t.Fatal("spend and view secrets must differ")
	}
}

func TestNewAccountFromMnemonicDeterministic(t *testing.T) {
	crypto := cryptonote.New()
	mnemonic, err := NewMnemonic()
	if err != nil {
		t.Fatalf("NewMnemonic: %v", err)
	}

	acct1, err := NewAccountFromMnemonic(crypto, mnemonic, "")
	if err != nil {
		t.Fatalf("NewAccountFromMnemonic: %v", err)
	}
	acct2, err := NewAccountFromMnemonic(crypto, mnemonic, "")
	if err != nil {
		t.Fatalf("NewAccountFromMnemonic: %v", err)
	}
	if acct1 != acct2 {
		t.Fatal("the same mnemonic must reproduce the same account")
	}

	acct3, err := NewAccountFromMnemonic(crypto, mnemonic, "a passphrase")
	if err != nil {
		t.Fatalf("NewAccountFromMnemonic with passphrase: %v", err)
	}
	if acct1 == acct3 {
		t.Fatal("a different passphrase must change the derived account")
	}
}

func TestNewAccountFromMnemonicRejectsInvalid(t *testing.T) {
	crypto := cryptonote.New()
	if _, err := NewAccountFromMnemonic(crypto, "not a real mnemonic phrase at all", ""); err == nil {
		t.Fatal("expected an error for an invalid mnemonic")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	crypto := cryptonote.New()
	acct, err := NewAccount(crypto)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	addr := EncodeAddress(DefaultAddressTag, acct.SpendPublic, acct.ViewPublic)
	if addr == "" {
		t.Fatal("EncodeAddress returned an empty string")
	}

	tag, spendPub, viewPub, err := DecodeAddress(addr)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if tag != DefaultAddressTag {
		t.Fatalf("tag = %d, want %d", tag, DefaultAddressTag)
	}
	if spendPub != acct.SpendPublic {
		t.Fatal("decoded spend public key does not match the encoded one")
	}
	if viewPub != acct.ViewPublic {
		t.Fatal("decoded view public key does not match the encoded one")
	}
}

func TestDecodeAddressRejectsCorruption(t *testing.T) {
	crypto := cryptonote.New()
	acct, err := NewAccount(crypto)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	addr := EncodeAddress(DefaultAddressTag, acct.SpendPublic, acct.ViewPublic)

	corrupted := []byte(addr)
	// Flip the last character to a different valid base58 character.
	last := corrupted[len(corrupted)-1]
	for _, c := range []byte(base58Alphabet) {
		if c != last {
			corrupted[len(corrupted)-1] = c
			break
		}
	}
	if _, _, _, err := DecodeAddress(string(corrupted)); err == nil {
		t.Fatal("expected a checksum error for a corrupted address")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, _, _, err := DecodeAddress("not-a-valid-address!!"); err == nil {
		t.Fatal("expected an error decoding a non-base58 string")
	}
}
