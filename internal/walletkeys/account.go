// Package walletkeys holds account key material and the CryptoNote address
// codec: generating a spend/view keypair, deriving a public address, and
// parsing one back.
package walletkeys

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// AccountKeys is the full keypair set identifying a wallet: a spend keypair
// controlling outputs, and a view keypair scanning for them.
type AccountKeys struct {
	SpendPublic cryptonote.PublicKey
	SpendSecret cryptonote.SecretKey
	ViewPublic  cryptonote.PublicKey
	ViewSecret  cryptonote.SecretKey
}

// NewAccount generates a fresh spend/view keypair set.
func NewAccount(crypto cryptonote.Crypto) (AccountKeys, error) {
	spend, err := crypto.GenerateKeypair()
	if err != nil {
		return AccountKeys{}, fmt.Errorf("walletkeys: generate spend keypair: %w", err)
	}
	view, err := crypto.GenerateKeypair()
	if err != nil {
		return AccountKeys{}, fmt.Errorf("walletkeys: generate view keypair: %w", err)
	}
	return AccountKeys{
		SpendPublic: spend.Public,
		SpendSecret: spend.Secret,
		ViewPublic:  view.Public,
		ViewSecret:  view.Secret,
	}, nil
}

// NewMnemonic returns a fresh BIP-39 mnemonic usable as deterministic seed
// material for an account. CryptoNote accounts are traditionally recovered
// from a 25-word "electrum style" seed; this engine instead derives both
// keypairs from one BIP-39 entropy source since go-bip39 is already in the
// example corpus's dependency set and needs no bespoke wordlist handling.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("walletkeys: generate mnemonic entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("walletkeys: build mnemonic: %w", err)
	}
	return mnemonic, nil
}

// NewAccountFromMnemonic rebuilds the deterministic seed from a BIP-39
// mnemonic (optionally passphrase-protected) and splits it into the spend
// and view scalars CryptoNote requires: the spend keypair comes directly
// from the seed, and the view keypair is derived from cn_slow_hash(spend
// secret), mirroring how CryptoNote view keys are derived from the spend
// secret in the original implementation.
func NewAccountFromMnemonic(crypto cryptonote.Crypto, mnemonic, passphrase string) (AccountKeys, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return AccountKeys{}, fmt.Errorf("walletkeys: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)

	spendSecret, err := cryptonote.ReduceToScalar(seed)
	if err != nil {
		return AccountKeys{}, fmt.Errorf("walletkeys: reduce spend seed: %w", err)
	}
	spendPublic, err := crypto.PublicFromSecret(spendSecret)
	if err != nil {
		return AccountKeys{}, fmt.Errorf("walletkeys: derive spend public key: %w", err)
	}

	viewSeed := crypto.CnSlowHash(spendSecret[:])
	viewSecret, err := cryptonote.ReduceToScalar(viewSeed[:])
	if err != nil {
		return AccountKeys{}, fmt.Errorf("walletkeys: reduce view seed: %w", err)
	}
	viewPublic, err := crypto.PublicFromSecret(viewSecret)
	if err != nil {
		return AccountKeys{}, fmt.Errorf("walletkeys: derive view public key: %w", err)
	}

	return AccountKeys{
		SpendPublic: spendPublic,
		SpendSecret: spendSecret,
		ViewPublic:  viewPublic,
		ViewSecret:  viewSecret,
	}, nil
}
