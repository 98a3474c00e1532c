// Package cryptonote implements the crypto facade of the CryptoNote wallet
// transfer engine: keypair generation, output-key derivation, key-image
// computation, ring signing/verification, and the symmetric/hash primitives
// the rest of the engine treats as a black box.
package cryptonote

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a 32-byte content hash, shared as the identifier type for blocks,
// transactions and payment ids across the engine.
type Hash = chainhash.Hash

// UNCONFIRMED is the sentinel used for block height and output global index
// fields that have no confirmed value yet.
const UNCONFIRMED uint32 = ^uint32(0)

// PublicKey is a 32-byte Ed25519-family public key.
type PublicKey [32]byte

// SecretKey is a 32-byte Ed25519-family secret scalar.
type SecretKey [32]byte

// KeyImage uniquely identifies the coin spent by a one-time secret key.
type KeyImage [32]byte

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }
func (k SecretKey) String() string { return hex.EncodeToString(k[:]) }
func (k KeyImage) String() string  { return hex.EncodeToString(k[:]) }

func (k PublicKey) IsZero() bool { return k == PublicKey{} }
func (k KeyImage) IsZero() bool  { return k == KeyImage{} }

// Signature is one ring member's (c, r) scalar pair of a ring signature.
type Signature struct {
	C [32]byte
	R [32]byte
}

// RingSignature is one signature per ring member, produced for a single
// transaction input.
type RingSignature []Signature

// KeyPair is a generated public/secret pair.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}
