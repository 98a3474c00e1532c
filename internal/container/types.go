// Package container implements the Transfers Container: the authoritative
// in-memory ledger of this wallet's outputs, keyed by key-image, with an
// explicit Locked/SoftLocked/Unlocked/Spent state machine and the
// collision-tolerant handling CryptoNote key-images require.
package container

import (
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// OutputType distinguishes ordinary one-time outputs from multisig outputs.
type OutputType int

const (
	OutputKey OutputType = iota
	OutputMultisig
)

func (t OutputType) String() string {
	if t == OutputMultisig {
		return "Multisig"
	}
	return "Key"
}

// State is one of the four mutually exclusive output states.
type State int

const (
	Locked State = iota
	SoftLocked
	Unlocked
	Spent
)

func (s State) String() string {
	switch s {
	case Locked:
		return "Locked"
	case SoftLocked:
		return "SoftLocked"
	case Unlocked:
		return "Unlocked"
	case Spent:
		return "Spent"
	default:
		return "Unknown"
	}
}

// BlockInfo identifies a tx's position in the chain, or its absence from one.
type BlockInfo struct {
	// Height is cryptonote.UNCONFIRMED for a pool/unconfirmed transaction.
	Height uint32
	// TxIndex is the transaction's position within its block, used to
	// enforce strictly monotonic confirmed insertion order.
	TxIndex   uint32
	Timestamp uint64
}

func (b BlockInfo) Unconfirmed() bool { return b.Height == cryptonote.UNCONFIRMED }

// order returns a value comparable across BlockInfos: higher means later in
// the chain. Only meaningful when both are confirmed.
func (b BlockInfo) order() uint64 {
	return uint64(b.Height)<<32 | uint64(b.TxIndex)
}

// Output is a single tracked output of this wallet.
type Output struct {
	Amount      uint64
	TxHash      cryptonote.Hash
	IndexInTx   uint32
	GlobalIndex uint32 // cryptonote.UNCONFIRMED until assigned
	Pub         cryptonote.PublicKey
	TxPublicKey cryptonote.PublicKey // the owning tx's one-time public key, needed to re-derive this output's spend secret
	KeyImage    cryptonote.KeyImage
	Type        OutputType
	BlockHeight uint32 // cryptonote.UNCONFIRMED if unconfirmed
	Timestamp   uint64
	UnlockTime  uint64

	// Hidden marks an output that lost a key-image collision race; it is
	// excluded from balance and selection until the collision resolves.
	Hidden bool
}

func (o Output) Unconfirmed() bool { return o.BlockHeight == cryptonote.UNCONFIRMED }

// SpentMark records that a tracked output has been consumed.
type SpentMark struct {
	SpendingTxHash   cryptonote.Hash
	SpendingHeight   uint32 // cryptonote.UNCONFIRMED if the spending tx is unconfirmed
	SpendingTxIndex  uint32
}

// InputReference identifies an input of a transaction inserted via
// AddTransaction: the key-image it spends.
type InputReference struct {
	KeyImage cryptonote.KeyImage
}

// StateMask and TypeMask filter Balance/GetOutputs queries.
type StateMask uint8

const (
	MaskLocked StateMask = 1 << iota
	MaskSoftLocked
	MaskUnlocked
	MaskSpent
)

const MaskAllStates = MaskLocked | MaskSoftLocked | MaskUnlocked | MaskSpent

type TypeMask uint8

const (
	MaskKey TypeMask = 1 << iota
	MaskMultisig
)

const MaskAllTypes = MaskKey | MaskMultisig

func (m StateMask) includes(s State) bool {
	switch s {
	case Locked:
		return m&MaskLocked != 0
	case SoftLocked:
		return m&MaskSoftLocked != 0
	case Unlocked:
		return m&MaskUnlocked != 0
	case Spent:
		return m&MaskSpent != 0
	}
	return false
}

func (m TypeMask) includes(t OutputType) bool {
	switch t {
	case OutputKey:
		return m&MaskKey != 0
	case OutputMultisig:
		return m&MaskMultisig != 0
	}
	return false
}
