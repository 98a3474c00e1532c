// Package sender implements the Transfer Sender: given a spend request, it
// selects inputs, fetches ring-mixin decoys from the Node, splits
// destinations and change into clean digits, builds and signs the
// transaction, and atomically updates the Container, the Unconfirmed
// Transactions Table, and the Cache before relaying.
//
// A Sender holds no state between calls: every Send builds a private
// sendContext that is discarded when the call returns, per spec.md §3's
// ownership rule.
package sender

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/cryptonote-go/walletengine/internal/cache"
	"github.com/cryptonote-go/walletengine/internal/config"
	"github.com/cryptonote-go/walletengine/internal/container"
	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/node"
	"github.com/cryptonote-go/walletengine/internal/txcodec"
	"github.com/cryptonote-go/walletengine/internal/unconfirmed"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/internal/walletkeys"
	"github.com/cryptonote-go/walletengine/pkg/logging"
)

// Destination is one payment the transaction must make.
type Destination struct {
	Address string
	Amount  uint64
}

// Message is an optional encrypted plaintext note addressed to one of the
// transaction's destinations, carried in tx extra (supplemented feature,
// SPEC_FULL.md §5.1).
type Message struct {
	Address   string
	Plaintext []byte
}

// SendRequest is the full input to a Send call.
type SendRequest struct {
	Destinations []Destination
	Fee          uint64
	Extra        []byte
	Mixin        uint64
	UnlockTime   uint64
	Messages     []Message
	// PaymentID, if set, is written into tx extra as a tag-0x02 TLV.
	PaymentID *[32]byte
}

// SendResult reports the outcome of a successful Send.
type SendResult struct {
	TxHash     cryptonote.Hash
	WalletTxID uint64
	TxBytes    []byte
}

// Listener receives the commit-boundary events a send produces (spec.md §5
// / §4.4's atomic commit steps 4 and 5).
type Listener interface {
	BalanceChanged()
	SendTransactionCompleted(walletTxID uint64, err error)
}

// Sender is stateless between calls. All of its fields are read-only
// collaborators; the per-send working state lives entirely in sendContext.
type Sender struct {
	node        node.Node
	container   *container.Container
	cache       *cache.Cache
	unconfirmed *unconfirmed.Table
	keys        walletkeys.AccountKeys
	crypto      cryptonote.Crypto
	cfg         *config.Config
	listener    Listener
	log         *logging.Logger
	rng         *mrand.Rand
	now         func() uint64
}

// New returns a Sender seeded from the system CSPRNG.
func New(n node.Node, c *container.Container, ch *cache.Cache, unc *unconfirmed.Table, keys walletkeys.AccountKeys, crypto cryptonote.Crypto, cfg *config.Config, listener Listener, log *logging.Logger) *Sender {
	var seedBuf [8]byte
	_, _ = rand.Read(seedBuf[:])
	seed := int64(binary.LittleEndian.Uint64(seedBuf[:]))
	return NewWithSeed(n, c, ch, unc, keys, crypto, cfg, listener, log, seed)
}

// NewWithSeed returns a Sender whose input-selection shuffle is deterministic
// for a given seed, for reproducible tests.
func NewWithSeed(n node.Node, c *container.Container, ch *cache.Cache, unc *unconfirmed.Table, keys walletkeys.AccountKeys, crypto cryptonote.Crypto, cfg *config.Config, listener Listener, log *logging.Logger, seed int64) *Sender {
	if log == nil {
		log = logging.GetDefault()
	}
	return &Sender{
		node:        n,
		container:   c,
		cache:       ch,
		unconfirmed: unc,
		keys:        keys,
		crypto:      crypto,
		cfg:         cfg,
		listener:    listener,
		log:         log.Component("sender"),
		rng:         mrand.New(mrand.NewSource(seed)),
		now:         func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the wall-clock source Send uses to stamp a new
// transaction's send time, for deterministic tests.
func (s *Sender) SetClock(now func() uint64) { s.now = now }

// sendContext holds the intermediate state of a single Send call; it never
// outlives the call that created it.
type sendContext struct {
	selected  []container.Output
	rings     []ringPlan
	txKeypair cryptonote.KeyPair
	prefix    txcodec.Prefix
	changeOut []container.Output // change outputs this wallet will track
	total     uint64             // sum of destination amounts
	required  uint64             // total + fee
}

// Send validates req, builds and signs a transaction spending this wallet's
// unlocked outputs, and relays it, per spec.md §4.4.
func (s *Sender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	sc, err := s.validate(req)
	if err != nil {
		return SendResult{}, err
	}

	if err := s.selectAndBuildRings(ctx, sc, req); err != nil {
		return SendResult{}, err
	}

	if err := s.buildAndSign(sc, req); err != nil {
		return SendResult{}, err
	}

	txBytes, err := txcodec.SerializeFull(txcodec.Transaction{Prefix: sc.prefix, Signatures: ringSignatures(sc)})
	if err != nil {
		return SendResult{}, walleterr.Wrap(walleterr.InternalError, "serialize transaction", err)
	}
	if uint64(len(txBytes)) >= s.cfg.UpperTransactionSizeLimit {
		return SendResult{}, walleterr.New(walleterr.TransactionSizeTooBig, fmt.Sprintf("serialized transaction is %d bytes, limit is %d", len(txBytes), s.cfg.UpperTransactionSizeLimit))
	}

	txHash, err := txcodec.PrefixHash(sc.prefix)
	if err != nil {
		return SendResult{}, walleterr.Wrap(walleterr.InternalError, "hash transaction prefix", err)
	}

	return s.commit(ctx, sc, req, txHash, txBytes)
}

func ringSignatures(sc *sendContext) []cryptonote.RingSignature {
	sigs := make([]cryptonote.RingSignature, len(sc.rings))
	for i, r := range sc.rings {
		sigs[i] = r.sig
	}
	return sigs
}
