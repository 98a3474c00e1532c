package container

import (
	"sort"
	"sync"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
)

// unlockTimeIsTimestamp mirrors CryptoNote's convention: values below this
// are interpreted as a minimum block height, values at or above it as a
// minimum Unix timestamp.
const unlockTimeIsTimestamp = 500_000_000

type txRecord struct {
	hash        cryptonote.Hash
	block       BlockInfo
	outputs     []*Output
	spentImages []cryptonote.KeyImage
}

// Container is the Transfers Container: this wallet's ledger of tracked
// outputs, their spend status, and the confirmed/unconfirmed ordering rules
// that keep detach and reorg handling consistent.
type Container struct {
	mu sync.Mutex

	spendableAge uint32
	chainHeight  uint32
	now          func() uint64 // unix seconds; injectable for deterministic tests

	txs            map[cryptonote.Hash]*txRecord
	outputsByImage map[cryptonote.KeyImage][]*Output
	spent          map[cryptonote.KeyImage]SpentMark

	haveMaxConfirmedOrder bool
	maxConfirmedOrder     uint64
}

// New returns an empty Container. spendableAge is the number of
// confirmations (A) an output must clear before leaving SoftLocked, and now
// supplies wall-clock seconds for unlock-time evaluation.
func New(spendableAge uint32, now func() uint64) *Container {
	return &Container{
		spendableAge:   spendableAge,
		now:            now,
		txs:            make(map[cryptonote.Hash]*txRecord),
		outputsByImage: make(map[cryptonote.KeyImage][]*Output),
		spent:          make(map[cryptonote.KeyImage]SpentMark),
	}
}

// AddTransaction inserts the outputs produced by tx and, for any inputImages
// that match outputs this wallet already tracks, marks them spent.
func (c *Container) AddTransaction(block BlockInfo, txHash cryptonote.Hash, outputs []Output, inputImages []cryptonote.KeyImage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.txs[txHash]; exists {
		return walleterr.New(walleterr.AlreadyExists, "transaction already tracked")
	}
	if !block.Unconfirmed() && c.haveMaxConfirmedOrder && block.order() <= c.maxConfirmedOrder {
		return walleterr.New(walleterr.OrderViolation, "confirmed transaction arrived out of order")
	}

	planned := make([]*Output, len(outputs))
	for i := range outputs {
		o := outputs[i]
		o.TxHash = txHash
		o.BlockHeight = block.Height
		o.Timestamp = block.Timestamp
		planned[i] = &o
	}

	if err := c.checkCollisions(planned); err != nil {
		return err
	}

	rec := &txRecord{hash: txHash, block: block, outputs: planned}
	for _, o := range planned {
		c.outputsByImage[o.KeyImage] = append(c.outputsByImage[o.KeyImage], o)
	}
	c.resolveCollisions(planned)

	for _, img := range inputImages {
		if c.spendImage(img, txHash, block) {
			rec.spentImages = append(rec.spentImages, img)
		}
	}

	c.txs[txHash] = rec
	if !block.Unconfirmed() {
		c.haveMaxConfirmedOrder = true
		c.maxConfirmedOrder = block.order()
	}
	return nil
}

// MarkTransactionConfirmed promotes a previously unconfirmed tx to confirmed,
// assigning real global indices to its outputs in insertion order.
func (c *Container) MarkTransactionConfirmed(block BlockInfo, txHash cryptonote.Hash, globalIndices []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.txs[txHash]
	if !ok {
		return walleterr.New(walleterr.NotFound, "transaction not tracked")
	}
	if !rec.block.Unconfirmed() {
		return walleterr.New(walleterr.AlreadyExists, "transaction already confirmed")
	}
	if block.Unconfirmed() {
		return walleterr.New(walleterr.InternalError, "confirmation requires a confirmed block height")
	}
	if len(globalIndices) != len(rec.outputs) {
		return walleterr.New(walleterr.InternalError, "global index count does not match output count")
	}
	if c.haveMaxConfirmedOrder && block.order() <= c.maxConfirmedOrder {
		return walleterr.New(walleterr.OrderViolation, "confirmed transaction arrived out of order")
	}

	// Snapshot so a KeyImageConflict leaves the container untouched.
	prevHeight := rec.block.Height
	prevTimestamp := rec.block.Timestamp
	prevGlobal := make([]uint32, len(rec.outputs))
	for i, o := range rec.outputs {
		prevGlobal[i] = o.GlobalIndex
	}

	for i, o := range rec.outputs {
		o.BlockHeight = block.Height
		o.Timestamp = block.Timestamp
		o.GlobalIndex = globalIndices[i]
	}

	if err := c.checkCollisions(rec.outputs); err != nil {
		for i, o := range rec.outputs {
			o.BlockHeight = prevHeight
			o.Timestamp = prevTimestamp
			o.GlobalIndex = prevGlobal[i]
		}
		return err
	}
	c.resolveCollisions(rec.outputs)

	rec.block = block
	c.haveMaxConfirmedOrder = true
	c.maxConfirmedOrder = block.order()
	return nil
}

// DeleteUnconfirmedTransaction removes an unconfirmed tx and its outputs,
// unspending any inputs it had marked.
func (c *Container) DeleteUnconfirmedTransaction(txHash cryptonote.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.txs[txHash]
	if !ok {
		return walleterr.New(walleterr.NotFound, "transaction not tracked")
	}
	if !rec.block.Unconfirmed() {
		return walleterr.New(walleterr.InternalError, "cannot delete a confirmed transaction as unconfirmed")
	}
	c.removeTx(rec)
	return nil
}

// Detach removes every tx with blockHeight >= height and returns their
// hashes. Unconfirmed transactions are preserved.
func (c *Container) Detach(height uint32) []cryptonote.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []cryptonote.Hash
	for hash, rec := range c.txs {
		if rec.block.Unconfirmed() || rec.block.Height < height {
			continue
		}
		c.removeTx(rec)
		removed = append(removed, hash)
	}

	c.haveMaxConfirmedOrder = false
	c.maxConfirmedOrder = 0
	for _, rec := range c.txs {
		if rec.block.Unconfirmed() {
			continue
		}
		if !c.haveMaxConfirmedOrder || rec.block.order() > c.maxConfirmedOrder {
			c.haveMaxConfirmedOrder = true
			c.maxConfirmedOrder = rec.block.order()
		}
	}
	return removed
}

// removeTx unwinds a tx's effect on the ledger: its outputs are dropped and
// any SpentMark it created is cleared, restoring the spent output (if still
// tracked) to unspent, and un-hiding a collision survivor if any.
func (c *Container) removeTx(rec *txRecord) {
	for _, img := range rec.spentImages {
		if mark, ok := c.spent[img]; ok && mark.SpendingTxHash == rec.hash {
			delete(c.spent, img)
		}
	}

	for _, o := range rec.outputs {
		siblings := c.outputsByImage[o.KeyImage]
		kept := siblings[:0]
		for _, s := range siblings {
			if s != o {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(c.outputsByImage, o.KeyImage)
		} else {
			c.outputsByImage[o.KeyImage] = kept
			if len(kept) == 1 {
				kept[0].Hidden = false
			}
		}
	}
	delete(c.txs, rec.hash)
}

// AdvanceHeight raises the container's notion of the confirmed chain tip.
func (c *Container) AdvanceHeight(h uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h > c.chainHeight {
		c.chainHeight = h
	}
}

// Balance sums the amount of every non-hidden output matching both masks.
func (c *Container) Balance(states StateMask, types TypeMask) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total uint64
	for _, o := range c.allOutputsLocked() {
		if o.Hidden {
			continue
		}
		if !types.includes(o.Type) {
			continue
		}
		if !states.includes(c.stateOfLocked(o)) {
			continue
		}
		total += o.Amount
	}
	return total
}

// GetOutputs returns every non-hidden output matching both masks.
func (c *Container) GetOutputs(states StateMask, types TypeMask) []Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Output
	for _, o := range c.allOutputsLocked() {
		if o.Hidden {
			continue
		}
		if !types.includes(o.Type) {
			continue
		}
		if !states.includes(c.stateOfLocked(o)) {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// GetTransactionOutputs returns the non-hidden outputs of a specific
// transaction matching both masks.
func (c *Container) GetTransactionOutputs(txHash cryptonote.Hash, states StateMask, types TypeMask) []Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.txs[txHash]
	if !ok {
		return nil
	}
	var out []Output
	for _, o := range rec.outputs {
		if o.Hidden {
			continue
		}
		if !types.includes(o.Type) {
			continue
		}
		if !states.includes(c.stateOfLocked(o)) {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// GetSpentOutputs returns every tracked output currently in the Spent state.
func (c *Container) GetSpentOutputs() []Output {
	return c.GetOutputs(MaskSpent, MaskAllTypes)
}

// GetTransactionInformation reports whether a tx is tracked and its block
// position.
func (c *Container) GetTransactionInformation(txHash cryptonote.Hash) (BlockInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.txs[txHash]
	if !ok {
		return BlockInfo{}, false
	}
	return rec.block, true
}

func (c *Container) allOutputsLocked() []*Output {
	var all []*Output
	for _, siblings := range c.outputsByImage {
		all = append(all, siblings...)
	}
	return all
}

// State returns the current state of o, as observed by a caller holding a
// copy returned from GetOutputs.
func (c *Container) State(o Output) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateOfLocked(&o)
}

func (c *Container) stateOfLocked(o *Output) State {
	if _, ok := c.spent[o.KeyImage]; ok {
		return Spent
	}
	if o.Unconfirmed() {
		return Locked
	}
	if o.UnlockTime != 0 {
		if o.UnlockTime >= unlockTimeIsTimestamp {
			if o.UnlockTime > c.now() {
				return Locked
			}
		} else if o.UnlockTime > uint64(c.chainHeight) {
			return Locked
		}
	}
	if uint64(o.BlockHeight)+uint64(c.spendableAge) > uint64(c.chainHeight) {
		return SoftLocked
	}
	return Unlocked
}

// spendImage records a SpentMark for img if a tracked, non-hidden output
// carries that image. Returns whether a mark was recorded.
func (c *Container) spendImage(img cryptonote.KeyImage, txHash cryptonote.Hash, block BlockInfo) bool {
	siblings := c.outputsByImage[img]
	found := false
	for _, o := range siblings {
		if !o.Hidden {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	c.spent[img] = SpentMark{SpendingTxHash: txHash, SpendingHeight: block.Height, SpendingTxIndex: block.TxIndex}
	return true
}

// checkCollisions validates the key-image collision policy for a batch of
// new outputs without mutating container state. It must be called before
// any of the outputs are registered in outputsByImage.
func (c *Container) checkCollisions(newOutputs []*Output) error {
	for _, o := range newOutputs {
		if !o.Unconfirmed() {
			for _, existing := range c.outputsByImage[o.KeyImage] {
				if !existing.Unconfirmed() {
					return walleterr.New(walleterr.KeyImageConflict, "confirmed output collides with an existing confirmed output")
				}
			}
		}
	}
	return nil
}

// resolveCollisions recomputes the Hidden flag for every key image touched
// by newOutputs, after they have been registered in outputsByImage.
func (c *Container) resolveCollisions(newOutputs []*Output) {
	seen := make(map[cryptonote.KeyImage]bool)
	for _, o := range newOutputs {
		if seen[o.KeyImage] {
			continue
		}
		seen[o.KeyImage] = true

		siblings := c.outputsByImage[o.KeyImage]
		if len(siblings) < 2 {
			if len(siblings) == 1 {
				siblings[0].Hidden = false
			}
			continue
		}

		var confirmedIdx = -1
		for i, s := range siblings {
			if !s.Unconfirmed() {
				confirmedIdx = i
				break
			}
		}
		for i, s := range siblings {
			if confirmedIdx >= 0 {
				s.Hidden = i != confirmedIdx
			} else {
				s.Hidden = true
			}
		}
	}
}

// TxSnapshot is one tracked transaction's replayable state, in the shape
// AddTransaction accepts, for persisting and restoring a Container across
// wallet restarts (the original's TransfersContainer serialization).
type TxSnapshot struct {
	Block       BlockInfo
	Hash        cryptonote.Hash
	Outputs     []Output
	SpentImages []cryptonote.KeyImage
}

// Snapshot returns every tracked transaction's replayable state, ordered so
// that feeding it back through Restore reproduces an equivalent Container:
// confirmed transactions ascending by chain order, followed by unconfirmed
// ones.
func (c *Container) Snapshot() []TxSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TxSnapshot, 0, len(c.txs))
	for _, rec := range c.txs {
		outputs := make([]Output, len(rec.outputs))
		for i, o := range rec.outputs {
			outputs[i] = *o
		}
		out = append(out, TxSnapshot{
			Block:       rec.block,
			Hash:        rec.hash,
			Outputs:     outputs,
			SpentImages: append([]cryptonote.KeyImage(nil), rec.spentImages...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Block.order() < out[j].Block.order() })
	return out
}

// Restore replays a prior Snapshot into an empty Container via
// AddTransaction, in the order given.
func (c *Container) Restore(snapshot []TxSnapshot) error {
	for _, s := range snapshot {
		if err := c.AddTransaction(s.Block, s.Hash, s.Outputs, s.SpentImages); err != nil {
			return err
		}
	}
	return nil
}
