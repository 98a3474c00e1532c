package txcodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// Output type tags carried on the wire. container.OutputType numbers the
// same two kinds from zero (OutputKey, OutputMultisig), so its values differ
// from these.
const (
	OutKey      = 0x02
	OutMultisig = 0x03
)

// Input is one consumed key image, referencing its ring by global output
// index. Indices are stored delta-encoded on the wire (first absolute, the
// rest offsets from the previous entry) but held absolute in memory.
type Input struct {
	Amount        uint64
	GlobalIndices []uint32
	KeyImage      cryptonote.KeyImage
}

// Output is one created one-time output.
type Output struct {
	Amount uint64
	Type   byte
	Key    cryptonote.PublicKey
}

// Prefix is the signable, hashable body of a transaction: version, unlock
// time, inputs, outputs, and the opaque extra trailer. Signatures live
// outside the prefix and are appended after it in the full transaction wire
// format; TreeHash/signing operate on the prefix bytes alone.
type Prefix struct {
	Version    uint64
	UnlockTime uint64
	Inputs     []Input
	Outputs    []Output
	Extra      []byte
}

// Serialize renders the prefix into its canonical wire bytes.
func Serialize(p Prefix) ([]byte, error) {
	var buf bytes.Buffer

	if err := wire.WriteVarInt(&buf, 0, p.Version); err != nil {
		return nil, fmt.Errorf("txcodec: serialize: version: %w", err)
	}
	if err := wire.WriteVarInt(&buf, 0, p.UnlockTime); err != nil {
		return nil, fmt.Errorf("txcodec: serialize: unlock_time: %w", err)
	}

	if err := wire.WriteVarInt(&buf, 0, uint64(len(p.Inputs))); err != nil {
		return nil, fmt.Errorf("txcodec: serialize: input count: %w", err)
	}
	for i, in := range p.Inputs {
		if err := wire.WriteVarInt(&buf, 0, in.Amount); err != nil {
			return nil, fmt.Errorf("txcodec: serialize: input %d amount: %w", i, err)
		}
		if err := wire.WriteVarInt(&buf, 0, uint64(len(in.GlobalIndices))); err != nil {
			return nil, fmt.Errorf("txcodec: serialize: input %d ring size: %w", i, err)
		}
		var prev uint32
		for j, idx := range in.GlobalIndices {
			delta := idx
			if j > 0 {
				delta = idx - prev
			}
			if err := wire.WriteVarInt(&buf, 0, uint64(delta)); err != nil {
				return nil, fmt.Errorf("txcodec: serialize: input %d index %d: %w", i, j, err)
			}
			prev = idx
		}
		buf.Write(in.KeyImage[:])
	}

	if err := wire.WriteVarInt(&buf, 0, uint64(len(p.Outputs))); err != nil {
		return nil, fmt.Errorf("txcodec: serialize: output count: %w", err)
	}
	for i, out := range p.Outputs {
		if err := wire.WriteVarInt(&buf, 0, out.Amount); err != nil {
			return nil, fmt.Errorf("txcodec: serialize: output %d amount: %w", i, err)
		}
		buf.WriteByte(out.Type)
		buf.Write(out.Key[:])
	}

	if err := wire.WriteVarInt(&buf, 0, uint64(len(p.Extra))); err != nil {
		return nil, fmt.Errorf("txcodec: serialize: extra length: %w", err)
	}
	buf.Write(p.Extra)

	return buf.Bytes(), nil
}

// Deserialize parses the bytes produced by Serialize.
func Deserialize(data []byte) (Prefix, error) {
	var p Prefix
	r := bytes.NewReader(data)

	version, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return p, fmt.Errorf("txcodec: deserialize: version: %w", err)
	}
	p.Version = version

	unlockTime, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return p, fmt.Errorf("txcodec: deserialize: unlock_time: %w", err)
	}
	p.UnlockTime = unlockTime

	inCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return p, fmt.Errorf("txcodec: deserialize: input count: %w", err)
	}
	p.Inputs = make([]Input, 0, inCount)
	for i := uint64(0); i < inCount; i++ {
		var in Input
		in.Amount, err = wire.ReadVarInt(r, 0)
		if err != nil {
			return p, fmt.Errorf("txcodec: deserialize: input %d amount: %w", i, err)
		}
		ringSize, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return p, fmt.Errorf("txcodec: deserialize: input %d ring size: %w", i, err)
		}
		var prev uint32
		for j := uint64(0); j < ringSize; j++ {
			delta, err := wire.ReadVarInt(r, 0)
			if err != nil {
				return p, fmt.Errorf("txcodec: deserialize: input %d index %d: %w", i, j, err)
			}
			idx := uint32(delta)
			if j > 0 {
				idx = prev + uint32(delta)
			}
			in.GlobalIndices = append(in.GlobalIndices, idx)
			prev = idx
		}
		if _, err := io.ReadFull(r, in.KeyImage[:]); err != nil {
			return p, fmt.Errorf("txcodec: deserialize: input %d key image: %w", i, err)
		}
		p.Inputs = append(p.Inputs, in)
	}

	outCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return p, fmt.Errorf("txcodec: deserialize: output count: %w", err)
	}
	p.Outputs = make([]Output, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		var out Output
		out.Amount, err = wire.ReadVarInt(r, 0)
		if err != nil {
			return p, fmt.Errorf("txcodec: deserialize: output %d amount: %w", i, err)
		}
		out.Type, err = r.ReadByte()
		if err != nil {
			return p, fmt.Errorf("txcodec: deserialize: output %d type: %w", i, err)
		}
		if _, err := io.ReadFull(r, out.Key[:]); err != nil {
			return p, fmt.Errorf("txcodec: deserialize: output %d key: %w", i, err)
		}
		p.Outputs = append(p.Outputs, out)
	}

	extraLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return p, fmt.Errorf("txcodec: deserialize: extra length: %w", err)
	}
	p.Extra = make([]byte, extraLen)
	if _, err := io.ReadFull(r, p.Extra); err != nil {
		return p, fmt.Errorf("txcodec: deserialize: extra: %w", err)
	}

	return p, nil
}

// PrefixHash returns the Keccak-256 hash of the serialized prefix, the value
// signed over by every input's ring signature.
func PrefixHash(p Prefix) (cryptonote.Hash, error) {
	raw, err := Serialize(p)
	if err != nil {
		return cryptonote.Hash{}, fmt.Errorf("txcodec: prefix hash: %w", err)
	}
	var h cryptonote.Hash
	copy(h[:], ethcrypto.Keccak256(raw))
	return h, nil
}
