package txcodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// Transaction is a complete, signed transaction: the signable Prefix plus
// one ring signature per input, carried outside the prefix so signing and
// hashing never have to strip them back off.
type Transaction struct {
	Prefix     Prefix
	Signatures []cryptonote.RingSignature
}

// SerializeFull renders a complete transaction (prefix + signatures) to the
// bytes the Node relays and the upper_tx_size_limit check measures.
func SerializeFull(tx Transaction) ([]byte, error) {
	prefixBytes, err := Serialize(tx.Prefix)
	if err != nil {
		return nil, fmt.Errorf("txcodec: serialize full: prefix: %w", err)
	}
	if len(tx.Signatures) != len(tx.Prefix.Inputs) {
		return nil, fmt.Errorf("txcodec: serialize full: signature count %d does not match input count %d", len(tx.Signatures), len(tx.Prefix.Inputs))
	}

	var buf bytes.Buffer
	buf.Write(prefixBytes)
	for i, ringSig := range tx.Signatures {
		if err := wire.WriteVarInt(&buf, 0, uint64(len(ringSig))); err != nil {
			return nil, fmt.Errorf("txcodec: serialize full: signature %d count: %w", i, err)
		}
		for _, sig := range ringSig {
			buf.Write(sig.C[:])
			buf.Write(sig.R[:])
		}
	}
	return buf.Bytes(), nil
}

// DeserializeFull parses the bytes produced by SerializeFull.
func DeserializeFull(data []byte) (Transaction, error) {
	var tx Transaction

	prefixLen, err := prefixByteLength(data)
	if err != nil {
		return tx, fmt.Errorf("txcodec: deserialize full: %w", err)
	}
	prefix, err := Deserialize(data[:prefixLen])
	if err != nil {
		return tx, fmt.Errorf("txcodec: deserialize full: prefix: %w", err)
	}
	tx.Prefix = prefix

	r := bytes.NewReader(data[prefixLen:])
	tx.Signatures = make([]cryptonote.RingSignature, 0, len(prefix.Inputs))
	for i := range prefix.Inputs {
		n, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return tx, fmt.Errorf("txcodec: deserialize full: signature %d count: %w", i, err)
		}
		ringSig := make(cryptonote.RingSignature, n)
		for j := range ringSig {
			if _, err := io.ReadFull(r, ringSig[j].C[:]); err != nil {
				return tx, fmt.Errorf("txcodec: deserialize full: signature %d.%d c: %w", i, j, err)
			}
			if _, err := io.ReadFull(r, ringSig[j].R[:]); err != nil {
				return tx, fmt.Errorf("txcodec: deserialize full: signature %d.%d r: %w", i, j, err)
			}
		}
		tx.Signatures = append(tx.Signatures, ringSig)
	}
	return tx, nil
}

// prefixByteLength re-parses just enough of data to find where the prefix
// ends and the signature trailer begins, since Prefix carries no explicit
// length field of its own.
func prefixByteLength(data []byte) (int, error) {
	r := bytes.NewReader(data)
	start := r.Len()

	if _, err := wire.ReadVarInt(r, 0); err != nil {
		return 0, fmt.Errorf("version: %w", err)
	}
	if _, err := wire.ReadVarInt(r, 0); err != nil {
		return 0, fmt.Errorf("unlock_time: %w", err)
	}
	inCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, fmt.Errorf("input count: %w", err)
	}
	for i := uint64(0); i < inCount; i++ {
		if _, err := wire.ReadVarInt(r, 0); err != nil {
			return 0, fmt.Errorf("input %d amount: %w", i, err)
		}
		ringSize, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return 0, fmt.Errorf("input %d ring size: %w", i, err)
		}
		for j := uint64(0); j < ringSize; j++ {
			if _, err := wire.ReadVarInt(r, 0); err != nil {
				return 0, fmt.Errorf("input %d index %d: %w", i, j, err)
			}
		}
		if _, err := r.Seek(32, io.SeekCurrent); err != nil {
			return 0, fmt.Errorf("input %d key image: %w", i, err)
		}
	}
	outCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, fmt.Errorf("output count: %w", err)
	}
	for i := uint64(0); i < outCount; i++ {
		if _, err := wire.ReadVarInt(r, 0); err != nil {
			return 0, fmt.Errorf("output %d amount: %w", i, err)
		}
		if _, err := r.Seek(1+32, io.SeekCurrent); err != nil {
			return 0, fmt.Errorf("output %d body: %w", i, err)
		}
	}
	extraLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, fmt.Errorf("extra length: %w", err)
	}
	if _, err := r.Seek(int64(extraLen), io.SeekCurrent); err != nil {
		return 0, fmt.Errorf("extra: %w", err)
	}

	return start - r.Len(), nil
}
