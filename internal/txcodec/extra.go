// Package txcodec implements the transaction prefix wire format and the TLV
// codec for a transaction's opaque "extra" trailer (transaction public key,
// payment id, and encrypted messages).
package txcodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// Extra tag bytes, following CryptoNote's tx_extra TLV scheme: 0x01 carries
// the transaction's one-time public key, 0x02 a nested payment-id blob
// (inner tag 0x00 + 32 bytes), 0x03 an application-defined sealed message.
const (
	tagTxPublicKey = 0x01
	tagNonce       = 0x02
	tagMessage     = 0x03

	nonceTagPaymentID = 0x00
)

// Extra is the parsed form of a transaction's extra trailer.
type Extra struct {
	TxPublicKey cryptonote.PublicKey
	HasPaymentID bool
	PaymentID   [32]byte
	Messages    [][]byte
	Unknown     []byte // bytes following an unrecognized tag, preserved verbatim
}

// Encode renders e back into the TLV byte sequence CryptoNote transactions
// carry in their extra field.
func Encode(e Extra) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tagTxPublicKey)
	buf.Write(e.TxPublicKey[:])

	if e.HasPaymentID {
		var nonce bytes.Buffer
		nonce.WriteByte(nonceTagPaymentID)
		nonce.Write(e.PaymentID[:])
		buf.WriteByte(tagNonce)
		if err := wire.WriteVarInt(&buf, 0, uint64(nonce.Len())); err != nil {
			return nil, fmt.Errorf("txcodec: encode extra: write nonce length: %w", err)
		}
		buf.Write(nonce.Bytes())
	}

	for _, msg := range e.Messages {
		buf.WriteByte(tagMessage)
		if err := wire.WriteVarInt(&buf, 0, uint64(len(msg))); err != nil {
			return nil, fmt.Errorf("txcodec: encode extra: write message length: %w", err)
		}
		buf.Write(msg)
	}

	buf.Write(e.Unknown)
	return buf.Bytes(), nil
}

// Decode parses a transaction's extra trailer. Unrecognized tags cause the
// remainder of the buffer (including that tag) to be preserved verbatim in
// Unknown rather than failing the whole decode.
func Decode(data []byte) (Extra, error) {
	var e Extra
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		tagByte, err := r.ReadByte()
		if err != nil {
			return e, fmt.Errorf("txcodec: decode extra: read tag: %w", err)
		}

		switch tagByte {
		case tagTxPublicKey:
			var pub cryptonote.PublicKey
			if _, err := io.ReadFull(r, pub[:]); err != nil {
				return e, fmt.Errorf("txcodec: decode extra: read tx public key: %w", err)
			}
			e.TxPublicKey = pub

		case tagNonce:
			n, err := wire.ReadVarInt(r, 0)
			if err != nil {
				return e, fmt.Errorf("txcodec: decode extra: read nonce length: %w", err)
			}
			nonce := make([]byte, n)
			if _, err := io.ReadFull(r, nonce); err != nil {
				return e, fmt.Errorf("txcodec: decode extra: read nonce: %w", err)
			}
			if len(nonce) == 33 && nonce[0] == nonceTagPaymentID {
				e.HasPaymentID = true
				copy(e.PaymentID[:], nonce[1:])
			}

		case tagMessage:
			n, err := wire.ReadVarInt(r, 0)
			if err != nil {
				return e, fmt.Errorf("txcodec: decode extra: read message length: %w", err)
			}
			msg := make([]byte, n)
			if _, err := io.ReadFull(r, msg); err != nil {
				return e, fmt.Errorf("txcodec: decode extra: read message: %w", err)
			}
			e.Messages = append(e.Messages, msg)

		default:
			rest := make([]byte, r.Len()+1)
			rest[0] = tagByte
			if _, err := io.ReadFull(r, rest[1:]); err != nil {
				return e, fmt.Errorf("txcodec: decode extra: read unknown trailer: %w", err)
			}
			e.Unknown = append(e.Unknown, rest...)
			return e, nil
		}
	}
	return e, nil
}
