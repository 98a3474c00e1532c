package walletkeys

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// DefaultAddressTag is this engine's single-byte CryptoNote address prefix.
// Real CryptoNote coins each reserve their own tag; since this module has no
// mainnet to collide with, one fixed value is used throughout.
const DefaultAddressTag = 0x17

const checksumSize = 4

// base58Alphabet is the standard Bitcoin/CryptoNote base58 alphabet (no 0,
// O, I, l). CryptoNote addresses are not base58check: they are encoded in
// fixed 8-byte blocks, so the blocks-of-8 scheme below is hand-rolled on top
// of this alphabet rather than reusing a checksummed base58 codec.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// encodedBlockSizes[i] is the number of base58 characters a raw block of i
// bytes expands to, taken from CryptoNote's tools::base58 block table.
var encodedBlockSizes = [9]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

const fullBlockSize = 8
const fullEncodedBlockSize = 11

// EncodeAddress renders a spend/view public key pair as a CryptoNote base58
// address: tag || spendPub || viewPub || checksum, block-encoded 8 bytes at
// a time.
func EncodeAddress(tag byte, spendPub, viewPub cryptonote.PublicKey) string {
	payload := make([]byte, 0, 1+32+32+checksumSize)
	payload = append(payload, tag)
	payload = append(payload, spendPub[:]...)
	payload = append(payload, viewPub[:]...)
	sum := ethcrypto.Keccak256(payload)
	payload = append(payload, sum[:checksumSize]...)
	return encodeBlocks(payload)
}

// DecodeAddress parses a CryptoNote base58 address, verifying its checksum.
func DecodeAddress(addr string) (tag byte, spendPub, viewPub cryptonote.PublicKey, err error) {
	raw, err := decodeBlocks(addr)
	if err != nil {
		return 0, cryptonote.PublicKey{}, cryptonote.PublicKey{}, fmt.Errorf("walletkeys: decode address: %w", err)
	}
	if len(raw) != 1+32+32+checksumSize {
		return 0, cryptonote.PublicKey{}, cryptonote.PublicKey{}, fmt.Errorf("walletkeys: decode address: unexpected payload length %d", len(raw))
	}
	body := raw[:len(raw)-checksumSize]
	gotSum := raw[len(raw)-checksumSize:]
	wantSum := ethcrypto.Keccak256(body)[:checksumSize]
	for i := range gotSum {
		if gotSum[i] != wantSum[i] {
			return 0, cryptonote.PublicKey{}, cryptonote.PublicKey{}, fmt.Errorf("walletkeys: decode address: checksum mismatch")
		}
	}
	tag = body[0]
	copy(spendPub[:], body[1:33])
	copy(viewPub[:], body[33:65])
	return tag, spendPub, viewPub, nil
}

func encodeBlocks(data []byte) string {
	out := make([]byte, 0, (len(data)/fullBlockSize+1)*fullEncodedBlockSize)
	for len(data) > 0 {
		n := fullBlockSize
		if len(data) < n {
			n = len(data)
		}
		out = append(out, encodeBlock(data[:n])...)
		data = data[n:]
	}
	return string(out)
}

func encodeBlock(block []byte) []byte {
	encodedSize := encodedBlockSizes[len(block)]
	result := make([]byte, encodedSize)
	for i := range result {
		result[i] = base58Alphabet[0]
	}

	num := new(big.Int).SetBytes(block)
	base := big.NewInt(58)
	rem := new(big.Int)
	for i := encodedSize - 1; i >= 0 && num.Sign() != 0; i-- {
		num.QuoRem(num, base, rem)
		result[i] = base58Alphabet[rem.Int64()]
	}
	return result
}

func decodeBlocks(s string) ([]byte, error) {
	var out []byte
	for len(s) > 0 {
		n := fullEncodedBlockSize
		if len(s) < n {
			n = len(s)
		}
		block, err := decodeBlock(s[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		s = s[n:]
	}
	return out, nil
}

func decodeBlock(block string) ([]byte, error) {
	rawSize := -1
	for raw, enc := range encodedBlockSizes {
		if enc == len(block) {
			rawSize = raw
			break
		}
	}
	if rawSize < 0 {
		return nil, fmt.Errorf("invalid base58 block length %d", len(block))
	}

	num := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(block); i++ {
		idx := indexOfAlphabet(block[i])
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", block[i])
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}

	raw := make([]byte, rawSize)
	numBytes := num.Bytes()
	if len(numBytes) > rawSize {
		return nil, fmt.Errorf("base58 block overflows %d raw bytes", rawSize)
	}
	copy(raw[rawSize-len(numBytes):], numBytes)
	return raw, nil
}

func indexOfAlphabet(c byte) int {
	for i := 0; i < len(base58Alphabet); i++ {
		if base58Alphabet[i] == c {
			return i
		}
	}
	return -1
}
