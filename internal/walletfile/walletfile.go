// Package walletfile implements the wallet's on-disk persistence format: a
// small plaintext header (magic, version, IV) followed by a ChaCha8
// ciphertext holding the account keys and an opaque detail blob, mirroring
// WalletSerializer from the Bytecoin original this engine is descended
// from. The detail blob's contents (container + cache snapshot) are owned
// and interpreted by internal/engine; this package only ever sees bytes.
package walletfile

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
)

var magic = [4]byte{'W', 'L', 'T', 0}

const formatVersion uint32 = 1

const ivSize = 8

// Keys is the account's spend/view keypair plus its creation time, the
// fields the original KeysStorage record carries.
type Keys struct {
	SpendPublic cryptonote.PublicKey
	SpendSecret cryptonote.SecretKey
	ViewPublic  cryptonote.PublicKey
	ViewSecret  cryptonote.SecretKey
	CreatedAt   uint64
}

// File is the full decrypted content of a wallet file.
type File struct {
	Keys Keys

	// HasDetails mirrors the original's "has_details" flag: a wallet can be
	// saved keys-only (for a quick backup) or with its full transaction
	// history and output ledger attached.
	HasDetails bool

	// Cache is the opaque detail blob when HasDetails is set. internal/engine
	// fills and parses it; walletfile never inspects its contents.
	Cache []byte
}

type plainPayload struct {
	Keys       Keys
	HasDetails bool
	Cache      []byte
}

// deriveKey hardens password into the wallet-file cipher key via the same
// memory-hard hash the engine uses for cn_slow_hash, standing in for the
// original's generate_chacha8_key.
func deriveKey(crypto cryptonote.Crypto, password string) [32]byte {
	return [32]byte(crypto.CnSlowHash([]byte(password)))
}

// Save encrypts f under password and writes it to path.
func Save(path, password string, f File, crypto cryptonote.Crypto) error {
	plain, err := json.Marshal(plainPayload{Keys: f.Keys, HasDetails: f.HasDetails, Cache: f.Cache})
	if err != nil {
		return walleterr.Wrap(walleterr.InternalError, "marshal wallet plaintext", err)
	}

	var iv [ivSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return walleterr.Wrap(walleterr.InternalError, "generate wallet file iv", err)
	}

	key := deriveKey(crypto, password)
	cipher := crypto.ChaCha8(key, iv, plain)

	var buf bytes.Buffer
	buf.Write(magic[:])
	var versionBytes [4]byte
	binary.LittleEndian.PutUint32(versionBytes[:], formatVersion)
	buf.Write(versionBytes[:])
	buf.Write(iv[:])
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(cipher)))
	buf.Write(lenBytes[:])
	buf.Write(cipher)

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return walleterr.Wrap(walleterr.InternalError, "write wallet file", err)
	}
	return nil
}

// Load reads and decrypts the wallet file at path, verifying password by
// checking the recovered keys are mutually consistent (spend/view secret
// keys must derive the stored public keys).
func Load(path, password string, crypto cryptonote.Crypto) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, walleterr.Wrap(walleterr.InternalError, "read wallet file", err)
	}
	return parse(data, password, crypto)
}

func parse(data []byte, password string, crypto cryptonote.Crypto) (File, error) {
	const headerSize = 4 + 4 + ivSize + 8
	if len(data) < headerSize {
		return File{}, walleterr.New(walleterr.InternalError, "wallet file is smaller than its header")
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return File{}, walleterr.New(walleterr.InternalError, "wallet file magic does not match")
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != formatVersion {
		return File{}, walleterr.New(walleterr.InternalError, fmt.Sprintf("unsupported wallet file version %d", version))
	}
	var iv [ivSize]byte
	copy(iv[:], data[8:8+ivSize])
	cipherLen := binary.LittleEndian.Uint64(data[8+ivSize : headerSize])
	cipher := data[headerSize:]
	if uint64(len(cipher)) != cipherLen {
		return File{}, walleterr.New(walleterr.InternalError, "wallet file ciphertext length mismatch")
	}

	key := deriveKey(crypto, password)
	plain := crypto.ChaCha8(key, iv, cipher)

	var payload plainPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return File{}, walleterr.New(walleterr.WrongPassword, "wallet file did not decrypt to a valid payload")
	}

	if err := verifyKeys(crypto, payload.Keys); err != nil {
		return File{}, walleterr.Wrap(walleterr.WrongPassword, "recovered keys are inconsistent", err)
	}

	return File{Keys: payload.Keys, HasDetails: payload.HasDetails, Cache: payload.Cache}, nil
}

func verifyKeys(crypto cryptonote.Crypto, keys Keys) error {
	gotSpendPub, err := crypto.PublicFromSecret(keys.SpendSecret)
	if err != nil || gotSpendPub != keys.SpendPublic {
		return fmt.Errorf("spend keypair mismatch")
	}
	gotViewPub, err := crypto.PublicFromSecret(keys.ViewSecret)
	if err != nil || gotViewPub != keys.ViewPublic {
		return fmt.Errorf("view keypair mismatch")
	}
	return nil
}

// ChangePassword re-derives the wallet-file cipher key under newPassword
// without touching the plaintext keys or detail blob, per the supplemented
// IWallet::changePassword behavior.
func ChangePassword(path, oldPassword, newPassword string, crypto cryptonote.Crypto) error {
	f, err := Load(path, oldPassword, crypto)
	if err != nil {
		return err
	}
	return Save(path, newPassword, f, crypto)
}

// ImportLegacyKeys re-encrypts a pre-engine keys-only wallet file (the
// original LegacyKeysImporter.cpp's input format: a bare iv + ChaCha8
// ciphertext over the keys, with no magic/version header and no details)
// into this engine's wallet file format. It is an offline migration helper,
// never called from the engine's runtime path.
func ImportLegacyKeys(raw []byte, password string, crypto cryptonote.Crypto) (File, error) {
	if len(raw) < ivSize {
		return File{}, walleterr.New(walleterr.InternalError, "legacy keys file smaller than its iv")
	}
	var iv [ivSize]byte
	copy(iv[:], raw[:ivSize])
	cipher := raw[ivSize:]

	key := deriveKey(crypto, password)
	plain := crypto.ChaCha8(key, iv, cipher)

	var keys Keys
	if err := json.Unmarshal(plain, &keys); err != nil {
		return File{}, walleterr.New(walleterr.WrongPassword, "legacy keys file did not decrypt to valid keys")
	}
	if err := verifyKeys(crypto, keys); err != nil {
		return File{}, walleterr.Wrap(walleterr.WrongPassword, "recovered legacy keys are inconsistent", err)
	}
	return File{Keys: keys, HasDetails: false}, nil
}
