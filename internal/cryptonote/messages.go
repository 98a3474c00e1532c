package cryptonote

import (
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/nacl/box"
)

// SealMessage encrypts plaintext for the holder of recipientViewPub using an
// ephemeral NaCl box keypair, the same X25519 + XSalsa20-Poly1305
// construction the corpus already uses for peer-to-peer message encryption
// (see the teacher's node.MessageEncryptor). The engine's view keys are
// already Ed25519-family points on the same curve box operates over, so the
// conversion step is a plain Edwards-to-Montgomery coordinate change rather
// than the teacher's Ed25519-via-libp2p derivation.
//
// Wire layout: ephemeralPub(32) || nonce(24) || ciphertext.
func SealMessage(recipientViewPub PublicKey, plaintext []byte) ([]byte, error) {
	recipientX, err := publicToX25519(recipientViewPub)
	if err != nil {
		return nil, fmt.Errorf("cryptonote: seal message: %w", err)
	}

	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptonote: seal message: generate ephemeral key: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("cryptonote: seal message: nonce: %w", err)
	}

	ciphertext := box.Seal(nil, plaintext, &nonce, &recipientX, ephemeralPriv)

	out := make([]byte, 0, 32+24+len(ciphertext))
	out = append(out, ephemeralPub[:]...)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenMessage reverses SealMessage for the holder of viewSecret. ok is false
// if sealed is malformed or was not addressed to this view key.
func OpenMessage(viewSecret SecretKey, sealed []byte) (plaintext []byte, ok bool) {
	if len(sealed) < 32+24 {
		return nil, false
	}
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], sealed[:32])
	var nonce [24]byte
	copy(nonce[:], sealed[32:56])
	ciphertext := sealed[56:]

	localX, err := secretToX25519(viewSecret)
	if err != nil {
		return nil, false
	}

	return box.Open(nil, ciphertext, &nonce, &ephemeralPub, &localX)
}

// publicToX25519 reinterprets an Ed25519-family point as its Montgomery
// u-coordinate, the form NaCl box operates on.
func publicToX25519(p PublicKey) ([32]byte, error) {
	var out [32]byte
	pt, err := edwards25519.NewIdentityPoint().SetBytes(p[:])
	if err != nil {
		return out, InvalidInput("public key is not a valid curve point")
	}
	copy(out[:], pt.BytesMontgomery())
	return out, nil
}

// secretToX25519 reduces an Ed25519-family scalar to the clamped 32-byte
// form X25519 expects. golang.org/x/crypto/curve25519 (which box.Open calls
// into) clamps internally, so no manual bit-clearing is needed here.
func secretToX25519(s SecretKey) ([32]byte, error) {
	var out [32]byte
	if _, err := scalarFromSecret(s); err != nil {
		return out, err
	}
	copy(out[:], s[:])
	return out, nil
}
