package cryptonote

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20"
)

// Crypto is the black-box primitive set spec.md §4.1 describes: pure,
// deterministic functions over keys, points and hashes. The rest of the
// engine only ever holds a Crypto value, never a concrete type, so a
// different curve or hash construction can be swapped in without touching
// the Container, Sender or Synchronizer.
type Crypto interface {
	GenerateKeypair() (KeyPair, error)
	PublicFromSecret(secret SecretKey) (PublicKey, error)
	DerivePublic(viewSec SecretKey, spendPub PublicKey, txPub PublicKey, outputIndex uint32) (PublicKey, error)
	DeriveSecret(viewSec SecretKey, txPub PublicKey, outputIndex uint32, spendSec SecretKey) (SecretKey, error)
	KeyImageOf(secret SecretKey, pub PublicKey) (KeyImage, error)
	GenerateRingSignature(msgHash Hash, image KeyImage, ring []PublicKey, secret SecretKey, realIndex int) (RingSignature, error)
	VerifyRingSignature(msgHash Hash, image KeyImage, ring []PublicKey, sig RingSignature) bool
	ChaCha8(key [32]byte, iv [8]byte, data []byte) []byte
	CnSlowHash(data []byte) Hash
	TreeHash(leaves []Hash) Hash
}

// edwards25519Crypto implements Crypto on the Ed25519 curve via
// filippo.io/edwards25519, the library the example corpus already pulls in
// for Ed25519<->X25519 conversion (see the teacher's internal/node/crypto.go).
type edwards25519Crypto struct{}

// New returns the engine's standard Crypto implementation.
func New() Crypto {
	return edwards25519Crypto{}
}

var errInvalidInput = fmt.Errorf("cryptonote: invalid input")

// InvalidInput is returned (wrapped) by every Crypto method on malformed
// input, matching spec.md §4.1 ("failure returns InvalidInput").
func InvalidInput(context string) error {
	return fmt.Errorf("%s: %w", context, errInvalidInput)
}

func scalarFromSecret(s SecretKey) (*edwards25519.Scalar, error) {
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	if err != nil {
		return nil, InvalidInput("secret key is not a canonical scalar")
	}
	return sc, nil
}

func pointFromPublic(p PublicKey) (*edwards25519.Point, error) {
	pt, err := edwards25519.NewIdentityPoint().SetBytes(p[:])
	if err != nil {
		return nil, InvalidInput("public key is not a valid curve point")
	}
	return pt, nil
}

func scalarFromWideHash(data ...[]byte) *edwards25519.Scalar {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	wide := h.Sum(nil)
	sc, err := edwards25519.NewScalar().SetUniformBytes(wide)
	if err != nil {
		// SetUniformBytes only fails on wrong-length input; sha512 always
		// produces 64 bytes, so this is unreachable in practice.
		panic(err)
	}
	return sc
}

// hashToPoint maps a public key to a curve point deterministically, standing
// in for CryptoNote's Elligator-based hash_to_ec. Not bit-compatible with
// mainnet CryptoNote daemons; this engine has no cross-implementation
// interop requirement (spec.md §1 excludes the P2P/consensus layer).
func hashToPoint(p PublicKey) *edwards25519.Point {
	sc := scalarFromWideHash(p[:])
	return edwards25519.NewIdentityPoint().ScalarBaseMult(sc)
}

// ReduceToScalar folds arbitrary seed bytes (of any length) down to a
// canonical Ed25519 scalar via the same wide-hash reduction GenerateKeypair
// applies to fresh randomness, so deterministic key derivation from a seed
// (e.g. a mnemonic) produces secrets with the same distribution as
// GenerateKeypair's.
func ReduceToScalar(seed []byte) (SecretKey, error) {
	sc := scalarFromWideHash(seed)
	var out SecretKey
	copy(out[:], sc.Bytes())
	return out, nil
}

func (edwards25519Crypto) GenerateKeypair() (KeyPair, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return KeyPair{}, fmt.Errorf("cryptonote: generate keypair: %w", err)
	}
	sc := scalarFromWideHash(seed[:])
	var secret SecretKey
	copy(secret[:], sc.Bytes())
	pt := edwards25519.NewIdentityPoint().ScalarBaseMult(sc)
	var public PublicKey
	copy(public[:], pt.Bytes())
	return KeyPair{Public: public, Secret: secret}, nil
}

func (edwards25519Crypto) PublicFromSecret(secret SecretKey) (PublicKey, error) {
	sc, err := scalarFromSecret(secret)
	if err != nil {
		return PublicKey{}, err
	}
	pt := edwards25519.NewIdentityPoint().ScalarBaseMult(sc)
	var pub PublicKey
	copy(pub[:], pt.Bytes())
	return pub, nil
}

// derivation computes 8 * viewSec * txPub, the shared secret point used by
// both DerivePublic and DeriveSecret (CryptoNote's generate_key_derivation).
func derivation(viewSec SecretKey, txPub PublicKey) (*edwards25519.Point, error) {
	vsc, err := scalarFromSecret(viewSec)
	if err != nil {
		return nil, err
	}
	tp, err := pointFromPublic(txPub)
	if err != nil {
		return nil, err
	}
	shared := edwards25519.NewIdentityPoint().ScalarMult(vsc, tp)
	// Clear the cofactor, matching CryptoNote's generate_key_derivation.
	eight := edwards25519.NewScalar()
	eightBytes := [32]byte{8}
	if _, err := eight.SetCanonicalBytes(eightBytes[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewIdentityPoint().ScalarMult(eight, shared), nil
}

func derivationScalar(deriv *edwards25519.Point, outputIndex uint32) *edwards25519.Scalar {
	var idx [4]byte
	idx[0] = byte(outputIndex)
	idx[1] = byte(outputIndex >> 8)
	idx[2] = byte(outputIndex >> 16)
	idx[3] = byte(outputIndex >> 24)
	return scalarFromWideHash(deriv.Bytes(), idx[:])
}

func (c edwards25519Crypto) DerivePublic(viewSec SecretKey, spendPub PublicKey, txPub PublicKey, outputIndex uint32) (PublicKey, error) {
	deriv, err := derivation(viewSec, txPub)
	if err != nil {
		return PublicKey{}, err
	}
	hs := derivationScalar(deriv, outputIndex)
	base, err := pointFromPublic(spendPub)
	if err != nil {
		return PublicKey{}, err
	}
	hsG := edwards25519.NewIdentityPoint().ScalarBaseMult(hs)
	candidate := edwards25519.NewIdentityPoint().Add(base, hsG)
	var out PublicKey
	copy(out[:], candidate.Bytes())
	return out, nil
}

func (c edwards25519Crypto) DeriveSecret(viewSec SecretKey, txPub PublicKey, outputIndex uint32, spendSec SecretKey) (SecretKey, error) {
	deriv, err := derivation(viewSec, txPub)
	if err != nil {
		return SecretKey{}, err
	}
	hs := derivationScalar(deriv, outputIndex)
	base, err := scalarFromSecret(spendSec)
	if err != nil {
		return SecretKey{}, err
	}
	sum := edwards25519.NewScalar().Add(base, hs)
	var out SecretKey
	copy(out[:], sum.Bytes())
	return out, nil
}

func (c edwards25519Crypto) KeyImageOf(secret SecretKey, pub PublicKey) (KeyImage, error) {
	sc, err := scalarFromSecret(secret)
	if err != nil {
		return KeyImage{}, err
	}
	hp := hashToPoint(pub)
	img := edwards25519.NewIdentityPoint().ScalarMult(sc, hp)
	var out KeyImage
	copy(out[:], img.Bytes())
	return out, nil
}

// GenerateRingSignature implements CryptoNote's one-time ring signature
// (crypto::generate_ring_signature): for every decoy member a pair of
// uniformly random (c, r) scalars is chosen and the commitments are solved
// forward; the real signer's commitment is solved backward so that the sum
// of all challenges matches the Fiat-Shamir hash of every commitment.
func (c edwards25519Crypto) GenerateRingSignature(msgHash Hash, image KeyImage, ring []PublicKey, secret SecretKey, realIndex int) (RingSignature, error) {
	n := len(ring)
	if n == 0 || realIndex < 0 || realIndex >= n {
		return nil, InvalidInput("ring signature: invalid ring or real index")
	}
	imgPt, err := edwards25519.NewIdentityPoint().SetBytes(image[:])
	if err != nil {
		return nil, InvalidInput("ring signature: invalid key image")
	}
	secretScalar, err := scalarFromSecret(secret)
	if err != nil {
		return nil, err
	}

	Ls := make([]*edwards25519.Point, n)
	Rs := make([]*edwards25519.Point, n)
	cScalars := make([]*edwards25519.Scalar, n)
	rScalars := make([]*edwards25519.Scalar, n)

	sumOfOtherC := edwards25519.NewScalar()

	for i, memberPub := range ring {
		memberPt, err := pointFromPublic(memberPub)
		if err != nil {
			return nil, err
		}
		if i == realIndex {
			var kBuf [32]byte
			if _, err := rand.Read(kBuf[:]); err != nil {
				return nil, fmt.Errorf("cryptonote: ring signature: %w", err)
			}
			k := scalarFromWideHash(kBuf[:])
			Ls[i] = edwards25519.NewIdentityPoint().ScalarBaseMult(k)
			Rs[i] = edwards25519.NewIdentityPoint().ScalarMult(k, hashToPoint(memberPub))
			rScalars[i] = k // temporarily holds k; fixed up below
			continue
		}

		var cBuf, rBuf [32]byte
		if _, err := rand.Read(cBuf[:]); err != nil {
			return nil, fmt.Errorf("cryptonote: ring signature: %w", err)
		}
		if _, err := rand.Read(rBuf[:]); err != nil {
			return nil, fmt.Errorf("cryptonote: ring signature: %w", err)
		}
		ci := scalarFromWideHash(cBuf[:])
		ri := scalarFromWideHash(rBuf[:])
		cScalars[i] = ci
		rScalars[i] = ri

		// L_i = r_i*G + c_i*P_i
		rG := edwards25519.NewIdentityPoint().ScalarBaseMult(ri)
		ciP := edwards25519.NewIdentityPoint().ScalarMult(ci, memberPt)
		Ls[i] = edwards25519.NewIdentityPoint().Add(rG, ciP)

		// R_i = r_i*Hp(P_i) + c_i*I
		rHp := edwards25519.NewIdentityPoint().ScalarMult(ri, hashToPoint(memberPub))
		ciI := edwards25519.NewIdentityPoint().ScalarMult(ci, imgPt)
		Rs[i] = edwards25519.NewIdentityPoint().Add(rHp, ciI)

		sumOfOtherC = edwards25519.NewScalar().Add(sumOfOtherC, ci)
	}

	challenge := fiatShamir(msgHash, Ls, Rs)
	cReal := edwards25519.NewScalar().Subtract(challenge, sumOfOtherC)
	cScalars[realIndex] = cReal
	// r_s = k - c_s*secret
	rReal := edwards25519.NewScalar().Subtract(rScalars[realIndex], edwards25519.NewScalar().Multiply(cReal, secretScalar))
	rScalars[realIndex] = rReal

	sig := make(RingSignature, n)
	for i := 0; i < n; i++ {
		copy(sig[i].C[:], cScalars[i].Bytes())
		copy(sig[i].R[:], rScalars[i].Bytes())
	}
	return sig, nil
}

func (c edwards25519Crypto) VerifyRingSignature(msgHash Hash, image KeyImage, ring []PublicKey, sig RingSignature) bool {
	n := len(ring)
	if n == 0 || len(sig) != n {
		return false
	}
	imgPt, err := edwards25519.NewIdentityPoint().SetBytes(image[:])
	if err != nil {
		return false
	}

	Ls := make([]*edwards25519.Point, n)
	Rs := make([]*edwards25519.Point, n)
	sum := edwards25519.NewScalar()

	for i, memberPub := range ring {
		memberPt, err := pointFromPublic(memberPub)
		if err != nil {
			return false
		}
		ci, err := edwards25519.NewScalar().SetCanonicalBytes(sig[i].C[:])
		if err != nil {
			return false
		}
		ri, err := edwards25519.NewScalar().SetCanonicalBytes(sig[i].R[:])
		if err != nil {
			return false
		}

		rG := edwards25519.NewIdentityPoint().ScalarBaseMult(ri)
		ciP := edwards25519.NewIdentityPoint().ScalarMult(ci, memberPt)
		Ls[i] = edwards25519.NewIdentityPoint().Add(rG, ciP)

		rHp := edwards25519.NewIdentityPoint().ScalarMult(ri, hashToPoint(memberPub))
		ciI := edwards25519.NewIdentityPoint().ScalarMult(ci, imgPt)
		Rs[i] = edwards25519.NewIdentityPoint().Add(rHp, ciI)

		sum = edwards25519.NewScalar().Add(sum, ci)
	}

	challenge := fiatShamir(msgHash, Ls, Rs)
	return challenge.Equal(sum) == 1
}

func fiatShamir(msgHash Hash, Ls, Rs []*edwards25519.Point) *edwards25519.Scalar {
	buf := make([]byte, 0, 32+64*len(Ls))
	buf = append(buf, msgHash[:]...)
	for _, p := range Ls {
		buf = append(buf, p.Bytes()...)
	}
	for _, p := range Rs {
		buf = append(buf, p.Bytes()...)
	}
	return scalarFromWideHash(buf)
}

// ChaCha8 applies ChaCha in its standard library form. golang.org/x/crypto
// only exposes the 20-round construction (no round-count parameter), so the
// "8" in the spec's naming tracks the CryptoNote primitive it stands in for
// rather than a literal 8-round cipher; there is no cross-implementation
// byte-compatibility requirement for this engine (spec.md §1 non-goal).
func (edwards25519Crypto) ChaCha8(key [32]byte, iv [8]byte, data []byte) []byte {
	var nonce [chacha20.NonceSize]byte
	copy(nonce[:], iv[:])
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		panic(err) // key/nonce sizes are fixed above; cannot fail
	}
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out
}

// CnSlowHash stands in for CryptoNote's memory-hard cn_slow_hash: Argon2id
// (already used by the teacher for the wallet-seed KDF) salted with the
// input's own Keccak-256 digest, finalized to 32 bytes.
func (edwards25519Crypto) CnSlowHash(data []byte) Hash {
	salt := ethcrypto.Keccak256(data)[:16]
	derived := argon2.IDKey(data, salt, 1, 64*1024, 4, 32)
	var h Hash
	copy(h[:], derived)
	return h
}

// TreeHash implements CryptoNote's tree_hash: hashes fold pairwise up from
// the largest power-of-two prefix, with the low-order overhang pair folded
// in first, using Keccak-256 (go-ethereum/crypto) as the compression
// function.
func (edwards25519Crypto) TreeHash(leaves []Hash) Hash {
	count := len(leaves)
	if count == 0 {
		return Hash{}
	}
	if count == 1 {
		return leaves[0]
	}
	if count == 2 {
		var out Hash
		copy(out[:], ethcrypto.Keccak256(leaves[0][:], leaves[1][:]))
		return out
	}

	cnt := 1
	for cnt*2 <= count {
		cnt *= 2
	}

	level := make([][]byte, cnt)
	overhang := 2*cnt - count
	for i := 0; i < overhang; i++ {
		b := make([]byte, 32)
		copy(b, leaves[i][:])
		level[i] = b
	}
	for i, j := overhang, overhang; j < cnt; i, j = i+2, j+1 {
		level[j] = ethcrypto.Keccak256(leaves[i][:], leaves[i+1][:])
	}

	for cnt > 2 {
		cnt /= 2
		for i, j := 0, 0; j < cnt; i, j = i+2, j+1 {
			level[j] = ethcrypto.Keccak256(level[i], level[i+1])
		}
	}

	var out Hash
	copy(out[:], ethcrypto.Keccak256(level[0], level[1]))
	return out
}
