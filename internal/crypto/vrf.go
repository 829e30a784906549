// Package crypto provides the key derivation and verifiable randomness
// primitives used by the randomness provider.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// Errors
var (
	ErrInvalidProof  = errors.New("invalid VRF proof")
	ErrInvalidSecret = errors.New("invalid master secret")
)

// VRFProof is the output of GenerateVRF. Proof is an ed25519 signature over the
// input; Output is its SHA-256 digest. ed25519 signatures are deterministic, so a
// key yields exactly one output per input and anyone holding PublicKey can check it.
type VRFProof struct {
	PublicKey []byte `json:"public_key"`
	Input     []byte `json:"input"`
	Proof     []byte `json:"proof"`
	Output    []byte `json:"output"`
}

// DeriveSigningKey derives an ed25519 key from secret with HKDF-SHA256.
func DeriveSigningKey(secret []byte, info string) (ed25519.PrivateKey, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: need at least 16 bytes, got %d", ErrInvalidSecret, len(secret))
	}
	seed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// GenerateVRF computes the proof and output for input.
func GenerateVRF(key ed25519.PrivateKey, input []byte) (*VRFProof, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size %d", len(key))
	}
	sig := ed25519.Sign(key, input)
	out := sha256.Sum256(sig)
	pub := key.Public().(ed25519.PublicKey)
	return &VRFProof{
		PublicKey: append([]byte(nil), pub...),
		Input:     append([]byte(nil), input...),
		Proof:     sig,
		Output:    out[:],
	}, nil
}

// VerifyVRF checks that p was produced by the holder of p.PublicKey.
func VerifyVRF(p *VRFProof) error {
	if p == nil || len(p.PublicKey) != ed25519.PublicKeySize {
		return ErrInvalidProof
	}
	if !ed25519.Verify(ed25519.PublicKey(p.PublicKey), p.Input, p.Proof) {
		return ErrInvalidProof
	}
	out := sha256.Sum256(p.Proof)
	if string(out[:]) != string(p.Output) {
		return ErrInvalidProof
	}
	return nil
}

// ExpandWords stretches a VRF output into n 256-bit words.
func ExpandWords(output []byte, n int) []*big.Int {
	words := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, 0, len(output)+1)
		buf = append(buf, output...)
		buf = append(buf, byte(i))
		h := sha256.Sum256(buf)
		words[i] = new(big.Int).SetBytes(h[:])
	}
	return words
}
