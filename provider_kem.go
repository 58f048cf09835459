package pqhybrid

// provider_kem.go - circl-backed Key Encapsulation Mechanism providers
//
// Wraps the Cloudflare CIRCL library's kem.Scheme implementations (ML-KEM per
// NIST FIPS 203 and the round-3 Kyber parameter sets). Key generation and
// encapsulation are seed-driven so that the caller's io.Reader is the only
// source of randomness.

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/cloudflare/circl/kem"
)

// circlKEM is a generic wrapper around CIRCL's kem.Scheme interface.
type circlKEM struct {
	scheme kem.Scheme
}

// NewCIRCLKEM wraps a circl kem.Scheme as a KEMProvider.
func NewCIRCLKEM(scheme kem.Scheme) KEMProvider {
	return circlKEM{scheme: scheme}
}

// GenerateKeypair generates a new KEM keypair.
// If rng is nil, crypto/rand.Reader is used for cryptographically secure randomness.
func (m circlKEM) GenerateKeypair(rng io.Reader) (public, secret []byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}

	// Generate a random seed for deterministic key generation
	seed := make([]byte, m.scheme.SeedSize())
	defer secureZero(seed)
	if _, err := io.ReadFull(rng, seed); err != nil {
		return nil, nil, err
	}

	pub, priv := m.scheme.DeriveKeyPair(seed)

	public, err = pub.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	secret, err = priv.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return public, secret, nil
}

// Encapsulate generates a shared secret and encapsulates it for the given public key.
// The shared secret must be securely zeroed after use by the caller.
func (m circlKEM) Encapsulate(pubkey []byte, rng io.Reader) (ciphertext, sharedSecret []byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}

	pub, err := m.scheme.UnmarshalBinaryPublicKey(pubkey)
	if err != nil {
		return nil, nil, err
	}

	seed := make([]byte, m.scheme.EncapsulationSeedSize())
	defer secureZero(seed)
	if _, err := io.ReadFull(rng, seed); err != nil {
		return nil, nil, err
	}

	return m.scheme.EncapsulateDeterministically(pub, seed)
}

// Decapsulate recovers the shared secret from the ciphertext using the private key.
// The returned shared secret must be securely zeroed after use by the caller.
func (m circlKEM) Decapsulate(secret, ciphertext []byte) ([]byte, error) {
	priv, err := m.scheme.UnmarshalBinaryPrivateKey(secret)
	if err != nil {
		return nil, err
	}
	ss, err := m.scheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, errors.New("kem decapsulation failed")
	}
	return ss, nil
}

func (m circlKEM) ProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "circl/" + m.scheme.Name(), Version: CIRCLVersion}
}
