package pqhybrid

import (
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/sign"
)

// circlSigner wraps a circl sign.Scheme (ML-DSA per NIST FIPS 204, Ed25519).
type circlSigner struct {
	scheme sign.Scheme
}

// NewCIRCLSigner wraps a circl sign.Scheme as a SignatureProvider.
func NewCIRCLSigner(scheme sign.Scheme) SignatureProvider {
	return circlSigner{scheme: scheme}
}

// GenerateKeypair derives a signing keypair from a seed read from rng.
func (c circlSigner) GenerateKeypair(rng io.Reader) (public, secret []byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}

	seed := make([]byte, c.scheme.SeedSize())
	defer secureZero(seed)
	if _, err := io.ReadFull(rng, seed); err != nil {
		return nil, nil, err
	}

	pub, priv := c.scheme.DeriveKey(seed)
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

// Sign signs message. The schemes wrapped here draw any signing randomness
// internally, so rng is unused.
func (c circlSigner) Sign(secret, message []byte, _ io.Reader) ([]byte, error) {
	priv, err := c.scheme.UnmarshalBinaryPrivateKey(secret)
	if err != nil {
		return nil, err
	}
	return c.scheme.Sign(priv, message, nil), nil
}

// Verify reports whether signature is valid. Unparseable public keys verify
// as false.
func (c circlSigner) Verify(pubkey, message, signature []byte) bool {
	pub, err := c.scheme.UnmarshalBinaryPublicKey(pubkey)
	if err != nil {
		return false
	}
	return c.scheme.Verify(pub, message, signature, nil)
}

func (c circlSigner) ProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "circl/" + c.scheme.Name(), Version: CIRCLVersion}
}
