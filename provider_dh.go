package pqhybrid

// provider_dh.go - classical Diffie-Hellman providers for the classical leg
// of the hybrid handshake.

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"io"

	"github.com/cloudflare/circl/dh/x448"
	"golang.org/x/crypto/curve25519"
)

var errLowOrderPoint = errors.New("peer public key is a low-order point")

// dh25519 implements X25519 via golang.org/x/crypto/curve25519.
type dh25519 struct{}

func (dh25519) GenerateKeypair(rng io.Reader) (public, secret []byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}
	secret = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rng, secret); err != nil {
		return nil, nil, err
	}
	public, err = curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		secureZero(secret)
		return nil, nil, err
	}
	return public, secret, nil
}

// Agree rejects all-zero outputs (low-order peer points) via curve25519.X25519.
func (dh25519) Agree(secret, peerPublic []byte) ([]byte, error) {
	return curve25519.X25519(secret, peerPublic)
}

func (dh25519) ProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "x/crypto/curve25519", Version: XCryptoVersion}
}

// dh448 implements X448 via circl/dh/x448.
type dh448 struct{}

func (dh448) GenerateKeypair(rng io.Reader) (public, secret []byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}
	var sk, pk x448.Key
	if _, err := io.ReadFull(rng, sk[:]); err != nil {
		return nil, nil, err
	}
	x448.KeyGen(&pk, &sk)
	secret = append([]byte(nil), sk[:]...)
	secureZero(sk[:])
	return pk[:], secret, nil
}

func (dh448) Agree(secret, peerPublic []byte) ([]byte, error) {
	var sk, pk, shared x448.Key
	copy(sk[:], secret)
	copy(pk[:], peerPublic)
	defer secureZero(sk[:])
	if !x448.Shared(&shared, &sk, &pk) {
		return nil, errLowOrderPoint
	}
	out := append([]byte(nil), shared[:]...)
	secureZero(shared[:])
	return out, nil
}

func (dh448) ProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "circl/x448", Version: CIRCLVersion}
}

// dhNIST implements ECDH over a NIST curve via crypto/ecdh.
type dhNIST struct {
	curve ecdh.Curve
	name  string
}

func (d dhNIST) GenerateKeypair(rng io.Reader) (public, secret []byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}
	priv, err := d.curve.GenerateKey(rng)
	if err != nil {
		return nil, nil, err
	}
	return priv.PublicKey().Bytes(), priv.Bytes(), nil
}

func (d dhNIST) Agree(secret, peerPublic []byte) ([]byte, error) {
	priv, err := d.curve.NewPrivateKey(secret)
	if err != nil {
		return nil, err
	}
	pub, err := d.curve.NewPublicKey(peerPublic)
	if err != nil {
		return nil, err
	}
	return priv.ECDH(pub)
}

func (d dhNIST) ProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "crypto/ecdh/" + d.name, Version: "go"}
}
