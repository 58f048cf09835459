package pqhybrid

// providers.go - binds every built-in descriptor to its implementation.
//
// We use Cloudflare's CIRCL library for the post-quantum primitives because:
// - It provides NIST-standardized FIPS 203 (ML-KEM) and FIPS 204 (ML-DSA)
// - Constant-time implementations to prevent timing attacks
// - Used in production by Cloudflare's edge network

import (
	"crypto/ecdh"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// Provider versions, pinned to go.mod.
const (
	CIRCLVersion   = "v1.6.1"
	XCryptoVersion = "v0.47.0"
)

// NewCIRCLProviders binds every built-in algorithm name to its provider.
func NewCIRCLProviders() *Providers {
	p := NewProviders()

	p.BindKEM("ML-KEM-512", NewCIRCLKEM(mlkem512.Scheme()))
	p.BindKEM("ML-KEM-768", NewCIRCLKEM(mlkem768.Scheme()))
	p.BindKEM("ML-KEM-1024", NewCIRCLKEM(mlkem1024.Scheme()))
	p.BindKEM("Kyber-512", NewCIRCLKEM(kyber512.Scheme()))
	p.BindKEM("Kyber-768", NewCIRCLKEM(kyber768.Scheme()))
	p.BindKEM("Kyber-1024", NewCIRCLKEM(kyber1024.Scheme()))

	p.BindSignature("ML-DSA-44", NewCIRCLSigner(mldsa44.Scheme()))
	p.BindSignature("ML-DSA-65", NewCIRCLSigner(mldsa65.Scheme()))
	p.BindSignature("ML-DSA-87", NewCIRCLSigner(mldsa87.Scheme()))
	p.BindSignature("Ed25519", NewCIRCLSigner(ed25519.Scheme()))

	p.BindKeyAgreement("X25519", dh25519{})
	p.BindKeyAgreement("X448", dh448{})
	p.BindKeyAgreement("ECDH-P256", dhNIST{curve: ecdh.P256(), name: "P256"})
	p.BindKeyAgreement("ECDH-P384", dhNIST{curve: ecdh.P384(), name: "P384"})

	return p
}
