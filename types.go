package pqhybrid

import (
	"fmt"
	"io"
	"sync"
)

// ProviderInfo identifies the external implementation behind an algorithm.
type ProviderInfo struct {
	Name    string
	Version string
}

func (p ProviderInfo) String() string {
	return p.Name + "@" + p.Version
}

// KEMProvider implements a Key Encapsulation Mechanism.
// The Adapter treats it as an opaque, vetted constant-time implementation and
// checks every length it consumes or produces.
type KEMProvider interface {
	// GenerateKeypair generates a new keypair using random as a source of entropy.
	GenerateKeypair(random io.Reader) (public, secret []byte, err error)

	// Encapsulate generates a shared secret and encapsulates it for pubkey.
	Encapsulate(pubkey []byte, random io.Reader) (ciphertext, sharedSecret []byte, err error)

	// Decapsulate recovers the shared secret from the ciphertext.
	Decapsulate(secret, ciphertext []byte) (sharedSecret []byte, err error)

	ProviderInfo() ProviderInfo
}

// SignatureProvider implements a digital signature scheme.
type SignatureProvider interface {
	// GenerateKeypair generates a new signing keypair using random as a source of entropy.
	GenerateKeypair(random io.Reader) (public, secret []byte, err error)

	// Sign creates a signature over message.
	Sign(secret, message []byte, random io.Reader) (signature []byte, err error)

	// Verify reports whether signature is valid for message under pubkey.
	Verify(pubkey, message, signature []byte) bool

	ProviderInfo() ProviderInfo
}

// KeyAgreementProvider implements classical Diffie-Hellman key agreement.
type KeyAgreementProvider interface {
	// GenerateKeypair generates a new keypair using random as a source of entropy.
	GenerateKeypair(random io.Reader) (public, secret []byte, err error)

	// Agree performs a Diffie-Hellman calculation between the provided secret
	// and peer public keys and returns the result.
	Agree(secret, peerPublic []byte) ([]byte, error)

	ProviderInfo() ProviderInfo
}

// Providers binds algorithm names to their implementations. Like the
// Registry it is configured once and then only read.
type Providers struct {
	mu  sync.RWMutex
	kem map[string]KEMProvider
	sig map[string]SignatureProvider
	ka  map[string]KeyAgreementProvider
}

// NewProviders creates an empty provider set.
func NewProviders() *Providers {
	return &Providers{
		kem: make(map[string]KEMProvider),
		sig: make(map[string]SignatureProvider),
		ka:  make(map[string]KeyAgreementProvider),
	}
}

// BindKEM binds a KEM provider to an algorithm name, replacing any previous
// binding.
func (p *Providers) BindKEM(name string, kp KEMProvider) *Providers {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kem[name] = kp
	return p
}

// BindSignature binds a signature provider to an algorithm name.
func (p *Providers) BindSignature(name string, sp SignatureProvider) *Providers {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sig[name] = sp
	return p
}

// BindKeyAgreement binds a key-agreement provider to an algorithm name.
func (p *Providers) BindKeyAgreement(name string, kp KeyAgreementProvider) *Providers {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ka[name] = kp
	return p
}

func (p *Providers) kemFor(name string) (KEMProvider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if kp, ok := p.kem[name]; ok {
		return kp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, name)
}

func (p *Providers) signatureFor(name string) (SignatureProvider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sp, ok := p.sig[name]; ok {
		return sp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, name)
}

func (p *Providers) keyAgreementFor(name string) (KeyAgreementProvider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if kp, ok := p.ka[name]; ok {
		return kp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, name)
}

// Info returns the provider identity bound to the descriptor.
func (p *Providers) Info(desc *AlgorithmDescriptor) (ProviderInfo, error) {
	switch desc.Family() {
	case FamilyKEM:
		kp, err := p.kemFor(desc.Name())
		if err != nil {
			return ProviderInfo{}, err
		}
		return kp.ProviderInfo(), nil
	case FamilySignature:
		sp, err := p.signatureFor(desc.Name())
		if err != nil {
			return ProviderInfo{}, err
		}
		return sp.ProviderInfo(), nil
	case FamilyKeyAgreement:
		kp, err := p.keyAgreementFor(desc.Name())
		if err != nil {
			return ProviderInfo{}, err
		}
		return kp.ProviderInfo(), nil
	}
	return ProviderInfo{}, fmt.Errorf("%w: %s", ErrNoProvider, desc.Name())
}
