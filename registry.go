package pqhybrid

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a catalogue of algorithm descriptors. It is populated at
// startup and sealed before use; after Seal it is read-only and safe to share
// across goroutines, handshakes and benchmark workers.
type Registry struct {
	mu         sync.RWMutex
	algorithms map[string]*AlgorithmDescriptor
	sealed     bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		algorithms: make(map[string]*AlgorithmDescriptor),
	}
}

// NewDefaultRegistry returns a sealed registry holding every built-in
// descriptor.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range BuiltinDescriptors() {
		if err := r.Register(d); err != nil {
			// The built-in table is static; a failure here is a programming error.
			panic(err)
		}
	}
	r.Seal()
	return r
}

// Register adds a descriptor. The registry stores its own copy.
func (r *Registry) Register(desc AlgorithmDescriptor) error {
	if err := desc.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, desc.Name())
	}
	name := desc.Name()
	if _, exists := r.algorithms[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAlgorithm, name)
	}
	d := desc
	r.algorithms[name] = &d
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the descriptor registered under name. The returned pointer
// is shared; callers must treat it as read-only.
func (r *Registry) Lookup(name string) (*AlgorithmDescriptor, error) {
	r.mu.RLock()
	desc, exists := r.algorithms[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return desc, nil
}

// MustLookup is like Lookup but panics for unknown names. It is intended for
// tests and static wiring.
func (r *Registry) MustLookup(name string) *AlgorithmDescriptor {
	d, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// All returns every descriptor sorted by family, then name.
func (r *Registry) All() []*AlgorithmDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AlgorithmDescriptor, 0, len(r.algorithms))
	for _, d := range r.algorithms {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Family != out[j].ID.Family {
			return out[i].ID.Family < out[j].ID.Family
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.algorithms)
}

// Filter returns a new sealed registry holding only the named descriptors.
// An empty allow-list keeps everything. Unknown names fail with
// ErrUnknownAlgorithm.
func (r *Registry) Filter(allow []string) (*Registry, error) {
	out := NewRegistry()
	if len(allow) == 0 {
		for _, d := range r.All() {
			_ = out.Register(*d)
		}
		out.Seal()
		return out, nil
	}
	for _, name := range allow {
		d, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		if err := out.Register(*d); err != nil {
			return nil, err
		}
	}
	out.Seal()
	return out, nil
}

// BuiltinDescriptors returns the static descriptor table.
func BuiltinDescriptors() []AlgorithmDescriptor {
	kem := func(name, param string, pk, sk, ct, ss, bits int) AlgorithmDescriptor {
		return AlgorithmDescriptor{
			ID:              AlgorithmID{Family: FamilyKEM, Name: name, ParamSet: param},
			PublicKeyLen:    pk,
			SecretKeyLen:    sk,
			CiphertextLen:   ct,
			SharedSecretLen: ss,
			SecurityBits:    bits,
			PostQuantum:     true,
			HybridEligible:  true,
		}
	}
	sig := func(name, param string, pk, sk, sigLen, bits int, pq bool) AlgorithmDescriptor {
		return AlgorithmDescriptor{
			ID:           AlgorithmID{Family: FamilySignature, Name: name, ParamSet: param},
			PublicKeyLen: pk,
			SecretKeyLen: sk,
			SignatureLen: sigLen,
			SecurityBits: bits,
			PostQuantum:  pq,
		}
	}
	dh := func(name, param string, pk, sk, ss, bits int) AlgorithmDescriptor {
		return AlgorithmDescriptor{
			ID:              AlgorithmID{Family: FamilyKeyAgreement, Name: name, ParamSet: param},
			PublicKeyLen:    pk,
			SecretKeyLen:    sk,
			SharedSecretLen: ss,
			SecurityBits:    bits,
			HybridEligible:  true,
		}
	}

	return []AlgorithmDescriptor{
		kem("ML-KEM", "512", MLKEM512PublicKeySize, MLKEM512PrivateKeySize, MLKEM512CiphertextSize, MLKEM512SharedSecretSize, 128),
		kem("ML-KEM", "768", MLKEM768PublicKeySize, MLKEM768PrivateKeySize, MLKEM768CiphertextSize, MLKEM768SharedSecretSize, 192),
		kem("ML-KEM", "1024", MLKEM1024PublicKeySize, MLKEM1024PrivateKeySize, MLKEM1024CiphertextSize, MLKEM1024SharedSecretSize, 256),
		kem("Kyber", "512", MLKEM512PublicKeySize, MLKEM512PrivateKeySize, MLKEM512CiphertextSize, MLKEM512SharedSecretSize, 128),
		kem("Kyber", "768", MLKEM768PublicKeySize, MLKEM768PrivateKeySize, MLKEM768CiphertextSize, MLKEM768SharedSecretSize, 192),
		kem("Kyber", "1024", MLKEM1024PublicKeySize, MLKEM1024PrivateKeySize, MLKEM1024CiphertextSize, MLKEM1024SharedSecretSize, 256),

		sig("ML-DSA", "44", MLDSA44PublicKeySize, MLDSA44PrivateKeySize, MLDSA44SignatureSize, 128, true),
		sig("ML-DSA", "65", MLDSA65PublicKeySize, MLDSA65PrivateKeySize, MLDSA65SignatureSize, 192, true),
		sig("ML-DSA", "87", MLDSA87PublicKeySize, MLDSA87PrivateKeySize, MLDSA87SignatureSize, 256, true),
		sig("Ed25519", "", Ed25519PublicKeySize, Ed25519PrivateKeySize, Ed25519SignatureSize, 128, false),

		dh("X25519", "", X25519KeySize, X25519KeySize, X25519KeySize, 128),
		dh("X448", "", X448KeySize, X448KeySize, X448KeySize, 224),
		dh("ECDH", "P256", P256PublicKeySize, P256PrivateKeySize, 32, 128),
		dh("ECDH", "P384", P384PublicKeySize, P384PrivateKeySize, 48, 192),
	}
}
