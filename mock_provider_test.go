package pqhybrid

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Mock implementations for testing the provider interfaces

// mockKEM is a KEM whose shared secret is a prefix of the ciphertext. Its
// output lengths can be skewed to exercise the adapter's length assertions.
type mockKEM struct {
	pubLen, privLen, ctLen, ssLen int

	// Output length overrides; zero keeps the declared length.
	badPubLen, badCtLen, badSSLen int

	failGenerate bool
	failEncaps   bool
	failDecaps   bool
	panicEncaps  bool
	delay        time.Duration // before Encapsulate returns
	decapsDelay  time.Duration // before Decapsulate returns

	calls atomic.Int32
	// active and maxActive count calls running at once.
	active, maxActive atomic.Int32
	// sawWipedKey is set when Decapsulate finished on a zeroed secret key.
	sawWipedKey atomic.Bool

	mu      sync.Mutex
	secrets [][]byte // every shared secret handed out
}

// enter counts a call as running until the returned func is called.
func (m *mockKEM) enter() func() {
	m.calls.Add(1)
	n := m.active.Add(1)
	for {
		peak := m.maxActive.Load()
		if n <= peak || m.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { m.active.Add(-1) }
}

func (m *mockKEM) handOut(ss []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, ss)
	return ss
}

// handedOut returns the shared secret buffers the provider returned, not
// copies of them.
func (m *mockKEM) handedOut() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.secrets...)
}

func (m *mockKEM) GenerateKeypair(random io.Reader) ([]byte, []byte, error) {
	defer m.enter()()
	if m.failGenerate {
		return nil, nil, errors.New("mock generate failure")
	}
	if random == nil {
		random = rand.Reader
	}
	pub := make([]byte, pick(m.badPubLen, m.pubLen))
	priv := make([]byte, m.privLen)
	io.ReadFull(random, pub)
	io.ReadFull(random, priv)
	return pub, priv, nil
}

func (m *mockKEM) Encapsulate(pubkey []byte, random io.Reader) ([]byte, []byte, error) {
	defer m.enter()()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.panicEncaps {
		panic("mock encapsulate panic")
	}
	if m.failEncaps {
		return nil, nil, errors.New("mock encapsulate failure")
	}
	if random == nil {
		random = rand.Reader
	}
	ct := make([]byte, pick(m.badCtLen, m.ctLen))
	io.ReadFull(random, ct)
	ss := make([]byte, pick(m.badSSLen, m.ssLen))
	copy(ss, ct)
	return ct, m.handOut(ss), nil
}

func (m *mockKEM) Decapsulate(privkey, ciphertext []byte) ([]byte, error) {
	defer m.enter()()
	if m.decapsDelay > 0 {
		time.Sleep(m.decapsDelay)
	}
	if isZero(privkey) {
		m.sawWipedKey.Store(true)
	}
	if m.failDecaps {
		return nil, errors.New("mock decapsulate failure")
	}
	ss := make([]byte, m.ssLen)
	copy(ss, ciphertext)
	return m.handOut(ss), nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (m *mockKEM) ProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "mock-kem", Version: "test"}
}

// mockSigner signs with SHA-256(public || message), stretched to sigLen.
// The public key is the first pubLen bytes of the secret key.
type mockSigner struct {
	pubLen, privLen, sigLen int

	calls atomic.Int32
}

func (m *mockSigner) GenerateKeypair(random io.Reader) ([]byte, []byte, error) {
	m.calls.Add(1)
	if random == nil {
		random = rand.Reader
	}
	priv := make([]byte, m.privLen)
	io.ReadFull(random, priv)
	return append([]byte(nil), priv[:m.pubLen]...), priv, nil
}

func (m *mockSigner) mac(pub, message []byte) []byte {
	h := sha256.New()
	h.Write(pub)
	h.Write(message)
	sum := h.Sum(nil)
	sig := make([]byte, m.sigLen)
	for i := range sig {
		sig[i] = sum[i%len(sum)]
	}
	return sig
}

func (m *mockSigner) Sign(secret, message []byte, _ io.Reader) ([]byte, error) {
	m.calls.Add(1)
	return m.mac(secret[:m.pubLen], message), nil
}

func (m *mockSigner) Verify(pubkey, message, signature []byte) bool {
	m.calls.Add(1)
	want := m.mac(pubkey, message)
	if len(want) != len(signature) {
		return false
	}
	for i := range want {
		if want[i] != signature[i] {
			return false
		}
	}
	return true
}

func (m *mockSigner) ProviderInfo() ProviderInfo {
	return ProviderInfo{Name: "mock-sig", Version: "test"}
}

// failingKA always fails key agreement.
type failingKA struct{ dh25519 }

func (failingKA) Agree(secret, peerPublic []byte) ([]byte, error) {
	return nil, errors.New("mock agreement failure")
}

func pick(override, declared int) int {
	if override != 0 {
		return override
	}
	return declared
}

// mockKEMDescriptor is the 800/1632/768 KEM descriptor used by the concrete
// length scenarios.
func mockKEMDescriptor(name string) AlgorithmDescriptor {
	return AlgorithmDescriptor{
		ID:              AlgorithmID{Family: FamilyKEM, Name: name},
		PublicKeyLen:    800,
		SecretKeyLen:    1632,
		CiphertextLen:   768,
		SharedSecretLen: 32,
		SecurityBits:    128,
		PostQuantum:     true,
		HybridEligible:  true,
	}
}

func mockSignerDescriptor(name string) AlgorithmDescriptor {
	return AlgorithmDescriptor{
		ID:           AlgorithmID{Family: FamilySignature, Name: name},
		PublicKeyLen: 32,
		SecretKeyLen: 64,
		SignatureLen: 96,
		SecurityBits: 128,
	}
}

// buildMockAdapter registers one mock KEM and one mock signer next to the
// built-in X25519 descriptor and returns an adapter over them.
func buildMockAdapter(kem *mockKEM, opts ...AdapterOption) (*Adapter, error) {
	reg := NewRegistry()
	if err := reg.Register(mockKEMDescriptor("MockKEM")); err != nil {
		return nil, err
	}
	if err := reg.Register(mockSignerDescriptor("MockSig")); err != nil {
		return nil, err
	}
	for _, d := range BuiltinDescriptors() {
		if d.Name() == "X25519" {
			if err := reg.Register(d); err != nil {
				return nil, err
			}
		}
	}
	reg.Seal()

	provs := NewProviders().
		BindKEM("MockKEM", kem).
		BindSignature("MockSig", &mockSigner{pubLen: 32, privLen: 64, sigLen: 96}).
		BindKeyAgreement("X25519", dh25519{})
	return NewAdapter(reg, provs, opts...), nil
}

func newMockAdapter(t *testing.T, kem *mockKEM, opts ...AdapterOption) (*Adapter, *AlgorithmDescriptor) {
	t.Helper()
	a, err := buildMockAdapter(kem, opts...)
	require.NoError(t, err)
	return a, a.Registry().MustLookup("MockKEM")
}

func newMockKEM() *mockKEM {
	return &mockKEM{pubLen: 800, privLen: 1632, ctLen: 768, ssLen: 32}
}

// newCIRCLAdapter returns an adapter over every built-in algorithm.
func newCIRCLAdapter(opts ...AdapterOption) *Adapter {
	return NewAdapter(NewDefaultRegistry(), NewCIRCLProviders(), opts...)
}
