package pqhybrid

import (
	"crypto/subtle"
	"runtime"
)

// secureZero securely zeroes the provided byte slice to prevent sensitive data
// from remaining in memory. This function prevents the compiler from optimizing
// away the zeroing operation.
func secureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// Force compiler to not optimize away the zeroing
	runtime.KeepAlive(b)
}

// A Secret owns a buffer of sensitive bytes: secret keys, shared secrets and
// derived keys. The buffer is pinned in memory where the platform allows it
// and is overwritten by Wipe. A Secret must have exactly one owner; hand it
// off explicitly instead of copying the bytes.
type Secret struct {
	b      []byte
	locked bool
}

// NewSecret allocates a zeroed secret of n bytes.
func NewSecret(n int) *Secret {
	return SecretFrom(make([]byte, n))
}

// SecretFrom takes ownership of b. The caller must not use b afterwards
// except through the returned Secret.
func SecretFrom(b []byte) *Secret {
	s := &Secret{b: b}
	s.locked = lockMemory(b)
	return s
}

// Bytes returns the underlying buffer. It is valid until Wipe is called.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the length of the secret, zero after Wipe.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Wiped reports whether the secret has been released.
func (s *Secret) Wiped() bool {
	return s == nil || s.b == nil
}

// Wipe overwrites and releases the buffer. It is safe to call more than once
// and on a nil Secret.
func (s *Secret) Wipe() {
	if s == nil || s.b == nil {
		return
	}
	secureZero(s.b)
	if s.locked {
		unlockMemory(s.b)
		s.locked = false
	}
	s.b = nil
}

// Equal reports in constant time whether s and o hold the same bytes. Wiped
// secrets are never equal.
func (s *Secret) Equal(o *Secret) bool {
	if s.Wiped() || o.Wiped() {
		return false
	}
	return subtle.ConstantTimeCompare(s.b, o.b) == 1
}

// WithSecret allocates an n-byte secret, passes its buffer to fn and wipes it
// on every exit path, including a panic in fn.
func WithSecret(n int, fn func(b []byte) error) error {
	s := NewSecret(n)
	defer s.Wipe()
	return fn(s.b)
}

// wipeAll wipes every non-nil secret.
func wipeAll(secrets ...*Secret) {
	for _, s := range secrets {
		s.Wipe()
	}
}

// cloneSecret copies b into a new Secret. A nil b yields a nil Secret.
func cloneSecret(b []byte) *Secret {
	if b == nil {
		return nil
	}
	return SecretFrom(append([]byte(nil), b...))
}
