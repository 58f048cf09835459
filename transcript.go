package pqhybrid

import "crypto/sha256"

// A transcript is the running SHA-256 hash of every public value exchanged in
// a handshake. Both peers must feed it identical bytes in identical order.
type transcript struct {
	h []byte
}

// newTranscript initializes the hash with the protocol name and mixes in the
// prologue. Names no longer than the hash size are zero-padded, longer names
// are hashed.
func newTranscript(suite Suite, kdf KDF, prologue []byte) *transcript {
	name := []byte("pqhybrid/v1_" + suite.Name() + "_" + kdf.String())
	t := &transcript{}
	if len(name) <= sha256.Size {
		t.h = make([]byte, sha256.Size)
		copy(t.h, name)
	} else {
		sum := sha256.Sum256(name)
		t.h = sum[:]
	}
	t.MixHash(prologue)
	return t
}

// MixHash sets h = SHA-256(h || data).
func (t *transcript) MixHash(data []byte) {
	h := sha256.New()
	h.Write(t.h)
	h.Write(data)
	t.h = h.Sum(t.h[:0])
}

// Sum returns a copy of the current hash.
func (t *transcript) Sum() []byte {
	return append([]byte(nil), t.h...)
}
