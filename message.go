package pqhybrid

import (
	"encoding/binary"
	"fmt"
)

// ConfirmTagSize is the length of the key-confirmation tag.
const ConfirmTagSize = 32

const flagSigned = 1 << 0

// A HandshakeMessage is the single message an initiator sends to complete a
// hybrid handshake. It holds only public values.
//
// Encoding (multi-byte integers are big endian):
//
//	version(1) | flags(1) | suiteLen(1) suite |
//	u16 classicalLen classicalPublic | u16 ciphertextLen ciphertext |
//	confirm(32) | [u16 signatureLen signature]
//
// The signature block is present only when flag bit 0 is set.
type HandshakeMessage struct {
	Version         byte
	Suite           Suite
	ClassicalPublic []byte
	Ciphertext      []byte
	Confirm         []byte
	Signature       []byte
}

// Signed reports whether the message carries a signature.
func (m *HandshakeMessage) Signed() bool {
	return len(m.Signature) > 0
}

// MarshalBinary encodes the message.
func (m *HandshakeMessage) MarshalBinary() ([]byte, error) {
	suite := m.Suite.Name()
	if len(suite) > 0xff {
		return nil, fmt.Errorf("%w: suite name too long", ErrMalformedMessage)
	}
	if len(m.ClassicalPublic) > 0xffff || len(m.Ciphertext) > 0xffff || len(m.Signature) > 0xffff {
		return nil, fmt.Errorf("%w: field too long", ErrMalformedMessage)
	}
	if len(m.Confirm) != ConfirmTagSize {
		return nil, fmt.Errorf("%w: confirmation tag must be %d bytes", ErrMalformedMessage, ConfirmTagSize)
	}

	var flags byte
	if m.Signed() {
		flags |= flagSigned
	}
	version := m.Version
	if version == 0 {
		version = HandshakeVersion
	}

	size := 3 + len(suite) + 2 + len(m.ClassicalPublic) + 2 + len(m.Ciphertext) + ConfirmTagSize
	if m.Signed() {
		size += 2 + len(m.Signature)
	}
	if size > MaxHandshakeMessageLen {
		return nil, fmt.Errorf("%w: message exceeds maximum length", ErrMalformedMessage)
	}

	out := make([]byte, 0, size)
	out = append(out, version, flags, byte(len(suite)))
	out = append(out, suite...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(m.ClassicalPublic)))
	out = append(out, m.ClassicalPublic...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(m.Ciphertext)))
	out = append(out, m.Ciphertext...)
	out = append(out, m.Confirm...)
	if m.Signed() {
		out = binary.BigEndian.AppendUint16(out, uint16(len(m.Signature)))
		out = append(out, m.Signature...)
	}
	return out, nil
}

// UnmarshalHandshakeMessage decodes a message produced by MarshalBinary. The
// returned message does not alias data.
func UnmarshalHandshakeMessage(data []byte) (*HandshakeMessage, error) {
	if len(data) > MaxHandshakeMessageLen {
		return nil, fmt.Errorf("%w: message exceeds maximum length", ErrMalformedMessage)
	}
	r := reader{b: data}

	version, flags, suiteLen := r.readByte(), r.readByte(), r.readByte()
	if r.err != nil {
		return nil, r.err
	}
	if version != HandshakeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedMessage, version)
	}
	if flags&^flagSigned != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrMalformedMessage, flags)
	}

	m := &HandshakeMessage{Version: version}
	suiteName := string(r.next(int(suiteLen)))
	m.ClassicalPublic = r.prefixed()
	m.Ciphertext = r.prefixed()
	m.Confirm = r.next(ConfirmTagSize)
	if flags&flagSigned != 0 {
		m.Signature = r.prefixed()
		if r.err == nil && len(m.Signature) == 0 {
			return nil, fmt.Errorf("%w: empty signature block", ErrMalformedMessage)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, len(r.b))
	}

	suite, err := ParseSuite(suiteName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	m.Suite = suite
	return m, nil
}

// reader consumes a byte slice and records the first short read.
type reader struct {
	b   []byte
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: short message", ErrMalformedMessage)
		return nil
	}
	out := append([]byte(nil), r.b[:n]...)
	r.b = r.b[n:]
	return out
}

func (r *reader) readByte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) prefixed() []byte {
	n := r.next(2)
	if n == nil {
		return nil
	}
	return r.next(int(binary.BigEndian.Uint16(n)))
}
