package pqhybrid

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// KDF selects the extract-and-expand construction used by the combiner.
type KDF string

const (
	// KDFHKDFSHA256 is HKDF (RFC 5869) over SHA-256. It is the default.
	KDFHKDFSHA256 KDF = "hkdf-sha256"
	// KDFHKDFSHA512 is HKDF over SHA-512.
	KDFHKDFSHA512 KDF = "hkdf-sha512"
	// KDFBLAKE3 is the BLAKE3 key derivation mode keyed by CombinerLabel.
	KDFBLAKE3 KDF = "blake3"
	// KDFSHAKE256 is SHAKE256 over a length-prefixed encoding of label, input
	// key material and info.
	KDFSHAKE256 KDF = "shake256"
)

// KDFs lists every supported KDF.
func KDFs() []KDF {
	return []KDF{KDFHKDFSHA256, KDFHKDFSHA512, KDFBLAKE3, KDFSHAKE256}
}

// IsValid reports whether k is a supported KDF.
func (k KDF) IsValid() bool {
	switch k {
	case KDFHKDFSHA256, KDFHKDFSHA512, KDFBLAKE3, KDFSHAKE256:
		return true
	}
	return false
}

func (k KDF) String() string {
	return string(k)
}

// ParseKDF parses a KDF name. The empty string selects KDFHKDFSHA256.
func ParseKDF(s string) (KDF, error) {
	if s == "" {
		return KDFHKDFSHA256, nil
	}
	k := KDF(s)
	if !k.IsValid() {
		return "", fmt.Errorf("pqhybrid: unknown kdf %q", s)
	}
	return k, nil
}

// derive fills out with key material derived from ikm under info. The label
// is CombinerLabel for every construction.
func (k KDF) derive(ikm, info, out []byte) error {
	switch k {
	case KDFHKDFSHA256, "":
		return hkdfDerive(sha256.New, ikm, info, out)
	case KDFHKDFSHA512:
		return hkdfDerive(sha512.New, ikm, info, out)
	case KDFBLAKE3:
		material := make([]byte, 0, len(ikm)+2+len(info))
		material = append(material, ikm...)
		material = binary.BigEndian.AppendUint16(material, uint16(len(info)))
		material = append(material, info...)
		defer secureZero(material)
		blake3.DeriveKey(CombinerLabel, material, out)
		return nil
	case KDFSHAKE256:
		h := sha3.NewShake256()
		writeLengthPrefixed(h, []byte(CombinerLabel))
		writeLengthPrefixed(h, ikm)
		writeLengthPrefixed(h, info)
		_, err := h.Read(out)
		return err
	}
	return fmt.Errorf("pqhybrid: unknown kdf %q", string(k))
}

func hkdfDerive(h func() hash.Hash, ikm, info, out []byte) error {
	r := hkdf.New(h, ikm, []byte(CombinerLabel), info)
	if _, err := io.ReadFull(r, out); err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	return nil
}

func writeLengthPrefixed(w io.Writer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}
