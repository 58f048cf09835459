package main

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/sha3"
)

// hexReader returns a deterministic byte stream expanded from a hex-encoded
// seed with SHAKE256. It panics on malformed hex.
func hexReader(s string) io.Reader {
	seed, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	h := sha3.NewShake256()
	h.Write([]byte("pqhybrid vectorgen"))
	h.Write(seed)
	return h
}
