package main

import (
	"encoding/hex"
	"testing"

	"github.com/go-i2p/pqhybrid"
)

func TestGenerateDeterministic(t *testing.T) {
	const seed = "000102030405060708090a0b0c0d0e0f"
	for _, suite := range deterministicSuites {
		a, err := generate(suite, pqhybrid.KDFHKDFSHA256, seed, []byte("p"))
		if err != nil {
			t.Fatalf("%s: %v", suite, err)
		}
		b, err := generate(suite, pqhybrid.KDFHKDFSHA256, seed, []byte("p"))
		if err != nil {
			t.Fatalf("%s: %v", suite, err)
		}
		if a != b {
			t.Errorf("%s: vectors differ between runs", suite)
		}

		wire, err := hex.DecodeString(a.Message)
		if err != nil {
			t.Fatal(err)
		}
		msg, err := pqhybrid.UnmarshalHandshakeMessage(wire)
		if err != nil {
			t.Fatalf("%s: generated message does not parse: %v", suite, err)
		}
		if msg.Suite != suite {
			t.Errorf("message suite %s, want %s", msg.Suite, suite)
		}
		if len(a.SessionKey) != 2*pqhybrid.SessionKeySize {
			t.Errorf("session key has %d hex chars", len(a.SessionKey))
		}
	}
}

func TestGenerateInputsMatter(t *testing.T) {
	suite := deterministicSuites[0]
	base, err := generate(suite, pqhybrid.KDFBLAKE3, "00", []byte("p"))
	if err != nil {
		t.Fatal(err)
	}

	otherSeed, err := generate(suite, pqhybrid.KDFBLAKE3, "01", []byte("p"))
	if err != nil {
		t.Fatal(err)
	}
	if otherSeed.SessionKey == base.SessionKey {
		t.Error("seed does not affect the session key")
	}

	otherPrologue, err := generate(suite, pqhybrid.KDFBLAKE3, "00", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	if otherPrologue.TranscriptHash == base.TranscriptHash {
		t.Error("prologue does not affect the transcript")
	}
	if otherPrologue.ResponderPQPub != base.ResponderPQPub {
		t.Error("prologue must not affect key generation")
	}
}

func TestHexReaderRejectsBadSeed(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on malformed seed")
		}
	}()
	hexReader("zz")
}
