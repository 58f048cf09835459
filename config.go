package pqhybrid

import (
	"fmt"
	"log/slog"
)

// A HandshakeConfig provides the details necessary to run one side of a hybrid
// handshake. It is never modified by this package, and can be reused for any
// number of sessions. Key material referenced by the config stays owned by
// the caller.
type HandshakeConfig struct {
	// Suite names the classical and post-quantum legs.
	Suite Suite

	// KDF selects the combiner's key derivation. Zero selects KDFHKDFSHA256.
	KDF KDF

	// Initiator must be true for the side that sends the handshake message.
	Initiator bool

	// Prologue is optional data both sides already share. It is bound into
	// the transcript and must be identical on both sides.
	Prologue []byte

	// LocalClassical and LocalPQ are the responder's published keypairs.
	LocalClassical *KeyPair
	LocalPQ        *KeyPair

	// PeerClassicalPublic and PeerPQPublic are the responder's public keys as
	// seen by the initiator.
	PeerClassicalPublic []byte
	PeerPQPublic        []byte

	// Signer is the initiator's optional signature keypair. When set, the
	// handshake message carries a signature over the transcript.
	Signer *KeyPair

	// PeerSignaturePublic, when set on the responder, makes a valid signature
	// by SignatureAlgorithm mandatory.
	PeerSignaturePublic []byte
	SignatureAlgorithm  string

	// Audit receives one record per finished session. Optional.
	Audit AuditSink

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// ResponderConfig returns a responder config for keys.
func ResponderConfig(suite Suite, keys *ResponderKeys) HandshakeConfig {
	return HandshakeConfig{
		Suite:          suite,
		LocalClassical: keys.Classical,
		LocalPQ:        keys.PQ,
	}
}

// InitiatorConfig returns an initiator config targeting the published keys.
func InitiatorConfig(suite Suite, published PublishedKeys) HandshakeConfig {
	return HandshakeConfig{
		Suite:               suite,
		Initiator:           true,
		PeerClassicalPublic: published.Classical,
		PeerPQPublic:        published.PQ,
	}
}

func (c *HandshakeConfig) kdf() KDF {
	if c.KDF == "" {
		return KDFHKDFSHA256
	}
	return c.KDF
}

// validate checks that the config holds what its role needs.
func (c *HandshakeConfig) validate(classical, pq *AlgorithmDescriptor) error {
	if !c.kdf().IsValid() {
		return fmt.Errorf("pqhybrid: unknown kdf %q", string(c.KDF))
	}
	if c.Initiator {
		if len(c.PeerClassicalPublic) == 0 || len(c.PeerPQPublic) == 0 {
			return fmt.Errorf("%w: initiator needs the responder's public keys", ErrInvalidPublicKey)
		}
		if c.Signer != nil {
			if c.Signer.Descriptor == nil || c.Signer.Descriptor.Family() != FamilySignature {
				return fmt.Errorf("%w: signer is not a signature keypair", ErrUnsupportedOperation)
			}
			if !c.Signer.HasSecret() {
				return fmt.Errorf("%w: signer has no secret key", ErrInvalidSecretKey)
			}
		}
		return nil
	}

	if !c.LocalClassical.HasSecret() || c.LocalClassical.Descriptor.Name() != classical.Name() {
		return fmt.Errorf("%w: responder needs a %s keypair", ErrInvalidSecretKey, classical.Name())
	}
	if !c.LocalPQ.HasSecret() || c.LocalPQ.Descriptor.Name() != pq.Name() {
		return fmt.Errorf("%w: responder needs a %s keypair", ErrInvalidSecretKey, pq.Name())
	}
	if len(c.PeerSignaturePublic) > 0 && c.SignatureAlgorithm == "" {
		return fmt.Errorf("%w: peer signature key without algorithm", ErrInvalidDescriptor)
	}
	return nil
}
