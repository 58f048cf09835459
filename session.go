// Package pqhybrid implements a uniform interface over post-quantum KEM,
// signature and classical key-agreement providers, a hybrid classical plus
// post-quantum handshake, and a benchmark harness for the providers.
//
// A hybrid handshake derives its session key from a classical Diffie-Hellman
// secret and a post-quantum KEM secret, so an attacker must break both to
// recover it. The responder publishes a classical and a KEM public key; the
// initiator answers with a single HandshakeMessage.
package pqhybrid

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr-tron/base58"
)

// State is the externally visible handshake state.
type State int

const (
	StateInit State = iota
	StateClassicalExchanged
	StatePQEncapsulated
	StateCombined
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateClassicalExchanged:
		return "classical-exchanged"
	case StatePQEncapsulated:
		return "pq-encapsulated"
	case StateCombined:
		return "combined"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// sessionState is a tagged variant. Each state holds only the data that is
// valid at that point of the handshake.
type sessionState interface {
	kind() State
	wipe()
}

type stateInit struct{}

type stateClassicalExchanged struct {
	initiatorPublic []byte
	responderPublic []byte
	classical       *Secret
}

type statePQEncapsulated struct {
	initiatorPublic []byte
	responderPublic []byte
	ciphertext      []byte
	classical       *Secret
	pq              *Secret
}

type stateCombined struct {
	transcriptHash []byte
	sessionKey     *Secret // nil once taken
}

type stateFailed struct {
	err *HandshakeError
}

func (stateInit) kind() State                { return StateInit }
func (stateInit) wipe()                      {}
func (*stateClassicalExchanged) kind() State { return StateClassicalExchanged }
func (s *stateClassicalExchanged) wipe()     { s.classical.Wipe() }
func (*statePQEncapsulated) kind() State     { return StatePQEncapsulated }
func (s *statePQEncapsulated) wipe()         { wipeAll(s.classical, s.pq) }
func (*stateCombined) kind() State           { return StateCombined }
func (s *stateCombined) wipe()               { s.sessionKey.Wipe() }
func (*stateFailed) kind() State             { return StateFailed }
func (*stateFailed) wipe()                   {}

var errSessionClosed = errors.New("pqhybrid: session closed")

// A Session runs one side of one hybrid handshake. It may be discarded after
// the session key has been taken. Sessions share nothing but the read-only
// registry and provider set, so independent sessions may run concurrently.
type Session struct {
	mu        sync.Mutex
	id        string
	adapter   *Adapter
	cfg       HandshakeConfig
	kdf       KDF
	classical *AlgorithmDescriptor
	pq        *AlgorithmDescriptor
	peerSig   *AlgorithmDescriptor
	state     sessionState
	started   time.Time
	logger    *slog.Logger

	// public material kept for the audit record
	initiatorPublic []byte
	responderPublic []byte
	pqPublic        []byte
	ciphertext      []byte
	signed          bool
}

// NewSession starts a handshake using the provided configuration. Invalid
// configurations fail with a *HandshakeError at StageInit.
func NewSession(adapter *Adapter, cfg HandshakeConfig) (*Session, error) {
	classical, pq, err := cfg.Suite.Resolve(adapter.Registry())
	if err != nil {
		return nil, &HandshakeError{Stage: StageInit, Err: err}
	}
	if err := cfg.validate(classical, pq); err != nil {
		return nil, &HandshakeError{Stage: StageInit, Err: err}
	}

	s := &Session{
		id:        newSessionID(),
		adapter:   adapter,
		cfg:       cfg,
		kdf:       cfg.kdf(),
		classical: classical,
		pq:        pq,
		state:     stateInit{},
		started:   time.Now(),
	}
	if len(cfg.PeerSignaturePublic) > 0 {
		s.peerSig, err = adapter.Registry().Lookup(cfg.SignatureAlgorithm)
		if err != nil {
			return nil, &HandshakeError{Stage: StageInit, Err: err}
		}
		if s.peerSig.Family() != FamilySignature {
			return nil, &HandshakeError{Stage: StageInit, Err: fmt.Errorf("%w: %s cannot verify", ErrUnsupportedOperation, s.peerSig.Name())}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	s.logger = logger.With("component", "session", "session", s.id, "role", s.role(), "suite", cfg.Suite.Name())
	return s, nil
}

// ID returns the session identifier used in logs and audit records.
func (s *Session) ID() string { return s.id }

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.kind()
}

// Err returns the error that failed the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.state.(*stateFailed); ok {
		return f.err
	}
	return nil
}

// Initiate runs the initiator side: a fresh ephemeral classical keypair is
// agreed with the responder's classical key, a KEM secret is encapsulated to
// the responder's KEM key, and both are combined. The returned message must
// be delivered to the responder.
func (s *Session) Initiate(ctx context.Context) (*HandshakeMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Initiator {
		return nil, fmt.Errorf("%w: Initiate called on responder", ErrWrongState)
	}
	if _, ok := s.state.(stateInit); !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrongState, s.state.kind())
	}

	eph, err := s.adapter.GenerateKeyPair(ctx, s.classical)
	if err != nil {
		return nil, s.fail(StageClassicalExchange, err)
	}
	classicalSS, err := s.adapter.Agree(ctx, s.classical, eph.SecretKey(), s.cfg.PeerClassicalPublic)
	eph.Wipe()
	if err != nil {
		return nil, s.fail(StageClassicalExchange, err)
	}
	s.initiatorPublic = eph.Public
	s.responderPublic = s.cfg.PeerClassicalPublic
	s.pqPublic = s.cfg.PeerPQPublic
	s.state = &stateClassicalExchanged{
		initiatorPublic: eph.Public,
		responderPublic: s.cfg.PeerClassicalPublic,
		classical:       classicalSS,
	}

	enc, err := s.adapter.Encapsulate(ctx, s.pq, s.cfg.PeerPQPublic)
	if err != nil {
		return nil, s.fail(StageEncapsulation, err)
	}
	s.ciphertext = enc.Ciphertext
	s.state = &statePQEncapsulated{
		initiatorPublic: eph.Public,
		responderPublic: s.cfg.PeerClassicalPublic,
		ciphertext:      enc.Ciphertext,
		classical:       classicalSS,
		pq:              enc.SharedSecret,
	}

	th := s.transcriptHash()
	keys, err := combine(s.kdf, s.cfg.Suite, th, classicalSS, enc.SharedSecret)
	if err != nil {
		return nil, s.fail(StageCombine, err)
	}
	tag := confirmTag(keys.confirm, th)
	keys.confirm.Wipe()

	msg := &HandshakeMessage{
		Version:         HandshakeVersion,
		Suite:           s.cfg.Suite,
		ClassicalPublic: eph.Public,
		Ciphertext:      enc.Ciphertext,
		Confirm:         tag,
	}
	if signer := s.cfg.Signer; signer != nil {
		sig, err := s.adapter.Sign(ctx, signer.Descriptor, signer.SecretKey(), signingPayload(th))
		if err != nil {
			keys.wipe()
			return nil, s.fail(StageVerification, err)
		}
		msg.Signature = sig
		s.signed = true
	}

	s.state = &stateCombined{transcriptHash: th, sessionKey: keys.session}
	s.logger.Debug("handshake combined")
	s.emitAudit()
	return msg, nil
}

// Respond runs the responder side on a received handshake message. On
// success the session is Combined and the session key is available.
func (s *Session) Respond(ctx context.Context, msg *HandshakeMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Initiator {
		return fmt.Errorf("%w: Respond called on initiator", ErrWrongState)
	}
	if _, ok := s.state.(stateInit); !ok {
		return fmt.Errorf("%w: %s", ErrWrongState, s.state.kind())
	}
	if msg == nil {
		return s.fail(StageInit, fmt.Errorf("%w: nil message", ErrMalformedMessage))
	}
	if msg.Suite != s.cfg.Suite {
		return s.fail(StageInit, fmt.Errorf("%w: got %s, want %s", ErrSuiteMismatch, msg.Suite, s.cfg.Suite))
	}
	if len(msg.Confirm) != ConfirmTagSize {
		return s.fail(StageInit, fmt.Errorf("%w: confirmation tag length %d", ErrMalformedMessage, len(msg.Confirm)))
	}

	local := s.cfg.LocalClassical
	classicalSS, err := s.adapter.Agree(ctx, s.classical, local.SecretKey(), msg.ClassicalPublic)
	if err != nil {
		return s.fail(StageClassicalExchange, err)
	}
	s.initiatorPublic = append([]byte(nil), msg.ClassicalPublic...)
	s.responderPublic = local.Public
	s.pqPublic = s.cfg.LocalPQ.Public
	s.state = &stateClassicalExchanged{
		initiatorPublic: s.initiatorPublic,
		responderPublic: local.Public,
		classical:       classicalSS,
	}

	pqSS, err := s.adapter.Decapsulate(ctx, s.pq, s.cfg.LocalPQ.SecretKey(), msg.Ciphertext)
	if err != nil {
		return s.fail(StageEncapsulation, err)
	}
	s.ciphertext = append([]byte(nil), msg.Ciphertext...)
	s.state = &statePQEncapsulated{
		initiatorPublic: s.initiatorPublic,
		responderPublic: local.Public,
		ciphertext:      s.ciphertext,
		classical:       classicalSS,
		pq:              pqSS,
	}

	th := s.transcriptHash()
	if s.peerSig != nil {
		if !msg.Signed() {
			return s.fail(StageVerification, ErrSignatureRequired)
		}
		ok, err := s.adapter.Verify(ctx, s.peerSig, s.cfg.PeerSignaturePublic, signingPayload(th), msg.Signature)
		if err != nil {
			return s.fail(StageVerification, err)
		}
		if !ok {
			return s.fail(StageVerification, ErrSignatureMismatch)
		}
		s.signed = true
	}

	keys, err := combine(s.kdf, s.cfg.Suite, th, classicalSS, pqSS)
	if err != nil {
		return s.fail(StageCombine, err)
	}
	expected := confirmTag(keys.confirm, th)
	keys.confirm.Wipe()
	if !hmac.Equal(expected, msg.Confirm) {
		keys.session.Wipe()
		return s.fail(StageVerification, ErrConfirmationFailed)
	}

	s.state = &stateCombined{transcriptHash: th, sessionKey: keys.session}
	s.logger.Debug("handshake combined")
	s.emitAudit()
	return nil
}

// TakeSessionKey hands the session key to the caller, who then owns it and
// must Wipe it. It succeeds once; later calls return ErrKeyTaken. A failed
// session returns its *HandshakeError and never any key material.
func (s *Session) TakeSessionKey() (*Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case *stateCombined:
		if st.sessionKey == nil {
			return nil, ErrKeyTaken
		}
		k := st.sessionKey
		st.sessionKey = nil
		return k, nil
	case *stateFailed:
		return nil, st.err
	}
	return nil, fmt.Errorf("%w: %s", ErrWrongState, s.state.kind())
}

// TranscriptHash returns the final transcript hash. Both peers of a
// successful handshake obtain the same value; it may serve as a channel
// binding. It is nil before the handshake completes.
func (s *Session) TranscriptHash() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state.(*stateCombined); ok {
		return append([]byte(nil), st.transcriptHash...)
	}
	return nil
}

// Close wipes every secret the session still holds. A session closed before
// completion is Failed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case *stateCombined:
		st.wipe()
		st.sessionKey = nil
	case *stateFailed:
	default:
		s.state.wipe()
		s.state = &stateFailed{err: &HandshakeError{Stage: stageOf(s.state), Err: errSessionClosed}}
	}
}

// fail wipes the current state, moves to Failed and returns the error.
// Callers hold s.mu.
func (s *Session) fail(stage Stage, err error) error {
	s.state.wipe()
	herr := &HandshakeError{Stage: stage, Err: err}
	s.state = &stateFailed{err: herr}
	s.logger.Debug("handshake failed", "stage", stage, "err", err)
	s.emitAudit()
	return herr
}

func (s *Session) transcriptHash() []byte {
	t := newTranscript(s.cfg.Suite, s.kdf, s.cfg.Prologue)
	t.MixHash(s.initiatorPublic)
	t.MixHash(s.responderPublic)
	t.MixHash(s.pqPublic)
	t.MixHash(s.ciphertext)
	return t.Sum()
}

func (s *Session) role() string {
	if s.cfg.Initiator {
		return "initiator"
	}
	return "responder"
}

// stageOf maps a non-terminal state to the stage that would run next.
func stageOf(st sessionState) Stage {
	switch st.kind() {
	case StateClassicalExchanged:
		return StageEncapsulation
	case StatePQEncapsulated:
		return StageCombine
	}
	return StageInit
}

func newSessionID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("pqhybrid: entropy source failed: " + err.Error())
	}
	return base58.Encode(b[:])
}

// ResponderKeys are the keypairs a responder publishes for one suite.
type ResponderKeys struct {
	Classical *KeyPair
	PQ        *KeyPair
}

// PublishedKeys are the public halves of ResponderKeys.
type PublishedKeys struct {
	Classical []byte
	PQ        []byte
}

// GenerateResponderKeys generates the classical and KEM keypairs for suite.
func GenerateResponderKeys(ctx context.Context, adapter *Adapter, suite Suite) (*ResponderKeys, error) {
	classical, pq, err := suite.Resolve(adapter.Registry())
	if err != nil {
		return nil, err
	}
	ck, err := adapter.GenerateKeyPair(ctx, classical)
	if err != nil {
		return nil, err
	}
	pk, err := adapter.GenerateKeyPair(ctx, pq)
	if err != nil {
		ck.Wipe()
		return nil, err
	}
	return &ResponderKeys{Classical: ck, PQ: pk}, nil
}

// PublicKeys returns the public keys to publish to initiators.
func (k *ResponderKeys) PublicKeys() PublishedKeys {
	return PublishedKeys{
		Classical: append([]byte(nil), k.Classical.Public...),
		PQ:        append([]byte(nil), k.PQ.Public...),
	}
}

// Wipe wipes both secret keys.
func (k *ResponderKeys) Wipe() {
	k.Classical.Wipe()
	k.PQ.Wipe()
}
