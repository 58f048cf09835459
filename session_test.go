package pqhybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gopkg.in/check.v1"
)

func TestSessions(t *testing.T) { check.TestingT(t) }

type SessionSuite struct {
	adapter *Adapter
	keys    map[Suite]*ResponderKeys
}

var _ = check.Suite(&SessionSuite{})

func (s *SessionSuite) SetUpSuite(c *check.C) {
	s.adapter = newCIRCLAdapter()
	s.keys = make(map[Suite]*ResponderKeys)
	for _, suite := range DefaultSuites() {
		keys, err := GenerateResponderKeys(context.Background(), s.adapter, suite)
		c.Assert(err, check.IsNil)
		s.keys[suite] = keys
	}
}

func (s *SessionSuite) TearDownSuite(c *check.C) {
	for _, k := range s.keys {
		k.Wipe()
	}
}

// errorIsChecker checks that an error matches a target with errors.Is.
type errorIsChecker struct {
	*check.CheckerInfo
}

var errorIs check.Checker = &errorIsChecker{
	&check.CheckerInfo{Name: "errorIs", Params: []string{"obtained", "target"}},
}

func (checker *errorIsChecker) Check(params []interface{}, names []string) (bool, string) {
	err, ok := params[0].(error)
	if !ok {
		return false, "obtained value is not an error"
	}
	target, ok := params[1].(error)
	if !ok {
		return false, "target is not an error"
	}
	return errors.Is(err, target), ""
}

type pair struct {
	initiator, responder *Session
}

func (s *SessionSuite) newPair(c *check.C, suite Suite, tweak func(ini, resp *HandshakeConfig)) pair {
	keys := s.keys[suite]
	ini := InitiatorConfig(suite, keys.PublicKeys())
	resp := ResponderConfig(suite, keys)
	if tweak != nil {
		tweak(&ini, &resp)
	}
	i, err := NewSession(s.adapter, ini)
	c.Assert(err, check.IsNil)
	r, err := NewSession(s.adapter, resp)
	c.Assert(err, check.IsNil)
	return pair{i, r}
}

// exchange runs a handshake through the wire encoding.
func (p pair) exchange(c *check.C, mutate func(m *HandshakeMessage)) error {
	ctx := context.Background()
	msg, err := p.initiator.Initiate(ctx)
	if err != nil {
		return err
	}
	data, err := msg.MarshalBinary()
	c.Assert(err, check.IsNil)
	got, err := UnmarshalHandshakeMessage(data)
	c.Assert(err, check.IsNil)
	if mutate != nil {
		mutate(got)
	}
	return p.responder.Respond(ctx, got)
}

func (s *SessionSuite) TestHandshakeEveryDefaultSuite(c *check.C) {
	for _, suite := range DefaultSuites() {
		p := s.newPair(c, suite, nil)
		c.Assert(p.exchange(c, nil), check.IsNil, check.Commentf("suite %s", suite))

		c.Check(p.initiator.State(), check.Equals, StateCombined)
		c.Check(p.responder.State(), check.Equals, StateCombined)
		c.Check(p.initiator.TranscriptHash(), check.DeepEquals, p.responder.TranscriptHash())

		ik, err := p.initiator.TakeSessionKey()
		c.Assert(err, check.IsNil)
		rk, err := p.responder.TakeSessionKey()
		c.Assert(err, check.IsNil)
		c.Check(ik.Len(), check.Equals, SessionKeySize)
		c.Check(ik.Equal(rk), check.Equals, true, check.Commentf("suite %s", suite))
		ik.Wipe()
		rk.Wipe()
	}
}

func (s *SessionSuite) TestHandshakeEveryKDF(c *check.C) {
	suite := DefaultSuites()[0]
	keysByKDF := make(map[KDF][]byte)
	for _, kdf := range KDFs() {
		p := s.newPair(c, suite, func(ini, resp *HandshakeConfig) {
			ini.KDF = kdf
			resp.KDF = kdf
		})
		c.Assert(p.exchange(c, nil), check.IsNil, check.Commentf("kdf %s", kdf))
		ik, err := p.initiator.TakeSessionKey()
		c.Assert(err, check.IsNil)
		rk, err := p.responder.TakeSessionKey()
		c.Assert(err, check.IsNil)
		c.Check(ik.Equal(rk), check.Equals, true)
		keysByKDF[kdf] = append([]byte(nil), ik.Bytes()...)
	}
	c.Check(keysByKDF[KDFHKDFSHA256], check.Not(check.DeepEquals), keysByKDF[KDFBLAKE3])
}

func (s *SessionSuite) TestKDFMismatchFailsConfirmation(c *check.C) {
	p := s.newPair(c, DefaultSuites()[0], func(ini, resp *HandshakeConfig) {
		ini.KDF = KDFSHAKE256
	})
	err := p.exchange(c, nil)
	c.Assert(err, errorIs, ErrConfirmationFailed)
}

func (s *SessionSuite) TestFreshKeysPerHandshake(c *check.C) {
	suite := DefaultSuites()[0]
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		p := s.newPair(c, suite, nil)
		c.Assert(p.exchange(c, nil), check.IsNil)
		k, err := p.initiator.TakeSessionKey()
		c.Assert(err, check.IsNil)
		key := string(k.Bytes())
		c.Check(seen[key], check.Equals, false)
		seen[key] = true
	}
}

func (s *SessionSuite) TestTamperedMessage(c *check.C) {
	suite := DefaultSuites()[0]
	mutations := map[string]func(m *HandshakeMessage){
		"confirm":    func(m *HandshakeMessage) { m.Confirm[0] ^= 0x01 },
		"ciphertext": func(m *HandshakeMessage) { m.Ciphertext[10] ^= 0x01 },
		"classical":  func(m *HandshakeMessage) { m.ClassicalPublic[5] ^= 0x01 },
	}
	for name, mutate := range mutations {
		p := s.newPair(c, suite, nil)
		err := p.exchange(c, mutate)
		c.Assert(err, errorIs, ErrHandshakeFailed, check.Commentf("tampered %s", name))
		c.Check(p.responder.State(), check.Equals, StateFailed)

		k, err := p.responder.TakeSessionKey()
		c.Check(k, check.IsNil)
		c.Check(err, errorIs, ErrHandshakeFailed)
	}
}

func (s *SessionSuite) TestTamperedConfirmStage(c *check.C) {
	p := s.newPair(c, DefaultSuites()[0], nil)
	err := p.exchange(c, func(m *HandshakeMessage) { m.Confirm[31] ^= 0x80 })

	var herr *HandshakeError
	c.Assert(errors.As(err, &herr), check.Equals, true)
	c.Check(herr.Stage, check.Equals, StageVerification)
	c.Check(err, errorIs, ErrConfirmationFailed)
}

func (s *SessionSuite) TestPrologueMismatch(c *check.C) {
	p := s.newPair(c, DefaultSuites()[0], func(ini, resp *HandshakeConfig) {
		ini.Prologue = []byte("v1 client")
		resp.Prologue = []byte("v1 server")
	})
	c.Assert(p.exchange(c, nil), errorIs, ErrConfirmationFailed)
}

func (s *SessionSuite) TestSuiteMismatch(c *check.C) {
	p := s.newPair(c, DefaultSuites()[0], nil)
	err := p.exchange(c, func(m *HandshakeMessage) {
		m.Suite = Suite{Classical: "X25519", PQ: "ML-KEM-512"}
	})
	c.Assert(err, errorIs, ErrSuiteMismatch)

	var herr *HandshakeError
	c.Assert(errors.As(err, &herr), check.Equals, true)
	c.Check(herr.Stage, check.Equals, StageInit)
}

func (s *SessionSuite) TestRespondNilMessage(c *check.C) {
	p := s.newPair(c, DefaultSuites()[0], nil)
	err := p.responder.Respond(context.Background(), nil)
	c.Assert(err, errorIs, ErrMalformedMessage)
}

func (s *SessionSuite) TestSignedHandshake(c *check.C) {
	ctx := context.Background()
	ed := s.adapter.Registry().MustLookup("Ed25519")
	signer, err := s.adapter.GenerateKeyPair(ctx, ed)
	c.Assert(err, check.IsNil)
	other, err := s.adapter.GenerateKeyPair(ctx, ed)
	c.Assert(err, check.IsNil)

	withSig := func(signerKP *KeyPair, expect []byte) func(ini, resp *HandshakeConfig) {
		return func(ini, resp *HandshakeConfig) {
			ini.Signer = signerKP
			resp.PeerSignaturePublic = expect
			resp.SignatureAlgorithm = "Ed25519"
		}
	}

	// Valid signature.
	p := s.newPair(c, DefaultSuites()[0], withSig(signer, signer.Public))
	c.Assert(p.exchange(c, nil), check.IsNil)
	ik, err := p.initiator.TakeSessionKey()
	c.Assert(err, check.IsNil)
	rk, err := p.responder.TakeSessionKey()
	c.Assert(err, check.IsNil)
	c.Check(ik.Equal(rk), check.Equals, true)

	// Signed by a key the responder does not expect.
	p = s.newPair(c, DefaultSuites()[0], withSig(other, signer.Public))
	c.Assert(p.exchange(c, nil), errorIs, ErrSignatureMismatch)

	// Unsigned where a signature is required.
	p = s.newPair(c, DefaultSuites()[0], withSig(nil, signer.Public))
	c.Assert(p.exchange(c, nil), errorIs, ErrSignatureRequired)

	// Signature stripped in transit.
	p = s.newPair(c, DefaultSuites()[0], withSig(signer, signer.Public))
	c.Assert(p.exchange(c, func(m *HandshakeMessage) { m.Signature = nil }), errorIs, ErrSignatureRequired)
}

func (s *SessionSuite) TestPQLegFailureLeavesNoKey(c *check.C) {
	ctx := context.Background()
	kem := newMockKEM()
	a, err := buildMockAdapter(kem)
	c.Assert(err, check.IsNil)

	suite := Suite{Classical: "X25519", PQ: "MockKEM"}
	keys, err := GenerateResponderKeys(ctx, a, suite)
	c.Assert(err, check.IsNil)
	defer keys.Wipe()

	kem.failEncaps = true
	ini, err := NewSession(a, InitiatorConfig(suite, keys.PublicKeys()))
	c.Assert(err, check.IsNil)

	msg, err := ini.Initiate(ctx)
	c.Assert(msg, check.IsNil)
	c.Assert(err, errorIs, ErrHandshakeFailed)
	c.Check(err, errorIs, ErrProvider)

	var herr *HandshakeError
	c.Assert(errors.As(err, &herr), check.Equals, true)
	c.Check(herr.Stage, check.Equals, StageEncapsulation)

	k, err := ini.TakeSessionKey()
	c.Check(k, check.IsNil)
	c.Check(err, errorIs, ErrHandshakeFailed)
	c.Check(ini.State(), check.Equals, StateFailed)
	c.Check(ini.Err(), check.NotNil)
}

// The mock KEM's shared secret ignores the public key, so only the
// transcript ties the handshake to the responder's KEM key.
func (s *SessionSuite) TestKEMPublicKeyInTranscript(c *check.C) {
	ctx := context.Background()
	a, err := buildMockAdapter(newMockKEM())
	c.Assert(err, check.IsNil)

	suite := Suite{Classical: "X25519", PQ: "MockKEM"}
	keys, err := GenerateResponderKeys(ctx, a, suite)
	c.Assert(err, check.IsNil)
	defer keys.Wipe()

	run := func(published PublishedKeys) error {
		ini, err := NewSession(a, InitiatorConfig(suite, published))
		c.Assert(err, check.IsNil)
		resp, err := NewSession(a, ResponderConfig(suite, keys))
		c.Assert(err, check.IsNil)
		msg, err := ini.Initiate(ctx)
		c.Assert(err, check.IsNil)
		return resp.Respond(ctx, msg)
	}

	c.Assert(run(keys.PublicKeys()), check.IsNil)

	substituted := keys.PublicKeys()
	substituted.PQ[0] ^= 0xff
	c.Assert(run(substituted), errorIs, ErrConfirmationFailed)
}

func (s *SessionSuite) TestClassicalLegFailure(c *check.C) {
	ctx := context.Background()
	reg := NewDefaultRegistry()
	provs := NewCIRCLProviders().BindKeyAgreement("X25519", failingKA{})
	a := NewAdapter(reg, provs)

	suite := DefaultSuites()[0]
	ini, err := NewSession(a, InitiatorConfig(suite, s.keys[suite].PublicKeys()))
	c.Assert(err, check.IsNil)

	_, err = ini.Initiate(ctx)
	var herr *HandshakeError
	c.Assert(errors.As(err, &herr), check.Equals, true)
	c.Check(herr.Stage, check.Equals, StageClassicalExchange)
}

func (s *SessionSuite) TestWrongState(c *check.C) {
	ctx := context.Background()
	p := s.newPair(c, DefaultSuites()[0], nil)

	// Roles are fixed.
	_, err := p.responder.Initiate(ctx)
	c.Check(err, errorIs, ErrWrongState)
	c.Check(p.initiator.Respond(ctx, &HandshakeMessage{}), errorIs, ErrWrongState)

	_, err = p.initiator.TakeSessionKey()
	c.Check(err, errorIs, ErrWrongState)

	_, err = p.initiator.Initiate(ctx)
	c.Assert(err, check.IsNil)
	_, err = p.initiator.Initiate(ctx)
	c.Check(err, errorIs, ErrWrongState)
	c.Check(p.initiator.State(), check.Equals, StateCombined, check.Commentf("misuse does not fail the session"))
}

func (s *SessionSuite) TestKeyTakenOnce(c *check.C) {
	p := s.newPair(c, DefaultSuites()[0], nil)
	c.Assert(p.exchange(c, nil), check.IsNil)

	k, err := p.responder.TakeSessionKey()
	c.Assert(err, check.IsNil)
	c.Check(k.Wiped(), check.Equals, false)

	_, err = p.responder.TakeSessionKey()
	c.Check(err, errorIs, ErrKeyTaken)
}

func (s *SessionSuite) TestClose(c *check.C) {
	p := s.newPair(c, DefaultSuites()[0], nil)
	p.initiator.Close()
	c.Check(p.initiator.State(), check.Equals, StateFailed)
	_, err := p.initiator.Initiate(context.Background())
	c.Check(err, errorIs, ErrWrongState)
	_, err = p.initiator.TakeSessionKey()
	c.Check(err, errorIs, ErrHandshakeFailed)

	p = s.newPair(c, DefaultSuites()[0], nil)
	c.Assert(p.exchange(c, nil), check.IsNil)
	p.responder.Close()
	_, err = p.responder.TakeSessionKey()
	c.Check(err, errorIs, ErrKeyTaken)
	c.Check(p.responder.State(), check.Equals, StateCombined)
}

func (s *SessionSuite) TestInvalidConfig(c *check.C) {
	suite := DefaultSuites()[0]
	keys := s.keys[suite]

	cases := map[string]HandshakeConfig{
		"unknown suite":       InitiatorConfig(Suite{Classical: "X25519", PQ: "NTRU"}, keys.PublicKeys()),
		"signature as leg":    InitiatorConfig(Suite{Classical: "Ed25519", PQ: "ML-KEM-768"}, keys.PublicKeys()),
		"missing peer keys":   InitiatorConfig(suite, PublishedKeys{}),
		"responder no keys":   {Suite: suite},
		"wrong responder key": ResponderConfig(Suite{Classical: "X448", PQ: "ML-KEM-768"}, keys),
		"bad kdf": func() HandshakeConfig {
			cfg := ResponderConfig(suite, keys)
			cfg.KDF = "md5"
			return cfg
		}(),
		"sig key without algorithm": func() HandshakeConfig {
			cfg := ResponderConfig(suite, keys)
			cfg.PeerSignaturePublic = make([]byte, 32)
			return cfg
		}(),
		"kem as signature algorithm": func() HandshakeConfig {
			cfg := ResponderConfig(suite, keys)
			cfg.PeerSignaturePublic = make([]byte, 32)
			cfg.SignatureAlgorithm = "ML-KEM-768"
			return cfg
		}(),
		"kem keypair as signer": func() HandshakeConfig {
			cfg := InitiatorConfig(suite, keys.PublicKeys())
			cfg.Signer = keys.PQ
			return cfg
		}(),
	}
	for name, cfg := range cases {
		_, err := NewSession(s.adapter, cfg)
		c.Assert(err, errorIs, ErrHandshakeFailed, check.Commentf(name))
		var herr *HandshakeError
		c.Assert(errors.As(err, &herr), check.Equals, true)
		c.Check(herr.Stage, check.Equals, StageInit, check.Commentf(name))
	}
}

type memoryAudit struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (m *memoryAudit) WriteAudit(r AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

type failingAudit struct{}

func (failingAudit) WriteAudit(AuditRecord) error { return fmt.Errorf("disk full") }

func (s *SessionSuite) TestAuditRecords(c *check.C) {
	audit := &memoryAudit{}
	p := s.newPair(c, DefaultSuites()[0], func(ini, resp *HandshakeConfig) {
		ini.Audit = audit
		resp.Audit = audit
	})
	c.Assert(p.exchange(c, nil), check.IsNil)

	c.Assert(audit.records, check.HasLen, 2)
	ini, resp := audit.records[0], audit.records[1]
	c.Check(ini.Role, check.Equals, "initiator")
	c.Check(resp.Role, check.Equals, "responder")
	c.Check(ini.SessionID, check.Equals, p.initiator.ID())
	c.Check(ini.State, check.Equals, "combined")
	c.Check(ini.KDF, check.Equals, "hkdf-sha256")
	c.Check(ini.Suite, check.Equals, "X25519+ML-KEM-768")
	c.Check(ini.InitiatorFP, check.Equals, resp.InitiatorFP)
	c.Check(ini.ResponderFP, check.Equals, resp.ResponderFP)
	c.Check(ini.CiphertextFP, check.Equals, resp.CiphertextFP)
	c.Check(ini.TranscriptFP, check.Equals, resp.TranscriptFP)
	c.Check(ini.TranscriptFP, check.Not(check.Equals), "")

	failed := &memoryAudit{}
	p = s.newPair(c, DefaultSuites()[0], func(ini, resp *HandshakeConfig) {
		resp.Audit = failed
	})
	c.Assert(p.exchange(c, func(m *HandshakeMessage) { m.Confirm[0] ^= 1 }), check.NotNil)
	c.Assert(failed.records, check.HasLen, 1)
	c.Check(failed.records[0].State, check.Equals, "failed")
	c.Check(failed.records[0].Stage, check.Equals, string(StageVerification))
	c.Check(failed.records[0].Error, check.Equals, ErrConfirmationFailed.Error())
	c.Check(failed.records[0].TranscriptFP, check.Equals, "")

	// A failing sink does not fail the handshake.
	p = s.newPair(c, DefaultSuites()[0], func(ini, resp *HandshakeConfig) {
		ini.Audit = failingAudit{}
	})
	c.Assert(p.exchange(c, nil), check.IsNil)
}

func (s *SessionSuite) TestStateString(c *check.C) {
	c.Check(StateInit.String(), check.Equals, "init")
	c.Check(StatePQEncapsulated.String(), check.Equals, "pq-encapsulated")
	c.Check(State(42).String(), check.Equals, "State(42)")
}
