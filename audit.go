package pqhybrid

import (
	"time"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// An AuditRecord summarizes one finished handshake. It holds fingerprints of
// public material only, never secrets.
type AuditRecord struct {
	SessionID    string    `cbor:"session_id" json:"session_id"`
	Role         string    `cbor:"role" json:"role"`
	Suite        string    `cbor:"suite" json:"suite"`
	KDF          string    `cbor:"kdf" json:"kdf"`
	State        string    `cbor:"state" json:"state"`
	Stage        string    `cbor:"stage,omitempty" json:"stage,omitempty"`
	Error        string    `cbor:"error,omitempty" json:"error,omitempty"`
	Signed       bool      `cbor:"signed" json:"signed"`
	Started      time.Time `cbor:"started" json:"started"`
	DurationUS   int64     `cbor:"duration_us" json:"duration_us"`
	InitiatorFP  string    `cbor:"initiator_fp,omitempty" json:"initiator_fp,omitempty"`
	ResponderFP  string    `cbor:"responder_fp,omitempty" json:"responder_fp,omitempty"`
	CiphertextFP string    `cbor:"ciphertext_fp,omitempty" json:"ciphertext_fp,omitempty"`
	TranscriptFP string    `cbor:"transcript_fp,omitempty" json:"transcript_fp,omitempty"`
}

// AuditSink receives audit records. Implementations must be safe for
// concurrent use.
type AuditSink interface {
	WriteAudit(AuditRecord) error
}

// Fingerprint returns a short base58 BLAKE3 fingerprint of public material.
// The empty input has the empty fingerprint.
func Fingerprint(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	sum := blake3.Sum256(b)
	return base58.Encode(sum[:16])
}

// auditRecord builds the record for the current state. Callers hold s.mu.
func (s *Session) auditRecord() AuditRecord {
	rec := AuditRecord{
		SessionID:    s.id,
		Role:         s.role(),
		Suite:        s.cfg.Suite.Name(),
		KDF:          s.kdf.String(),
		State:        s.state.kind().String(),
		Signed:       s.signed,
		Started:      s.started.UTC(),
		DurationUS:   time.Since(s.started).Microseconds(),
		InitiatorFP:  Fingerprint(s.initiatorPublic),
		ResponderFP:  Fingerprint(s.responderPublic),
		CiphertextFP: Fingerprint(s.ciphertext),
	}
	switch st := s.state.(type) {
	case *stateFailed:
		rec.Stage = string(st.err.Stage)
		rec.Error = st.err.Err.Error()
	case *stateCombined:
		rec.TranscriptFP = Fingerprint(st.transcriptHash)
	}
	return rec
}

// emitAudit writes the audit record if a sink is configured. Sink failures
// are logged and otherwise ignored. Callers hold s.mu.
func (s *Session) emitAudit() {
	if s.cfg.Audit == nil {
		return
	}
	if err := s.cfg.Audit.WriteAudit(s.auditRecord()); err != nil {
		s.logger.Warn("audit write failed", "err", err)
	}
}
