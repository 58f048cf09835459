package pqhybrid

import (
	"context"
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrUnknownAlgorithm is returned when an algorithm identifier is not registered.
	ErrUnknownAlgorithm = errors.New("pqhybrid: unknown algorithm")

	// ErrDuplicateAlgorithm is returned when registering an identifier twice.
	ErrDuplicateAlgorithm = errors.New("pqhybrid: algorithm already registered")

	// ErrRegistrySealed is returned when registering into a sealed registry.
	ErrRegistrySealed = errors.New("pqhybrid: registry is sealed")

	// ErrInvalidDescriptor is returned for descriptors with missing fields or
	// lengths that do not fit their family.
	ErrInvalidDescriptor = errors.New("pqhybrid: invalid algorithm descriptor")
)

// Adapter boundary errors. Length and identifier errors are deterministic and
// must not be retried.
var (
	// ErrInvalidPublicKey indicates a public key of the wrong length.
	ErrInvalidPublicKey = errors.New("pqhybrid: invalid public key")

	// ErrInvalidSecretKey indicates a secret key of the wrong length.
	ErrInvalidSecretKey = errors.New("pqhybrid: invalid secret key")

	// ErrInvalidCiphertext indicates a KEM ciphertext of the wrong length.
	ErrInvalidCiphertext = errors.New("pqhybrid: invalid ciphertext")

	// ErrInvalidSignature indicates a malformed signature. A well-formed but
	// non-matching signature is not an error; Verify reports false.
	ErrInvalidSignature = errors.New("pqhybrid: invalid signature")

	// ErrProvider indicates that the external provider failed, timed out or
	// returned output that violates the descriptor's length contract.
	ErrProvider = errors.New("pqhybrid: provider error")

	// ErrNoProvider is returned when no provider is bound for an algorithm.
	ErrNoProvider = errors.New("pqhybrid: no provider bound for algorithm")
)

// Handshake errors.
var (
	// ErrHandshakeFailed is matched by every *HandshakeError.
	ErrHandshakeFailed = errors.New("pqhybrid: handshake failed")

	// ErrNotHybridEligible is returned when a suite leg is not hybrid-eligible
	// or belongs to the wrong family.
	ErrNotHybridEligible = errors.New("pqhybrid: algorithm is not hybrid-eligible")

	// ErrNoCommonSuite is returned by Negotiate when no suite is acceptable.
	ErrNoCommonSuite = errors.New("pqhybrid: no common hybrid suite")

	// ErrSuiteMismatch is returned when a peer message names another suite.
	ErrSuiteMismatch = errors.New("pqhybrid: handshake suite mismatch")

	// ErrMalformedMessage is returned when a handshake message cannot be decoded.
	ErrMalformedMessage = errors.New("pqhybrid: malformed handshake message")

	// ErrConfirmationFailed is returned when the key-confirmation tag does not match.
	ErrConfirmationFailed = errors.New("pqhybrid: key confirmation failed")

	// ErrSignatureRequired is returned when the responder expects a signed
	// message and none was provided.
	ErrSignatureRequired = errors.New("pqhybrid: signature required")

	// ErrSignatureMismatch is returned when the initiator's signature over the
	// transcript does not verify.
	ErrSignatureMismatch = errors.New("pqhybrid: handshake signature does not verify")

	// ErrWrongState is returned when a session method is called out of order.
	ErrWrongState = errors.New("pqhybrid: operation not valid in current handshake state")

	// ErrKeyTaken is returned when the session key was already handed off.
	ErrKeyTaken = errors.New("pqhybrid: session key already taken")
)

// Benchmark errors.
var (
	// ErrUnsupportedOperation is returned when a descriptor's family does not
	// support the requested operation.
	ErrUnsupportedOperation = errors.New("pqhybrid: unsupported operation")

	// ErrPossibleTimingLeak is matched by *TimingAdvisory. It is advisory and
	// never returned as the error of a benchmark run.
	ErrPossibleTimingLeak = errors.New("pqhybrid: possible timing leak")
)

// OpError describes a failed adapter operation. It carries enough context to
// diagnose misconfiguration and never any key material.
type OpError struct {
	Algorithm string
	Op        Operation
	// Expected and Actual are byte lengths; both zero when the failure is
	// not a length mismatch.
	Expected int
	Actual   int
	// Err is the taxonomy sentinel (ErrInvalidPublicKey, ErrProvider, ...).
	Err error
	// Cause is the underlying error, if any.
	Cause error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Algorithm, e.Op, e.Err)
	if e.Expected != 0 || e.Actual != 0 {
		msg += fmt.Sprintf(" (expected %d bytes, got %d)", e.Expected, e.Actual)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func lengthError(alg string, op Operation, sentinel error, expected, actual int) error {
	return &OpError{Algorithm: alg, Op: op, Expected: expected, Actual: actual, Err: sentinel}
}

func providerError(alg string, op Operation, cause error) error {
	return &OpError{Algorithm: alg, Op: op, Err: ErrProvider, Cause: cause}
}

// IsRetryable reports whether err is a provider timeout that a caller may
// retry. Length and identifier errors are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProvider) && errors.Is(err, context.DeadlineExceeded)
}

// Stage identifies the handshake step that failed.
type Stage string

const (
	StageInit              Stage = "init"
	StageClassicalExchange Stage = "classical-exchange"
	StageEncapsulation     Stage = "encapsulation"
	StageVerification      Stage = "verification"
	StageCombine           Stage = "combine"
)

// HandshakeError is returned by every failed handshake. It matches
// ErrHandshakeFailed and its cause under errors.Is.
type HandshakeError struct {
	Stage Stage
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("pqhybrid: handshake failed at %s: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() []error {
	return []error{ErrHandshakeFailed, e.Err}
}

// TimingAdvisory flags a benchmarked operation whose latency varies more than
// the configured coefficient-of-variation threshold.
type TimingAdvisory struct {
	Algorithm string
	Op        Operation
	CV        float64
	Threshold float64
}

func (a *TimingAdvisory) Error() string {
	return fmt.Sprintf("pqhybrid: possible timing leak in %s %s: cv %.3f exceeds %.3f", a.Algorithm, a.Op, a.CV, a.Threshold)
}

func (a *TimingAdvisory) Unwrap() error { return ErrPossibleTimingLeak }
