package pqhybrid

import "fmt"

// Family is the primitive family of an algorithm.
type Family string

const (
	FamilyKEM          Family = "KEM"
	FamilySignature    Family = "Signature"
	FamilyKeyAgreement Family = "KeyAgreement"
)

// IsValid reports whether f is a known family.
func (f Family) IsValid() bool {
	switch f {
	case FamilyKEM, FamilySignature, FamilyKeyAgreement:
		return true
	}
	return false
}

// Operation is a primitive operation exposed by the Adapter.
type Operation string

const (
	OpKeyGen      Operation = "keygen"
	OpEncapsulate Operation = "encapsulate"
	OpDecapsulate Operation = "decapsulate"
	OpSign        Operation = "sign"
	OpVerify      Operation = "verify"
	OpAgree       Operation = "agree"
)

// AllOperations lists every operation in display order.
func AllOperations() []Operation {
	return []Operation{OpKeyGen, OpEncapsulate, OpDecapsulate, OpSign, OpVerify, OpAgree}
}

// ParseOperation parses an operation name. Short aliases "encaps" and
// "decaps" are accepted.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "keygen", "generate":
		return OpKeyGen, nil
	case "encapsulate", "encaps":
		return OpEncapsulate, nil
	case "decapsulate", "decaps":
		return OpDecapsulate, nil
	case "sign":
		return OpSign, nil
	case "verify":
		return OpVerify, nil
	case "agree", "dh":
		return OpAgree, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedOperation, s)
}

// AlgorithmID identifies an algorithm and parameter set.
type AlgorithmID struct {
	Family   Family
	Name     string
	ParamSet string
}

// String renders the registry key, for example "ML-KEM-768" or "X25519".
func (id AlgorithmID) String() string {
	if id.ParamSet == "" {
		return id.Name
	}
	return id.Name + "-" + id.ParamSet
}

// AlgorithmDescriptor is the immutable metadata of a registered algorithm.
// Descriptors are shared read-only by every component.
type AlgorithmDescriptor struct {
	ID AlgorithmID

	PublicKeyLen int
	SecretKeyLen int
	// CiphertextLen is set for KEMs.
	CiphertextLen int
	// SignatureLen is set for signature schemes.
	SignatureLen int
	// SharedSecretLen is set for KEMs and key agreements.
	SharedSecretLen int

	// SecurityBits is the claimed classical-equivalent security level.
	SecurityBits int
	// PostQuantum marks algorithms believed secure against quantum adversaries.
	PostQuantum bool
	// HybridEligible marks algorithms allowed as a leg of a hybrid handshake.
	HybridEligible bool
}

// Name returns the registry key of the descriptor.
func (d *AlgorithmDescriptor) Name() string {
	return d.ID.String()
}

// Family returns the descriptor's primitive family.
func (d *AlgorithmDescriptor) Family() Family {
	return d.ID.Family
}

// Supports reports whether op is defined for the descriptor's family.
func (d *AlgorithmDescriptor) Supports(op Operation) bool {
	switch d.ID.Family {
	case FamilyKEM:
		return op == OpKeyGen || op == OpEncapsulate || op == OpDecapsulate
	case FamilySignature:
		return op == OpKeyGen || op == OpSign || op == OpVerify
	case FamilyKeyAgreement:
		return op == OpKeyGen || op == OpAgree
	}
	return false
}

// Operations lists the operations the descriptor supports.
func (d *AlgorithmDescriptor) Operations() []Operation {
	var ops []Operation
	for _, op := range AllOperations() {
		if d.Supports(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

// validate checks that the lengths required by the family are present.
func (d *AlgorithmDescriptor) validate() error {
	if !d.ID.Family.IsValid() || d.ID.Name == "" {
		return fmt.Errorf("%w: bad identifier %q/%q", ErrInvalidDescriptor, d.ID.Family, d.ID.Name)
	}
	if d.PublicKeyLen <= 0 || d.SecretKeyLen <= 0 {
		return fmt.Errorf("%w: %s has non-positive key lengths", ErrInvalidDescriptor, d.Name())
	}
	switch d.ID.Family {
	case FamilyKEM:
		if d.CiphertextLen <= 0 || d.SharedSecretLen <= 0 {
			return fmt.Errorf("%w: %s KEM needs ciphertext and shared secret lengths", ErrInvalidDescriptor, d.Name())
		}
	case FamilySignature:
		if d.SignatureLen <= 0 {
			return fmt.Errorf("%w: %s needs a signature length", ErrInvalidDescriptor, d.Name())
		}
		if d.HybridEligible {
			return fmt.Errorf("%w: signature scheme %s cannot be a hybrid leg", ErrInvalidDescriptor, d.Name())
		}
	case FamilyKeyAgreement:
		if d.SharedSecretLen <= 0 {
			return fmt.Errorf("%w: %s needs a shared secret length", ErrInvalidDescriptor, d.Name())
		}
	}
	return nil
}

// AlgorithmInfo returns the descriptor metadata as a flat map, suitable for
// reports and the CLI listing.
func (d *AlgorithmDescriptor) AlgorithmInfo() map[string]any {
	info := map[string]any{
		"algorithm":       d.ID.Name,
		"variant":         d.Name(),
		"family":          string(d.ID.Family),
		"security_bits":   d.SecurityBits,
		"public_key_size": d.PublicKeyLen,
		"secret_key_size": d.SecretKeyLen,
		"post_quantum":    d.PostQuantum,
		"hybrid_eligible": d.HybridEligible,
	}
	if d.CiphertextLen > 0 {
		info["ciphertext_size"] = d.CiphertextLen
	}
	if d.SignatureLen > 0 {
		info["signature_size"] = d.SignatureLen
	}
	if d.SharedSecretLen > 0 {
		info["shared_secret_size"] = d.SharedSecretLen
	}
	return info
}
