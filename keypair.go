package pqhybrid

// A KeyPair owns a public key and a secret key produced for one descriptor.
// The secret half lives in a Secret and is released by Wipe.
type KeyPair struct {
	Descriptor *AlgorithmDescriptor
	Public     []byte
	secret     *Secret
}

// NewKeyPair builds a keypair from existing key material. It takes ownership
// of secret. Lengths are not checked here; the Adapter checks them on use.
func NewKeyPair(desc *AlgorithmDescriptor, public, secret []byte) *KeyPair {
	return &KeyPair{
		Descriptor: desc,
		Public:     public,
		secret:     SecretFrom(secret),
	}
}

// SecretKey returns the secret key bytes, nil after Wipe.
func (kp *KeyPair) SecretKey() []byte {
	if kp == nil {
		return nil
	}
	return kp.secret.Bytes()
}

// HasSecret reports whether the secret half is still available.
func (kp *KeyPair) HasSecret() bool {
	return kp != nil && !kp.secret.Wiped()
}

// PublicOnly returns a copy of the keypair without the secret half.
func (kp *KeyPair) PublicOnly() *KeyPair {
	return &KeyPair{
		Descriptor: kp.Descriptor,
		Public:     append([]byte(nil), kp.Public...),
	}
}

// Wipe overwrites the secret key. The public key is kept.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	kp.secret.Wipe()
}

// EncapsulationResult is the output of a KEM encapsulation. The shared secret
// is owned by the result until handed to the combiner, which wipes it.
type EncapsulationResult struct {
	Descriptor   *AlgorithmDescriptor
	Ciphertext   []byte
	SharedSecret *Secret
}

// Wipe releases the shared secret.
func (r *EncapsulationResult) Wipe() {
	if r == nil {
		return
	}
	r.SharedSecret.Wipe()
}
