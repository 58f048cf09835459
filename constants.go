package pqhybrid

// MLKEM (Module-Lattice-Based Key Encapsulation Mechanism) constants.
// These values are defined in NIST FIPS 203 and represent the sizes of
// keys, ciphertexts, and shared secrets for each security level. The
// round-3 Kyber parameter sets share the same sizes.
//
// MLKEM-512: NIST Security Level 1 (~AES-128 equivalent)
// MLKEM-768: NIST Security Level 3 (~AES-192 equivalent) - RECOMMENDED
// MLKEM-1024: NIST Security Level 5 (~AES-256 equivalent)
const (
	// MLKEM-512 sizes (NIST Security Level 1)
	MLKEM512PublicKeySize    = 800
	MLKEM512PrivateKeySize   = 1632
	MLKEM512CiphertextSize   = 768
	MLKEM512SharedSecretSize = 32

	// MLKEM-768 sizes (NIST Security Level 3) - Recommended for most use cases
	MLKEM768PublicKeySize    = 1184
	MLKEM768PrivateKeySize   = 2400
	MLKEM768CiphertextSize   = 1088
	MLKEM768SharedSecretSize = 32

	// MLKEM-1024 sizes (NIST Security Level 5)
	MLKEM1024PublicKeySize    = 1568
	MLKEM1024PrivateKeySize   = 3168
	MLKEM1024CiphertextSize   = 1568
	MLKEM1024SharedSecretSize = 32
)

// MLDSA (Module-Lattice-Based Digital Signature Algorithm) constants.
// These values are defined in NIST FIPS 204.
const (
	// MLDSA-44 sizes (NIST Security Level 2)
	MLDSA44PublicKeySize  = 1312
	MLDSA44PrivateKeySize = 2560
	MLDSA44SignatureSize  = 2420

	// MLDSA-65 sizes (NIST Security Level 3) - Recommended for most use cases
	MLDSA65PublicKeySize  = 1952
	MLDSA65PrivateKeySize = 4032
	MLDSA65SignatureSize  = 3309

	// MLDSA-87 sizes (NIST Security Level 5)
	MLDSA87PublicKeySize  = 2592
	MLDSA87PrivateKeySize = 4896
	MLDSA87SignatureSize  = 4627
)

// Classical primitive sizes.
const (
	Ed25519PublicKeySize  = 32
	Ed25519PrivateKeySize = 64
	Ed25519SignatureSize  = 64

	X25519KeySize = 32
	X448KeySize   = 56

	// Uncompressed SEC1 points.
	P256PublicKeySize  = 65
	P256PrivateKeySize = 32
	P384PublicKeySize  = 97
	P384PrivateKeySize = 48
)

// SessionKeySize is the length of every combined session key, independent of
// the algorithms used for either leg of the handshake.
const SessionKeySize = 32

// confirmKeySize is the length of the key-confirmation key derived alongside
// the session key.
const confirmKeySize = 32

// CombinerLabel is the domain-separation label of the hybrid key derivation.
// It is used as the extract salt (HKDF), the derive-key context (BLAKE3) or
// the absorbed prefix (SHAKE256), and is also mixed into the expand info.
const CombinerLabel = "pqhybrid/v1 combiner"

// HandshakeVersion is the version byte of the hybrid handshake message.
const HandshakeVersion = 1

// MaxHandshakeMessageLen bounds a single encoded handshake message.
const MaxHandshakeMessageLen = 65535

// Version of this module, recorded in benchmark reports.
const Version = "0.3.0"
