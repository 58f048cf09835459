package pqhybrid

// combiner.go - hybrid key combiner
//
// The session key depends on both the classical and the post-quantum shared
// secret. Compromise of one leg alone does not reveal it.
//
//   IKM  = classical_ss || pq_ss
//   info = CombinerLabel || 0x00 || suite name || 0x00 || transcript hash
//   OKM  = KDF(IKM, info), 64 bytes
//   session key = OKM[:32], confirmation key = OKM[32:]

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

const confirmLabel = "confirm"

var errEmptySecret = errors.New("pqhybrid: empty component secret")

// combinedKeys is the output of combine. Both halves are owned secrets.
type combinedKeys struct {
	session *Secret
	confirm *Secret
}

func (k *combinedKeys) wipe() {
	wipeAll(k.session, k.confirm)
}

// combinerInfo builds the KDF info string for a suite and transcript hash.
func combinerInfo(suite Suite, transcriptHash []byte) []byte {
	name := suite.Name()
	info := make([]byte, 0, len(CombinerLabel)+1+len(name)+1+len(transcriptHash))
	info = append(info, CombinerLabel...)
	info = append(info, 0)
	info = append(info, name...)
	info = append(info, 0)
	info = append(info, transcriptHash...)
	return info
}

// combine derives the session and confirmation keys from the two component
// secrets. Both component secrets are wiped before combine returns, on every
// path.
func combine(kdf KDF, suite Suite, transcriptHash []byte, classical, pq *Secret) (*combinedKeys, error) {
	defer wipeAll(classical, pq)

	if classical.Len() == 0 || pq.Len() == 0 {
		return nil, errEmptySecret
	}

	ikm := NewSecret(classical.Len() + pq.Len())
	defer ikm.Wipe()
	n := copy(ikm.Bytes(), classical.Bytes())
	copy(ikm.Bytes()[n:], pq.Bytes())

	okm := NewSecret(SessionKeySize + confirmKeySize)
	defer okm.Wipe()
	if err := kdf.derive(ikm.Bytes(), combinerInfo(suite, transcriptHash), okm.Bytes()); err != nil {
		return nil, err
	}

	keys := &combinedKeys{
		session: NewSecret(SessionKeySize),
		confirm: NewSecret(confirmKeySize),
	}
	copy(keys.session.Bytes(), okm.Bytes()[:SessionKeySize])
	copy(keys.confirm.Bytes(), okm.Bytes()[SessionKeySize:])
	return keys, nil
}

// confirmTag computes HMAC-SHA256(confirmKey, "confirm" || transcriptHash).
func confirmTag(confirmKey *Secret, transcriptHash []byte) []byte {
	mac := hmac.New(sha256.New, confirmKey.Bytes())
	mac.Write([]byte(confirmLabel))
	mac.Write(transcriptHash)
	return mac.Sum(nil)
}

// signingPayload is the message an initiator signs: the label and the
// transcript hash.
func signingPayload(transcriptHash []byte) []byte {
	out := make([]byte, 0, len(CombinerLabel)+len(" signature")+len(transcriptHash))
	out = append(out, CombinerLabel...)
	out = append(out, " signature"...)
	return append(out, transcriptHash...)
}
