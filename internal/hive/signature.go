package hive

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// SignatureSize is the length of a compact recoverable signature.
const SignatureSize = 65

var (
	// ErrInvalidSignature indicates a signature that does not recover a key.
	ErrInvalidSignature = errors.New("hive: invalid signature")
	// ErrNonCanonical indicates a signature the ledger would refuse.
	ErrNonCanonical = errors.New("hive: non-canonical signature")
)

// SignCompact produces a 65-byte recoverable signature over digest. The
// result may be non-canonical; callers that submit to the ledger must
// check IsCanonical and re-sign over a different digest if needed.
func (k *PrivateKey) SignCompact(digest [32]byte) ([]byte, error) {
	if k == nil || k.key == nil {
		return nil, errors.New("hive: sign: no private key")
	}
	return ecdsa.SignCompact(k.key, digest[:], true), nil
}

// RecoverCompact returns the public key that produced sig over digest.
func RecoverCompact(sig []byte, digest [32]byte) (PublicKey, error) {
	if len(sig) != SignatureSize {
		return PublicKey{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(sig))
	}
	pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return PublicKey{key: pub}, nil
}

// IsCanonical applies the ledger's canonical form rule: neither R nor S
// may have the high bit set or a redundant leading zero byte.
func IsCanonical(sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return sig[1]&0x80 == 0 &&
		!(sig[1] == 0 && sig[2]&0x80 == 0) &&
		sig[33]&0x80 == 0 &&
		!(sig[33] == 0 && sig[34]&0x80 == 0)
}
