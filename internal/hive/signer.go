package hive

import (
	"encoding/hex"
	"fmt"
	"time"
)

// maxSignAttempts bounds the expiration bumps spent looking for a
// canonical signature. Nearly every digest yields one within a few tries.
const maxSignAttempts = 64

// Signer produces compact signatures without exposing its key.
type Signer interface {
	SignCompact(digest [32]byte) ([]byte, error)
	PublicKey() PublicKey
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key *PrivateKey
}

// NewKeySigner parses a WIF key into a signer.
func NewKeySigner(wif string) (*KeySigner, error) {
	key, err := ParseWIF(wif)
	if err != nil {
		return nil, err
	}
	return &KeySigner{key: key}, nil
}

// SignerFromKey wraps an already parsed key.
func SignerFromKey(key *PrivateKey) *KeySigner { return &KeySigner{key: key} }

func (s *KeySigner) SignCompact(digest [32]byte) ([]byte, error) {
	return s.key.SignCompact(digest)
}

func (s *KeySigner) PublicKey() PublicKey { return s.key.PublicKey() }

func (s *KeySigner) String() string   { return "hive.KeySigner(" + s.PublicKey().String() + ")" }
func (s *KeySigner) GoString() string { return s.String() }

// MarshalJSON exposes only the public half.
func (s *KeySigner) MarshalJSON() ([]byte, error) {
	return []byte(`{"public_key":"` + s.PublicKey().String() + `"}`), nil
}

// SignTransaction signs tx for chain and appends the signature. When the
// signature is not canonical the expiration moves forward one second and
// the transaction is signed again, since the nonce is derived from the digest.
func SignTransaction(tx *Transaction, chain Chain, signer Signer) error {
	for attempt := 0; attempt < maxSignAttempts; attempt++ {
		digest, err := tx.Digest(chain)
		if err != nil {
			return err
		}
		sig, err := signer.SignCompact(digest)
		if err != nil {
			return err
		}
		if IsCanonical(sig) {
			tx.Signatures = append(tx.Signatures, hex.EncodeToString(sig))
			return nil
		}
		tx.Expiration = NewTime(tx.Expiration.Add(time.Second))
	}
	return fmt.Errorf("%w after %d attempts", ErrNonCanonical, maxSignAttempts)
}
