package hive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWIF       = "5KQwrPbwdL6PhXujxW37FSSQZ1JiwsST4cqQzDeyXtP79zkvFD3"
	testPublicKey = "STM6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV"
)

func TestParseWIF(t *testing.T) {
	key, err := ParseWIF(testWIF)
	require.NoError(t, err)
	assert.Equal(t, testPublicKey, key.PublicKey().String())
	assert.Equal(t, testWIF, key.WIF())
	assert.Equal(t,
		"02c0ded2bc1f1305fb0faac5e6c03ee3a1924234985427b6167ca569d13df435cf",
		hex.EncodeToString(key.PublicKey().Bytes()))
}

func TestNewPrivateKeyFromScalar(t *testing.T) {
	seed := sha256.Sum256([]byte("hivegate-test-key"))
	key, err := NewPrivateKey(seed[:])
	require.NoError(t, err)
	assert.Equal(t, "5HxFZMtQQtnDV6LveXWKqX5DJR2JHhb5R9sxG9bsKmqmoghJ8gC", key.WIF())
	assert.Equal(t, "STM8Bgeq4PKkKRTyK9CGB6uAweEQLKdSbwP9JwV16azwDDmuYGK14", key.PublicKey().String())

	_, err = NewPrivateKey(seed[:31])
	assert.ErrorIs(t, err, ErrInvalidWIF)
}

func TestParseWIFRejectsBadInput(t *testing.T) {
	for _, wif := range []string{
		"",
		"not-base58-0OIl",
		testWIF[:len(testWIF)-1] + "4",
		"5HxFZMtQQtnDV6LveXWKqX5DJR2JHhb5R9sxG9bsKmqmoghJ8g",
	} {
		_, err := ParseWIF(wif)
		assert.ErrorIs(t, err, ErrInvalidWIF, wif)
	}
}

func TestParsePublicKey(t *testing.T) {
	pub, err := ParsePublicKey(testPublicKey)
	require.NoError(t, err)
	assert.Equal(t, testPublicKey, pub.String())

	testnet := pub.Encode(TestnetAddressPrefix)
	assert.Equal(t, "TST"+testPublicKey[3:], testnet)
	back, err := ParsePublicKey(testnet)
	require.NoError(t, err)
	assert.True(t, pub.Equal(back))

	for _, bad := range []string{"", "GPH6MRyAjQq8ud7hVNYcfnVPJqcVpscN5So8BhtHuGYqET5GDW5CV", testPublicKey[:len(testPublicKey)-1] + "W", "STM1111"} {
		_, err := ParsePublicKey(bad)
		assert.ErrorIs(t, err, ErrInvalidPublicKey, bad)
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := ParseWIF(testWIF)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		digest := sha256.Sum256([]byte(fmt.Sprintf("message-%d", i)))
		sig, err := key.SignCompact(digest)
		require.NoError(t, err)
		require.Len(t, sig, SignatureSize)

		pub, err := RecoverCompact(sig, digest)
		require.NoError(t, err)
		assert.True(t, pub.Equal(key.PublicKey()))

		other := sha256.Sum256([]byte("other"))
		recovered, err := RecoverCompact(sig, other)
		if err == nil {
			assert.False(t, recovered.Equal(key.PublicKey()))
		}
	}

	_, err = RecoverCompact([]byte{1, 2, 3}, [32]byte{})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIsCanonical(t *testing.T) {
	sig := make([]byte, SignatureSize)
	sig[0] = 31
	sig[1], sig[33] = 0x12, 0x34
	assert.True(t, IsCanonical(sig))

	highR := append([]byte(nil), sig...)
	highR[1] = 0x80
	assert.False(t, IsCanonical(highR))

	paddedR := append([]byte(nil), sig...)
	paddedR[1], paddedR[2] = 0, 0x7f
	assert.False(t, IsCanonical(paddedR))

	neededZero := append([]byte(nil), sig...)
	neededZero[1], neededZero[2] = 0, 0x80
	assert.True(t, IsCanonical(neededZero))

	highS := append([]byte(nil), sig...)
	highS[33] = 0xff
	assert.False(t, IsCanonical(highS))

	assert.False(t, IsCanonical(sig[:64]))
}

func TestKeysNeverFormatSecret(t *testing.T) {
	key, err := ParseWIF(testWIF)
	require.NoError(t, err)
	signer := SignerFromKey(key)

	for _, s := range []string{
		fmt.Sprintf("%v", key), fmt.Sprintf("%+v", key), fmt.Sprintf("%#v", key), fmt.Sprint(key),
		fmt.Sprintf("%v", signer), fmt.Sprintf("%#v", signer),
	} {
		assert.NotContains(t, s, testWIF)
	}
	raw, err := json.Marshal(map[string]any{"key": key, "signer": signer})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), testWIF)
	assert.Contains(t, string(raw), testPublicKey)
}
