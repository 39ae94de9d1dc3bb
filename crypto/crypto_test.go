package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.Len(t, pub.Hex(), 64)
	assert.Len(t, pub.PlayerID(), 64)
	assert.Equal(t, Hash(pub), pub.PlayerID())
	assert.Equal(t, pub.Hex(), priv.Public().Hex())

	parsed, err := PubKeyFromHex(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, pub.Hex(), parsed.Hex())

	_, err = PubKeyFromHex("abcd")
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("marker 48.858370,2.294481")
	sig := Sign(priv, data)
	assert.NoError(t, Verify(pub, data, sig))
	assert.ErrorIs(t, Verify(pub, []byte("tampered"), sig), ErrBadSignature)
	assert.Error(t, Verify(pub, data, "zz"))
}

func TestKeccak256(t *testing.T) {
	// Keccak-256 of the empty input, as used by Ethereum.
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Keccak256())
	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")), "parts are concatenated")
	assert.Len(t, Hash([]byte("x")), 64)
}
