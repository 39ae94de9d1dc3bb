package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gpsrunner/core"
)

func TestTransactionSignVerify(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	tx, err := w.Transfer("test-chain", "deadbeef", uint256.NewInt(100), 0)
	require.NoError(t, err)
	assert.NoError(t, tx.Verify())
	assert.Equal(t, w.PubKey(), tx.From)

	tx.Nonce = 1
	assert.Error(t, tx.Verify(), "tampered nonce")
}

func TestPlayerID(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	assert.Len(t, w.PlayerID(), 64)
	assert.Equal(t, w.PlayerID(), New(w.PrivKey()).PlayerID())
}

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "node.key")

	require.NoError(t, SaveKey(path, "hunter2", w.PrivKey()))

	priv, err := LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.PubKey(), New(priv).PubKey())

	_, err = LoadKey(path, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	loaded, err := LoadWallet(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.PlayerID(), loaded.PlayerID())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestKeystoreBindsPublicKey(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, SaveKey(path, "pw", w.PrivKey()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ks keystoreFile
	require.NoError(t, json.Unmarshal(data, &ks))
	assert.Equal(t, w.PlayerID(), ks.PlayerID)

	// Swapping the clear-text identity breaks decryption.
	ks.PubKey = other.PubKey()
	data, err = json.Marshal(ks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
	_, err = LoadKey(path, "pw")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestNewTxPayload(t *testing.T) {
	w, _ := Generate()
	tx, err := w.NewTx("c", core.TxPlaceMarker, 3, core.PlaceMarkerPayload{PlayerID: w.PlayerID(), Lat: 1, Lon: 2})
	require.NoError(t, err)
	assert.Equal(t, core.TxPlaceMarker, tx.Type)
	assert.Equal(t, uint64(3), tx.Nonce)
	assert.Equal(t, tx.Hash(), tx.ID)
	assert.JSONEq(t, `{"player_id":"`+w.PlayerID()+`","lat":1,"lon":2,"city":"","landmark":"","reported_speed":0}`, string(tx.Payload))
}
