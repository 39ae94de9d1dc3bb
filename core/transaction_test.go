package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/wallet"
)

func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := w.NewTx("test-chain", core.TxStake, 0, core.StakePayload{
		PlayerID: w.PlayerID(),
		Amount:   uint256.NewInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), tx.ID)
	require.NoError(t, tx.Verify())

	tx.Nonce = 1
	assert.Error(t, tx.Verify(), "nonce is covered by the signature")

	tx.Nonce = 0
	tx.ChainID = "other"
	assert.Error(t, tx.Verify(), "chain id is covered by the signature")

	tx.ChainID = "test-chain"
	tx.From = "not-a-key"
	assert.Error(t, tx.Verify())
}

func TestTransactionHashIgnoresSignature(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	tx, err := w.NewTx("test-chain", core.TxClaimRewards, 3, core.PlayerPayload{PlayerID: w.PlayerID()})
	require.NoError(t, err)

	h := tx.Hash()
	tx.Signature = "00"
	tx.ID = "x"
	assert.Equal(t, h, tx.Hash())
}

func TestErrorKindsAndMatching(t *testing.T) {
	err := core.WrapError(core.CodeTransferFailed, "reserve", core.ErrInsufficientBalance)
	assert.ErrorIs(t, err, core.ErrTransferFailed)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance, "cause stays reachable")
	assert.Equal(t, core.KindTransferFailed, core.KindOf(err))

	wrapped := fmt.Errorf("apply: %w", core.NewError(core.CodeSpeedTooHigh, "200 km/h"))
	assert.Equal(t, core.KindRateRejected, core.KindOf(wrapped))
	assert.ErrorIs(t, wrapped, core.ErrSpeedTooHigh)
	assert.NotErrorIs(t, wrapped, core.ErrCooldownNotMet)

	assert.Equal(t, core.KindInternal, core.KindOf(errors.New("disk full")))
	assert.Equal(t, core.KindInternal, core.Code("WHATEVER").Kind())
	assert.Equal(t, "NO_STAKE: nothing staked", core.ErrNoStake.Error())
}

func TestCallerRoles(t *testing.T) {
	c := core.Caller{Identity: "x", Roles: core.RoleVerifier | core.RoleMarkerOracle}
	assert.True(t, c.Roles.Has(core.RoleVerifier))
	assert.True(t, c.Roles.Has(core.RoleMarkerOracle))
	assert.False(t, c.Roles.Has(core.RoleAdmin))
}
