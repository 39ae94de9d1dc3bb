package storage_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/internal/testutil"
	"github.com/tolelom/gpsrunner/storage"
)

func TestMissingEntitiesHaveZeroValues(t *testing.T) {
	s := testutil.NewStateDB()

	acc, err := s.GetAccount("ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", acc.Address)
	assert.True(t, acc.Balance.IsZero())

	city, err := s.GetCityStats("paris")
	require.NoError(t, err)
	assert.Equal(t, &core.CityStats{City: "paris"}, city)

	ac, err := s.GetAntiCheat("p1")
	require.NoError(t, err)
	assert.False(t, ac.HasSample)

	n, err := s.GetPlayerCityCount("paris", "p1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetPlayer("p1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetStake("p1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.PlayerByOwner("nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPlayerOwnerIndex(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetPlayer(&core.Player{ID: "p1", Owner: "alice"}))

	id, err := s.PlayerByOwner("alice")
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}

func TestNextMarkerSeq(t *testing.T) {
	s := testutil.NewStateDB()
	for want := uint64(0); want < 3; want++ {
		got, err := s.NextMarkerSeq()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAmountsSurviveCommit(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)

	big := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	require.NoError(t, s.SetPool(&core.PoolInfo{
		ID:                core.GlobalPoolID,
		TotalStaked:       uint256.NewInt(5),
		AccRewardPerShare: big,
		RewardRate:        uint256.NewInt(7),
		EndTime:           100,
	}))
	require.NoError(t, s.Commit())

	reopened := storage.NewStateDB(db)
	p, err := reopened.GetPool(core.GlobalPoolID)
	require.NoError(t, err)
	assert.Equal(t, big, p.AccRewardPerShare)
	assert.Equal(t, uint256.NewInt(7), p.RewardRate)
	assert.Equal(t, int64(100), p.EndTime)
}

func TestSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetPlayerCityCount("paris", "p1", 1))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetPlayerCityCount("paris", "p1", 2))
	require.NoError(t, s.SetMarker(&core.Marker{ID: "m1"}))

	require.NoError(t, s.RevertToSnapshot(snap))

	n, _ := s.GetPlayerCityCount("paris", "p1")
	assert.Equal(t, uint64(1), n)
	_, err = s.GetMarker("m1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Error(t, s.RevertToSnapshot(snap), "snapshot is consumed")
}

func TestComputeRootIsDeterministic(t *testing.T) {
	a := testutil.NewStateDB()
	b := testutil.NewStateDB()

	require.NoError(t, a.SetMarker(&core.Marker{ID: "m1", City: "x"}))
	require.NoError(t, a.SetMarker(&core.Marker{ID: "m2", City: "y"}))
	require.NoError(t, b.SetMarker(&core.Marker{ID: "m2", City: "y"}))
	require.NoError(t, b.SetMarker(&core.Marker{ID: "m1", City: "x"}))
	assert.Equal(t, a.ComputeRoot(), b.ComputeRoot())

	before := a.ComputeRoot()
	require.NoError(t, a.Commit())
	assert.Equal(t, before, a.ComputeRoot(), "commit does not change the root")

	require.NoError(t, a.SetMarker(&core.Marker{ID: "m1", City: "z"}))
	assert.NotEqual(t, before, a.ComputeRoot())
}
