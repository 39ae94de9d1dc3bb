package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gpsrunner/bank"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/crypto/certgen"
	"github.com/tolelom/gpsrunner/internal/testutil"
	"github.com/tolelom/gpsrunner/staking"
	"github.com/tolelom/gpsrunner/storage"
	"github.com/tolelom/gpsrunner/vm"
)

const (
	alice = "a11ce00000000000000000000000000000000000000000000000000000000000"
	bob   = "b0b0000000000000000000000000000000000000000000000000000000000000"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.NodeID, cfg.NodeID)
	assert.Equal(t, def.RPCPort, cfg.RPCPort)
	assert.Equal(t, def.AntiCheat, cfg.AntiCheat)
	assert.Equal(t, def.Staking, cfg.Staking)
	assert.Equal(t, def.Genesis.ChainID, cfg.Genesis.ChainID)
	assert.Nil(t, cfg.TLS)

	params, err := cfg.StakingParams()
	require.NoError(t, err)
	assert.Equal(t, staking.DefaultParams(), params)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "node.yaml", `
node_id: runner-1
rpc_port: 9100
log:
  level: debug
roles:
  admins: [`+alice+`]
  marker_oracles: [`+bob+`]
anticheat:
  cooldown_seconds: 45
genesis:
  chain_id: gpsrun-test
  reward_reserve: "5000"
  alloc:
    `+alice+`: "1000000000000000000"
  pools:
    - reward_rate: "100"
      end_time: 2000000000
    - city: paris
      reward_rate: "7"
      end_time: 2000000000
`)
	t.Setenv("GPSRUN_RPC_PORT", "9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "runner-1", cfg.NodeID)
	assert.Equal(t, 9000, cfg.RPCPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{alice}, cfg.Roles.Admins)
	assert.Equal(t, []string{bob}, cfg.Roles.MarkerOracles)
	assert.Equal(t, int64(45), cfg.AntiCheat.CooldownSeconds)
	assert.Equal(t, uint64(150), cfg.AntiCheat.MaxSpeedKmh, "unset keys keep defaults")
	assert.Equal(t, "gpsrun-test", cfg.Genesis.ChainID)
	assert.Equal(t, "1000000000000000000", cfg.Genesis.Alloc[alice])
	require.Len(t, cfg.Genesis.Pools, 2)
	assert.Equal(t, "paris", cfg.Genesis.Pools[1].City)
	assert.Nil(t, cfg.TLS)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadRejectsBadStakingBounds(t *testing.T) {
	path := writeFile(t, "node.json", `{"staking": {"min_stake": "100", "max_stake": "10"}}`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeFile(t, "node.json", `{"staking": {"min_stake": "lots"}}`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "saved"
	cfg.Roles.Verifiers = []string{bob}
	path := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", got.NodeID)
	assert.Equal(t, []string{bob}, got.Roles.Verifiers)
}

func TestParseEnv(t *testing.T) {
	t.Setenv("GPSRUN_PASSWORD", "hunter2")
	t.Setenv("GPSRUN_LOG_LEVEL", "warn")
	e, err := ParseEnv()
	require.NoError(t, err)
	assert.Equal(t, Env{Password: "hunter2", LogLevel: "warn"}, e)
}

func TestLoadTLSConfig(t *testing.T) {
	tlsCfg, err := LoadTLSConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	files, err := certgen.GenerateAll(t.TempDir(), "rpc", nil)
	require.NoError(t, err)

	tlsCfg, err = LoadTLSConfig(&TLSConfig{CertFile: files.Cert, KeyFile: files.Key})
	require.NoError(t, err)
	assert.Len(t, tlsCfg.Certificates, 1)
	assert.Equal(t, tls.NoClientCert, tlsCfg.ClientAuth)

	tlsCfg, err = LoadTLSConfig(&TLSConfig{CertFile: files.Cert, KeyFile: files.Key, ClientCA: files.CACert})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, tlsCfg.ClientAuth)

	_, err = LoadTLSConfig(&TLSConfig{CertFile: files.Cert, KeyFile: files.Key, ClientCA: files.Key})
	assert.Error(t, err)
}

func newExecutor(db storage.DB) *vm.Executor {
	return vm.NewExecutor(storage.NewStateDB(db), nil, vm.Options{
		Clock: func() int64 { return 1_700_000_000 },
	})
}

func TestApplyGenesis(t *testing.T) {
	db := testutil.NewMemDB()
	exec := newExecutor(db)
	cfg := DefaultConfig()
	cfg.Genesis.Alloc = map[string]string{alice: "1000", bob: "2000"}
	cfg.Genesis.RewardReserve = "500"
	cfg.Genesis.Pools = []PoolConfig{
		{RewardRate: "10", EndTime: 1_800_000_000},
		{City: "paris", RewardRate: "3", EndTime: 1_750_000_000},
	}

	applied, err := ApplyGenesis(cfg, exec, db)
	require.NoError(t, err)
	assert.True(t, applied)

	require.NoError(t, exec.View(func(v *vm.View) error {
		for addr, want := range map[string]uint64{alice: 1000, bob: 2000, core.AccountRewardReserve: 500} {
			bal, err := bank.Balance(v.State, addr)
			require.NoError(t, err)
			assert.Equal(t, uint256.NewInt(want), bal, addr)
		}
		global, err := v.Staking.Pool(core.GlobalPoolID)
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(10), global.RewardRate)
		assert.Equal(t, int64(1_800_000_000), global.EndTime)

		paris, err := v.Staking.Pool(core.CityPoolID("paris"))
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(3), paris.RewardRate)
		return nil
	}))

	root := exec.StateRoot()
	applied, err = ApplyGenesis(cfg, exec, db)
	require.NoError(t, err)
	assert.False(t, applied, "second start must not mint again")
	assert.Equal(t, root, exec.StateRoot())

	cfg.Genesis.ChainID = "other"
	_, err = ApplyGenesis(cfg, exec, db)
	assert.Error(t, err)
}

func TestApplyGenesisRejectsBadInput(t *testing.T) {
	cases := map[string]func(*Config){
		"system alloc": func(c *Config) { c.Genesis.Alloc = map[string]string{core.AccountStakeEscrow: "1"} },
		"bad amount":   func(c *Config) { c.Genesis.Alloc = map[string]string{alice: "-5"} },
		"bad rate":     func(c *Config) { c.Genesis.Pools = []PoolConfig{{RewardRate: "x"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			db := testutil.NewMemDB()
			cfg := DefaultConfig()
			mutate(cfg)
			applied, err := ApplyGenesis(cfg, newExecutor(db), db)
			assert.Error(t, err)
			assert.False(t, applied)

			_, err = db.Get([]byte(genesisKey))
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}
