// Package config loads node configuration and applies the genesis state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/tolelom/gpsrunner/anticheat"
	"github.com/tolelom/gpsrunner/staking"
)

// EnvPrefix prefixes every environment override, e.g. GPSRUN_RPC_PORT or
// GPSRUN_LOG_LEVEL.
const EnvPrefix = "GPSRUN"

// TLSConfig holds PEM paths for the RPC listener. With ClientCA set, clients
// must present a certificate signed by it.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" json:"cert_file"`
	KeyFile  string `mapstructure:"key_file" json:"key_file"`
	ClientCA string `mapstructure:"client_ca" json:"client_ca,omitempty"`
}

// LogConfig selects the log level and destination.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file,omitempty"` // empty → stderr
}

// RolesConfig lists the identities (pubkey hex) holding each role.
type RolesConfig struct {
	Admins        []string `mapstructure:"admins" json:"admins"`
	Verifiers     []string `mapstructure:"verifiers" json:"verifiers"`
	MarkerOracles []string `mapstructure:"marker_oracles" json:"marker_oracles"`
}

// StakingConfig bounds deposits. Amounts are decimal strings in wei.
type StakingConfig struct {
	MinStake        string `mapstructure:"min_stake" json:"min_stake"`
	MaxStake        string `mapstructure:"max_stake" json:"max_stake"`
	UnstakeCooldown int64  `mapstructure:"unstake_cooldown" json:"unstake_cooldown"` // seconds
}

// PoolConfig is a reward schedule applied at genesis. Empty City is the
// global pool.
type PoolConfig struct {
	City       string `mapstructure:"city" json:"city"`
	RewardRate string `mapstructure:"reward_rate" json:"reward_rate"` // wei per second
	EndTime    int64  `mapstructure:"end_time" json:"end_time"`
}

// GenesisConfig describes the ledger's initial state.
type GenesisConfig struct {
	ChainID       string            `mapstructure:"chain_id" json:"chain_id"`
	Alloc         map[string]string `mapstructure:"alloc" json:"alloc"` // pubkey hex → balance in wei
	RewardReserve string            `mapstructure:"reward_reserve" json:"reward_reserve"`
	Pools         []PoolConfig      `mapstructure:"pools" json:"pools"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string           `mapstructure:"node_id" json:"node_id"`
	DataDir      string           `mapstructure:"data_dir" json:"data_dir"`
	RPCPort      int              `mapstructure:"rpc_port" json:"rpc_port"`
	RPCAuthToken string           `mapstructure:"rpc_auth_token" json:"rpc_auth_token,omitempty"`
	TLS          *TLSConfig       `mapstructure:"tls" json:"tls,omitempty"`
	Log          LogConfig        `mapstructure:"log" json:"log"`
	Roles        RolesConfig      `mapstructure:"roles" json:"roles"`
	AntiCheat    anticheat.Config `mapstructure:"anticheat" json:"anticheat"`
	Staking      StakingConfig    `mapstructure:"staking" json:"staking"`
	Genesis      GenesisConfig    `mapstructure:"genesis" json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	params := staking.DefaultParams()
	return &Config{
		NodeID:    "node0",
		DataDir:   "./data",
		RPCPort:   8545,
		Log:       LogConfig{Level: "info"},
		AntiCheat: anticheat.DefaultConfig(),
		Staking: StakingConfig{
			MinStake:        params.MinStake.Dec(),
			MaxStake:        params.MaxStake.Dec(),
			UnstakeCooldown: params.UnstakeCooldown,
		},
		Genesis: GenesisConfig{
			ChainID:       "gpsrun-dev",
			Alloc:         map[string]string{},
			RewardReserve: "0",
		},
	}
}

// Load reads the config file at path over the defaults, then applies
// GPSRUN_* environment overrides. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("rpc_port", d.RPCPort)
	v.SetDefault("rpc_auth_token", d.RPCAuthToken)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("anticheat.cooldown_seconds", d.AntiCheat.CooldownSeconds)
	v.SetDefault("anticheat.max_speed_kmh", d.AntiCheat.MaxSpeedKmh)
	v.SetDefault("staking.min_stake", d.Staking.MinStake)
	v.SetDefault("staking.max_stake", d.Staking.MaxStake)
	v.SetDefault("staking.unstake_cooldown", d.Staking.UnstakeCooldown)
	v.SetDefault("genesis.chain_id", d.Genesis.ChainID)
	v.SetDefault("genesis.reward_reserve", d.Genesis.RewardReserve)
}

// Validate checks values that cannot be caught by decoding alone.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id is required")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	if _, err := c.StakingParams(); err != nil {
		return err
	}
	return nil
}

// StakingParams converts the staking section into ledger parameters.
func (c *Config) StakingParams() (staking.Params, error) {
	lo, err := parseAmount("staking.min_stake", c.Staking.MinStake)
	if err != nil {
		return staking.Params{}, err
	}
	hi, err := parseAmount("staking.max_stake", c.Staking.MaxStake)
	if err != nil {
		return staking.Params{}, err
	}
	if lo.IsZero() || hi.Lt(lo) {
		return staking.Params{}, fmt.Errorf("staking bounds [%s, %s] invalid", lo.Dec(), hi.Dec())
	}
	return staking.Params{MinStake: lo, MaxStake: hi, UnstakeCooldown: c.Staking.UnstakeCooldown}, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	n, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return n, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Env holds secrets and runtime knobs that never live in the config file.
type Env struct {
	Password string `env:"GPSRUN_PASSWORD"`
	LogLevel string `env:"GPSRUN_LOG_LEVEL"`
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
