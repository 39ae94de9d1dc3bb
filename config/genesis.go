package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/tolelom/gpsrunner/bank"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/storage"
	"github.com/tolelom/gpsrunner/vm"
)

// genesisKey records the chain id a database was initialised for. It lives
// outside the state prefixes so it does not affect the state root.
const genesisKey = "node:genesis"

// GenesisAdmin is the identity genesis writes are attributed to.
const GenesisAdmin = "genesis"

type allocation struct {
	address string
	amount  *uint256.Int
}

type pool struct {
	city string
	rate *uint256.Int
	end  int64
}

// ApplyGenesis mints the allocations, funds the reward reserve and
// configures the reward pools on a fresh database. On a database that was
// already initialised it only checks the chain id and returns false.
func ApplyGenesis(cfg *Config, exec *vm.Executor, db storage.DB) (bool, error) {
	chainID := cfg.Genesis.ChainID
	stored, err := db.Get([]byte(genesisKey))
	switch {
	case err == nil:
		if string(stored) != chainID {
			return false, fmt.Errorf("database initialised for chain %q, config says %q", stored, chainID)
		}
		return false, nil
	case !errors.Is(err, core.ErrNotFound):
		return false, fmt.Errorf("read genesis marker: %w", err)
	}

	allocs, err := parseAlloc(cfg.Genesis.Alloc)
	if err != nil {
		return false, err
	}
	reserve, err := parseAmount("genesis.reward_reserve", cfg.Genesis.RewardReserve)
	if err != nil {
		return false, err
	}
	pools, err := parsePools(cfg.Genesis.Pools)
	if err != nil {
		return false, err
	}

	err = exec.Genesis(GenesisAdmin, func(ctx *vm.Context) error {
		for _, a := range allocs {
			if err := bank.Mint(ctx.State, a.address, a.amount); err != nil {
				return fmt.Errorf("alloc %s: %w", a.address, err)
			}
		}
		if !reserve.IsZero() {
			if err := bank.Mint(ctx.State, core.AccountRewardReserve, reserve); err != nil {
				return fmt.Errorf("reward reserve: %w", err)
			}
		}
		for _, p := range pools {
			if err := ctx.Staking.ConfigurePool(ctx.Call, p.city, p.rate, p.end); err != nil {
				return fmt.Errorf("pool %q: %w", p.city, err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if err := db.Set([]byte(genesisKey), []byte(chainID)); err != nil {
		return false, fmt.Errorf("write genesis marker: %w", err)
	}
	return true, nil
}

// parseAlloc returns the allocations sorted by address so genesis writes
// are deterministic.
func parseAlloc(alloc map[string]string) ([]allocation, error) {
	out := make([]allocation, 0, len(alloc))
	for addr, bal := range alloc {
		if bank.IsSystemAccount(addr) {
			return nil, fmt.Errorf("genesis.alloc: %s is a system account", addr)
		}
		amount, err := parseAmount("genesis.alloc."+addr, bal)
		if err != nil {
			return nil, err
		}
		out = append(out, allocation{address: addr, amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address < out[j].address })
	return out, nil
}

func parsePools(cfgs []PoolConfig) ([]pool, error) {
	out := make([]pool, 0, len(cfgs))
	for _, pc := range cfgs {
		rate, err := parseAmount("genesis.pools.reward_rate", pc.RewardRate)
		if err != nil {
			return nil, err
		}
		out = append(out, pool{city: pc.City, rate: rate, end: pc.EndTime})
	}
	return out, nil
}
