// Package stake handles deposits, withdrawals and reward claims against the
// global and city reward pools.
package stake

import (
	"encoding/json"

	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/vm"
)

func init() {
	vm.Register(core.TxStake, handleStake)
	vm.Register(core.TxStakeToCity, handleStakeToCity)
	vm.Register(core.TxRequestUnstake, handleRequestUnstake)
	vm.Register(core.TxUnstake, handleUnstake)
	vm.Register(core.TxUnstakeFromCity, handleUnstakeFromCity)
	vm.Register(core.TxClaimRewards, handleClaimRewards)
	vm.Register(core.TxClaimCityRewards, handleClaimCityRewards)
	vm.Register(core.TxUpdateActivityMultiplier, handleUpdateActivityMultiplier)
	vm.Register(core.TxConfigurePool, handleConfigurePool)
}

func handleStake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.StakePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.Stake(ctx.Call, p.PlayerID, p.Amount)
}

func handleStakeToCity(ctx *vm.Context, payload json.RawMessage) error {
	var p core.StakeToCityPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.StakeToCity(ctx.Call, p.PlayerID, p.City, p.Amount)
}

func handleRequestUnstake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlayerPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.RequestUnstake(ctx.Call, p.PlayerID)
}

func handleUnstake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlayerPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.Unstake(ctx.Call, p.PlayerID)
}

func handleUnstakeFromCity(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlayerCityPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.UnstakeFromCity(ctx.Call, p.PlayerID, p.City)
}

func handleClaimRewards(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlayerPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.ClaimRewards(ctx.Call, p.PlayerID)
}

func handleClaimCityRewards(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlayerCityPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.ClaimCityRewards(ctx.Call, p.PlayerID, p.City)
}

func handleUpdateActivityMultiplier(ctx *vm.Context, payload json.RawMessage) error {
	var p core.UpdateActivityMultiplierPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.UpdateActivityMultiplier(ctx.Call, p.PlayerID, p.MarkerCount)
}

func handleConfigurePool(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ConfigurePoolPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	return ctx.Staking.ConfigurePool(ctx.Call, p.City, p.RewardRate, p.EndTime)
}
