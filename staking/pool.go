package staking

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/gpsrunner/core"
)

// Scale is the fixed-point factor of AccRewardPerShare.
var Scale = uint256.NewInt(1_000_000_000_000_000_000)

func zero() *uint256.Int { return new(uint256.Int) }

// orZero returns a copy of x, or zero when x is nil.
func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return zero()
	}
	return x.Clone()
}

// NewPool returns an empty pool whose clock starts at now.
func NewPool(id string, now int64) *core.PoolInfo {
	return &core.PoolInfo{
		ID:                id,
		TotalStaked:       zero(),
		AccRewardPerShare: zero(),
		RewardRate:        zero(),
		LastUpdate:        now,
	}
}

func normalizePool(p *core.PoolInfo) {
	p.TotalStaked = orZero(p.TotalStaked)
	p.AccRewardPerShare = orZero(p.AccRewardPerShare)
	p.RewardRate = orZero(p.RewardRate)
}

// accrued is the accumulator increase between p.LastUpdate and now, with the
// schedule clipped at p.EndTime. An empty pool accrues nothing.
func accrued(p *core.PoolInfo, now int64) *uint256.Int {
	if now <= p.LastUpdate || p.TotalStaked.IsZero() {
		return zero()
	}
	end := min(now, p.EndTime)
	if end <= p.LastUpdate {
		return zero()
	}
	elapsed := uint256.NewInt(uint64(end - p.LastUpdate))
	reward, overflow := new(uint256.Int).MulOverflow(elapsed, p.RewardRate)
	if overflow {
		panic(fmt.Sprintf("staking: pool %s reward overflow", p.ID))
	}
	inc, overflow := new(uint256.Int).MulDivOverflow(reward, Scale, p.TotalStaked)
	if overflow {
		panic(fmt.Sprintf("staking: pool %s accumulator overflow", p.ID))
	}
	return inc
}

// Settle advances the pool's accumulator to now. It must run before any
// change to TotalStaked or to a stake's amount.
func Settle(p *core.PoolInfo, now int64) {
	if now <= p.LastUpdate {
		return
	}
	acc, overflow := new(uint256.Int).AddOverflow(p.AccRewardPerShare, accrued(p, now))
	if overflow {
		panic(fmt.Sprintf("staking: pool %s accumulator wrapped", p.ID))
	}
	p.AccRewardPerShare = acc
	p.LastUpdate = now
}

// Projected returns the accumulator value Settle would produce at now
// without touching p.
func Projected(p *core.PoolInfo, now int64) *uint256.Int {
	acc, overflow := new(uint256.Int).AddOverflow(p.AccRewardPerShare, accrued(p, now))
	if overflow {
		panic(fmt.Sprintf("staking: pool %s accumulator wrapped", p.ID))
	}
	return acc
}

// shareOf returns amount × acc / Scale.
func shareOf(amount, acc *uint256.Int) *uint256.Int {
	v, overflow := new(uint256.Int).MulDivOverflow(amount, acc, Scale)
	if overflow {
		panic("staking: share overflow")
	}
	return v
}

// earned returns what a position of amount with the given debt has accrued
// at accumulator acc. A share below the debt means the accumulator went
// backwards.
func earned(amount, debt, acc *uint256.Int) *uint256.Int {
	share := shareOf(amount, acc)
	if share.Lt(debt) {
		panic(fmt.Sprintf("staking: share %s below reward debt %s", share.Dec(), debt.Dec()))
	}
	return share.Sub(share, debt)
}

// applyMultiplier returns v × mult / 100.
func applyMultiplier(v *uint256.Int, mult uint64) *uint256.Int {
	out, overflow := new(uint256.Int).MulDivOverflow(v, uint256.NewInt(mult), uint256.NewInt(100))
	if overflow {
		panic("staking: multiplier overflow")
	}
	return out
}
