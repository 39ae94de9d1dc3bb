// Package staking implements the reward pools and the per-player stake
// positions layered on them. Pools use a reward-per-share accumulator that
// is settled lazily at the top of every mutating call.
package staking

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/holiman/uint256"

	"github.com/tolelom/gpsrunner/bank"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/events"
)

// DefaultMultiplier is 1.00x.
const DefaultMultiplier = 100

// DefaultUnstakeCooldown is the wait between RequestUnstake and Unstake.
const DefaultUnstakeCooldown int64 = 7 * 24 * 60 * 60

// multiplierTiers maps marker-count thresholds, highest first, to
// multipliers.
var multiplierTiers = []struct {
	threshold  uint64
	multiplier uint64
}{
	{1000, 300},
	{500, 200},
	{100, 150},
	{50, 125},
	{10, 100},
}

// MultiplierFor returns the multiplier of the highest tier markerCount
// reaches, or DefaultMultiplier.
func MultiplierFor(markerCount uint64) uint64 {
	for _, t := range multiplierTiers {
		if markerCount >= t.threshold {
			return t.multiplier
		}
	}
	return DefaultMultiplier
}

// Params bounds stake deposits and sets the unstake cooldown.
type Params struct {
	MinStake        *uint256.Int
	MaxStake        *uint256.Int
	UnstakeCooldown int64 // seconds
}

// DefaultParams returns 0.01 .. 10,000 tokens (18 decimals) and 7 days.
func DefaultParams() Params {
	return Params{
		MinStake:        uint256.MustFromDecimal("10000000000000000"),
		MaxStake:        uint256.MustFromDecimal("10000000000000000000000"),
		UnstakeCooldown: DefaultUnstakeCooldown,
	}
}

// Ledger applies staking operations to a State. Like marker.Ledger it is
// created per call and keeps nothing between calls.
type Ledger struct {
	state  core.State
	params Params
	events events.Sink
}

type discard struct{}

func (discard) Emit(events.Event) {}

// NewLedger creates a Ledger. Zero params fall back to DefaultParams; sink
// may be nil for read-only use.
func NewLedger(state core.State, params Params, sink events.Sink) *Ledger {
	def := DefaultParams()
	if params.MinStake == nil {
		params.MinStake = def.MinStake
	}
	if params.MaxStake == nil {
		params.MaxStake = def.MaxStake
	}
	if params.UnstakeCooldown <= 0 {
		params.UnstakeCooldown = def.UnstakeCooldown
	}
	if sink == nil {
		sink = discard{}
	}
	return &Ledger{state: state, params: params, events: sink}
}

// ---- loading ----

func (l *Ledger) pool(id string, now int64) (*core.PoolInfo, error) {
	p, err := l.state.GetPool(id)
	if errors.Is(err, core.ErrNotFound) {
		return NewPool(id, now), nil
	}
	if err != nil {
		return nil, err
	}
	normalizePool(p)
	return p, nil
}

func (l *Ledger) stake(playerID string) (*core.StakeInfo, error) {
	st, err := l.state.GetStake(playerID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.WrapError(core.CodeNoStake, "no stake for player "+playerID, err)
	}
	if err != nil {
		return nil, err
	}
	st.Amount = orZero(st.Amount)
	st.RewardDebt = orZero(st.RewardDebt)
	st.PendingRewards = orZero(st.PendingRewards)
	if st.ActivityMultiplier == 0 {
		st.ActivityMultiplier = DefaultMultiplier
	}
	return st, nil
}

// stakeOrNew loads the stake of playerID or returns an unowned empty one.
func (l *Ledger) stakeOrNew(playerID string) (*core.StakeInfo, error) {
	st, err := l.stake(playerID)
	if errors.Is(err, core.ErrNoStake) {
		return &core.StakeInfo{
			PlayerID:           playerID,
			Amount:             zero(),
			RewardDebt:         zero(),
			PendingRewards:     zero(),
			ActivityMultiplier: DefaultMultiplier,
		}, nil
	}
	return st, err
}

func (l *Ledger) cityStake(city, playerID string) (*core.CityStake, error) {
	cs, err := l.state.GetCityStake(city, playerID)
	if errors.Is(err, core.ErrNotFound) {
		return &core.CityStake{
			PlayerID:       playerID,
			City:           city,
			Amount:         zero(),
			RewardDebt:     zero(),
			PendingRewards: zero(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	cs.Amount = orZero(cs.Amount)
	cs.RewardDebt = orZero(cs.RewardDebt)
	cs.PendingRewards = orZero(cs.PendingRewards)
	return cs, nil
}

// ---- checks ----

func (l *Ledger) checkAmount(amount *uint256.Int) error {
	if amount == nil || amount.Lt(l.params.MinStake) || amount.Gt(l.params.MaxStake) {
		return core.NewError(core.CodeInvalidAmount,
			fmt.Sprintf("stake must be within [%s, %s]", l.params.MinStake.Dec(), l.params.MaxStake.Dec()))
	}
	return nil
}

func checkCity(city string) error {
	if n := utf8.RuneCountInString(city); n == 0 || n > 64 {
		return core.NewError(core.CodeInvalidInput, "city must be 1..64 characters")
	}
	return nil
}

// claimOwner binds st to the caller on first use and rejects any other
// caller afterwards. A registered player may only be staked for by its
// owner.
func (l *Ledger) claimOwner(call core.Call, st *core.StakeInfo) error {
	if st.Owner == "" {
		p, err := l.state.GetPlayer(st.PlayerID)
		switch {
		case err == nil && p.Owner != call.Caller.Identity:
			return core.NewError(core.CodeNotStakeOwner, "player "+st.PlayerID+" belongs to another identity")
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return err
		}
		st.Owner = call.Caller.Identity
		return nil
	}
	return checkOwner(call, st)
}

func checkOwner(call core.Call, st *core.StakeInfo) error {
	if st.Owner != call.Caller.Identity {
		return core.NewError(core.CodeNotStakeOwner, "caller does not own stake of "+st.PlayerID)
	}
	return nil
}

// payReward moves amount from the reward reserve to to. A short reserve
// fails the whole call.
func (l *Ledger) payReward(to string, amount *uint256.Int) error {
	if err := bank.Transfer(l.state, core.AccountRewardReserve, to, amount); err != nil {
		if errors.Is(err, core.ErrInsufficientBalance) {
			return core.WrapError(core.CodeTransferFailed, "reward reserve cannot cover "+amount.Dec(), err)
		}
		return err
	}
	return nil
}

// releasePrincipal moves amount out of escrow. Escrow always holds every
// staked token, so a shortfall is a ledger bug.
func (l *Ledger) releasePrincipal(to string, amount *uint256.Int) error {
	err := bank.Transfer(l.state, core.AccountStakeEscrow, to, amount)
	if errors.Is(err, core.ErrInsufficientBalance) {
		panic(fmt.Sprintf("staking: escrow shortfall releasing %s: %v", amount.Dec(), err))
	}
	return err
}

func addTotal(p *core.PoolInfo, amount *uint256.Int) {
	sum, overflow := new(uint256.Int).AddOverflow(p.TotalStaked, amount)
	if overflow {
		panic("staking: pool total overflow")
	}
	p.TotalStaked = sum
}

func subTotal(p *core.PoolInfo, amount *uint256.Int) {
	if p.TotalStaked.Lt(amount) {
		panic(fmt.Sprintf("staking: pool %s total %s below %s", p.ID, p.TotalStaked.Dec(), amount.Dec()))
	}
	p.TotalStaked = new(uint256.Int).Sub(p.TotalStaked, amount)
}

// ---- main pool ----

// Stake deposits amount from the caller's balance into the global pool.
// Reward earned so far is banked at the current multiplier first, so the new
// deposit never earns retroactively. A pending unstake request is cleared.
func (l *Ledger) Stake(call core.Call, playerID string, amount *uint256.Int) error {
	if err := l.checkAmount(amount); err != nil {
		return err
	}
	pool, err := l.pool(core.GlobalPoolID, call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)

	st, err := l.stakeOrNew(playerID)
	if err != nil {
		return err
	}
	if err := l.claimOwner(call, st); err != nil {
		return err
	}
	if !st.Amount.IsZero() {
		gained := applyMultiplier(earned(st.Amount, st.RewardDebt, pool.AccRewardPerShare), st.ActivityMultiplier)
		st.PendingRewards = new(uint256.Int).Add(st.PendingRewards, gained)
	}
	if err := bank.Transfer(l.state, call.Caller.Identity, core.AccountStakeEscrow, amount); err != nil {
		return err
	}

	st.Amount = new(uint256.Int).Add(st.Amount, amount)
	st.RewardDebt = shareOf(st.Amount, pool.AccRewardPerShare)
	st.StakeTime = call.Now
	st.LastClaimTime = call.Now
	st.UnstakeRequested = false
	st.UnstakeRequestTime = 0
	addTotal(pool, amount)

	if err := l.state.SetStake(st); err != nil {
		return err
	}
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventStaked,
		Data: map[string]any{"player_id": playerID, "amount": amount.Dec(), "total": st.Amount.Dec()},
	})
	return nil
}

// PendingRewards returns what ClaimRewards would pay at now. It never
// mutates state. Unknown players have nothing pending.
func (l *Ledger) PendingRewards(playerID string, now int64) (*uint256.Int, error) {
	st, err := l.stake(playerID)
	if errors.Is(err, core.ErrNoStake) {
		return zero(), nil
	}
	if err != nil {
		return nil, err
	}
	pool, err := l.pool(core.GlobalPoolID, now)
	if err != nil {
		return nil, err
	}
	return l.owed(st, Projected(pool, now)), nil
}

func (l *Ledger) owed(st *core.StakeInfo, acc *uint256.Int) *uint256.Int {
	gained := applyMultiplier(earned(st.Amount, st.RewardDebt, acc), st.ActivityMultiplier)
	return gained.Add(gained, st.PendingRewards)
}

// ClaimRewards pays the caller everything the stake has earned.
func (l *Ledger) ClaimRewards(call core.Call, playerID string) error {
	st, err := l.stake(playerID)
	if err != nil {
		return err
	}
	if err := checkOwner(call, st); err != nil {
		return err
	}
	pool, err := l.pool(core.GlobalPoolID, call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)

	reward := l.owed(st, pool.AccRewardPerShare)
	if reward.IsZero() {
		return core.NewError(core.CodeNoRewards, "nothing to claim for "+playerID)
	}
	if err := l.payReward(st.Owner, reward); err != nil {
		return err
	}
	st.PendingRewards = zero()
	st.RewardDebt = shareOf(st.Amount, pool.AccRewardPerShare)
	st.LastClaimTime = call.Now

	if err := l.state.SetStake(st); err != nil {
		return err
	}
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventRewardsClaimed,
		Data: map[string]any{"player_id": playerID, "amount": reward.Dec()},
	})
	return nil
}

// RequestUnstake starts the unstake cooldown.
func (l *Ledger) RequestUnstake(call core.Call, playerID string) error {
	st, err := l.stake(playerID)
	if err != nil {
		return err
	}
	if err := checkOwner(call, st); err != nil {
		return err
	}
	if st.Amount.IsZero() {
		return core.NewError(core.CodeNoStake, "nothing staked for "+playerID)
	}
	st.UnstakeRequested = true
	st.UnstakeRequestTime = call.Now
	if err := l.state.SetStake(st); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventUnstakeRequested,
		Data: map[string]any{"player_id": playerID, "ready_at": call.Now + l.params.UnstakeCooldown},
	})
	return nil
}

// Unstake returns the principal and all earned rewards once the cooldown
// has passed. The owner binding survives so the player can stake again.
func (l *Ledger) Unstake(call core.Call, playerID string) error {
	st, err := l.stake(playerID)
	if err != nil {
		return err
	}
	if err := checkOwner(call, st); err != nil {
		return err
	}
	if st.Amount.IsZero() {
		return core.NewError(core.CodeNoStake, "nothing staked for "+playerID)
	}
	if !st.UnstakeRequested {
		return core.NewError(core.CodeNoUnstakeRequest, "request_unstake first")
	}
	if readyAt := st.UnstakeRequestTime + l.params.UnstakeCooldown; call.Now < readyAt {
		return core.NewError(core.CodeCooldownNotMet,
			fmt.Sprintf("unstake allowed at %d, now %d", readyAt, call.Now))
	}

	pool, err := l.pool(core.GlobalPoolID, call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)

	principal := st.Amount
	reward := l.owed(st, pool.AccRewardPerShare)
	if err := l.releasePrincipal(st.Owner, principal); err != nil {
		return err
	}
	if err := l.payReward(st.Owner, reward); err != nil {
		return err
	}
	subTotal(pool, principal)

	st.Amount = zero()
	st.RewardDebt = zero()
	st.PendingRewards = zero()
	st.UnstakeRequested = false
	st.UnstakeRequestTime = 0
	st.LastClaimTime = call.Now

	if err := l.state.SetStake(st); err != nil {
		return err
	}
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventUnstaked,
		Data: map[string]any{"player_id": playerID, "amount": principal.Dec(), "reward": reward.Dec()},
	})
	return nil
}

// UpdateActivityMultiplier sets the multiplier from a fresh marker count.
// Reward earned so far is banked at the old multiplier. Only the marker
// oracle or an admin may call it.
func (l *Ledger) UpdateActivityMultiplier(call core.Call, playerID string, markerCount uint64) error {
	if !call.Caller.Roles.Has(core.RoleMarkerOracle) && !call.Caller.Roles.Has(core.RoleAdmin) {
		return core.NewError(core.CodeNotAuthorized, "marker oracle role required")
	}
	pool, err := l.pool(core.GlobalPoolID, call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)

	st, err := l.stakeOrNew(playerID)
	if err != nil {
		return err
	}
	if !st.Amount.IsZero() {
		gained := applyMultiplier(earned(st.Amount, st.RewardDebt, pool.AccRewardPerShare), st.ActivityMultiplier)
		st.PendingRewards = new(uint256.Int).Add(st.PendingRewards, gained)
		st.RewardDebt = shareOf(st.Amount, pool.AccRewardPerShare)
	}
	old := st.ActivityMultiplier
	st.ActivityMultiplier = MultiplierFor(markerCount)

	if err := l.state.SetStake(st); err != nil {
		return err
	}
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventMultiplierUpdated,
		Data: map[string]any{"player_id": playerID, "marker_count": markerCount, "old": old, "new": st.ActivityMultiplier},
	})
	return nil
}

// ---- city pools ----

// StakeToCity deposits amount into a city bonus pool. The caller must own
// the player's main stake record, which is created and bound if missing.
func (l *Ledger) StakeToCity(call core.Call, playerID, city string, amount *uint256.Int) error {
	if err := checkCity(city); err != nil {
		return err
	}
	if err := l.checkAmount(amount); err != nil {
		return err
	}
	st, err := l.stakeOrNew(playerID)
	if err != nil {
		return err
	}
	if err := l.claimOwner(call, st); err != nil {
		return err
	}

	pool, err := l.pool(core.CityPoolID(city), call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)

	cs, err := l.cityStake(city, playerID)
	if err != nil {
		return err
	}
	if !cs.Amount.IsZero() {
		gained := earned(cs.Amount, cs.RewardDebt, pool.AccRewardPerShare)
		cs.PendingRewards = new(uint256.Int).Add(cs.PendingRewards, gained)
	}
	if err := bank.Transfer(l.state, call.Caller.Identity, core.AccountStakeEscrow, amount); err != nil {
		return err
	}
	cs.Amount = new(uint256.Int).Add(cs.Amount, amount)
	cs.RewardDebt = shareOf(cs.Amount, pool.AccRewardPerShare)
	cs.StakeTime = call.Now
	addTotal(pool, amount)

	if err := l.state.SetStake(st); err != nil {
		return err
	}
	if err := l.state.SetCityStake(cs); err != nil {
		return err
	}
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventStaked,
		Data: map[string]any{"player_id": playerID, "city": city, "amount": amount.Dec(), "total": cs.Amount.Dec()},
	})
	return nil
}

// PendingCityRewards returns what ClaimCityRewards would pay at now.
func (l *Ledger) PendingCityRewards(playerID, city string, now int64) (*uint256.Int, error) {
	cs, err := l.cityStake(city, playerID)
	if err != nil {
		return nil, err
	}
	pool, err := l.pool(core.CityPoolID(city), now)
	if err != nil {
		return nil, err
	}
	gained := earned(cs.Amount, cs.RewardDebt, Projected(pool, now))
	return gained.Add(gained, cs.PendingRewards), nil
}

// cityPosition loads a city stake the caller may act on.
func (l *Ledger) cityPosition(call core.Call, playerID, city string) (*core.CityStake, error) {
	if err := checkCity(city); err != nil {
		return nil, err
	}
	st, err := l.stake(playerID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(call, st); err != nil {
		return nil, err
	}
	return l.cityStake(city, playerID)
}

// ClaimCityRewards pays out a city bonus position's rewards.
func (l *Ledger) ClaimCityRewards(call core.Call, playerID, city string) error {
	cs, err := l.cityPosition(call, playerID, city)
	if err != nil {
		return err
	}
	pool, err := l.pool(core.CityPoolID(city), call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)

	reward := earned(cs.Amount, cs.RewardDebt, pool.AccRewardPerShare)
	reward.Add(reward, cs.PendingRewards)
	if reward.IsZero() {
		return core.NewError(core.CodeNoRewards, "nothing to claim in "+city)
	}
	if err := l.payReward(call.Caller.Identity, reward); err != nil {
		return err
	}
	cs.PendingRewards = zero()
	cs.RewardDebt = shareOf(cs.Amount, pool.AccRewardPerShare)

	if err := l.state.SetCityStake(cs); err != nil {
		return err
	}
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventRewardsClaimed,
		Data: map[string]any{"player_id": playerID, "city": city, "amount": reward.Dec()},
	})
	return nil
}

// UnstakeFromCity withdraws a city bonus position with its rewards. City
// positions have no cooldown and never affect the main stake.
func (l *Ledger) UnstakeFromCity(call core.Call, playerID, city string) error {
	cs, err := l.cityPosition(call, playerID, city)
	if err != nil {
		return err
	}
	if cs.Amount.IsZero() {
		return core.NewError(core.CodeNoStake, "nothing staked in "+city)
	}
	pool, err := l.pool(core.CityPoolID(city), call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)

	principal := cs.Amount
	reward := earned(cs.Amount, cs.RewardDebt, pool.AccRewardPerShare)
	reward.Add(reward, cs.PendingRewards)
	if err := l.releasePrincipal(call.Caller.Identity, principal); err != nil {
		return err
	}
	if err := l.payReward(call.Caller.Identity, reward); err != nil {
		return err
	}
	subTotal(pool, principal)

	cs.Amount = zero()
	cs.RewardDebt = zero()
	cs.PendingRewards = zero()

	if err := l.state.SetCityStake(cs); err != nil {
		return err
	}
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventUnstaked,
		Data: map[string]any{"player_id": playerID, "city": city, "amount": principal.Dec(), "reward": reward.Dec()},
	})
	return nil
}

// ---- administration ----

// ConfigurePool settles a pool and replaces its reward schedule. An empty
// city addresses the global pool.
func (l *Ledger) ConfigurePool(call core.Call, city string, rate *uint256.Int, endTime int64) error {
	if !call.Caller.Roles.Has(core.RoleAdmin) {
		return core.NewError(core.CodeNotAuthorized, "admin role required")
	}
	if rate == nil {
		return core.NewError(core.CodeInvalidAmount, "reward rate required")
	}
	id := core.GlobalPoolID
	if city != "" {
		if err := checkCity(city); err != nil {
			return err
		}
		id = core.CityPoolID(city)
	}
	pool, err := l.pool(id, call.Now)
	if err != nil {
		return err
	}
	Settle(pool, call.Now)
	if err := checkSchedule(pool, rate, call.Now, endTime); err != nil {
		return err
	}
	pool.RewardRate = rate.Clone()
	pool.EndTime = endTime
	if err := l.state.SetPool(pool); err != nil {
		return err
	}
	l.events.Emit(events.Event{
		Type: events.EventPoolConfigured,
		Data: map[string]any{"pool": id, "reward_rate": rate.Dec(), "end_time": endTime},
	})
	return nil
}

// checkSchedule rejects a schedule whose worst-case accrual could overflow
// the accumulator. The worst case is the whole window paid to a single wei
// of stake: rate × (endTime − now) × Scale on top of the current value.
func checkSchedule(pool *core.PoolInfo, rate *uint256.Int, now, endTime int64) error {
	if endTime <= now || rate.IsZero() {
		return nil
	}
	reward, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(uint64(endTime-now)))
	if !overflow {
		reward, overflow = new(uint256.Int).MulOverflow(reward, Scale)
	}
	if !overflow {
		_, overflow = new(uint256.Int).AddOverflow(reward, pool.AccRewardPerShare)
	}
	if overflow {
		return core.NewError(core.CodeInvalidAmount,
			fmt.Sprintf("reward rate %s over %d s overflows pool %s", rate.Dec(), endTime-now, pool.ID))
	}
	return nil
}

// ---- views ----

// StakeOf returns the main stake of a player.
func (l *Ledger) StakeOf(playerID string) (*core.StakeInfo, error) { return l.stake(playerID) }

// Pool returns a pool as last settled. Unknown pools are empty.
func (l *Ledger) Pool(id string) (*core.PoolInfo, error) { return l.pool(id, 0) }

// CityStake returns a player's city position; a missing one is empty.
func (l *Ledger) CityStake(city, playerID string) (*core.CityStake, error) {
	return l.cityStake(city, playerID)
}
