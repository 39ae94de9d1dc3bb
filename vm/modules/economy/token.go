// Package economy handles native token movements between accounts and the
// funding of the reward reserve.
package economy

import (
	"encoding/json"

	"github.com/tolelom/gpsrunner/bank"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/events"
	"github.com/tolelom/gpsrunner/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
	vm.Register(core.TxFundRewards, handleFundRewards)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return core.NewError(core.CodeInvalidAmount, "transfer amount must be > 0")
	}
	if p.To == "" {
		return core.NewError(core.CodeInvalidInput, "transfer to address required")
	}
	if bank.IsSystemAccount(p.To) {
		return core.NewError(core.CodeSystemAccountInvalid, "cannot transfer to "+p.To)
	}

	if err := bank.Transfer(ctx.State, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Events.Emit(events.Event{
		Type: events.EventTokenTransfer,
		Data: map[string]any{
			"from":   ctx.Tx.From,
			"to":     p.To,
			"amount": p.Amount.Dec(),
		},
	})
	return nil
}

func handleFundRewards(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FundRewardsPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return core.NewError(core.CodeInvalidAmount, "funding amount must be > 0")
	}
	if err := bank.Transfer(ctx.State, ctx.Tx.From, core.AccountRewardReserve, p.Amount); err != nil {
		return err
	}
	ctx.Events.Emit(events.Event{
		Type: events.EventRewardsFunded,
		Data: map[string]any{"from": ctx.Tx.From, "amount": p.Amount.Dec()},
	})
	return nil
}
