// Package bank moves native token balances between accounts.
package bank

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/tolelom/gpsrunner/core"
)

// SystemPrefix marks accounts owned by the ledger itself.
const SystemPrefix = "sys:"

// IsSystemAccount reports whether address is a ledger-owned account.
func IsSystemAccount(address string) bool {
	return strings.HasPrefix(address, SystemPrefix)
}

// Balance returns the balance of address.
func Balance(state core.State, address string) (*uint256.Int, error) {
	acc, err := state.GetAccount(address)
	if err != nil {
		return nil, err
	}
	return acc.Balance.Clone(), nil
}

// Transfer moves amount from one account to another. A short sender yields
// INSUFFICIENT_BALANCE and leaves both accounts untouched.
func Transfer(state core.State, from, to string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance.Lt(amount) {
		return core.NewError(core.CodeInsufficientBalance,
			fmt.Sprintf("%s has %s, needs %s", from, sender.Balance.Dec(), amount.Dec()))
	}
	if from == to {
		return nil
	}
	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(recipient.Balance, amount)
	if overflow {
		return core.NewError(core.CodeInvalidAmount, "recipient balance overflow")
	}

	sender.Balance = new(uint256.Int).Sub(sender.Balance, amount)
	recipient.Balance = credited
	if err := state.SetAccount(sender); err != nil {
		return err
	}
	return state.SetAccount(recipient)
}

// Mint credits amount to address out of thin air. Only genesis uses it.
func Mint(state core.State, address string, amount *uint256.Int) error {
	acc, err := state.GetAccount(address)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(acc.Balance, amount)
	if overflow {
		return core.NewError(core.CodeInvalidAmount, "balance overflow")
	}
	acc.Balance = sum
	return state.SetAccount(acc)
}
