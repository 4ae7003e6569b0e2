package types

import (
	"encoding/hex"
	"math/big"
)

// Account holds the MESH balance and outstanding spend allowances for a
// single principal. Allowance keys are lowercase hex-encoded spender
// addresses.
type Account struct {
	Nonce      uint64              `json:"nonce"`
	Balance    *big.Int            `json:"balance"`
	Allowances map[string]*big.Int `json:"allowances,omitempty"`
}

// NewAccount returns an empty account with initialised fields.
func NewAccount() *Account {
	return &Account{
		Balance:    big.NewInt(0),
		Allowances: make(map[string]*big.Int),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	clone.Nonce = a.Nonce
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	for spender, amount := range a.Allowances {
		if amount == nil {
			continue
		}
		clone.Allowances[spender] = new(big.Int).Set(amount)
	}
	return clone
}

// Allowance returns the amount the given spender may move out of this
// account. Missing entries read as zero.
func (a *Account) Allowance(spender [20]byte) *big.Int {
	if a == nil || a.Allowances == nil {
		return big.NewInt(0)
	}
	if amount, ok := a.Allowances[AllowanceKey(spender)]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

// SetAllowance records the spend allowance for the given spender. Zero or
// negative amounts clear the entry.
func (a *Account) SetAllowance(spender [20]byte, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Allowances == nil {
		a.Allowances = make(map[string]*big.Int)
	}
	if amount == nil || amount.Sign() <= 0 {
		delete(a.Allowances, AllowanceKey(spender))
		return
	}
	a.Allowances[AllowanceKey(spender)] = new(big.Int).Set(amount)
}

// AllowanceKey is the canonical map key for a spender address.
func AllowanceKey(spender [20]byte) string {
	return hex.EncodeToString(spender[:])
}
