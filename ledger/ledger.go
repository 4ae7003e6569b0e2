package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"dealmesh/core/types"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")

	errNilState = errors.New("ledger: account state not configured")
)

// AccountStore is the durable backend holding token accounts.
type AccountStore interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Ledger is the MESH token ledger: balances, spend allowances and atomic
// transfers over an injected account store. A single mutex serialises
// mutations so an allowance check and the transfer that consumes it cannot
// interleave with a concurrent spend.
type Ledger struct {
	mu    sync.Mutex
	state AccountStore
}

// NewLedger creates a ledger over the supplied account store.
func NewLedger(state AccountStore) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) account(addr [20]byte) (*types.Account, error) {
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc, nil
}

// BalanceOf returns the balance held by the given address.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.account(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

// Allowance returns the amount the spender may move out of the owner's
// account.
func (l *Ledger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.account(owner)
	if err != nil {
		return nil, err
	}
	return acc.Allowance(spender), nil
}

// Approve authorises the spender to move up to amount out of the owner's
// account, replacing any previous allowance.
func (l *Ledger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative allowance")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.account(owner)
	if err != nil {
		return err
	}
	acc.SetAllowance(spender, amount)
	return l.state.PutAccount(owner, acc)
}

// TransferFrom atomically moves amount from one account to another on the
// spender's instruction. A spender moving funds out of a third-party
// account consumes that account's allowance; moving its own funds does not.
func (l *Ledger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt := big.NewInt(0)
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("ledger: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromAcc, err := l.account(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	if spender != from {
		allowance := fromAcc.Allowance(spender)
		if allowance.Cmp(amt) < 0 {
			return ErrInsufficientAllowance
		}
		fromAcc.SetAllowance(spender, new(big.Int).Sub(allowance, amt))
	}
	if from == to {
		return l.state.PutAccount(from, fromAcc)
	}
	toAcc, err := l.account(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}

// Mint credits freshly issued MESH to an account. Restricted to the
// operator surface; ordinary value movement goes through TransferFrom.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: mint amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.account(to)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return l.state.PutAccount(to, acc)
}
