package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"dealmesh/core/state"
	"dealmesh/storage"
)

var (
	owner   = [20]byte{0x01}
	spender = [20]byte{0x02}
	other   = [20]byte{0x03}
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(state.NewManager(storage.NewMemDB()))
}

func TestMintAndBalance(t *testing.T) {
	l := newTestLedger(t)

	balance, err := l.BalanceOf(owner)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	require.NoError(t, l.Mint(owner, big.NewInt(500)))
	balance, err = l.BalanceOf(owner)
	require.NoError(t, err)
	require.Equal(t, "500", balance.String())

	require.Error(t, l.Mint(owner, big.NewInt(0)))
	require.Error(t, l.Mint(owner, big.NewInt(-5)))
}

func TestApproveAndAllowance(t *testing.T) {
	l := newTestLedger(t)

	allowance, err := l.Allowance(owner, spender)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())

	require.NoError(t, l.Approve(owner, spender, big.NewInt(100)))
	allowance, err = l.Allowance(owner, spender)
	require.NoError(t, err)
	require.Equal(t, "100", allowance.String())

	// Approve replaces, it does not accumulate.
	require.NoError(t, l.Approve(owner, spender, big.NewInt(30)))
	allowance, err = l.Allowance(owner, spender)
	require.NoError(t, err)
	require.Equal(t, "30", allowance.String())

	require.Error(t, l.Approve(owner, spender, big.NewInt(-1)))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(owner, big.NewInt(500)))
	require.NoError(t, l.Approve(owner, spender, big.NewInt(200)))

	require.NoError(t, l.TransferFrom(spender, owner, other, big.NewInt(150)))

	balance, err := l.BalanceOf(other)
	require.NoError(t, err)
	require.Equal(t, "150", balance.String())

	allowance, err := l.Allowance(owner, spender)
	require.NoError(t, err)
	require.Equal(t, "50", allowance.String())

	require.ErrorIs(t, l.TransferFrom(spender, owner, other, big.NewInt(100)), ErrInsufficientAllowance)
}

func TestTransferFromOwnFundsSkipsAllowance(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(owner, big.NewInt(100)))

	require.NoError(t, l.TransferFrom(owner, owner, other, big.NewInt(40)))

	balance, err := l.BalanceOf(owner)
	require.NoError(t, err)
	require.Equal(t, "60", balance.String())
}

func TestTransferFromInsufficientBalance(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(owner, big.NewInt(10)))
	require.NoError(t, l.Approve(owner, spender, big.NewInt(100)))

	require.ErrorIs(t, l.TransferFrom(spender, owner, other, big.NewInt(50)), ErrInsufficientBalance)

	// Nothing moved, allowance untouched.
	allowance, err := l.Allowance(owner, spender)
	require.NoError(t, err)
	require.Equal(t, "100", allowance.String())
}

func TestTransferFromSelfTransfer(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(owner, big.NewInt(100)))

	require.NoError(t, l.TransferFrom(owner, owner, owner, big.NewInt(100)))

	balance, err := l.BalanceOf(owner)
	require.NoError(t, err)
	require.Equal(t, "100", balance.String())
}

func TestTransferFromZeroAmountNoOp(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.TransferFrom(spender, owner, other, big.NewInt(0)))
	require.NoError(t, l.TransferFrom(spender, owner, other, nil))
	require.Error(t, l.TransferFrom(spender, owner, other, big.NewInt(-1)))
}
