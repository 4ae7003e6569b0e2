package market

import "errors"

var (
	// ErrInvalidState rejects an operation attempted outside its required
	// lifecycle state.
	ErrInvalidState = errors.New("market: operation not valid in current deal state")
	// ErrInvalidParty rejects malformed or duplicate party identifiers.
	ErrInvalidParty = errors.New("market: malformed or duplicate party identifiers")
	// ErrParameterMismatch rejects a renegotiation attempt whose terms
	// diverge from the stored record.
	ErrParameterMismatch = errors.New("market: deal terms diverge from existing record")
	// ErrUnauthorized rejects a caller that is not the required party.
	ErrUnauthorized = errors.New("market: caller is not a party to the deal")
	// ErrDealTimedOut rejects a result submitted after the deal timeout.
	ErrDealTimedOut = errors.New("market: deal timed out")
	// ErrDealNotTimedOut rejects a timeout refund before the deadline.
	ErrDealNotTimedOut = errors.New("market: deal has not timed out")

	ErrInsufficientBalance   = errors.New("market: insufficient balance")
	ErrInsufficientAllowance = errors.New("market: insufficient escrow allowance")
	ErrTransferFailed        = errors.New("market: value transfer failed")

	ErrDealNotFound = errors.New("market: deal not found")
	// ErrNotImplemented is returned by the result disposition hooks when no
	// policy has been injected.
	ErrNotImplemented = errors.New("market: result disposition policy not configured")
)

var (
	errNilState  = errors.New("market engine: state not configured")
	errNilLedger = errors.New("market engine: ledger not configured")
)
