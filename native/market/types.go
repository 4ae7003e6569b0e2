package market

import (
	"fmt"
	"math/big"
)

// DealStatus represents the lifecycle states of an escrowed deal.
type DealStatus uint8

const (
	DealNegotiating DealStatus = iota
	DealAgreed
	DealResultsSubmitted
	DealTimedOut
	DealResultsAccepted
	DealResultsRejected
)

// Valid reports whether the status value is within the supported range.
func (s DealStatus) Valid() bool {
	switch s {
	case DealNegotiating, DealAgreed, DealResultsSubmitted, DealTimedOut, DealResultsAccepted, DealResultsRejected:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name used in events and RPC output.
func (s DealStatus) String() string {
	switch s {
	case DealNegotiating:
		return "negotiating"
	case DealAgreed:
		return "agreed"
	case DealResultsSubmitted:
		return "results_submitted"
	case DealTimedOut:
		return "timed_out"
	case DealResultsAccepted:
		return "results_accepted"
	case DealResultsRejected:
		return "results_rejected"
	default:
		return "unknown"
	}
}

// Deal captures the negotiated terms between exactly one resource provider
// and one job creator, plus the runtime status. Every term is immutable once
// the record is created; a second negotiation attempt must supply identical
// values.
type Deal struct {
	ID                [32]byte
	ResourceProvider  [20]byte
	JobCreator        [20]byte
	InstructionPrice  *big.Int
	Timeout           int64
	TimeoutCollateral *big.Int
	JobCollateral     *big.Int
	ResultsCollateral *big.Int
	CreatedAt         int64
	Status            DealStatus
}

// Clone returns a deep copy of the deal so callers can safely mutate the
// copy without affecting the stored instance.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	clone.InstructionPrice = cloneBigInt(d.InstructionPrice)
	clone.TimeoutCollateral = cloneBigInt(d.TimeoutCollateral)
	clone.JobCollateral = cloneBigInt(d.JobCollateral)
	clone.ResultsCollateral = cloneBigInt(d.ResultsCollateral)
	return &clone
}

// Agreement is the consent record layered on a deal. AgreedAt stays zero
// until both parties have agreed and is set exactly once.
type Agreement struct {
	DealID                 [32]byte
	ResourceProviderAgreed bool
	JobCreatorAgreed       bool
	AgreedAt               int64
}

// Clone returns a copy of the agreement record.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// Complete reports whether both parties have agreed.
func (a *Agreement) Complete() bool {
	return a != nil && a.ResourceProviderAgreed && a.JobCreatorAgreed
}

// Result is the outcome a resource provider submits for an agreed deal.
type Result struct {
	DealID           [32]byte
	ResultsID        [32]byte
	InstructionCount uint64
	SubmittedAt      int64
}

// Clone returns a copy of the result record.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// SanitizeDeal validates and normalises the supplied deal record, returning
// a cloned instance with non-nil amount fields. The function does not mutate
// the original value.
func SanitizeDeal(d *Deal) (*Deal, error) {
	if d == nil {
		return nil, fmt.Errorf("nil deal")
	}
	clone := d.Clone()
	if clone.Timeout <= 0 {
		return nil, fmt.Errorf("deal timeout must be positive")
	}
	for name, amount := range map[string]*big.Int{
		"instruction price":  clone.InstructionPrice,
		"timeout collateral": clone.TimeoutCollateral,
		"job collateral":     clone.JobCollateral,
		"results collateral": clone.ResultsCollateral,
	} {
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("deal %s must be non-negative", name)
		}
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid deal status: %d", clone.Status)
	}
	return clone, nil
}

// TermsEqual reports whether two deals carry byte-identical negotiated
// terms. Runtime fields (status, creation time) are ignored.
func TermsEqual(a, b *Deal) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID == b.ID &&
		a.ResourceProvider == b.ResourceProvider &&
		a.JobCreator == b.JobCreator &&
		a.Timeout == b.Timeout &&
		cloneBigInt(a.InstructionPrice).Cmp(cloneBigInt(b.InstructionPrice)) == 0 &&
		cloneBigInt(a.TimeoutCollateral).Cmp(cloneBigInt(b.TimeoutCollateral)) == 0 &&
		cloneBigInt(a.JobCollateral).Cmp(cloneBigInt(b.JobCollateral)) == 0 &&
		cloneBigInt(a.ResultsCollateral).Cmp(cloneBigInt(b.ResultsCollateral)) == 0
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
