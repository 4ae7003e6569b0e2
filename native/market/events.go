package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"dealmesh/core/types"
	"dealmesh/crypto"
)

const (
	EventTypeResourceProviderAgreed = "deal.rp_agreed"
	EventTypeJobCreatorAgreed       = "deal.jc_agreed"
	EventTypeDealAgreed             = "deal.agreed"
	EventTypeResultAdded            = "deal.result_added"
	EventTypeTimeout                = "deal.timeout"
	EventTypeResultAccepted         = "deal.result_accepted"
	EventTypeResultRejected         = "deal.result_rejected"
)

// NewResourceProviderAgreedEvent returns the canonical payload emitted when
// the resource provider consents and posts timeout collateral.
func NewResourceProviderAgreedEvent(d *Deal, collateral *big.Int) *types.Event {
	evt := newDealEvent(EventTypeResourceProviderAgreed, d)
	evt.Attributes["collateral"] = cloneBigInt(collateral).String()
	return evt
}

// NewJobCreatorAgreedEvent returns the canonical payload emitted when the
// job creator consents and posts job collateral.
func NewJobCreatorAgreedEvent(d *Deal, collateral *big.Int) *types.Event {
	evt := newDealEvent(EventTypeJobCreatorAgreed, d)
	evt.Attributes["collateral"] = cloneBigInt(collateral).String()
	return evt
}

// NewDealAgreedEvent returns the canonical payload emitted the instant both
// parties have agreed.
func NewDealAgreedEvent(d *Deal, agreedAt int64) *types.Event {
	evt := newDealEvent(EventTypeDealAgreed, d)
	evt.Attributes["agreedAt"] = strconv.FormatInt(agreedAt, 10)
	return evt
}

// NewResultAddedEvent returns the canonical payload emitted when a result is
// recorded, including the signed collateral delta that was settled.
func NewResultAddedEvent(d *Deal, r *Result, delta *big.Int) *types.Event {
	evt := newDealEvent(EventTypeResultAdded, d)
	if r != nil {
		evt.Attributes["resultsId"] = hex.EncodeToString(r.ResultsID[:])
		evt.Attributes["instructionCount"] = strconv.FormatUint(r.InstructionCount, 10)
	}
	evt.Attributes["collateralDelta"] = cloneBigInt(delta).String()
	return evt
}

// NewTimeoutEvent returns the canonical payload emitted when a deal is
// timed out and the job creator refunded.
func NewTimeoutEvent(d *Deal) *types.Event {
	evt := newDealEvent(EventTypeTimeout, d)
	if d != nil {
		evt.Attributes["refund"] = cloneBigInt(d.JobCollateral).String()
	}
	return evt
}

// NewResultAcceptedEvent returns the payload emitted when submitted results
// are accepted through the disposition policy.
func NewResultAcceptedEvent(d *Deal) *types.Event {
	return newDealEvent(EventTypeResultAccepted, d)
}

// NewResultRejectedEvent returns the payload emitted when submitted results
// are rejected through the disposition policy.
func NewResultRejectedEvent(d *Deal) *types.Event {
	return newDealEvent(EventTypeResultRejected, d)
}

func newDealEvent(eventType string, d *Deal) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["dealId"] = hex.EncodeToString(d.ID[:])
	attrs["resourceProvider"] = crypto.NewAddress(append([]byte(nil), d.ResourceProvider[:]...)).String()
	attrs["jobCreator"] = crypto.NewAddress(append([]byte(nil), d.JobCreator[:]...)).String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
