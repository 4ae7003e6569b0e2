package market

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"dealmesh/core/events"
	"dealmesh/core/types"
	nativecommon "dealmesh/native/common"
)

const moduleName = "market"

// DealState is the authoritative record of deals, agreements and results.
// The engine holds no durable state of its own; every mutation lands here.
type DealState interface {
	DealGet(id [32]byte) (*Deal, bool)
	AddDeal(*Deal) error
	// AgreeResourceProvider and AgreeJobCreator set the per-party consent
	// flag on the deal's agreement record, creating it if needed.
	AgreeResourceProvider(id [32]byte) error
	AgreeJobCreator(id [32]byte) error
	// MarkAgreed stamps the agreement timestamp and moves the deal to the
	// agreed status. Called at most once per deal.
	MarkAgreed(id [32]byte, at int64) error
	AgreementGet(id [32]byte) (*Agreement, bool)
	// AddResult persists the result and moves the deal to the
	// results-submitted status.
	AddResult(*Result) error
	ResultGet(id [32]byte) (*Result, bool)
	// MarkTimedOut moves the deal to the timed-out status.
	MarkTimedOut(id [32]byte) error
	SetDealStatus(id [32]byte, status DealStatus) error
}

// TokenLedger is the authoritative token balance/allowance store the engine
// instructs to move value. Transfers are atomic: they either fully apply or
// leave the ledger untouched.
type TokenLedger interface {
	BalanceOf(addr [20]byte) (*big.Int, error)
	Allowance(owner, spender [20]byte) (*big.Int, error)
	Approve(owner, spender [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

// DispositionPolicy decides the settlement effect of accepting or rejecting
// submitted results. No reference policy exists yet; without one the engine
// rejects both hooks with ErrNotImplemented.
type DispositionPolicy interface {
	Accept(deal *Deal, result *Result, caller [20]byte) error
	Reject(deal *Deal, result *Result, caller [20]byte) error
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine validates deal transitions, computes collateral deltas, issues
// ledger transfers and emits lifecycle events. It serialises operations per
// deal; operations on distinct deals proceed concurrently.
type Engine struct {
	state   DealState
	ledger  TokenLedger
	escrow  [20]byte
	emitter events.Emitter
	nowFn   func() int64
	pauses  nativecommon.PauseView
	policy  DispositionPolicy

	mu    sync.Mutex
	locks map[[32]byte]*sync.Mutex
}

// NewEngine creates a market engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the deal store backend used by the engine.
func (e *Engine) SetState(state DealState) { e.state = state }

// SetLedger configures the token ledger the engine settles against.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetEscrowAccount configures the account that holds posted collateral.
func (e *Engine) SetEscrowAccount(addr [20]byte) { e.escrow = addr }

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetPolicy injects the result disposition policy. Passing nil restores the
// default behaviour of rejecting accept/reject calls.
func (e *Engine) SetPolicy(policy DispositionPolicy) { e.policy = policy }

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockDeal serialises mutations for a single deal id.
func (e *Engine) lockDeal(id [32]byte) func() {
	e.mu.Lock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

// Agree records the calling party's consent to the supplied deal terms,
// creating the deal on first contact and transferring that party's
// collateral into escrow. Re-agreeing as an already-agreed party is a no-op
// re-read; diverging terms are rejected. When the second party agrees the
// agreement timestamp is stamped and DealAgreed is emitted.
func (e *Engine) Agree(terms *Deal, caller [20]byte) (*Agreement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	sanitized, err := SanitizeDeal(terms)
	if err != nil {
		return nil, fmt.Errorf("market: invalid deal terms: %w", err)
	}
	if sanitized.ResourceProvider == ([20]byte{}) || sanitized.JobCreator == ([20]byte{}) {
		return nil, fmt.Errorf("%w: party address must be non-empty", ErrInvalidParty)
	}
	if sanitized.ResourceProvider == sanitized.JobCreator {
		return nil, fmt.Errorf("%w: resource provider and job creator must differ", ErrInvalidParty)
	}
	if caller != sanitized.ResourceProvider && caller != sanitized.JobCreator {
		return nil, ErrUnauthorized
	}

	unlock := e.lockDeal(sanitized.ID)
	defer unlock()

	existing, exists := e.state.DealGet(sanitized.ID)
	if exists {
		if existing.Status != DealNegotiating {
			return nil, fmt.Errorf("%w: deal is %s", ErrInvalidState, existing.Status)
		}
		if !TermsEqual(existing, sanitized) {
			return nil, ErrParameterMismatch
		}
	}

	agreement, _ := e.state.AgreementGet(sanitized.ID)
	isProvider := caller == sanitized.ResourceProvider
	if agreement != nil {
		already := agreement.JobCreatorAgreed
		if isProvider {
			already = agreement.ResourceProviderAgreed
		}
		// Repeated agreement by the same party must not charge collateral
		// a second time.
		if already {
			return agreement.Clone(), nil
		}
	}

	collateral := sanitized.JobCollateral
	if isProvider {
		collateral = sanitized.TimeoutCollateral
	}
	// Pay in before committing any deal-store mutation so a ledger failure
	// leaves no partial state behind.
	if err := e.payIn(caller, collateral); err != nil {
		return nil, err
	}

	if !exists {
		record := sanitized.Clone()
		record.CreatedAt = e.now()
		record.Status = DealNegotiating
		if err := e.state.AddDeal(record); err != nil {
			return nil, err
		}
	}
	if isProvider {
		if err := e.state.AgreeResourceProvider(sanitized.ID); err != nil {
			return nil, err
		}
		e.emit(NewResourceProviderAgreedEvent(sanitized, collateral))
	} else {
		if err := e.state.AgreeJobCreator(sanitized.ID); err != nil {
			return nil, err
		}
		e.emit(NewJobCreatorAgreedEvent(sanitized, collateral))
	}

	agreement, _ = e.state.AgreementGet(sanitized.ID)
	if agreement.Complete() && agreement.AgreedAt == 0 {
		at := e.now()
		if err := e.state.MarkAgreed(sanitized.ID, at); err != nil {
			return nil, err
		}
		agreement.AgreedAt = at
		e.emit(NewDealAgreedEvent(sanitized, at))
	}
	return agreement.Clone(), nil
}

// AddResult records the resource provider's result for an agreed deal and
// reconciles the posted timeout collateral against the required results
// collateral in a single signed delta.
func (e *Engine) AddResult(id [32]byte, resultsID [32]byte, instructionCount uint64, caller [20]byte) (*Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	unlock := e.lockDeal(id)
	defer unlock()

	deal, ok := e.state.DealGet(id)
	if !ok {
		return nil, ErrDealNotFound
	}
	if deal.Status != DealAgreed {
		return nil, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	if _, ok := e.state.ResultGet(id); ok {
		return nil, fmt.Errorf("%w: result already submitted", ErrInvalidState)
	}
	agreement, ok := e.state.AgreementGet(id)
	if !ok || agreement.AgreedAt == 0 {
		return nil, fmt.Errorf("%w: deal has no agreement timestamp", ErrInvalidState)
	}
	if e.now() > agreement.AgreedAt+deal.Timeout {
		return nil, ErrDealTimedOut
	}
	if caller != deal.ResourceProvider {
		return nil, ErrUnauthorized
	}

	// Reconcile the placeholder timeout collateral against the true
	// results stake in one atomic delta; no transient under-collateralised
	// window between a refund and a recharge.
	delta := new(big.Int).Sub(deal.ResultsCollateral, deal.TimeoutCollateral)
	switch delta.Sign() {
	case 1:
		if err := e.payIn(deal.ResourceProvider, delta); err != nil {
			return nil, err
		}
	case -1:
		if err := e.payOut(deal.ResourceProvider, new(big.Int).Neg(delta)); err != nil {
			return nil, err
		}
	}

	result := &Result{
		DealID:           id,
		ResultsID:        resultsID,
		InstructionCount: instructionCount,
		SubmittedAt:      e.now(),
	}
	if err := e.state.AddResult(result); err != nil {
		return nil, err
	}
	e.emit(NewResultAddedEvent(deal, result, delta))
	return result.Clone(), nil
}

// RefundTimeout lets the job creator reclaim their collateral once an
// agreed deal has timed out without results. The resource provider's
// timeout collateral stays in escrow: that forfeit is the penalty for
// never delivering.
func (e *Engine) RefundTimeout(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	unlock := e.lockDeal(id)
	defer unlock()

	deal, ok := e.state.DealGet(id)
	if !ok {
		return ErrDealNotFound
	}
	if deal.Status != DealAgreed {
		return fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	agreement, ok := e.state.AgreementGet(id)
	if !ok || agreement.AgreedAt == 0 {
		return fmt.Errorf("%w: deal has no agreement timestamp", ErrInvalidState)
	}
	if e.now() <= agreement.AgreedAt+deal.Timeout {
		return ErrDealNotTimedOut
	}
	if caller != deal.JobCreator {
		return ErrUnauthorized
	}

	if err := e.payOut(deal.JobCreator, deal.JobCollateral); err != nil {
		return err
	}
	if err := e.state.MarkTimedOut(id); err != nil {
		return err
	}
	e.emit(NewTimeoutEvent(deal))
	return nil
}

// AcceptResults is a protocol hook: callable once results are submitted but
// behaviourally inert until a disposition policy is injected.
func (e *Engine) AcceptResults(id [32]byte, caller [20]byte) error {
	return e.disposeResults(id, caller, true)
}

// RejectResults is the rejection counterpart of AcceptResults.
func (e *Engine) RejectResults(id [32]byte, caller [20]byte) error {
	return e.disposeResults(id, caller, false)
}

func (e *Engine) disposeResults(id [32]byte, caller [20]byte, accept bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	unlock := e.lockDeal(id)
	defer unlock()

	deal, ok := e.state.DealGet(id)
	if !ok {
		return ErrDealNotFound
	}
	if deal.Status != DealResultsSubmitted {
		return fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	if e.policy == nil {
		return ErrNotImplemented
	}
	result, ok := e.state.ResultGet(id)
	if !ok {
		return fmt.Errorf("%w: no result on record", ErrInvalidState)
	}

	if accept {
		if err := e.policy.Accept(deal.Clone(), result.Clone(), caller); err != nil {
			return err
		}
		if err := e.state.SetDealStatus(id, DealResultsAccepted); err != nil {
			return err
		}
		e.emit(NewResultAcceptedEvent(deal))
		return nil
	}
	if err := e.policy.Reject(deal.Clone(), result.Clone(), caller); err != nil {
		return err
	}
	if err := e.state.SetDealStatus(id, DealResultsRejected); err != nil {
		return err
	}
	e.emit(NewResultRejectedEvent(deal))
	return nil
}

// payIn moves value from a party into the escrow account. The party must
// have pre-authorised the escrow for at least the amount.
func (e *Engine) payIn(from [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative pay-in amount", ErrTransferFailed)
	}
	balance, err := e.ledger.BalanceOf(from)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	allowance, err := e.ledger.Allowance(from, e.escrow)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}
	if allowance.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	if err := e.ledger.TransferFrom(e.escrow, from, e.escrow, amt); err != nil {
		return fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}
	return nil
}

// payOut moves value from the escrow account's own balance to a recipient.
func (e *Engine) payOut(to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative pay-out amount", ErrTransferFailed)
	}
	if err := e.ledger.TransferFrom(e.escrow, e.escrow, to, amt); err != nil {
		return fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}
	return nil
}
