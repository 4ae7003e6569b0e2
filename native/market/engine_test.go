package market

import (
	"errors"
	"math/big"
	"testing"

	"dealmesh/core/events"
	"dealmesh/core/types"
)

type mockState struct {
	deals      map[[32]byte]*Deal
	agreements map[[32]byte]*Agreement
	results    map[[32]byte]*Result
}

func newMockState() *mockState {
	return &mockState{
		deals:      make(map[[32]byte]*Deal),
		agreements: make(map[[32]byte]*Agreement),
		results:    make(map[[32]byte]*Result),
	}
}

func (m *mockState) DealGet(id [32]byte) (*Deal, bool) {
	deal, ok := m.deals[id]
	if !ok {
		return nil, false
	}
	return deal.Clone(), true
}

func (m *mockState) AddDeal(deal *Deal) error {
	if _, ok := m.deals[deal.ID]; ok {
		return errors.New("deal exists")
	}
	m.deals[deal.ID] = deal.Clone()
	return nil
}

func (m *mockState) agreement(id [32]byte) *Agreement {
	a, ok := m.agreements[id]
	if !ok {
		a = &Agreement{DealID: id}
		m.agreements[id] = a
	}
	return a
}

func (m *mockState) AgreeResourceProvider(id [32]byte) error {
	m.agreement(id).ResourceProviderAgreed = true
	return nil
}

func (m *mockState) AgreeJobCreator(id [32]byte) error {
	m.agreement(id).JobCreatorAgreed = true
	return nil
}

func (m *mockState) MarkAgreed(id [32]byte, at int64) error {
	a := m.agreement(id)
	if !a.ResourceProviderAgreed || !a.JobCreatorAgreed {
		return errors.New("both parties must agree")
	}
	if a.AgreedAt != 0 {
		return errors.New("timestamp already set")
	}
	a.AgreedAt = at
	return m.SetDealStatus(id, DealAgreed)
}

func (m *mockState) AgreementGet(id [32]byte) (*Agreement, bool) {
	a, ok := m.agreements[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (m *mockState) AddResult(result *Result) error {
	if _, ok := m.results[result.DealID]; ok {
		return errors.New("result exists")
	}
	m.results[result.DealID] = result.Clone()
	return m.SetDealStatus(result.DealID, DealResultsSubmitted)
}

func (m *mockState) ResultGet(id [32]byte) (*Result, bool) {
	r, ok := m.results[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (m *mockState) MarkTimedOut(id [32]byte) error {
	return m.SetDealStatus(id, DealTimedOut)
}

func (m *mockState) SetDealStatus(id [32]byte, status DealStatus) error {
	deal, ok := m.deals[id]
	if !ok {
		return errors.New("deal not found")
	}
	deal.Status = status
	return nil
}

type mockLedger struct {
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

func (m *mockLedger) balance(addr [20]byte) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *mockLedger) BalanceOf(addr [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.balance(addr)), nil
}

func (m *mockLedger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if byOwner, ok := m.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return new(big.Int).Set(a), nil
		}
	}
	return big.NewInt(0), nil
}

func (m *mockLedger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[[20]byte]*big.Int)
	}
	m.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (m *mockLedger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if m.balance(from).Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	if spender != from {
		allowance, _ := m.Allowance(from, spender)
		if allowance.Cmp(amount) < 0 {
			return errors.New("insufficient allowance")
		}
		m.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	}
	if from == to {
		return nil
	}
	m.balances[from] = new(big.Int).Sub(m.balance(from), amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		c.events = append(c.events, carrier.Event())
	}
}

func (c *capturingEmitter) lastType() string {
	if len(c.events) == 0 {
		return ""
	}
	return c.events[len(c.events)-1].Type
}

func (c *capturingEmitter) typesSeen() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Type)
	}
	return out
}

var (
	escrowAddr = [20]byte{0xEE}
	rpAddr     = [20]byte{0x01}
	jcAddr     = [20]byte{0x02}
	otherAddr  = [20]byte{0x03}
	dealID     = [32]byte{0xDD, 0x01}
	resultsID  = [32]byte{0xAA, 0xBB}
)

func testTerms() *Deal {
	return &Deal{
		ID:                dealID,
		ResourceProvider:  rpAddr,
		JobCreator:        jcAddr,
		InstructionPrice:  big.NewInt(2),
		Timeout:           600,
		TimeoutCollateral: big.NewInt(100),
		JobCollateral:     big.NewInt(200),
		ResultsCollateral: big.NewInt(150),
	}
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockLedger, *capturingEmitter, *int64) {
	t.Helper()
	state := newMockState()
	tokens := newMockLedger()
	emitter := &capturingEmitter{}
	now := int64(1_000)

	engine := NewEngine()
	engine.SetState(state)
	engine.SetLedger(tokens)
	engine.SetEscrowAccount(escrowAddr)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return now })

	tokens.balances[rpAddr] = big.NewInt(1_000)
	tokens.balances[jcAddr] = big.NewInt(1_000)
	if err := tokens.Approve(rpAddr, escrowAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("approve rp: %v", err)
	}
	if err := tokens.Approve(jcAddr, escrowAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("approve jc: %v", err)
	}
	return engine, state, tokens, emitter, &now
}

func agreeBoth(t *testing.T, engine *Engine) *Agreement {
	t.Helper()
	if _, err := engine.Agree(testTerms(), rpAddr); err != nil {
		t.Fatalf("resource provider agree: %v", err)
	}
	agreement, err := engine.Agree(testTerms(), jcAddr)
	if err != nil {
		t.Fatalf("job creator agree: %v", err)
	}
	return agreement
}

func TestAgreeFirstPartyPostsCollateral(t *testing.T) {
	engine, state, tokens, emitter, _ := newTestEngine(t)

	agreement, err := engine.Agree(testTerms(), rpAddr)
	if err != nil {
		t.Fatalf("agree: %v", err)
	}
	if !agreement.ResourceProviderAgreed || agreement.JobCreatorAgreed {
		t.Fatalf("unexpected agreement flags: %+v", agreement)
	}
	if agreement.AgreedAt != 0 {
		t.Fatalf("agreedAt stamped before both parties agreed: %d", agreement.AgreedAt)
	}
	deal, ok := state.DealGet(dealID)
	if !ok {
		t.Fatal("deal not created")
	}
	if deal.Status != DealNegotiating {
		t.Fatalf("expected negotiating status, got %s", deal.Status)
	}
	if got := tokens.balance(rpAddr); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("resource provider balance = %s, want 900", got)
	}
	if got := tokens.balance(escrowAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow balance = %s, want 100", got)
	}
	if emitter.lastType() != EventTypeResourceProviderAgreed {
		t.Fatalf("unexpected event %q", emitter.lastType())
	}
}

func TestAgreeSecondPartyStampsAgreement(t *testing.T) {
	engine, state, tokens, emitter, now := newTestEngine(t)
	*now = 2_000

	agreement := agreeBoth(t, engine)
	if !agreement.Complete() {
		t.Fatalf("agreement incomplete: %+v", agreement)
	}
	if agreement.AgreedAt != 2_000 {
		t.Fatalf("agreedAt = %d, want 2000", agreement.AgreedAt)
	}
	deal, _ := state.DealGet(dealID)
	if deal.Status != DealAgreed {
		t.Fatalf("status = %s, want agreed", deal.Status)
	}
	if got := tokens.balance(escrowAddr); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("escrow balance = %s, want 300", got)
	}
	want := []string{EventTypeResourceProviderAgreed, EventTypeJobCreatorAgreed, EventTypeDealAgreed}
	got := emitter.typesSeen()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestAgreeRepeatByPartyDoesNotDoubleCharge(t *testing.T) {
	engine, _, tokens, _, _ := newTestEngine(t)

	if _, err := engine.Agree(testTerms(), rpAddr); err != nil {
		t.Fatalf("first agree: %v", err)
	}
	if _, err := engine.Agree(testTerms(), rpAddr); err != nil {
		t.Fatalf("repeat agree: %v", err)
	}
	if got := tokens.balance(rpAddr); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("resource provider balance = %s, want 900 after repeat agree", got)
	}
}

func TestAgreeRejectsDivergingTerms(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)

	if _, err := engine.Agree(testTerms(), rpAddr); err != nil {
		t.Fatalf("agree: %v", err)
	}
	diverged := testTerms()
	diverged.InstructionPrice = big.NewInt(99)
	if _, err := engine.Agree(diverged, jcAddr); !errors.Is(err, ErrParameterMismatch) {
		t.Fatalf("expected ErrParameterMismatch, got %v", err)
	}
}

func TestAgreePartyValidation(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)

	if _, err := engine.Agree(testTerms(), otherAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-party caller, got %v", err)
	}

	same := testTerms()
	same.JobCreator = same.ResourceProvider
	if _, err := engine.Agree(same, rpAddr); !errors.Is(err, ErrInvalidParty) {
		t.Fatalf("expected ErrInvalidParty for identical parties, got %v", err)
	}

	empty := testTerms()
	empty.JobCreator = [20]byte{}
	if _, err := engine.Agree(empty, rpAddr); !errors.Is(err, ErrInvalidParty) {
		t.Fatalf("expected ErrInvalidParty for empty party, got %v", err)
	}
}

func TestAgreeInsufficientFunds(t *testing.T) {
	engine, _, tokens, _, _ := newTestEngine(t)

	tokens.balances[rpAddr] = big.NewInt(50)
	if _, err := engine.Agree(testTerms(), rpAddr); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	tokens.balances[rpAddr] = big.NewInt(1_000)
	if err := tokens.Approve(rpAddr, escrowAddr, big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Agree(testTerms(), rpAddr); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestAgreeFailedPaymentLeavesNoState(t *testing.T) {
	engine, state, tokens, emitter, _ := newTestEngine(t)

	tokens.balances[rpAddr] = big.NewInt(10)
	if _, err := engine.Agree(testTerms(), rpAddr); err == nil {
		t.Fatal("expected payment failure")
	}
	if _, ok := state.DealGet(dealID); ok {
		t.Fatal("deal persisted despite failed collateral transfer")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("events emitted despite failure: %v", emitter.typesSeen())
	}
}

func TestAgreeAfterTerminalStateRejected(t *testing.T) {
	engine, state, _, _, _ := newTestEngine(t)

	agreeBoth(t, engine)
	if err := state.SetDealStatus(dealID, DealTimedOut); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := engine.Agree(testTerms(), rpAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAddResultReconcilesCollateralDelta(t *testing.T) {
	cases := []struct {
		name       string
		results    int64
		wantRP     int64
		wantEscrow int64
	}{
		{"results exceed timeout collateral", 150, 650, 350},
		{"results below timeout collateral", 60, 740, 260},
		{"results equal timeout collateral", 100, 700, 300},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, state, tokens, emitter, now := newTestEngine(t)
			terms := testTerms()
			terms.ResultsCollateral = big.NewInt(tc.results)
			if _, err := engine.Agree(terms, rpAddr); err != nil {
				t.Fatalf("rp agree: %v", err)
			}
			if _, err := engine.Agree(terms, jcAddr); err != nil {
				t.Fatalf("jc agree: %v", err)
			}
			*now += 100

			result, err := engine.AddResult(dealID, resultsID, 42, rpAddr)
			if err != nil {
				t.Fatalf("add result: %v", err)
			}
			if result.InstructionCount != 42 || result.ResultsID != resultsID {
				t.Fatalf("unexpected result record: %+v", result)
			}
			deal, _ := state.DealGet(dealID)
			if deal.Status != DealResultsSubmitted {
				t.Fatalf("status = %s, want results_submitted", deal.Status)
			}
			if got := tokens.balance(rpAddr); got.Cmp(big.NewInt(tc.wantRP)) != 0 {
				t.Fatalf("resource provider balance = %s, want %d", got, tc.wantRP)
			}
			if got := tokens.balance(escrowAddr); got.Cmp(big.NewInt(tc.wantEscrow)) != 0 {
				t.Fatalf("escrow balance = %s, want %d", got, tc.wantEscrow)
			}
			if emitter.lastType() != EventTypeResultAdded {
				t.Fatalf("unexpected event %q", emitter.lastType())
			}
		})
	}
}

func TestAddResultTimeoutBoundary(t *testing.T) {
	engine, _, _, _, now := newTestEngine(t)
	agreeBoth(t, engine)
	agreedAt := *now

	// Exactly at the boundary the submission still lands.
	*now = agreedAt + 600
	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); err != nil {
		t.Fatalf("submission at boundary rejected: %v", err)
	}

	engine2, _, _, _, now2 := newTestEngine(t)
	agreeBoth(t, engine2)
	*now2 = *now2 + 601
	if _, err := engine2.AddResult(dealID, resultsID, 1, rpAddr); !errors.Is(err, ErrDealTimedOut) {
		t.Fatalf("expected ErrDealTimedOut one second past boundary, got %v", err)
	}
}

func TestAddResultAuthorizationAndState(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)

	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("expected ErrDealNotFound, got %v", err)
	}

	if _, err := engine.Agree(testTerms(), rpAddr); err != nil {
		t.Fatalf("agree: %v", err)
	}
	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while negotiating, got %v", err)
	}

	if _, err := engine.Agree(testTerms(), jcAddr); err != nil {
		t.Fatalf("agree: %v", err)
	}
	if _, err := engine.AddResult(dealID, resultsID, 1, jcAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for job creator, got %v", err)
	}

	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); err != nil {
		t.Fatalf("add result: %v", err)
	}
	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on duplicate submission, got %v", err)
	}
}

func TestRefundTimeout(t *testing.T) {
	engine, state, tokens, emitter, now := newTestEngine(t)
	agreeBoth(t, engine)
	agreedAt := *now

	// Not yet late at exactly agreedAt+timeout.
	*now = agreedAt + 600
	if err := engine.RefundTimeout(dealID, jcAddr); !errors.Is(err, ErrDealNotTimedOut) {
		t.Fatalf("expected ErrDealNotTimedOut at boundary, got %v", err)
	}

	*now = agreedAt + 601
	if err := engine.RefundTimeout(dealID, rpAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for resource provider, got %v", err)
	}
	if err := engine.RefundTimeout(dealID, jcAddr); err != nil {
		t.Fatalf("refund: %v", err)
	}

	// Only the job collateral comes back; the provider's timeout collateral
	// stays forfeited in escrow.
	if got := tokens.balance(jcAddr); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("job creator balance = %s, want 1000", got)
	}
	if got := tokens.balance(rpAddr); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("resource provider balance = %s, want 900", got)
	}
	if got := tokens.balance(escrowAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow balance = %s, want 100", got)
	}
	deal, _ := state.DealGet(dealID)
	if deal.Status != DealTimedOut {
		t.Fatalf("status = %s, want timed_out", deal.Status)
	}
	if emitter.lastType() != EventTypeTimeout {
		t.Fatalf("unexpected event %q", emitter.lastType())
	}

	if err := engine.RefundTimeout(dealID, jcAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second refund, got %v", err)
	}
}

func TestRefundTimeoutBlockedAfterResults(t *testing.T) {
	engine, _, _, _, now := newTestEngine(t)
	agreeBoth(t, engine)

	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); err != nil {
		t.Fatalf("add result: %v", err)
	}
	*now += 10_000
	if err := engine.RefundTimeout(dealID, jcAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after results, got %v", err)
	}
}

type recordingPolicy struct {
	accepted int
	rejected int
	err      error
}

func (p *recordingPolicy) Accept(*Deal, *Result, [20]byte) error {
	p.accepted++
	return p.err
}

func (p *recordingPolicy) Reject(*Deal, *Result, [20]byte) error {
	p.rejected++
	return p.err
}

func TestDispositionHooksWithoutPolicy(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	agreeBoth(t, engine)
	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); err != nil {
		t.Fatalf("add result: %v", err)
	}

	if err := engine.AcceptResults(dealID, jcAddr); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented on accept, got %v", err)
	}
	if err := engine.RejectResults(dealID, jcAddr); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented on reject, got %v", err)
	}
}

func TestDispositionHooksWithPolicy(t *testing.T) {
	engine, state, _, emitter, _ := newTestEngine(t)
	policy := &recordingPolicy{}
	engine.SetPolicy(policy)
	agreeBoth(t, engine)
	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); err != nil {
		t.Fatalf("add result: %v", err)
	}

	if err := engine.AcceptResults(dealID, jcAddr); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if policy.accepted != 1 {
		t.Fatalf("policy accept calls = %d, want 1", policy.accepted)
	}
	deal, _ := state.DealGet(dealID)
	if deal.Status != DealResultsAccepted {
		t.Fatalf("status = %s, want results_accepted", deal.Status)
	}
	if emitter.lastType() != EventTypeResultAccepted {
		t.Fatalf("unexpected event %q", emitter.lastType())
	}

	if err := engine.AcceptResults(dealID, jcAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on repeat accept, got %v", err)
	}
}

func TestDispositionRequiresSubmittedResults(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	engine.SetPolicy(&recordingPolicy{})
	agreeBoth(t, engine)

	if err := engine.AcceptResults(dealID, jcAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before results, got %v", err)
	}
}

type pausedView struct{}

func (pausedView) IsPaused(module string) bool { return module == "market" }

func TestPausedModuleRejectsMutations(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	engine.SetPauses(pausedView{})

	if _, err := engine.Agree(testTerms(), rpAddr); err == nil {
		t.Fatal("expected pause guard to reject agree")
	}
	if _, err := engine.AddResult(dealID, resultsID, 1, rpAddr); err == nil {
		t.Fatal("expected pause guard to reject add result")
	}
	if err := engine.RefundTimeout(dealID, jcAddr); err == nil {
		t.Fatal("expected pause guard to reject refund")
	}
}

func TestTermsImmutableAfterCreation(t *testing.T) {
	engine, state, _, _, _ := newTestEngine(t)

	terms := testTerms()
	if _, err := engine.Agree(terms, rpAddr); err != nil {
		t.Fatalf("agree: %v", err)
	}
	// Mutating the caller's copy must not leak into the stored record.
	terms.JobCollateral.SetInt64(9_999)
	deal, _ := state.DealGet(dealID)
	if deal.JobCollateral.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("stored job collateral mutated: %s", deal.JobCollateral)
	}
}
