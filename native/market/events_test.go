package market

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestDealEventsCarryCanonicalAttributes(t *testing.T) {
	deal := testTerms()

	evt := NewResourceProviderAgreedEvent(deal, big.NewInt(100))
	if evt.Type != EventTypeResourceProviderAgreed {
		t.Fatalf("type = %q", evt.Type)
	}
	if evt.Attributes["dealId"] != hex.EncodeToString(deal.ID[:]) {
		t.Fatalf("dealId attribute = %q", evt.Attributes["dealId"])
	}
	if evt.Attributes["collateral"] != "100" {
		t.Fatalf("collateral attribute = %q", evt.Attributes["collateral"])
	}
	if evt.Attributes["resourceProvider"] == "" || evt.Attributes["jobCreator"] == "" {
		t.Fatal("party attributes missing")
	}
}

func TestResultAddedEventIncludesDelta(t *testing.T) {
	deal := testTerms()
	result := &Result{DealID: deal.ID, ResultsID: resultsID, InstructionCount: 7}

	evt := NewResultAddedEvent(deal, result, big.NewInt(-40))
	if evt.Attributes["collateralDelta"] != "-40" {
		t.Fatalf("collateralDelta = %q", evt.Attributes["collateralDelta"])
	}
	if evt.Attributes["instructionCount"] != "7" {
		t.Fatalf("instructionCount = %q", evt.Attributes["instructionCount"])
	}
	if evt.Attributes["resultsId"] != hex.EncodeToString(resultsID[:]) {
		t.Fatalf("resultsId = %q", evt.Attributes["resultsId"])
	}
}

func TestTimeoutEventRecordsRefund(t *testing.T) {
	deal := testTerms()
	evt := NewTimeoutEvent(deal)
	if evt.Type != EventTypeTimeout {
		t.Fatalf("type = %q", evt.Type)
	}
	if evt.Attributes["refund"] != "200" {
		t.Fatalf("refund = %q", evt.Attributes["refund"])
	}
}
