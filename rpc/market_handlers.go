package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"dealmesh/crypto"
	nativecommon "dealmesh/native/common"
	"dealmesh/native/market"
)

type marketAgreeParams struct {
	DealID            string `json:"dealId"`
	ResourceProvider  string `json:"resourceProvider"`
	JobCreator        string `json:"jobCreator"`
	InstructionPrice  string `json:"instructionPrice"`
	Timeout           int64  `json:"timeout"`
	TimeoutCollateral string `json:"timeoutCollateral"`
	JobCollateral     string `json:"jobCollateral"`
	ResultsCollateral string `json:"resultsCollateral"`
	Caller            string `json:"caller"`
}

type marketAddResultParams struct {
	DealID           string `json:"dealId"`
	ResultsID        string `json:"resultsId"`
	InstructionCount uint64 `json:"instructionCount"`
	Caller           string `json:"caller"`
}

type marketActorParams struct {
	DealID string `json:"dealId"`
	Caller string `json:"caller"`
}

type marketIDParams struct {
	DealID string `json:"dealId"`
}

type marketListEventsParams struct {
	Cursor int64 `json:"cursor,omitempty"`
	Limit  int   `json:"limit,omitempty"`
}

type dealJSON struct {
	DealID            string `json:"dealId"`
	ResourceProvider  string `json:"resourceProvider"`
	JobCreator        string `json:"jobCreator"`
	InstructionPrice  string `json:"instructionPrice"`
	Timeout           int64  `json:"timeout"`
	TimeoutCollateral string `json:"timeoutCollateral"`
	JobCollateral     string `json:"jobCollateral"`
	ResultsCollateral string `json:"resultsCollateral"`
	CreatedAt         int64  `json:"createdAt"`
	Status            string `json:"status"`
}

type agreementJSON struct {
	DealID                 string `json:"dealId"`
	ResourceProviderAgreed bool   `json:"resourceProviderAgreed"`
	JobCreatorAgreed       bool   `json:"jobCreatorAgreed"`
	AgreedAt               int64  `json:"agreedAt,omitempty"`
}

type resultJSON struct {
	DealID           string `json:"dealId"`
	ResultsID        string `json:"resultsId"`
	InstructionCount uint64 `json:"instructionCount"`
	SubmittedAt      int64  `json:"submittedAt"`
}

func (s *Server) handleMarketAgree(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params marketAgreeParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	dealID, err := parseDealID(params.DealID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	provider, err := parseAddressParam(params.ResourceProvider, "resourceProvider")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseAddressParam(params.JobCreator, "jobCreator")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Timeout <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "timeout must be positive")
		return
	}
	terms := &market.Deal{
		ID:               dealID,
		ResourceProvider: provider,
		JobCreator:       creator,
		Timeout:          params.Timeout,
	}
	for _, field := range []struct {
		name  string
		raw   string
		value **big.Int
	}{
		{"instructionPrice", params.InstructionPrice, &terms.InstructionPrice},
		{"timeoutCollateral", params.TimeoutCollateral, &terms.TimeoutCollateral},
		{"jobCollateral", params.JobCollateral, &terms.JobCollateral},
		{"resultsCollateral", params.ResultsCollateral, &terms.ResultsCollateral},
	} {
		amount, parseErr := parseAmount(field.raw, field.name)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		*field.value = amount
	}

	agreement, err := s.engine.Agree(terms, caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreementJSON(agreement))
}

func (s *Server) handleMarketAddResult(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params marketAddResultParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	dealID, err := parseDealID(params.DealID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	resultsID, err := parseResultsID(params.ResultsID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	result, err := s.engine.AddResult(dealID, resultsID, params.InstructionCount, caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatResultJSON(result))
}

func (s *Server) handleMarketRefundTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleMarketTransition(w, r, req, s.engine.RefundTimeout)
}

func (s *Server) handleMarketAcceptResults(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleMarketTransition(w, r, req, s.engine.AcceptResults)
}

func (s *Server) handleMarketRejectResults(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleMarketTransition(w, r, req, s.engine.RejectResults)
}

func (s *Server) handleMarketTransition(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func([32]byte, [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params marketActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	dealID, err := parseDealID(params.DealID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(dealID, caller); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleMarketGetDeal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params marketIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	dealID, err := parseDealID(params.DealID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	deal, ok := s.state.DealGet(dealID)
	if !ok {
		writeMarketError(w, req.ID, market.ErrDealNotFound)
		return
	}
	writeResult(w, req.ID, formatDealJSON(deal))
}

func (s *Server) handleMarketGetAgreement(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params marketIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	dealID, err := parseDealID(params.DealID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	agreement, ok := s.state.AgreementGet(dealID)
	if !ok {
		writeMarketError(w, req.ID, market.ErrDealNotFound)
		return
	}
	writeResult(w, req.ID, formatAgreementJSON(agreement))
}

func (s *Server) handleMarketGetResult(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params marketIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	dealID, err := parseDealID(params.DealID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	result, ok := s.state.ResultGet(dealID)
	if !ok {
		writeMarketError(w, req.ID, market.ErrDealNotFound)
		return
	}
	writeResult(w, req.ID, formatResultJSON(result))
}

func (s *Server) handleMarketListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params := marketListEventsParams{Limit: 100}
	if len(req.Params) > 0 && !decodeSingleParam(w, req, &params) {
		return
	}
	if params.Limit <= 0 || params.Limit > 1000 {
		params.Limit = 100
	}
	writeResult(w, req.ID, s.journal.Since(params.Cursor, params.Limit))
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseAddressParam(raw, name string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("%s is required", name)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s: %s", name, err)
	}
	return addr.Array(), nil
}

func parseDealID(raw string) ([32]byte, error) {
	return parse32ByteHex(raw, "dealId")
}

func parseResultsID(raw string) ([32]byte, error) {
	return parse32ByteHex(raw, "resultsId")
}

func parse32ByteHex(raw, name string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if trimmed == "" {
		return out, fmt.Errorf("%s is required", name)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid %s: %s", name, err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("%s must be 32 bytes, got %d", name, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func parseAmount(raw, name string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s amount", name)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must be non-negative", name)
	}
	return amount, nil
}

func formatDealJSON(deal *market.Deal) dealJSON {
	if deal == nil {
		return dealJSON{}
	}
	return dealJSON{
		DealID:            hex.EncodeToString(deal.ID[:]),
		ResourceProvider:  crypto.NewAddress(append([]byte(nil), deal.ResourceProvider[:]...)).String(),
		JobCreator:        crypto.NewAddress(append([]byte(nil), deal.JobCreator[:]...)).String(),
		InstructionPrice:  bigString(deal.InstructionPrice),
		Timeout:           deal.Timeout,
		TimeoutCollateral: bigString(deal.TimeoutCollateral),
		JobCollateral:     bigString(deal.JobCollateral),
		ResultsCollateral: bigString(deal.ResultsCollateral),
		CreatedAt:         deal.CreatedAt,
		Status:            deal.Status.String(),
	}
}

func formatAgreementJSON(agreement *market.Agreement) agreementJSON {
	if agreement == nil {
		return agreementJSON{}
	}
	return agreementJSON{
		DealID:                 hex.EncodeToString(agreement.DealID[:]),
		ResourceProviderAgreed: agreement.ResourceProviderAgreed,
		JobCreatorAgreed:       agreement.JobCreatorAgreed,
		AgreedAt:               agreement.AgreedAt,
	}
}

func formatResultJSON(result *market.Result) resultJSON {
	if result == nil {
		return resultJSON{}
	}
	return resultJSON{
		DealID:           hex.EncodeToString(result.DealID[:]),
		ResultsID:        hex.EncodeToString(result.ResultsID[:]),
		InstructionCount: result.InstructionCount,
		SubmittedAt:      result.SubmittedAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, market.ErrDealNotFound):
		status = http.StatusNotFound
		code = codeMarketNotFound
		message = "not_found"
	case errors.Is(err, market.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeMarketForbidden
		message = "forbidden"
	case errors.Is(err, market.ErrInvalidParty):
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	case errors.Is(err, market.ErrInsufficientBalance),
		errors.Is(err, market.ErrInsufficientAllowance),
		errors.Is(err, market.ErrTransferFailed):
		status = http.StatusConflict
		code = codeMarketPayment
		message = "payment_failed"
	case errors.Is(err, market.ErrInvalidState),
		errors.Is(err, market.ErrParameterMismatch),
		errors.Is(err, market.ErrDealTimedOut),
		errors.Is(err, market.ErrDealNotTimedOut),
		errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusConflict
		code = codeMarketConflict
		message = "conflict"
	case errors.Is(err, market.ErrNotImplemented):
		status = http.StatusNotImplemented
		code = codeServerError
		message = "not_implemented"
	}
	writeError(w, status, id, code, message, data)
}
