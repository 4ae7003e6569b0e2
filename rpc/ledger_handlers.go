package rpc

import (
	"errors"
	"net/http"

	"dealmesh/ledger"
)

type ledgerAddressParams struct {
	Address string `json:"address"`
}

type ledgerAllowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type ledgerApproveParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type ledgerMintParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type allowanceJSON struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

func (s *Server) handleLedgerGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ledgerAddressParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseAddressParam(params.Address, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.ledger.BalanceOf(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{Address: params.Address, Balance: balance.String()})
}

func (s *Server) handleLedgerGetAllowance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ledgerAllowanceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	owner, err := parseAddressParam(params.Owner, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	spender, err := parseAddressParam(params.Spender, "spender")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	allowance, err := s.ledger.Allowance(owner, spender)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowanceJSON{Owner: params.Owner, Spender: params.Spender, Allowance: allowance.String()})
}

func (s *Server) handleLedgerApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params ledgerApproveParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	owner, err := parseAddressParam(params.Owner, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	spender, err := parseAddressParam(params.Spender, "spender")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.ledger.Approve(owner, spender, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowanceJSON{Owner: params.Owner, Spender: params.Spender, Allowance: amount.String()})
}

func (s *Server) handleLedgerMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params ledgerMintParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	to, err := parseAddressParam(params.To, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.ledger.Mint(to, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	balance, err := s.ledger.BalanceOf(to)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{Address: params.To, Balance: balance.String()})
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientAllowance):
		writeError(w, http.StatusConflict, id, codeMarketPayment, "payment_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}
