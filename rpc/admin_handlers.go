package rpc

import (
	"net/http"
	"strings"
)

type adminPauseParams struct {
	Module string `json:"module"`
}

type pauseStateJSON struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAdminToggle(w, r, req, true)
}

func (s *Server) handleAdminResume(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAdminToggle(w, r, req, false)
}

func (s *Server) handleAdminToggle(w http.ResponseWriter, r *http.Request, req *RPCRequest, paused bool) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	params := adminPauseParams{Module: "market"}
	if len(req.Params) > 0 && !decodeSingleParam(w, req, &params) {
		return
	}
	module := strings.TrimSpace(params.Module)
	if module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "module is required")
		return
	}
	s.pauses.SetPaused(module, paused)
	s.log.Info("module pause toggled", "module", module, "paused", paused)
	writeResult(w, req.ID, pauseStateJSON{Module: module, Paused: s.pauses.IsPaused(module)})
}
