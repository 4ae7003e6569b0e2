package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dealmesh/core/events"
	"dealmesh/core/state"
	"dealmesh/ledger"
	nativecommon "dealmesh/native/common"
	"dealmesh/native/market"
	"dealmesh/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "DEALMESH_RPC_TOKEN"

	requestsPerSecond = 10
	requestBurst      = 20
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeMarketNotFound  = -32031
	codeMarketForbidden = -32032
	codeMarketConflict  = -32033
	codeMarketPayment   = -32034
)

// Server exposes the market engine, the token ledger and the operator
// surface over JSON-RPC.
type Server struct {
	engine  *market.Engine
	ledger  *ledger.Ledger
	state   *state.Manager
	pauses  *nativecommon.PauseSet
	journal *events.Journal
	log     *slog.Logger

	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the RPC surface. The operator bearer token is read from
// the DEALMESH_RPC_TOKEN environment variable; without it every mutating
// method is rejected.
func NewServer(engine *market.Engine, tokenLedger *ledger.Ledger, manager *state.Manager, pauses *nativecommon.PauseSet, journal *events.Journal, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		ledger:    tokenLedger,
		state:     manager,
		pauses:    pauses,
		journal:   journal,
		log:       logger,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		limiters:  make(map[string]*rate.Limiter),
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler returns the JSON-RPC entry point for mounting on an HTTP router.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	source := clientHost(r)
	if !s.allowSource(source) {
		observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.dispatch(recorder, r, &req)
	observability.ModuleMetrics().Observe(moduleLabel(req.Method), req.Method, recorder.status, time.Since(start))
}

func moduleLabel(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return "unknown"
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "market_agree":
		s.handleMarketAgree(w, r, req)
	case "market_addResult":
		s.handleMarketAddResult(w, r, req)
	case "market_refundTimeout":
		s.handleMarketRefundTimeout(w, r, req)
	case "market_acceptResults":
		s.handleMarketAcceptResults(w, r, req)
	case "market_rejectResults":
		s.handleMarketRejectResults(w, r, req)
	case "market_getDeal":
		s.handleMarketGetDeal(w, r, req)
	case "market_getAgreement":
		s.handleMarketGetAgreement(w, r, req)
	case "market_getResult":
		s.handleMarketGetResult(w, r, req)
	case "market_listEvents":
		s.handleMarketListEvents(w, r, req)
	case "ledger_getBalance":
		s.handleLedgerGetBalance(w, r, req)
	case "ledger_getAllowance":
		s.handleLedgerGetAllowance(w, r, req)
	case "ledger_approve":
		s.handleLedgerApprove(w, r, req)
	case "ledger_mint":
		s.handleLedgerMint(w, r, req)
	case "admin_pause":
		s.handleAdminPause(w, r, req)
	case "admin_resume":
		s.handleAdminResume(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}
