package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tinybank/core"
	tberrors "tinybank/core/errors"
	"tinybank/core/types"
	"tinybank/explorer"
	"tinybank/observability"
	"tinybank/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

// Chain is the node surface the RPC server needs.
type Chain interface {
	ChainID() string
	Head() core.Head
	Nonce(addr [20]byte) (uint64, error)
	View(fn func(*core.Engines) error) error
	Execute(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// EventSource answers history queries. It may be nil when indexing is off.
type EventSource interface {
	List(ctx context.Context, filter explorer.Filter) ([]explorer.Entry, error)
}

type ServerConfig struct {
	JWTSecret         string
	JWTIssuer         string
	RequestsPerMinute float64
	Burst             int
	ReadHeaderTimeout time.Duration
	// TrustedProxies lists peer IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers identify the client. Other peers are keyed by their
	// socket address.
	TrustedProxies []string
	Logger         *slog.Logger
}

type Server struct {
	chain  Chain
	events EventSource
	cfg    ServerConfig
	logger *slog.Logger

	auth    *authenticator
	limiter *rateLimiter
	proxies *proxySet

	serverMu   sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer fails only when a TrustedProxies entry is malformed.
func NewServer(chain Chain, events EventSource, cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	proxies, err := newProxySet(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}
	return &Server{
		chain:   chain,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "rpc")),
		auth:    newAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		limiter: newRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		proxies: proxies,
	}, nil
}

// Handler returns the HTTP surface: POST /rpc, GET /healthz and GET /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "tinybank.rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.serverMu.Lock()
	if s.closed {
		s.serverMu.Unlock()
		_ = listener.Close()
		return http.ErrServerClosed
	}
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc listening",
		slog.String("address", listener.Addr().String()),
		slog.Bool("auth", s.auth.enabled()))
	return srv.Serve(listener)
}

// Shutdown stops the server gracefully. A Serve call that has not started yet
// returns http.ErrServerClosed immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.closed = true
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type methodHandler func(s *Server, r *http.Request, req *RPCRequest) (interface{}, *methodError)

// methodError carries the HTTP status alongside the JSON-RPC error.
type methodError struct {
	status int
	RPCError
}

func newMethodError(status, code int, message string, data interface{}) *methodError {
	return &methodError{status: status, RPCError: RPCError{Code: code, Message: message, Data: data}}
}

var methods = map[string]methodHandler{
	"tb_sendTransaction": (*Server).handleSendTransaction,
	"tb_getTokenInfo":    (*Server).handleGetTokenInfo,
	"tb_getBalance":      (*Server).handleGetBalance,
	"tb_getAllowance":    (*Server).handleGetAllowance,
	"tb_getStake":        (*Server).handleGetStake,
	"tb_getPool":         (*Server).handleGetPool,
	"tb_getQuorum":       (*Server).handleGetQuorum,
	"tb_getNonce":        (*Server).handleGetNonce,
	"tb_getHeight":       (*Server).handleGetHeight,
	"tb_listEvents":      (*Server).handleListEvents,
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := methods[req.Method]
	if !ok {
		observability.RPC().Observe(req.Method, codeMethodNotFound, time.Since(start))
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	result, mErr := handler(s, r, req)
	if mErr != nil {
		observability.RPC().Observe(req.Method, mErr.Code, time.Since(start))
		writeError(w, mErr.status, req.ID, mErr.Code, mErr.Message, mErr.Data)
		return
	}
	observability.RPC().Observe(req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	head := s.chain.Head()
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"chainId": s.chain.ChainID(),
		"height":  head.Height,
	})
}

func (s *Server) handleSendTransaction(r *http.Request, req *RPCRequest) (interface{}, *methodError) {
	if authErr := s.auth.verify(r.Header.Get("Authorization")); authErr != nil {
		observability.RPC().RecordThrottle("unauthorized")
		s.logger.Warn("rejected unauthenticated submission",
			logging.MaskField("authorization", r.Header.Get("Authorization")))
		return nil, &methodError{status: http.StatusUnauthorized, RPCError: *authErr}
	}
	source := s.clientSource(r)
	if !s.limiter.allow(source) {
		observability.RPC().RecordThrottle("rate_limit")
		return nil, newMethodError(http.StatusTooManyRequests, codeRateLimited, "transaction rate limit exceeded", source)
	}
	if len(req.Params) != 1 {
		return nil, newMethodError(http.StatusBadRequest, codeInvalidParams, "transaction parameter required", nil)
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return nil, newMethodError(http.StatusBadRequest, codeInvalidParams, "invalid transaction format", err.Error())
	}
	if _, err := tx.From(); errors.Is(err, tberrors.ErrInvalidAmount) {
		status, code := classify(err)
		return nil, newMethodError(status, code, err.Error(), nil)
	} else if err != nil {
		return nil, newMethodError(http.StatusBadRequest, codeInvalidParams, "invalid transaction signature", err.Error())
	}
	receipt, err := s.chain.Execute(r.Context(), &tx)
	if err != nil {
		status, code := classify(err)
		return nil, newMethodError(status, code, err.Error(), nil)
	}
	return receiptResult(receipt), nil
}
