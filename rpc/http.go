package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tipledger/core/events"
	"tipledger/gateway/middleware"
	"tipledger/native/tipping"
	"tipledger/observability"
	tipotel "tipledger/observability/otel"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeServerError    = -32000
)

// ServerConfig controls how the JSON-RPC server resolves callers and reports
// telemetry.
type ServerConfig struct {
	// AllowCallerParam accepts a "caller" parameter from requests that carry
	// no authenticated subject. Development only.
	AllowCallerParam bool
	Logger           *slog.Logger
	RPCMetrics       *observability.RPCMetrics
	LedgerMetrics    *observability.LedgerMetrics
	Tracer           trace.Tracer
}

// Server exposes the tip ledger over JSON-RPC 2.0 and streams committed
// events over websocket.
type Server struct {
	engine  *tipping.Engine
	queries *tipping.QueryService
	stream  *events.Stream
	cfg     ServerConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewServer wires the server to engine. stream may be nil, in which case the
// websocket endpoint reports the stream as unavailable.
func NewServer(engine *tipping.Engine, stream *events.Stream, cfg ServerConfig) (*Server, error) {
	if engine == nil {
		return nil, errors.New("rpc: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tipotel.Tracer()
	}
	return &Server{
		engine:  engine,
		queries: engine.Queries(),
		stream:  stream,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "rpc")),
		tracer:  tracer,
	}, nil
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

	status int
}

func (e *RPCError) Error() string { return e.Message }

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

type handlerFunc func(ctx context.Context, r *http.Request, req *RPCRequest) (interface{}, *RPCError)

func (s *Server) lookup(method string) (handlerFunc, bool) {
	switch method {
	case "tip_setMinimumTip":
		return s.handleSetMinimumTip, true
	case "tip_getMinimumTip":
		return s.handleGetMinimumTip, true
	case "tip_registerTrack":
		return s.handleRegisterTrack, true
	case "tip_registerTrackWithLabel":
		return s.handleRegisterTrackWithLabel, true
	case "tip_add":
		return s.handleAddTip, true
	case "tip_getAccountId":
		return s.handleGetAccountID, true
	case "tip_getTrackOwner":
		return s.handleGetTrackOwner, true
	case "tip_getTrackLabel":
		return s.handleGetTrackLabel, true
	case "tip_getTip":
		return s.handleGetTip, true
	case "tip_getTipsForTrack":
		return s.handleTipsForTrack, true
	case "tip_getTipsForSender":
		return s.handleTipsForSender, true
	case "tip_getTipsForReceiver":
		return s.handleTipsForReceiver, true
	case "tip_getTotalsForTrack":
		return s.handleTotalsForTrack, true
	case "tip_getTotalsForSender":
		return s.handleTotalsForSender, true
	case "tip_getTotalsForReceiver":
		return s.handleTotalsForReceiver, true
	case "tip_getTransfers":
		return s.handleGetTransfers, true
	case "tip_getTransfer":
		return s.handleGetTransfer, true
	case "tip_getCounters":
		return s.handleGetCounters, true
	default:
		return nil, false
	}
}

// ServeHTTP handles a single JSON-RPC request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
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

	handler, ok := s.lookup(req.Method)
	if !ok {
		s.cfg.RPCMetrics.Observe("unknown", "method_not_found", 0)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), "rpc."+req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
	))
	result, rpcErr := handler(ctx, r.WithContext(ctx), req)
	outcome := "ok"
	if rpcErr != nil {
		outcome = outcomeFor(rpcErr)
		span.SetStatus(codes.Error, rpcErr.Message)
	}
	span.End()
	s.cfg.RPCMetrics.Observe(req.Method, outcome, time.Since(start))

	if rpcErr != nil {
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func outcomeFor(e *RPCError) string {
	switch e.Code {
	case codeInvalidParams:
		return "invalid_params"
	case codeUnauthorized:
		return "unauthorized"
	case codeNotFound:
		return "not_found"
	default:
		return "error"
	}
}

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, Data: data, status: http.StatusBadRequest}
}

// decodeParams unmarshals the single positional parameter object into out.
func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

// callerFor resolves the identity a write is attributed to. An authenticated
// subject always wins; a caller parameter that disagrees with it is refused.
func (s *Server) callerFor(r *http.Request, param string) (string, *RPCError) {
	if strings.TrimSpace(param) == "" {
		param = ""
	}
	if subject, ok := middleware.SubjectFromContext(r.Context()); ok {
		if param != "" && param != subject {
			return "", &RPCError{Code: codeUnauthorized, Message: "caller does not match token subject", status: http.StatusForbidden}
		}
		return subject, nil
	}
	if s.cfg.AllowCallerParam && param != "" {
		return param, nil
	}
	return "", &RPCError{Code: codeUnauthorized, Message: "caller identity required", status: http.StatusUnauthorized}
}

// ledgerError maps an engine failure onto a JSON-RPC error.
func (s *Server) ledgerError(ctx context.Context, method string, err error) *RPCError {
	code := tipping.CodeOf(err)
	data := map[string]string{"code": string(code)}
	switch code {
	case tipping.CodeUnauthorized:
		return &RPCError{Code: codeUnauthorized, Message: err.Error(), Data: data, status: http.StatusForbidden}
	case tipping.CodeParseError, tipping.CodeInvalidArgument, tipping.CodeInvalidPercentage:
		return &RPCError{Code: codeInvalidParams, Message: err.Error(), Data: data, status: http.StatusBadRequest}
	case tipping.CodeNotFound:
		return &RPCError{Code: codeNotFound, Message: err.Error(), Data: data, status: http.StatusNotFound}
	default:
		s.logger.ErrorContext(ctx, "ledger call failed", slog.String("method", method), slog.Any("error", err))
		return &RPCError{Code: codeServerError, Message: "internal ledger error", Data: data, status: http.StatusInternalServerError}
	}
}
