package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tipledger/native/tipping"
)

type minimumTipParams struct {
	Caller string `json:"caller,omitempty"`
	Amount string `json:"amount"`
}

type registerTrackParams struct {
	Caller  string `json:"caller,omitempty"`
	TrackID string `json:"trackId"`
	Owner   string `json:"owner"`
}

type registerTrackWithLabelParams struct {
	Caller     string  `json:"caller,omitempty"`
	TrackID    string  `json:"trackId"`
	Owner      string  `json:"owner"`
	Label      string  `json:"label"`
	Percentage *uint32 `json:"percentage"`
}

type addTipParams struct {
	Caller  string `json:"caller,omitempty"`
	TrackID string `json:"trackId"`
	Deposit string `json:"deposit"`
}

type trackParams struct {
	TrackID string `json:"trackId"`
}

type accountParams struct {
	Account string `json:"account"`
}

type tipIDParams struct {
	TipID flexUint64 `json:"tipId"`
}

type transferParams struct {
	ID string `json:"id"`
}

// flexUint64 accepts either a JSON number or a decimal string.
type flexUint64 struct {
	value uint64
	set   bool
}

func (f *flexUint64) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %q", raw)
	}
	f.value = value
	f.set = true
	return nil
}

// TipResult is the structured outcome of tip_add. Validation rejections are
// reported here instead of as JSON-RPC errors.
type TipResult struct {
	Success      bool             `json:"success"`
	ErrorCode    string           `json:"errorCode,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Data         *tipping.TipView `json:"data,omitempty"`
}

type labelResult struct {
	Account    string `json:"account"`
	Percentage uint32 `json:"percentage"`
}

type countersResult struct {
	TipCount  uint64 `json:"tipCount"`
	UserCount uint32 `json:"userCount"`
}

func (s *Server) handleSetMinimumTip(ctx context.Context, r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params minimumTipParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.callerFor(r, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SetMinimumTip(caller, params.Amount); err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	return true, nil
}

func (s *Server) handleGetMinimumTip(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	amount, err := s.engine.MinimumTip()
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	return tipping.FormatAmount(amount), nil
}

func (s *Server) handleRegisterTrack(ctx context.Context, r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params registerTrackParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.callerFor(r, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RegisterTrack(caller, params.TrackID, params.Owner); err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	return true, nil
}

func (s *Server) handleRegisterTrackWithLabel(ctx context.Context, r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params registerTrackWithLabelParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Percentage == nil {
		return nil, invalidParams("percentage is required", nil)
	}
	caller, rpcErr := s.callerFor(r, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RegisterTrackWithLabel(caller, params.TrackID, params.Owner, params.Label, *params.Percentage); err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	return true, nil
}

func (s *Server) handleAddTip(ctx context.Context, r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params addTipParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := s.callerFor(r, params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	deposit, err := tipping.ParseAmount(params.Deposit)
	if err != nil {
		s.cfg.LedgerMetrics.RecordTipOutcome(err)
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	view, err := s.engine.RecordTip(caller, params.TrackID, deposit)
	s.cfg.LedgerMetrics.RecordTipOutcome(err)
	if err != nil {
		if tipping.IsRejection(err) {
			result := TipResult{ErrorCode: string(tipping.CodeOf(err)), ErrorMessage: err.Error()}
			var coded *tipping.Error
			if errors.As(err, &coded) {
				result.ErrorMessage = coded.Message
			}
			s.logger.DebugContext(ctx, "tip rejected",
				slog.String("trackId", params.TrackID),
				slog.String("code", result.ErrorCode))
			return result, nil
		}
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	return TipResult{Success: true, Data: view}, nil
}

func (s *Server) handleGetAccountID(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params accountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, ok, err := s.queries.AccountID(params.Account)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	if !ok {
		return json.RawMessage("null"), nil
	}
	return strconv.FormatUint(uint64(id), 10), nil
}

func (s *Server) handleGetTrackOwner(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params trackParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, ok, err := s.queries.TrackOwner(params.TrackID)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	if !ok {
		return json.RawMessage("null"), nil
	}
	return owner, nil
}

func (s *Server) handleGetTrackLabel(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params trackParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	label, account, err := s.queries.TrackLabel(params.TrackID)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	if label == nil {
		return json.RawMessage("null"), nil
	}
	return labelResult{Account: account, Percentage: label.Percentage}, nil
}

func (s *Server) handleGetTip(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params tipIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if !params.TipID.set {
		return nil, invalidParams("tipId is required", nil)
	}
	view, ok, err := s.queries.Tip(params.TipID.value)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	if !ok {
		return json.RawMessage("null"), nil
	}
	return view, nil
}

func (s *Server) listTips(ctx context.Context, req *RPCRequest, kind tipping.IndexKind) (interface{}, *RPCError) {
	key, rpcErr := indexParam(req, kind)
	if rpcErr != nil {
		return nil, rpcErr
	}
	views, err := s.queries.List(kind, key)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	if views == nil {
		views = []tipping.TipView{}
	}
	return views, nil
}

func (s *Server) totals(ctx context.Context, req *RPCRequest, kind tipping.IndexKind) (interface{}, *RPCError) {
	key, rpcErr := indexParam(req, kind)
	if rpcErr != nil {
		return nil, rpcErr
	}
	totals, err := s.queries.Totals(kind, key)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	return totals, nil
}

// indexParam extracts the trackId or account parameter for an index query.
func indexParam(req *RPCRequest, kind tipping.IndexKind) (string, *RPCError) {
	if kind == tipping.IndexTrack {
		var params trackParams
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return "", rpcErr
		}
		return params.TrackID, nil
	}
	var params accountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return "", rpcErr
	}
	return params.Account, nil
}

func (s *Server) handleTipsForTrack(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.listTips(ctx, req, tipping.IndexTrack)
}

func (s *Server) handleTipsForSender(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.listTips(ctx, req, tipping.IndexSender)
}

func (s *Server) handleTipsForReceiver(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.listTips(ctx, req, tipping.IndexReceiver)
}

func (s *Server) handleTotalsForTrack(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.totals(ctx, req, tipping.IndexTrack)
}

func (s *Server) handleTotalsForSender(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.totals(ctx, req, tipping.IndexSender)
}

func (s *Server) handleTotalsForReceiver(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.totals(ctx, req, tipping.IndexReceiver)
}

func (s *Server) handleGetTransfers(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params tipIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if !params.TipID.set {
		return nil, invalidParams("tipId is required", nil)
	}
	receipts, err := s.queries.Transfers(params.TipID.value)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	if receipts == nil {
		receipts = []tipping.TransferReceipt{}
	}
	return receipts, nil
}

func (s *Server) handleGetTransfer(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params transferParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(params.ID) == "" {
		return nil, invalidParams("id is required", nil)
	}
	receipt, ok, err := s.queries.Transfer(params.ID)
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	if !ok {
		return json.RawMessage("null"), nil
	}
	return receipt, nil
}

func (s *Server) handleGetCounters(ctx context.Context, _ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	counters, err := s.queries.Counters()
	if err != nil {
		return nil, s.ledgerError(ctx, req.Method, err)
	}
	return countersResult{TipCount: counters.TipCount, UserCount: counters.UserCount}, nil
}
