package tipping

import (
	"context"
	"log/slog"
	"math/big"
)

type storedReceipt struct {
	ID          string
	TipID       uint64
	Kind        string
	Destination string
	Amount      *big.Int
	Status      string
	Attempts    uint32
	Reason      string
	UpdatedAt   uint64
}

func (r *storedReceipt) receipt() *TransferReceipt {
	return &TransferReceipt{
		ID:          r.ID,
		TipID:       r.TipID,
		Kind:        TransferKind(r.Kind),
		Destination: r.Destination,
		Amount:      cloneAmount(r.Amount),
		Status:      TransferStatus(r.Status),
		Attempts:    r.Attempts,
		Reason:      r.Reason,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toStoredReceipt(r *TransferReceipt) *storedReceipt {
	return &storedReceipt{
		ID:          r.ID,
		TipID:       r.TipID,
		Kind:        string(r.Kind),
		Destination: r.Destination,
		Amount:      cloneAmount(r.Amount),
		Status:      string(r.Status),
		Attempts:    r.Attempts,
		Reason:      r.Reason,
		UpdatedAt:   r.UpdatedAt,
	}
}

// stageTransfers persists a scheduled receipt for every non-zero share of tip
// and returns the requests to hand off once the call commits.
func (e *Engine) stageTransfers(s *session, tip *Tip, view *TipView) ([]TransferRequest, error) {
	type leg struct {
		kind        TransferKind
		destination string
		amount      *big.Int
	}
	legs := []leg{{kind: TransferOwner, destination: view.OwnerAccount, amount: tip.OwnerShare}}
	if tip.Label != 0 {
		legs = append(legs, leg{kind: TransferLabel, destination: view.LabelAccount, amount: tip.LabelShare})
	}
	legs = append(legs, leg{kind: TransferPlatform, destination: e.cfg.PlatformAccount, amount: tip.PlatformShare})

	now := e.now()
	ids := make([]string, 0, len(legs))
	requests := make([]TransferRequest, 0, len(legs))
	for _, l := range legs {
		if l.amount == nil || l.amount.Sign() == 0 {
			continue
		}
		receipt := &TransferReceipt{
			ID:          e.newID(),
			TipID:       tip.ID,
			Kind:        l.kind,
			Destination: l.destination,
			Amount:      cloneAmount(l.amount),
			Status:      TransferScheduled,
			UpdatedAt:   now,
		}
		if err := s.state.KVPut(transferKey(receipt.ID), toStoredReceipt(receipt)); err != nil {
			return nil, err
		}
		ids = append(ids, receipt.ID)
		requests = append(requests, TransferRequest{
			ReceiptID:   receipt.ID,
			TipID:       tip.ID,
			Kind:        l.kind,
			Destination: l.destination,
			Amount:      cloneAmount(l.amount),
		})
		s.emit(TransferScheduledEvent(receipt))
	}
	if len(ids) > 0 {
		if err := s.state.KVPut(tipTransfersKey(tip.ID), ids); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// dispatch hands committed transfer requests to the scheduler. A request the
// scheduler refuses is settled as failed immediately. Callers must hold e.mu.
func (e *Engine) dispatch(requests []TransferRequest) {
	if e.scheduler == nil {
		return
	}
	for _, req := range requests {
		if e.scheduler.Schedule(req) {
			continue
		}
		if _, err := e.settle(req.ReceiptID, TransferOutcome{Reason: "queue full"}); err != nil {
			e.logger.Error("settle refused transfer", slog.String("receipt", req.ReceiptID), slog.Any("error", err))
		}
	}
}

// ResumeTransfers hands every receipt left in the scheduled state by a previous
// run back to the scheduler and returns how many were dispatched.
func (e *Engine) ResumeTransfers() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	if e.scheduler == nil {
		return 0, nil
	}
	pending, err := scheduledReceipts(e.state)
	if err != nil {
		return 0, err
	}
	requests := make([]TransferRequest, 0, len(pending))
	for _, r := range pending {
		requests = append(requests, TransferRequest{
			ReceiptID:   r.ID,
			TipID:       r.TipID,
			Kind:        r.Kind,
			Destination: r.Destination,
			Amount:      cloneAmount(r.Amount),
		})
	}
	e.dispatch(requests)
	if len(requests) > 0 {
		e.logger.Info("resumed scheduled transfers", slog.Int("count", len(requests)))
	}
	return len(requests), nil
}

// SettleTransfer records the outcome reported by the transfer capability.
// Receipts settle exactly once; the tip they belong to is never altered.
func (e *Engine) SettleTransfer(receiptID string, outcome TransferOutcome) (*TransferReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settle(receiptID, outcome)
}

func (e *Engine) settle(receiptID string, outcome TransferOutcome) (*TransferReceipt, error) {
	var settled *TransferReceipt
	err := e.write(func(s *session) error {
		var stored storedReceipt
		ok, err := s.state.KVGet(transferKey(receiptID), &stored)
		if err != nil {
			return err
		}
		if !ok {
			return newError(CodeNotFound, "transfer %q not found", receiptID)
		}
		if TransferStatus(stored.Status) != TransferScheduled {
			return newError(CodeInvalidArgument, "transfer %q already %s", receiptID, stored.Status)
		}
		receipt := stored.receipt()
		if outcome.Delivered {
			receipt.Status = TransferConfirmed
			receipt.Reason = ""
		} else {
			receipt.Status = TransferFailed
			receipt.Reason = outcome.Reason
		}
		if outcome.Attempts > receipt.Attempts {
			receipt.Attempts = outcome.Attempts
		}
		receipt.UpdatedAt = e.now()
		if err := s.state.KVPut(transferKey(receipt.ID), toStoredReceipt(receipt)); err != nil {
			return err
		}
		s.emit(TransferSettledEvent(receipt))
		settled = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if settled.Status == TransferFailed {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "transfer settled",
		slog.String("receipt", settled.ID),
		slog.Uint64("tipId", settled.TipID),
		slog.String("kind", string(settled.Kind)),
		slog.String("status", string(settled.Status)),
		slog.String("reason", settled.Reason))
	return settled, nil
}
