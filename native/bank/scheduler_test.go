package bank

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tipledger/core/state"
	"tipledger/native/tipping"
	"tipledger/storage"
)

func newLedger(t *testing.T) *tipping.Engine {
	t.Helper()
	cfg := tipping.DefaultConfig()
	cfg.MinimumTip = big.NewInt(1)
	engine, err := tipping.NewEngine(cfg)
	require.NoError(t, err)
	engine.SetState(state.NewManager(storage.NewMemDB()))
	require.NoError(t, engine.RegisterTrack(tipping.DefaultOperator, "1", "alice.testnet"))
	return engine
}

func receiptsSettled(t *testing.T, engine *tipping.Engine, tipID uint64) func() bool {
	return func() bool {
		receipts, err := engine.Queries().Transfers(tipID)
		require.NoError(t, err)
		for _, r := range receipts {
			if r.Status == tipping.TransferScheduled {
				return false
			}
		}
		return len(receipts) > 0
	}
}

func TestSchedulerDeliversAndSettles(t *testing.T) {
	engine := newLedger(t)
	var mu sync.Mutex
	var delivered []tipping.TransferRequest
	sender := SenderFunc(func(_ context.Context, req tipping.TransferRequest) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, req)
		return nil
	})
	scheduler := NewScheduler(sender, engine, WithWorkers(2), WithBackoff(0))
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Close()
	engine.SetTransferScheduler(scheduler)

	view, err := engine.RecordTip("bob.testnet", "1", big.NewInt(100))
	require.NoError(t, err)
	require.Eventually(t, receiptsSettled(t, engine, view.ID), 2*time.Second, 10*time.Millisecond)

	receipts, err := engine.Queries().Transfers(view.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	for _, r := range receipts {
		require.Equal(t, tipping.TransferConfirmed, r.Status)
		require.Equal(t, uint32(1), r.Attempts)
	}
	mu.Lock()
	require.Len(t, delivered, 2)
	mu.Unlock()
}

func TestSchedulerRetriesUntilSuccess(t *testing.T) {
	engine := newLedger(t)
	var calls atomic.Int32
	sender := SenderFunc(func(_ context.Context, req tipping.TransferRequest) error {
		if req.Kind != tipping.TransferOwner {
			return nil
		}
		if calls.Add(1) < 3 {
			return errors.New("temporarily unavailable")
		}
		return nil
	})
	scheduler := NewScheduler(sender, engine, WithWorkers(1), WithMaxAttempts(3), WithBackoff(time.Millisecond))
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Close()
	engine.SetTransferScheduler(scheduler)

	view, err := engine.RecordTip("bob.testnet", "1", big.NewInt(100))
	require.NoError(t, err)
	require.Eventually(t, receiptsSettled(t, engine, view.ID), 2*time.Second, 10*time.Millisecond)

	receipts, err := engine.Queries().Transfers(view.ID)
	require.NoError(t, err)
	require.Equal(t, tipping.TransferConfirmed, receipts[0].Status)
	require.Equal(t, uint32(3), receipts[0].Attempts)
}

func TestSchedulerReportsExhaustedAttempts(t *testing.T) {
	engine := newLedger(t)
	sender := SenderFunc(func(context.Context, tipping.TransferRequest) error {
		return errors.New("destination rejected")
	})
	scheduler := NewScheduler(sender, engine, WithWorkers(1), WithMaxAttempts(2), WithBackoff(0))
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Close()
	engine.SetTransferScheduler(scheduler)

	view, err := engine.RecordTip("bob.testnet", "1", big.NewInt(100))
	require.NoError(t, err)
	require.Eventually(t, receiptsSettled(t, engine, view.ID), 2*time.Second, 10*time.Millisecond)

	receipts, err := engine.Queries().Transfers(view.ID)
	require.NoError(t, err)
	for _, r := range receipts {
		require.Equal(t, tipping.TransferFailed, r.Status)
		require.Equal(t, uint32(2), r.Attempts)
		require.Contains(t, r.Reason, "destination rejected")
	}
	tip, ok, err := engine.Queries().Tip(view.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", tip.Amount)
}

func allReceipts(t *testing.T, engine *tipping.Engine, tips int) []tipping.TransferReceipt {
	t.Helper()
	var all []tipping.TransferReceipt
	for id := uint64(1); id <= uint64(tips); id++ {
		receipts, err := engine.Queries().Transfers(id)
		require.NoError(t, err)
		all = append(all, receipts...)
	}
	return all
}

func TestCloseSettlesTransfersQueuedAfterCancel(t *testing.T) {
	engine := newLedger(t)
	var sent atomic.Int32
	sender := SenderFunc(func(context.Context, tipping.TransferRequest) error {
		sent.Add(1)
		return nil
	})
	scheduler := NewScheduler(sender, engine, WithWorkers(1), WithBackoff(0))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	engine.SetTransferScheduler(scheduler)
	cancel()

	for i := 0; i < 5; i++ {
		_, err := engine.RecordTip("bob.testnet", "1", big.NewInt(100))
		require.NoError(t, err)
	}
	scheduler.Close()

	receipts := allReceipts(t, engine, 5)
	require.Len(t, receipts, 10)
	for _, r := range receipts {
		require.Equal(t, tipping.TransferFailed, r.Status)
		require.Equal(t, "shutdown", r.Reason)
	}
	require.Zero(t, sent.Load())
	pending, err := engine.Queries().PendingTransfers()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCloseDeliversQueuedTransfers(t *testing.T) {
	engine := newLedger(t)
	release := make(chan struct{})
	sender := SenderFunc(func(context.Context, tipping.TransferRequest) error {
		<-release
		return nil
	})
	scheduler := NewScheduler(sender, engine, WithWorkers(1), WithBackoff(0))
	require.NoError(t, scheduler.Start(context.Background()))
	engine.SetTransferScheduler(scheduler)

	for i := 0; i < 3; i++ {
		_, err := engine.RecordTip("bob.testnet", "1", big.NewInt(100))
		require.NoError(t, err)
	}
	close(release)
	scheduler.Close()

	receipts := allReceipts(t, engine, 3)
	require.Len(t, receipts, 6)
	for _, r := range receipts {
		require.Equal(t, tipping.TransferConfirmed, r.Status)
	}
}

func TestCloseWithoutWorkersFailsBacklog(t *testing.T) {
	engine := newLedger(t)
	scheduler := NewScheduler(LogSender{}, engine)
	engine.SetTransferScheduler(scheduler)
	view, err := engine.RecordTip("bob.testnet", "1", big.NewInt(100))
	require.NoError(t, err)

	scheduler.Close()
	receipts, err := engine.Queries().Transfers(view.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	for _, r := range receipts {
		require.Equal(t, tipping.TransferFailed, r.Status)
		require.Equal(t, "shutdown", r.Reason)
	}
}

func TestScheduleNeverBlocks(t *testing.T) {
	scheduler := NewScheduler(LogSender{}, newLedger(t), WithQueueSize(1))
	require.True(t, scheduler.Schedule(tipping.TransferRequest{ReceiptID: "a"}))
	require.False(t, scheduler.Schedule(tipping.TransferRequest{ReceiptID: "b"}))
	require.Equal(t, 1, scheduler.Pending())

	scheduler.Close()
	require.False(t, scheduler.Schedule(tipping.TransferRequest{ReceiptID: "c"}))
	require.ErrorIs(t, scheduler.Start(context.Background()), ErrSchedulerClosed)
}

func TestStartRequiresCollaborators(t *testing.T) {
	scheduler := NewScheduler(nil, nil)
	require.Error(t, scheduler.Start(context.Background()))
}

func TestHTTPSender(t *testing.T) {
	var (
		mu   sync.Mutex
		got  transferPayload
		key  string
		fail atomic.Bool
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "insufficient float", http.StatusServiceUnavailable)
			return
		}
		var payload transferPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = payload
		key = r.Header.Get("Idempotency-Key")
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewHTTPSender(server.URL, time.Second)
	require.NoError(t, err)
	req := tipping.TransferRequest{
		ReceiptID:   "r-1",
		TipID:       7,
		Kind:        tipping.TransferLabel,
		Destination: "label.testnet",
		Amount:      big.NewInt(19),
	}
	require.NoError(t, sender.Send(context.Background(), req))
	mu.Lock()
	require.Equal(t, "r-1", key)
	require.Equal(t, "19", got.Amount)
	require.Equal(t, "label", got.Kind)
	mu.Unlock()

	fail.Store(true)
	err = sender.Send(context.Background(), req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")

	_, err = NewHTTPSender(" ", 0)
	require.Error(t, err)
}
