package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"tipledger/native/tipping"
)

func TestLedgerMetricsFromEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	view := &tipping.TipView{ID: 1, TrackID: "1", Amount: "100", PlatformShare: "3", OwnerShare: "97"}
	m.Emit(tipping.WrapEvent(tipping.TipRecordedEvent(view)))
	receipt := &tipping.TransferReceipt{ID: "r", TipID: 1, Kind: tipping.TransferOwner, Amount: big.NewInt(97), Status: tipping.TransferScheduled}
	m.Emit(tipping.WrapEvent(tipping.TransferScheduledEvent(receipt)))
	receipt.Status = tipping.TransferConfirmed
	m.Emit(tipping.WrapEvent(tipping.TransferSettledEvent(receipt)))

	require.Equal(t, 100.0, testutil.ToFloat64(m.amount))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("owner", "scheduled")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("owner", "confirmed")))
}

func TestRecordTipOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)
	m.RecordTipOutcome(nil)
	m.RecordTipOutcome(tipping.ErrMinTip)
	m.RecordTipOutcome(tipping.ErrMinTip)

	require.Equal(t, 1.0, testutil.ToFloat64(m.tips.WithLabelValues("committed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.tips.WithLabelValues("min_tip")))
}

func TestTrackAccountsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)
	m.TrackAccounts(func() float64 { return 7 })
	m.TrackAccounts(func() float64 { return 9 })

	count, err := testutil.GatherAndCount(reg, "tipledger_accounts")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRPCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRPCMetrics(reg)
	m.Observe("tip_add", "", 5*time.Millisecond)
	m.Observe("tip_add", "MIN_TIP", time.Millisecond)
	m.RecordThrottle("")

	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("tip_add", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("tip_add", "MIN_TIP")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.throttles.WithLabelValues("unspecified")))
}
