package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tipledger/core/events"
	"tipledger/native/tipping"
)

const namespace = "tipledger"

// RPCMetrics records JSON-RPC handler activity.
type RPCMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// LedgerMetrics tracks ledger outcomes. It implements events.Emitter so it can
// be attached to the engine alongside the event stream.
type LedgerMetrics struct {
	tips      *prometheus.CounterVec
	amount    prometheus.Counter
	transfers *prometheus.CounterVec
	reg       prometheus.Registerer

	accountsOnce sync.Once
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// NewRPCMetrics creates and registers the RPC collectors on reg.
func NewRPCMetrics(reg prometheus.Registerer) *RPCMetrics {
	m := &RPCMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for JSON-RPC handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "throttles_total",
			Help:      "Requests rejected before dispatch segmented by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.requests, m.latency, m.throttles)
	return m
}

// RPC returns the lazily-initialised RPC metrics on the default registry.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = NewRPCMetrics(prometheus.DefaultRegisterer)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC call. outcome should be a stable
// string such as "ok" or an error code.
func (m *RPCMetrics) Observe(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle counts a request rejected before dispatch.
func (m *RPCMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// NewLedgerMetrics creates and registers the ledger collectors on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		tips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tips_total",
			Help:      "Tip attempts segmented by outcome (committed or rejection code).",
		}, []string{"outcome"}),
		amount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tip_amount_total",
			Help:      "Approximate sum of committed tip amounts in base units.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer receipts segmented by recipient kind and status.",
		}, []string{"kind", "status"}),
		reg: reg,
	}
	reg.MustRegister(m.tips, m.amount, m.transfers)
	return m
}

// Ledger returns the lazily-initialised ledger metrics on the default registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = NewLedgerMetrics(prometheus.DefaultRegisterer)
	})
	return ledgerRegistry
}

// RecordTipOutcome counts a tip attempt. A nil error counts as committed.
func (m *LedgerMetrics) RecordTipOutcome(err error) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = strings.ToLower(string(tipping.CodeOf(err)))
	}
	m.tips.WithLabelValues(outcome).Inc()
}

// TrackAccounts exposes the interned account count through fn. Only the first
// call registers the gauge.
func (m *LedgerMetrics) TrackAccounts(fn func() float64) {
	if m == nil || fn == nil {
		return
	}
	m.accountsOnce.Do(func() {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Number of interned accounts.",
		}, fn))
	})
}

// Emit implements events.Emitter.
func (m *LedgerMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	switch rendered.Type {
	case tipping.EventTypeTipRecorded:
		if amount, ok := new(big.Int).SetString(rendered.Attributes["amount"], 10); ok {
			value, _ := new(big.Float).SetInt(amount).Float64()
			m.amount.Add(value)
		}
	case tipping.EventTypeTransferScheduled, tipping.EventTypeTransferSettled:
		m.transfers.WithLabelValues(rendered.Attributes["kind"], rendered.Attributes["status"]).Inc()
	}
}
