package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tipledger/native/tipping"
)

// LogSender records transfers in the log without moving value. It is the
// default backend for development deployments.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (l LogSender) Send(_ context.Context, req tipping.TransferRequest) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("transfer delivered",
		slog.String("receipt", req.ReceiptID),
		slog.Uint64("tipId", req.TipID),
		slog.String("kind", string(req.Kind)),
		slog.String("destination", req.Destination),
		slog.String("amount", tipping.FormatAmount(req.Amount)))
	return nil
}

type transferPayload struct {
	ReceiptID   string `json:"receiptId"`
	TipID       uint64 `json:"tipId"`
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// HTTPSender posts each transfer as JSON to a payout endpoint. Any 2xx
// response counts as delivered.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender constructs a sender posting to endpoint.
func NewHTTPSender(endpoint string, timeout time.Duration) (*HTTPSender, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("bank: payout endpoint required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{endpoint: trimmed, client: &http.Client{Timeout: timeout}}, nil
}

// Send implements Sender.
func (h *HTTPSender) Send(ctx context.Context, req tipping.TransferRequest) error {
	body, err := json.Marshal(transferPayload{
		ReceiptID:   req.ReceiptID,
		TipID:       req.TipID,
		Kind:        string(req.Kind),
		Destination: req.Destination,
		Amount:      tipping.FormatAmount(req.Amount),
	})
	if err != nil {
		return fmt.Errorf("bank: encode transfer: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bank: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ReceiptID)
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("bank: post transfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bank: payout endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
