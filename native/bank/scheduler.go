package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tipledger/native/tipping"
)

// ErrSchedulerClosed is returned by Start once the scheduler has been closed.
var ErrSchedulerClosed = errors.New("bank: scheduler closed")

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond

	shutdownReason = "shutdown"
)

// Sender moves value to a destination account. Implementations must be safe for
// concurrent use by the worker pool.
type Sender interface {
	Send(ctx context.Context, req tipping.TransferRequest) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req tipping.TransferRequest) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, req tipping.TransferRequest) error { return f(ctx, req) }

// Settler records transfer outcomes against the ledger.
type Settler interface {
	SettleTransfer(receiptID string, outcome tipping.TransferOutcome) (*tipping.TransferReceipt, error)
}

// Scheduler is a fire-and-forget transfer queue drained by a fixed worker
// pool. Schedule never blocks; delivery is retried with linear backoff and the
// final outcome is reported to the settler.
type Scheduler struct {
	sender      Sender
	settler     Settler
	logger      *slog.Logger
	workers     int
	queueSize   int
	maxAttempts int
	backoff     time.Duration

	mu      sync.Mutex
	queue   chan tipping.TransferRequest
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// Option customises the scheduler instance.
type Option func(*Scheduler)

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// WithQueueSize bounds the number of pending transfers.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) { s.queueSize = n }
}

// WithMaxAttempts bounds delivery attempts per transfer.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) { s.maxAttempts = n }
}

// WithBackoff sets the base delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(s *Scheduler) { s.backoff = d }
}

// WithLogger overrides the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler constructs a scheduler delivering through sender and reporting
// outcomes to settler.
func NewScheduler(sender Sender, settler Settler, opts ...Option) *Scheduler {
	s := &Scheduler{
		sender:      sender,
		settler:     settler,
		logger:      slog.Default(),
		workers:     defaultWorkers,
		queueSize:   defaultQueueSize,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers <= 0 {
		s.workers = defaultWorkers
	}
	if s.queueSize <= 0 {
		s.queueSize = defaultQueueSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.backoff < 0 {
		s.backoff = 0
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.queue = make(chan tipping.TransferRequest, s.queueSize)
	return s
}

// Start launches the worker pool. Workers run until the scheduler is closed
// and its queue drained. Transfers dequeued after ctx is cancelled are settled
// as failed instead of delivered.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.started {
		return nil
	}
	if s.sender == nil || s.settler == nil {
		return fmt.Errorf("bank: sender and settler required")
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.run(ctx)
	}
	return nil
}

// Schedule enqueues req without blocking. It returns false when the scheduler
// is closed or its queue is full.
func (s *Scheduler) Schedule(req tipping.TransferRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- req:
		return true
	default:
		return false
	}
}

// Pending reports the number of queued transfers.
func (s *Scheduler) Pending() int { return len(s.queue) }

// Close stops accepting transfers and waits until every queued one has been
// settled. Without running workers the backlog is settled as failed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	close(s.queue)
	s.mu.Unlock()
	if !started {
		for req := range s.queue {
			s.abandon(req, shutdownReason)
		}
		return
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for req := range s.queue {
		if ctx.Err() != nil {
			s.abandon(req, shutdownReason)
			continue
		}
		s.deliver(ctx, req)
	}
}

// abandon settles req as failed without attempting delivery.
func (s *Scheduler) abandon(req tipping.TransferRequest, reason string) {
	s.settle(req, tipping.TransferOutcome{Reason: reason})
}

func (s *Scheduler) settle(req tipping.TransferRequest, outcome tipping.TransferOutcome) {
	if s.settler == nil {
		return
	}
	if _, err := s.settler.SettleTransfer(req.ReceiptID, outcome); err != nil {
		s.logger.Error("settle transfer", slog.String("receipt", req.ReceiptID), slog.Any("error", err))
	}
}

func (s *Scheduler) deliver(ctx context.Context, req tipping.TransferRequest) {
	var (
		attempts int
		lastErr  error
	)
	for attempts < s.maxAttempts {
		attempts++
		lastErr = s.sender.Send(ctx, req)
		if lastErr == nil {
			break
		}
		s.logger.Warn("transfer attempt failed",
			slog.String("receipt", req.ReceiptID),
			slog.Int("attempt", attempts),
			slog.Any("error", lastErr))
		if attempts >= s.maxAttempts || !s.wait(ctx, time.Duration(attempts)*s.backoff) {
			break
		}
	}

	outcome := tipping.TransferOutcome{Delivered: lastErr == nil, Attempts: uint32(attempts)}
	if lastErr != nil {
		outcome.Reason = lastErr.Error()
	}
	s.settle(req, outcome)
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
