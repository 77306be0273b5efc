package tipping

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tipledger/core/events"
	"tipledger/core/types"
)

const (
	// DefaultOperator is the privileged account allowed to register tracks.
	DefaultOperator = "backend.tamago.testnet"
	// DefaultPlatformAccount receives the platform fee.
	DefaultPlatformAccount = "tip.tamago.testnet"
	// DefaultPlatformPercent is the platform fee taken from every tip.
	DefaultPlatformPercent uint32 = 3
	// DefaultMinimumTip is 0.05 of a 10^24 base unit.
	DefaultMinimumTip = "50000000000000000000000"
)

type stateReader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVHas(key []byte) (bool, error)
}

type ledgerState interface {
	stateReader
	KVPut(key []byte, value interface{}) error
	Commit() error
	Discard()
}

// TransferScheduler is the fire-and-forget value-transfer capability. Schedule
// must not block; it reports false when the request could not be queued.
type TransferScheduler interface {
	Schedule(req TransferRequest) bool
}

// Config carries the ledger constants.
type Config struct {
	Operator        string
	PlatformAccount string
	PlatformPercent uint32
	MinimumTip      *big.Int
}

// DefaultConfig returns the stock ledger constants.
func DefaultConfig() Config {
	minimum, _ := new(big.Int).SetString(DefaultMinimumTip, 10)
	return Config{
		Operator:        DefaultOperator,
		PlatformAccount: DefaultPlatformAccount,
		PlatformPercent: DefaultPlatformPercent,
		MinimumTip:      minimum,
	}
}

// Engine is the tip ledger. Write calls are serialized and either commit all of
// their staged mutations or none of them; reads may run concurrently with each
// other but never observe a write in progress.
type Engine struct {
	mu        sync.RWMutex
	state     ledgerState
	cfg       Config
	emitter   events.Emitter
	scheduler TransferScheduler
	logger    *slog.Logger
	nowFn     func() int64
	newID     func() string
	index     IndexManager
}

// NewEngine constructs a tipping engine with default dependencies.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.Operator = strings.TrimSpace(cfg.Operator)
	cfg.PlatformAccount = strings.TrimSpace(cfg.PlatformAccount)
	if cfg.Operator == "" {
		return nil, newError(CodeInvalidArgument, "operator account required")
	}
	if cfg.PlatformAccount == "" {
		return nil, newError(CodeInvalidArgument, "platform account required")
	}
	if cfg.PlatformPercent > percentDenominator {
		return nil, newError(CodeInvalidPercentage, "platform percentage %d outside [0,100]", cfg.PlatformPercent)
	}
	if cfg.MinimumTip == nil {
		cfg.MinimumTip = DefaultConfig().MinimumTip
	}
	if cfg.MinimumTip.Sign() < 0 {
		return nil, newError(CodeInvalidArgument, "minimum tip must not be negative")
	}
	cfg.MinimumTip = cloneAmount(cfg.MinimumTip)
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn: func() int64 {
			return time.Now().Unix()
		},
		newID: uuid.NewString,
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTransferScheduler configures where value transfers are handed off after
// commit. Without one, receipts stay in the scheduled state.
func (e *Engine) SetTransferScheduler(s TransferScheduler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduler = s
}

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Config returns the ledger constants in use.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.MinimumTip = cloneAmount(e.cfg.MinimumTip)
	return cfg
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(evt *types.Event) {
	if evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

// session carries the scratch state of one write call.
type session struct {
	state    ledgerState
	counters Counters
	loaded   Counters
	events   []*types.Event
}

func (s *session) emit(evt *types.Event) { s.events = append(s.events, evt) }

// write runs fn against a fresh session and commits its staged writes when fn
// succeeds. Any failure discards everything fn staged. Events are emitted only
// after a successful commit. Callers must hold e.mu for writing.
func (e *Engine) write(fn func(*session) error) error {
	if e.state == nil {
		return errNilState
	}
	s := &session{state: e.state}
	if _, err := e.state.KVGet(countersKey, &s.counters); err != nil {
		e.state.Discard()
		return fmt.Errorf("tipping: load counters: %w", err)
	}
	s.loaded = s.counters
	if err := fn(s); err != nil {
		e.state.Discard()
		return err
	}
	if s.counters != s.loaded {
		if err := e.state.KVPut(countersKey, &s.counters); err != nil {
			e.state.Discard()
			return fmt.Errorf("tipping: store counters: %w", err)
		}
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return fmt.Errorf("tipping: commit: %w", err)
	}
	for _, evt := range s.events {
		e.emit(evt)
	}
	return nil
}

func (e *Engine) authorize(caller string) error {
	if caller != e.cfg.Operator {
		return newError(CodeUnauthorized, "caller %q is not the operator", caller)
	}
	return nil
}

func (e *Engine) minimumTip(st stateReader) (*big.Int, error) {
	stored := new(big.Int)
	ok, err := st.KVGet(minimumTipKey, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return cloneAmount(e.cfg.MinimumTip), nil
	}
	return stored, nil
}

// SetMinimumTip replaces the minimum deposit accepted by RecordTip.
func (e *Engine) SetMinimumTip(caller string, amount string) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	value, err := ParseAmount(amount)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.write(func(s *session) error {
		if err := s.state.KVPut(minimumTipKey, value); err != nil {
			return err
		}
		s.emit(MinimumTipEvent(value.String()))
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("minimum tip updated", slog.String("amount", value.String()))
	return nil
}

// MinimumTip returns the minimum deposit currently enforced.
func (e *Engine) MinimumTip() (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.minimumTip(e.state)
}

// RegisterTrack records owner as the owner of trackID, replacing any previous
// owner. An attached label is kept.
func (e *Engine) RegisterTrack(caller string, trackID string, owner string) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	track, err := ParseTrackID(trackID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.write(func(s *session) error {
		if _, err := s.setOwner(track, owner); err != nil {
			return err
		}
		s.emit(TrackRegisteredEvent(track, owner))
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("track registered", slog.String("trackId", track.String()), slog.String("owner", owner))
	return nil
}

// RegisterTrackWithLabel registers owner and attaches a label receiving
// percentage of the post-fee remainder of every tip on trackID.
func (e *Engine) RegisterTrackWithLabel(caller string, trackID string, owner string, label string, percentage uint32) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	track, err := ParseTrackID(trackID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.write(func(s *session) error {
		if _, _, err := s.setLabel(track, owner, label, percentage); err != nil {
			return err
		}
		s.emit(TrackRegisteredEvent(track, owner))
		s.emit(TrackLabelEvent(track, label, percentage))
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("track label registered",
		slog.String("trackId", track.String()),
		slog.String("label", label),
		slog.Uint64("percentage", uint64(percentage)))
	return nil
}

// RecordTip records a tip of deposit from caller to the owner of trackID and
// schedules the resulting value transfers. MIN_TIP and NO_OWNER rejections
// leave state untouched.
func (e *Engine) RecordTip(caller string, trackID string, deposit *big.Int) (*TipView, error) {
	track, err := ParseTrackID(trackID)
	if err != nil {
		return nil, err
	}
	if deposit == nil || deposit.Sign() < 0 {
		return nil, newError(CodeInvalidArgument, "deposit must be a non-negative amount")
	}
	if deposit.BitLen() > maxAmountBits {
		return nil, newError(CodeInvalidArgument, "deposit exceeds %d bits", maxAmountBits)
	}
	amount := cloneAmount(deposit)

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		view     *TipView
		requests []TransferRequest
	)
	err = e.write(func(s *session) error {
		minimum, err := e.minimumTip(s.state)
		if err != nil {
			return err
		}
		if amount.Cmp(minimum) < 0 {
			return newError(CodeMinTip, "deposit %s below minimum tip %s", amount, minimum)
		}
		owner, ok, err := getOwner(s.state, track)
		if err != nil {
			return err
		}
		if !ok {
			return newError(CodeNoOwner, "track %s has no registered owner", track)
		}
		sender, err := s.intern(caller)
		if err != nil {
			return err
		}
		label, err := getLabel(s.state, track)
		if err != nil {
			return err
		}
		shares := Split(amount, e.cfg.PlatformPercent, label)
		if shares.Total().Cmp(amount) != 0 {
			return internalError("split of %s does not conserve amount", amount)
		}

		s.counters.TipCount++
		tip := &Tip{
			ID:            s.counters.TipCount,
			TrackID:       track,
			Receiver:      owner,
			Sender:        sender,
			Amount:        amount,
			PlatformShare: shares.Platform,
			LabelShare:    shares.Label,
			OwnerShare:    shares.Owner,
			CreatedAt:     e.now(),
		}
		if label != nil {
			tip.Label = label.Account
		}
		if err := s.state.KVPut(tipKey(tip.ID), tip); err != nil {
			return err
		}
		if err := e.indexTip(s.state, tip); err != nil {
			return err
		}
		view, err = resolveTip(s.state, tip)
		if err != nil {
			return err
		}
		requests, err = e.stageTransfers(s, tip, view)
		if err != nil {
			return err
		}
		s.emit(TipRecordedEvent(view))
		return nil
	})
	if err != nil {
		if IsRejection(err) {
			e.logger.Debug("tip rejected",
				slog.String("trackId", track.String()),
				slog.String("caller", caller),
				slog.String("code", string(CodeOf(err))))
		} else if CodeOf(err) == CodeInternal {
			e.logger.Error("tip failed", slog.String("trackId", track.String()), slog.Any("error", err))
		}
		return nil, err
	}
	e.logger.Info("tip recorded",
		slog.Uint64("tipId", view.ID),
		slog.String("trackId", view.TrackID),
		slog.String("sender", view.SenderAccount),
		slog.String("amount", view.Amount))
	e.dispatch(requests)
	return view, nil
}

func (e *Engine) indexTip(st ledgerState, tip *Tip) error {
	if err := e.index.Append(st, IndexReceiver, accountIndexKey(tip.Receiver), tip.ID); err != nil {
		return err
	}
	if err := e.index.Append(st, IndexSender, accountIndexKey(tip.Sender), tip.ID); err != nil {
		return err
	}
	return e.index.Append(st, IndexTrack, tip.TrackID.String(), tip.ID)
}

func resolveTip(st stateReader, tip *Tip) (*TipView, error) {
	owner, err := mustResolveAccount(st, tip.Receiver)
	if err != nil {
		return nil, err
	}
	sender, err := mustResolveAccount(st, tip.Sender)
	if err != nil {
		return nil, err
	}
	view := &TipView{
		ID:            tip.ID,
		TrackID:       tip.TrackID.String(),
		OwnerAccount:  owner,
		SenderAccount: sender,
		Amount:        FormatAmount(tip.Amount),
		PlatformShare: FormatAmount(tip.PlatformShare),
		OwnerShare:    FormatAmount(tip.OwnerShare),
		Created:       tip.CreatedAt,
	}
	if tip.Label != 0 {
		label, err := mustResolveAccount(st, tip.Label)
		if err != nil {
			return nil, err
		}
		view.LabelAccount = label
		view.LabelShare = FormatAmount(tip.LabelShare)
	}
	return view, nil
}
