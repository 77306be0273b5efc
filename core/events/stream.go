package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"tipledger/core/types"
)

const (
	defaultHistoryLimit = 2048
	subscriberBuffer    = 32
)

// Update is a sequenced event delivered to stream subscribers.
type Update struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

// Stream retains a bounded history of emitted events and fans them out to
// subscribers. Slow subscribers drop updates rather than block the emitter.
type Stream struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	nextID  uint64
	history []Update
	subs    map[uint64]chan Update
}

// NewStream creates a stream retaining up to limit updates for replay.
func NewStream(limit int) *Stream {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Stream{limit: limit, subs: make(map[uint64]chan Update)}
}

// Emit implements Emitter. Events that cannot render a payload are ignored.
func (s *Stream) Emit(evt Event) {
	if s == nil || evt == nil {
		return
	}
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	update := Update{Sequence: s.seq, Cursor: strconv.FormatUint(s.seq, 10), Event: rendered.Clone()}
	s.history = append(s.history, update)
	if len(s.history) > s.limit {
		excess := len(s.history) - s.limit
		trimmed := make([]Update, s.limit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	for _, ch := range s.subs {
		select {
		case ch <- cloneUpdate(update):
		default:
		}
	}
}

// Subscribe registers a subscriber for updates after cursor. The backlog holds
// retained updates newer than cursor; an empty cursor replays the retained
// history. The returned cancel func is safe to call more than once.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update) {
	updates := make(chan Update, subscriberBuffer)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]Update, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func cloneUpdate(u Update) Update {
	u.Event = u.Event.Clone()
	return u
}
