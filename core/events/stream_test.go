package events

import (
	"context"
	"testing"
	"time"

	"tipledger/core/types"
)

type testEvent struct {
	kind  string
	attrs map[string]string
}

func (e testEvent) EventType() string { return e.kind }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.kind, Attributes: e.attrs}
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestStreamReplaysBacklogAfterCursor(t *testing.T) {
	stream := NewStream(4)
	for i := 0; i < 6; i++ {
		stream.Emit(testEvent{kind: "tip.recorded", attrs: map[string]string{"n": string(rune('a' + i))}})
	}
	_, cancel, backlog := stream.Subscribe(context.Background(), "")
	defer cancel()
	if len(backlog) != 4 {
		t.Fatalf("expected history trimmed to 4, got %d", len(backlog))
	}
	if backlog[0].Sequence != 3 {
		t.Fatalf("expected oldest retained sequence 3, got %d", backlog[0].Sequence)
	}

	_, cancel2, backlog2 := stream.Subscribe(context.Background(), "5")
	defer cancel2()
	if len(backlog2) != 1 || backlog2[0].Cursor != "6" {
		t.Fatalf("unexpected backlog after cursor 5: %+v", backlog2)
	}
}

func TestStreamDeliversLiveUpdates(t *testing.T) {
	stream := NewStream(0)
	updates, cancel, backlog := stream.Subscribe(context.Background(), "")
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog")
	}
	stream.Emit(testEvent{kind: "track.registered", attrs: map[string]string{"trackId": "1"}})
	stream.Emit(bareEvent{})

	select {
	case update := <-updates:
		if update.Event.Type != "track.registered" || update.Event.Attributes["trackId"] != "1" {
			t.Fatalf("unexpected update %+v", update.Event)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for update")
	}
	select {
	case update := <-updates:
		t.Fatalf("event without payload should be skipped, got %+v", update)
	default:
	}
}

func TestStreamCancelOnContextDone(t *testing.T) {
	stream := NewStream(8)
	ctx, stop := context.WithCancel(context.Background())
	updates, _, _ := stream.Subscribe(ctx, "")
	stop()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not cancelled")
	}
	if stream.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
	stream.Emit(testEvent{kind: "tip.recorded"})
}

func TestMultiEmitter(t *testing.T) {
	a := NewStream(8)
	b := NewStream(8)
	MultiEmitter{a, nil, b}.Emit(testEvent{kind: "tip.minimum"})
	_, c1, ba := a.Subscribe(context.Background(), "")
	_, c2, bb := b.Subscribe(context.Background(), "")
	defer c1()
	defer c2()
	if len(ba) != 1 || len(bb) != 1 {
		t.Fatalf("expected both streams to receive the event")
	}
}
