package tipping

import (
	"strconv"

	"tipledger/core/events"
	"tipledger/core/types"
)

const (
	// EventTypeTipRecorded is emitted when a tip commits.
	EventTypeTipRecorded = "tip.recorded"
	// EventTypeTrackRegistered is emitted when a track owner is (re)registered.
	EventTypeTrackRegistered = "track.registered"
	// EventTypeTrackLabel is emitted when a label fee is attached to a track.
	EventTypeTrackLabel = "track.label"
	// EventTypeMinimumTip is emitted when the operator changes the minimum tip.
	EventTypeMinimumTip = "tip.minimum"
	// EventTypeTransferScheduled is emitted for every receipt created by a tip.
	EventTypeTransferScheduled = "transfer.scheduled"
	// EventTypeTransferSettled is emitted once a transfer outcome is recorded.
	EventTypeTransferSettled = "transfer.settled"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// TipRecordedEvent describes a committed tip.
func TipRecordedEvent(view *TipView) *types.Event {
	attrs := map[string]string{
		"tipId":         strconv.FormatUint(view.ID, 10),
		"trackId":       view.TrackID,
		"owner":         view.OwnerAccount,
		"sender":        view.SenderAccount,
		"amount":        view.Amount,
		"platformShare": view.PlatformShare,
		"ownerShare":    view.OwnerShare,
		"created":       strconv.FormatUint(view.Created, 10),
	}
	if view.LabelAccount != "" {
		attrs["label"] = view.LabelAccount
		attrs["labelShare"] = view.LabelShare
	}
	return &types.Event{Type: EventTypeTipRecorded, Attributes: attrs}
}

// TrackRegisteredEvent describes an owner registration.
func TrackRegisteredEvent(track TrackID, owner string) *types.Event {
	return &types.Event{
		Type: EventTypeTrackRegistered,
		Attributes: map[string]string{
			"trackId": track.String(),
			"owner":   owner,
		},
	}
}

// TrackLabelEvent describes a label fee attachment.
func TrackLabelEvent(track TrackID, label string, percentage uint32) *types.Event {
	return &types.Event{
		Type: EventTypeTrackLabel,
		Attributes: map[string]string{
			"trackId":    track.String(),
			"label":      label,
			"percentage": strconv.FormatUint(uint64(percentage), 10),
		},
	}
}

// MinimumTipEvent describes a minimum tip change.
func MinimumTipEvent(amount string) *types.Event {
	return &types.Event{
		Type:       EventTypeMinimumTip,
		Attributes: map[string]string{"amount": amount},
	}
}

func transferAttributes(r *TransferReceipt) map[string]string {
	attrs := map[string]string{
		"id":          r.ID,
		"tipId":       strconv.FormatUint(r.TipID, 10),
		"kind":        string(r.Kind),
		"destination": r.Destination,
		"amount":      FormatAmount(r.Amount),
		"status":      string(r.Status),
		"attempts":    strconv.FormatUint(uint64(r.Attempts), 10),
	}
	if r.Reason != "" {
		attrs["reason"] = r.Reason
	}
	return attrs
}

// TransferScheduledEvent describes a newly created transfer receipt.
func TransferScheduledEvent(r *TransferReceipt) *types.Event {
	return &types.Event{Type: EventTypeTransferScheduled, Attributes: transferAttributes(r)}
}

// TransferSettledEvent describes the recorded outcome of a transfer.
func TransferSettledEvent(r *TransferReceipt) *types.Event {
	return &types.Event{Type: EventTypeTransferSettled, Attributes: transferAttributes(r)}
}
