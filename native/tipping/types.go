package tipping

import (
	"encoding/json"
	"math/big"
	"strconv"
)

// AccountID is the compact integer assigned to an external account identifier.
// Ids start at 1 and are never reused; zero means "no account".
type AccountID uint32

// TrackID identifies a registered content item.
type TrackID uint32

// String renders the decimal form used on the wire.
func (id TrackID) String() string { return strconv.FormatUint(uint64(id), 10) }

// IndexKind selects one of the three secondary tip indices.
type IndexKind uint8

const (
	IndexReceiver IndexKind = iota + 1
	IndexSender
	IndexTrack
)

func (k IndexKind) String() string {
	switch k {
	case IndexReceiver:
		return "receiver"
	case IndexSender:
		return "sender"
	case IndexTrack:
		return "track"
	default:
		return "unknown"
	}
}

// LabelFee attaches a secondary rights-holder to a track. Percentage applies
// to the remainder after the platform fee.
type LabelFee struct {
	Percentage uint32
	Account    AccountID
}

// Counters is the ledger-wide aggregate of monotonic counters. It is loaded at
// the start of every write call and persisted only on the commit path.
type Counters struct {
	TipCount  uint64
	UserCount uint32
}

// Tip is the immutable stored record of a committed tip, including the split
// computed at commit time.
type Tip struct {
	ID            uint64
	TrackID       TrackID
	Receiver      AccountID
	Sender        AccountID
	Label         AccountID
	Amount        *big.Int
	PlatformShare *big.Int
	LabelShare    *big.Int
	OwnerShare    *big.Int
	CreatedAt     uint64
}

// TipView is the resolved, human-readable form of a tip returned to callers.
type TipView struct {
	ID            uint64 `json:"id"`
	TrackID       string `json:"trackId"`
	OwnerAccount  string `json:"ownerAccount"`
	SenderAccount string `json:"senderAccount"`
	LabelAccount  string `json:"labelAccount,omitempty"`
	Amount        string `json:"amount"`
	PlatformShare string `json:"platformShare"`
	LabelShare    string `json:"labelShare,omitempty"`
	OwnerShare    string `json:"ownerShare"`
	Created       uint64 `json:"created"`
}

// Totals aggregates the tips referenced by one index key.
type Totals struct {
	Count uint64
	Total *big.Int
}

// MarshalJSON renders the total as a decimal string so large amounts survive
// JSON number handling in clients.
func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Count uint64 `json:"count"`
		Total string `json:"total"`
	}{Count: t.Count, Total: FormatAmount(t.Total)})
}

// TransferKind names the recipient role of a scheduled value transfer.
type TransferKind string

const (
	TransferOwner    TransferKind = "owner"
	TransferLabel    TransferKind = "label"
	TransferPlatform TransferKind = "platform"
)

// TransferStatus tracks the two-phase lifecycle of a transfer receipt.
type TransferStatus string

const (
	TransferScheduled TransferStatus = "scheduled"
	TransferConfirmed TransferStatus = "confirmed"
	TransferFailed    TransferStatus = "failed"
)

// TransferReceipt records a value transfer requested for a committed tip and
// the outcome reported by the transfer capability.
type TransferReceipt struct {
	ID          string         `json:"id"`
	TipID       uint64         `json:"tipId"`
	Kind        TransferKind   `json:"kind"`
	Destination string         `json:"destination"`
	Amount      *big.Int       `json:"-"`
	Status      TransferStatus `json:"status"`
	Attempts    uint32         `json:"attempts"`
	Reason      string         `json:"reason,omitempty"`
	UpdatedAt   uint64         `json:"updatedAt"`
}

// MarshalJSON includes the amount as a decimal string.
func (r TransferReceipt) MarshalJSON() ([]byte, error) {
	type alias TransferReceipt
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{alias: alias(r), Amount: FormatAmount(r.Amount)})
}

// TransferRequest is handed to the transfer capability after commit.
type TransferRequest struct {
	ReceiptID   string
	TipID       uint64
	Kind        TransferKind
	Destination string
	Amount      *big.Int
}

// TransferOutcome is reported back by the transfer capability.
type TransferOutcome struct {
	Delivered bool
	Attempts  uint32
	Reason    string
}

// ExportRow is one flattened tip used by offline exports.
type ExportRow struct {
	TipID         uint64
	TrackID       string
	Receiver      string
	Sender        string
	Label         string
	Amount        string
	PlatformShare string
	LabelShare    string
	OwnerShare    string
	CreatedAt     uint64
}
