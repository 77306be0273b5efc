package tipping

import (
	"math/big"
	"strconv"
)

// QueryService serves read-only listings and aggregates. It never allocates
// account ids: unknown accounts and tracks yield empty results.
type QueryService struct {
	engine *Engine
}

// Queries returns the read side of the ledger.
func (e *Engine) Queries() *QueryService { return &QueryService{engine: e} }

func accountIndexKey(id AccountID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (q *QueryService) reader() (stateReader, func(), error) {
	q.engine.mu.RLock()
	if q.engine.state == nil {
		q.engine.mu.RUnlock()
		return nil, nil, errNilState
	}
	return q.engine.state, q.engine.mu.RUnlock, nil
}

// indexKey maps an external key to the stored index key. The boolean is false
// when the key can never have been indexed.
func indexKey(st stateReader, kind IndexKind, key string) (string, bool, error) {
	switch kind {
	case IndexTrack:
		track, err := ParseTrackID(key)
		if err != nil {
			return "", false, err
		}
		return track.String(), true, nil
	case IndexSender, IndexReceiver:
		id, ok, err := lookupAccount(st, key)
		if err != nil || !ok {
			return "", false, err
		}
		return accountIndexKey(id), true, nil
	default:
		return "", false, newError(CodeInvalidArgument, "unknown index kind %d", kind)
	}
}

func (q *QueryService) tipIDs(st stateReader, kind IndexKind, key string) ([]uint64, error) {
	stored, ok, err := indexKey(st, kind, key)
	if err != nil || !ok {
		return nil, err
	}
	return q.engine.index.Lookup(st, kind, stored)
}

func loadTip(st stateReader, id uint64) (*Tip, error) {
	tip := new(Tip)
	ok, err := st.KVGet(tipKey(id), tip)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, internalError("indexed tip %d missing from ledger", id)
	}
	return tip, nil
}

// List returns the resolved tips referenced by key in the chosen index, in the
// order they were recorded.
func (q *QueryService) List(kind IndexKind, key string) ([]TipView, error) {
	st, release, err := q.reader()
	if err != nil {
		return nil, err
	}
	defer release()
	ids, err := q.tipIDs(st, kind, key)
	if err != nil {
		return nil, err
	}
	views := make([]TipView, 0, len(ids))
	for _, id := range ids {
		tip, err := loadTip(st, id)
		if err != nil {
			return nil, err
		}
		view, err := resolveTip(st, tip)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// Totals sums the amounts of every tip referenced by key in the chosen index.
func (q *QueryService) Totals(kind IndexKind, key string) (Totals, error) {
	totals := Totals{Total: big.NewInt(0)}
	st, release, err := q.reader()
	if err != nil {
		return totals, err
	}
	defer release()
	ids, err := q.tipIDs(st, kind, key)
	if err != nil {
		return totals, err
	}
	for _, id := range ids {
		tip, err := loadTip(st, id)
		if err != nil {
			return Totals{Total: big.NewInt(0)}, err
		}
		totals.Count++
		totals.Total.Add(totals.Total, cloneAmount(tip.Amount))
	}
	return totals, nil
}

func (q *QueryService) TipsForTrack(trackID string) ([]TipView, error) {
	return q.List(IndexTrack, trackID)
}

func (q *QueryService) TipsForSender(account string) ([]TipView, error) {
	return q.List(IndexSender, account)
}

func (q *QueryService) TipsForReceiver(account string) ([]TipView, error) {
	return q.List(IndexReceiver, account)
}

func (q *QueryService) TotalsForTrack(trackID string) (Totals, error) {
	return q.Totals(IndexTrack, trackID)
}

func (q *QueryService) TotalsForSender(account string) (Totals, error) {
	return q.Totals(IndexSender, account)
}

func (q *QueryService) TotalsForReceiver(account string) (Totals, error) {
	return q.Totals(IndexReceiver, account)
}

// AccountID returns the interned id of account without allocating one.
func (q *QueryService) AccountID(account string) (AccountID, bool, error) {
	st, release, err := q.reader()
	if err != nil {
		return 0, false, err
	}
	defer release()
	return lookupAccount(st, account)
}

// TrackOwner returns the external account owning trackID.
func (q *QueryService) TrackOwner(trackID string) (string, bool, error) {
	track, err := ParseTrackID(trackID)
	if err != nil {
		return "", false, err
	}
	st, release, err := q.reader()
	if err != nil {
		return "", false, err
	}
	defer release()
	owner, ok, err := getOwner(st, track)
	if err != nil || !ok {
		return "", false, err
	}
	name, err := mustResolveAccount(st, owner)
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// TrackLabel returns the label fee attached to trackID, if any.
func (q *QueryService) TrackLabel(trackID string) (*LabelFee, string, error) {
	track, err := ParseTrackID(trackID)
	if err != nil {
		return nil, "", err
	}
	st, release, err := q.reader()
	if err != nil {
		return nil, "", err
	}
	defer release()
	label, err := getLabel(st, track)
	if err != nil || label == nil {
		return nil, "", err
	}
	name, err := mustResolveAccount(st, label.Account)
	if err != nil {
		return nil, "", err
	}
	return label, name, nil
}

// Tip returns a single resolved tip.
func (q *QueryService) Tip(id uint64) (*TipView, bool, error) {
	st, release, err := q.reader()
	if err != nil {
		return nil, false, err
	}
	defer release()
	tip := new(Tip)
	ok, err := st.KVGet(tipKey(id), tip)
	if err != nil || !ok {
		return nil, false, err
	}
	view, err := resolveTip(st, tip)
	if err != nil {
		return nil, false, err
	}
	return view, true, nil
}

// Transfers lists the receipts created for tipID in scheduling order.
func (q *QueryService) Transfers(tipID uint64) ([]TransferReceipt, error) {
	st, release, err := q.reader()
	if err != nil {
		return nil, err
	}
	defer release()
	return tipReceipts(st, tipID)
}

func tipReceipts(st stateReader, tipID uint64) ([]TransferReceipt, error) {
	var ids []string
	if _, err := st.KVGet(tipTransfersKey(tipID), &ids); err != nil {
		return nil, err
	}
	receipts := make([]TransferReceipt, 0, len(ids))
	for _, id := range ids {
		var stored storedReceipt
		ok, err := st.KVGet(transferKey(id), &stored)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, internalError("transfer %q missing for tip %d", id, tipID)
		}
		receipts = append(receipts, *stored.receipt())
	}
	return receipts, nil
}

// PendingTransfers lists every receipt still awaiting an outcome, in tip order.
func (q *QueryService) PendingTransfers() ([]TransferReceipt, error) {
	st, release, err := q.reader()
	if err != nil {
		return nil, err
	}
	defer release()
	return scheduledReceipts(st)
}

func scheduledReceipts(st stateReader) ([]TransferReceipt, error) {
	var counters Counters
	if _, err := st.KVGet(countersKey, &counters); err != nil {
		return nil, err
	}
	var pending []TransferReceipt
	for id := uint64(1); id <= counters.TipCount; id++ {
		receipts, err := tipReceipts(st, id)
		if err != nil {
			return nil, err
		}
		for _, r := range receipts {
			if r.Status == TransferScheduled {
				pending = append(pending, r)
			}
		}
	}
	return pending, nil
}

// Transfer returns a single receipt.
func (q *QueryService) Transfer(id string) (*TransferReceipt, bool, error) {
	st, release, err := q.reader()
	if err != nil {
		return nil, false, err
	}
	defer release()
	var stored storedReceipt
	ok, err := st.KVGet(transferKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.receipt(), true, nil
}

// Counters returns the committed ledger counters.
func (q *QueryService) Counters() (Counters, error) {
	var counters Counters
	st, release, err := q.reader()
	if err != nil {
		return counters, err
	}
	defer release()
	_, err = st.KVGet(countersKey, &counters)
	return counters, err
}

// Export walks every committed tip in id order.
func (q *QueryService) Export(fn func(ExportRow) error) error {
	st, release, err := q.reader()
	if err != nil {
		return err
	}
	defer release()
	var counters Counters
	if _, err := st.KVGet(countersKey, &counters); err != nil {
		return err
	}
	for id := uint64(1); id <= counters.TipCount; id++ {
		tip, err := loadTip(st, id)
		if err != nil {
			return err
		}
		view, err := resolveTip(st, tip)
		if err != nil {
			return err
		}
		row := ExportRow{
			TipID:         view.ID,
			TrackID:       view.TrackID,
			Receiver:      view.OwnerAccount,
			Sender:        view.SenderAccount,
			Label:         view.LabelAccount,
			Amount:        view.Amount,
			PlatformShare: view.PlatformShare,
			LabelShare:    FormatAmount(tip.LabelShare),
			OwnerShare:    view.OwnerShare,
			CreatedAt:     view.Created,
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}
