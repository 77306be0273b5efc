package tipping

type storedLabel struct {
	Percentage uint32
	Account    uint32
}

// setOwner interns owner and records it as the owner of track, replacing any
// previous owner.
func (s *session) setOwner(track TrackID, owner string) (AccountID, error) {
	ownerID, err := s.intern(owner)
	if err != nil {
		return 0, err
	}
	if err := s.state.KVPut(trackOwnerKey(track), uint32(ownerID)); err != nil {
		return 0, err
	}
	return ownerID, nil
}

// setLabel re-registers the owner and attaches the label fee to track.
func (s *session) setLabel(track TrackID, owner string, label string, percentage uint32) (AccountID, AccountID, error) {
	if percentage > percentDenominator {
		return 0, 0, newError(CodeInvalidPercentage, "label percentage %d outside [0,100]", percentage)
	}
	ownerID, err := s.setOwner(track, owner)
	if err != nil {
		return 0, 0, err
	}
	labelID, err := s.intern(label)
	if err != nil {
		return 0, 0, err
	}
	record := storedLabel{Percentage: percentage, Account: uint32(labelID)}
	if err := s.state.KVPut(trackLabelKey(track), &record); err != nil {
		return 0, 0, err
	}
	return ownerID, labelID, nil
}

func getOwner(st stateReader, track TrackID) (AccountID, bool, error) {
	var owner uint32
	ok, err := st.KVGet(trackOwnerKey(track), &owner)
	if err != nil || !ok {
		return 0, false, err
	}
	return AccountID(owner), true, nil
}

func getLabel(st stateReader, track TrackID) (*LabelFee, error) {
	var record storedLabel
	ok, err := st.KVGet(trackLabelKey(track), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &LabelFee{Percentage: record.Percentage, Account: AccountID(record.Account)}, nil
}
