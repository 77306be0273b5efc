package tipping

import (
	"math"
	"strings"
)

// intern returns the id of account, allocating the next dense id on first
// sight. Identifiers are opaque and stored byte for byte. The allocation is
// staged on the session and only counted once the call commits.
func (s *session) intern(account string) (AccountID, error) {
	if strings.TrimSpace(account) == "" {
		return 0, newError(CodeInvalidArgument, "account required")
	}
	id, ok, err := lookupAccount(s.state, account)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	if s.counters.UserCount == math.MaxUint32 {
		return 0, internalError("account id space exhausted")
	}
	next := AccountID(s.counters.UserCount + 1)
	if err := s.state.KVPut(accountIDKey(account), uint32(next)); err != nil {
		return 0, err
	}
	if err := s.state.KVPut(accountNameKey(next), account); err != nil {
		return 0, err
	}
	s.counters.UserCount++
	return next, nil
}

// lookupAccount resolves an external account without allocating an id.
func lookupAccount(st stateReader, account string) (AccountID, bool, error) {
	if strings.TrimSpace(account) == "" {
		return 0, false, nil
	}
	var id uint32
	ok, err := st.KVGet(accountIDKey(account), &id)
	if err != nil || !ok {
		return 0, false, err
	}
	return AccountID(id), true, nil
}

// resolveAccount maps an allocated id back to its external identifier.
func resolveAccount(st stateReader, id AccountID) (string, bool, error) {
	if id == 0 {
		return "", false, nil
	}
	var name string
	ok, err := st.KVGet(accountNameKey(id), &name)
	if err != nil || !ok {
		return "", false, err
	}
	return name, true, nil
}

func mustResolveAccount(st stateReader, id AccountID) (string, error) {
	name, ok, err := resolveAccount(st, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", internalError("account id %d has no registered identifier", id)
	}
	return name, nil
}
