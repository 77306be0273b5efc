package tipping

// IndexManager maintains the append-only receiver, sender and track indices.
// Each list is stored as a length entry plus one entry per position so that an
// append touches two keys regardless of list size.
type IndexManager struct{}

// Append adds tipID to the end of the list stored at key.
func (IndexManager) Append(st ledgerState, kind IndexKind, key string, tipID uint64) error {
	var length uint64
	if _, err := st.KVGet(indexLenKey(kind, key), &length); err != nil {
		return err
	}
	if err := st.KVPut(indexEntryKey(kind, key, length), tipID); err != nil {
		return err
	}
	return st.KVPut(indexLenKey(kind, key), length+1)
}

// Lookup returns the ordered tip ids stored at key, or an empty list.
func (IndexManager) Lookup(st stateReader, kind IndexKind, key string) ([]uint64, error) {
	var length uint64
	if _, err := st.KVGet(indexLenKey(kind, key), &length); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, length)
	for i := uint64(0); i < length; i++ {
		var id uint64
		ok, err := st.KVGet(indexEntryKey(kind, key, i), &id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, internalError("%s index %q missing entry %d", kind, key, i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
