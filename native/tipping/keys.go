package tipping

import (
	"strconv"
)

var (
	countersKey   = []byte("tipping/counters")
	minimumTipKey = []byte("tipping/minimum-tip")

	accountIDPrefix    = "tipping/account/id/"
	accountNamePrefix  = "tipping/account/name/"
	trackOwnerPrefix   = "tipping/track/owner/"
	trackLabelPrefix   = "tipping/track/label/"
	tipPrefix          = "tipping/tip/"
	tipTransfersPrefix = "tipping/tip/transfers/"
	transferPrefix     = "tipping/transfer/"
	indexPrefix        = "tipping/index/"
)

// segment length-prefixes free-form input so that account identifiers
// containing separators can never collide with another key.
func segment(s string) string {
	return strconv.Itoa(len(s)) + ":" + s
}

func accountIDKey(account string) []byte {
	return []byte(accountIDPrefix + segment(account))
}

func accountNameKey(id AccountID) []byte {
	return []byte(accountNamePrefix + strconv.FormatUint(uint64(id), 10))
}

func trackOwnerKey(id TrackID) []byte {
	return []byte(trackOwnerPrefix + id.String())
}

func trackLabelKey(id TrackID) []byte {
	return []byte(trackLabelPrefix + id.String())
}

func tipKey(id uint64) []byte {
	return []byte(tipPrefix + strconv.FormatUint(id, 10))
}

func tipTransfersKey(id uint64) []byte {
	return []byte(tipTransfersPrefix + strconv.FormatUint(id, 10))
}

func transferKey(id string) []byte {
	return []byte(transferPrefix + segment(id))
}

func indexLenKey(kind IndexKind, key string) []byte {
	return []byte(indexPrefix + kind.String() + "/" + segment(key) + "/len")
}

func indexEntryKey(kind IndexKind, key string, n uint64) []byte {
	return []byte(indexPrefix + kind.String() + "/" + segment(key) + "/" + strconv.FormatUint(n, 10))
}
