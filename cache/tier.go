package cache

import (
	"encoding/binary"
	"time"
)

// Tier values carry the origin fetch time so that every process sharing
// the tier ages entries the same way.
const tierHeaderSize = 8

func encodeTierValue(fetchedAt time.Time, data []byte) []byte {
	out := make([]byte, tierHeaderSize+len(data))
	binary.BigEndian.PutUint64(out, uint64(fetchedAt.UnixNano()))
	copy(out[tierHeaderSize:], data)
	return out
}

func decodeTierValue(raw []byte) (time.Time, []byte, bool) {
	if len(raw) < tierHeaderSize {
		return time.Time{}, nil, false
	}
	nanos := int64(binary.BigEndian.Uint64(raw))
	return time.Unix(0, nanos), raw[tierHeaderSize:], true
}
