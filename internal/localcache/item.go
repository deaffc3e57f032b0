package localcache

import "time"

// item is a single entry stored inside the Cache map. Each key maps to an
// item rather than directly to its bytes, so the cache can associate
// expiration metadata with each stored value.
//
// expiration is stored as UnixNano rather than time.Time for the same
// reason the teacher cache used it: fast numeric comparison and no extra
// struct overhead on the hot Get/Set path.
type item struct {
	key        string
	value      []byte
	expiration int64 // UnixNano; 0 means no expiry
}

func (i *item) expired() bool {
	if i.expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > i.expiration
}
