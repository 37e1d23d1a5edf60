package cache

import "strconv"

// Key identifies one memoized computation. Keys are structured rather than
// concatenated strings so that values containing separator characters cannot
// collide.
type Key struct {
	Op         string `json:"op"`
	ObjectType string `json:"object_type,omitempty"`
	ObjectID   string `json:"object_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Filter     bool   `json:"filter,omitempty"`
}

// String serializes the key deterministically. Each field is quoted so
// embedded separators cannot produce the same serialization for two
// different keys.
func (k Key) String() string {
	return strconv.Quote(k.Op) + ":" +
		strconv.Quote(k.ObjectType) + ":" +
		strconv.Quote(k.ObjectID) + ":" +
		strconv.Quote(k.Subject) + ":" +
		strconv.FormatBool(k.Filter)
}

// Provider is the cache collaborator consumed by the access core. Entries
// have no TTL; invalidation is write-triggered only, so implementations must
// make Flush effective immediately.
type Provider interface {
	// Get returns the cached value for key, if present.
	Get(key Key) (interface{}, bool)
	// Add stores value under key, overwriting any previous entry.
	Add(key Key, value interface{})
	// Delete removes a single entry.
	Delete(key Key)
	// Flush removes every entry.
	Flush()
}
