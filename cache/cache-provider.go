package cache

import (
	"errors"
	"time"
)

// CacheProvider stores serialized HTTP responses under string keys.
// Keys start with an origin- and method-specific prefix, which is how
// all variants of a request are found.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// All returns all cache entries that have the specific key prefix.
	All(prefix string) ([]CacheEntry, error)
	// Put stores the entry, replacing any entry with the same key.
	Put(ce CacheEntry) error
	// Oldest returns the key and expiration time of the entry with the earliest expiration
	// among those with the prefix. It does not return entries where the expiry is zero.
	// ErrNotFound is returned if there is no such entry.
	Oldest(prefix string) (string, time.Time, error)
	// Purge removes the cache entry for the given key.
	Purge(key string) error
}

// ErrNotFound is returned by Oldest when no entry qualifies.
var ErrNotFound = errors.New("cache: no entry found")

type CacheEntry struct {
	Key string
	// Expires is when the entry stops being usable. Zero means never.
	Expires time.Time
	// ReceivedAt is when the response was received from the origin.
	ReceivedAt time.Time
	// Bytes is the HTTP/1.1 representation of the response.
	Bytes []byte
}

// Expired reports whether the entry has expired at the given time.
func (ce CacheEntry) Expired(now time.Time) bool {
	return !ce.Expires.IsZero() && !now.Before(ce.Expires)
}
