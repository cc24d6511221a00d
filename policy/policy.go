// Package policy holds the response caching decisions for a caching middleware.
//
// A middleware asks a Policy at fixed checkpoints of its pipeline:
// AttemptResponseCaching and AllowCacheLookup before looking for a stored response,
// IsCachedEntryFresh for every stored response it finds,
// and AllowCacheStorage and IsResponseCacheable once the origin has responded.
// Storage, keys and serving belong to the middleware.
package policy

import (
	"net/http"
	"time"
)

// Context is the per-exchange view a middleware hands to a Policy.
// It is owned by the caller. A policy only ever writes the
// Cache-Control field of Response, in IsResponseCacheable.
type Context struct {
	// Request is the incoming client request.
	Request *http.Request
	// Response is the origin response, nil until the origin has responded.
	Response *http.Response
	// ResponseTime is the time the middleware is responding, on the wall clock.
	ResponseTime time.Time
	// CachedEntryAge is how long the candidate stored response has existed.
	CachedEntryAge time.Duration
}

// Policy is the set of checkpoints a caching middleware consults.
// Implementations must be safe for concurrent use.
type Policy interface {
	// AllowCacheLookup reports whether the middleware may look for a stored response.
	AllowCacheLookup(ctx *Context) bool
	// AllowCacheStorage reports whether the response to this request may be stored.
	AllowCacheStorage(ctx *Context) bool
	// AttemptResponseCaching reports whether the request takes part in caching at all.
	AttemptResponseCaching(ctx *Context) bool
	// IsCachedEntryFresh reports whether the candidate stored response may be served.
	IsCachedEntryFresh(ctx *Context) bool
	// IsResponseCacheable reports whether the origin response may be cached.
	// It may rewrite the response headers, which the caller must send and store.
	IsResponseCacheable(ctx *Context) bool
}

// Subscriber registers callbacks for named events.
type Subscriber interface {
	Subscribe(event string, fn func())
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(event string, fn func())

func (f SubscriberFunc) Subscribe(event string, fn func()) {
	f(event, fn)
}
