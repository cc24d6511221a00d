package rfc9211

import (
	"fmt"
	"strings"
)

// §  2. The Cache-Status HTTP Response Header Field
// §
// §  The Cache-Status HTTP response header field indicates caches' handling of the
// §  request corresponding to the response it occurs within.

// CacheName is the identifier used as the list member name.
const CacheName = "WP-Cache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

// §  2.2. The fwd parameter
type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics (e.g., Cache-Control request
	// directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Stored is set when the response was stored by the cache.
	Stored bool
	// TimeToLive is the remaining freshness lifetime in seconds, 0 if unknown.
	TimeToLive int
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// String returns the header field value, e.g. `WP-Cache; fwd=uri-miss; stored`.
func (cs CacheStatus) String() string {
	params := []string{CacheName}
	switch cs.Status {
	case StatusHit:
		params = append(params, "hit")
	case StatusFwd:
		if cs.FwdReason != "" {
			params = append(params, "fwd="+string(cs.FwdReason))
		} else {
			params = append(params, "fwd="+string(FwdReasonMiss))
		}
	}
	if cs.TimeToLive > 0 {
		params = append(params, fmt.Sprintf("ttl=%d", cs.TimeToLive))
	}
	if cs.Stored {
		params = append(params, "stored")
	}
	return strings.Join(params, "; ")
}
