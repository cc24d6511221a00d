package cachekey

import (
	"net/http"
	"strings"

	"github.com/always-cache/wp-cache/rfc9111"
)

const (
	originSeparator = ":"
	methodSeparator = ":"
	varySeparator   = "\t"
	varyLine        = "\n"
)

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// GetKeyPrefix returns the cache key for a request without the vary headers (i.e. a key prefix).
// The returned key is suitable for finding all stored response variants for a particular request.
func (c CacheKeyer) GetKeyPrefix(r *http.Request) string {
	return c.OriginPrefix + r.Method + methodSeparator + r.URL.RequestURI() + varySeparator
}

// AddVaryKeys returns the full cache key based on a previously generated key prefix.
// Every field named by the response Vary header is included with the request's value, empty if absent.
func (c CacheKeyer) AddVaryKeys(prefix string, req *http.Request, res *http.Response) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, name := range rfc9111.GetListHeader(res.Header, "Vary") {
		b.WriteString(varyLine)
		b.WriteString(strings.ToLower(name))
		b.WriteString(": ")
		b.WriteString(strings.Join(req.Header.Values(name), ", "))
	}
	return b.String()
}

// Matches reports whether the request selects the stored variant identified by key,
// i.e. whether all the varying fields of the key have the same value in the request.
func (c CacheKeyer) Matches(key string, req *http.Request) bool {
	for name, values := range c.GetVaryHeaders(key) {
		if strings.Join(req.Header.Values(name), ", ") != values[0] {
			return false
		}
	}
	return true
}

// GetVaryHeaders creates a http.Header instance containing all the vary keys included in a key.
func (c CacheKeyer) GetVaryHeaders(key string) http.Header {
	header := make(http.Header)
	lines := strings.Split(key, varyLine)
	for i := 1; i < len(lines); i++ {
		name, value, _ := strings.Cut(lines[i], ": ")
		header.Set(name, value)
	}
	return header
}
