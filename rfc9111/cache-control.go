package rfc9111

import (
	"net/http"
	"strings"
	"time"
)

// CacheControl implements parsing of the "Cache-Control" header (/field).
//
// §  5.2. Cache-Control
// §
// §  The "Cache-Control" header field is used to list directives for caches along
// §  the request/response chain. [...] Cache directives are identified by a token, to
// §  be compared case-insensitively, and have an optional argument that can use both
// §  token and quoted-string syntax.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]
type CacheControl struct {
	directives map[string]string
}

// Get returns the value (/argument) of the specified directive,
// along with a boolean indicating whether this directive is present
func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[getCacheControlDirectiveName(directive)]
	return val, ok
}

// HasDirective returns whether the specified directive is present
func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
// Anything that does not look like a directive is skipped.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	for _, header := range headers {
		// "#" means comma-separated list, optional whitespace around the commas
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			name = getCacheControlDirectiveName(name)
			if name == "" {
				continue
			}
			// first occurrence wins, so a directive prepended to the list overrides later ones
			if _, exists := m[name]; exists {
				continue
			}
			m[name] = getCacheControlDirectiveArgument(arg)
		}
	}
	return CacheControl{m}
}

// HeaderCacheControl parses the Cache-Control field of the given header.
func HeaderCacheControl(header http.Header) CacheControl {
	if header == nil {
		return CacheControl{}
	}
	return ParseCacheControl(header.Values("Cache-Control"))
}

// ContainsDirective reports whether any Cache-Control field of the header contains the directive.
func ContainsDirective(header http.Header, directive string) bool {
	return HeaderCacheControl(header).HasDirective(directive)
}

// getCacheControlDirectiveName returns a normalized name for the given directive.
func getCacheControlDirectiveName(token string) string {
	// §  [...] to be compared case-insensitively [...]
	return strings.ToLower(strings.TrimSpace(token))
}

// getCacheControlDirectiveArgument returns the directive argument in token form,
// i.e. it converts the argument from "quoted-string" to "token" form if needed.
func getCacheControlDirectiveArgument(arg string) string {
	// §  [...] argument that can use both token and quoted-string syntax. [...]
	return strings.Trim(strings.TrimSpace(arg), "\"")
}

// MaxAge returns "max-age" as a duration, along with a boolean indicating
// whether the "max-age" directive was present.
//
// §  5.2.2.1. max-age
// §
// §  The max-age response directive indicates that the response is to be considered
// §  stale after its age is greater than the specified number of seconds.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds("max-age")
}

// SharedMaxAge returns "s-maxage" as a duration, along with a boolean indicating
// whether the "s-maxage" directive was present.
//
// §  5.2.2.10. s-maxage
// §
// §  The s-maxage response directive indicates that, for a shared cache, the maximum
// §  age specified by this directive overrides the maximum age specified by either the
// §  max-age directive or the Expires header field.
func (c CacheControl) SharedMaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds("s-maxage")
}

// SharedFreshnessLifetime returns s-maxage if present, max-age otherwise.
// The boolean is false when neither is present.
func (c CacheControl) SharedFreshnessLifetime() (time.Duration, bool) {
	if d, ok := c.SharedMaxAge(); ok {
		return d, true
	}
	return c.MaxAge()
}

// directive    -> 0,  false
// directive=0  -> 0,  true
// directive=60 -> 60, true
func (c CacheControl) getDeltaSeconds(directive string) (time.Duration, bool) {
	if secondsStr, ok := c.Get(directive); ok && secondsStr != "" {
		return deltaSeconds(secondsStr), true
	}
	return 0, false
}

// GetListHeader returns the trimmed members of a comma-separated list field,
// across all instances of the field.
func GetListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
