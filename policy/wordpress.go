package policy

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/wp-cache/rfc9111"

	"github.com/rs/zerolog"
)

const (
	// SavePostEvent is the event WordPress emits when a post is saved.
	SavePostEvent = "save_post"

	DefaultAdminPath            = "/wp-admin"
	DefaultLoggedInCookiePrefix = "wordpress_logged_in"
	DefaultSharedMaxAge         = time.Hour
)

// Options configures the WordPress policy. Zero values select the defaults.
type Options struct {
	// Requests with this substring anywhere in the path skip the cache lookup.
	AdminPath string
	// Requests carrying a cookie with this name prefix are never cached.
	LoggedInCookiePrefix string
	// Lifetime granted to cacheable responses via s-maxage.
	SharedMaxAge time.Duration
	// Clock for content updates. SystemClock if nil.
	Clock Clock
	// Logger for decisions. Decisions are not logged if nil.
	Logger *zerolog.Logger
}

// WordPress is the Policy for a WordPress origin:
// wp-admin is never served from cache, logged-in users are never cached,
// and saving a post makes everything stored before it stale.
type WordPress struct {
	adminPath    string
	cookiePrefix string
	sharedMaxAge string
	lastUpdate   *UpdateMark
	log          zerolog.Logger
	configured   sync.Once
}

var _ Policy = (*WordPress)(nil)

// NewWordPress creates the policy. Zero options fall back to the defaults.
func NewWordPress(opts Options) *WordPress {
	p := &WordPress{
		adminPath:    opts.AdminPath,
		cookiePrefix: opts.LoggedInCookiePrefix,
		lastUpdate:   NewUpdateMark(opts.Clock),
		log:          zerolog.Nop(),
	}
	if p.adminPath == "" {
		p.adminPath = DefaultAdminPath
	}
	if p.cookiePrefix == "" {
		p.cookiePrefix = DefaultLoggedInCookiePrefix
	}
	maxAge := opts.SharedMaxAge
	if maxAge <= 0 {
		maxAge = DefaultSharedMaxAge
	}
	p.sharedMaxAge = "s-maxage=" + rfc9111.DeltaSeconds(maxAge)
	if opts.Logger != nil {
		p.log = opts.Logger.With().Str("policy", "wordpress").Logger()
	}
	return p
}

// Configure subscribes OnContentSaved to the save_post event.
// Only the first call subscribes.
func (p *WordPress) Configure(sub Subscriber) {
	p.configured.Do(func() {
		sub.Subscribe(SavePostEvent, p.OnContentSaved)
	})
}

// OnContentSaved marks all content stored until now as stale.
func (p *WordPress) OnContentSaved() {
	at := p.lastUpdate.Touch()
	p.log.Info().Time("lastUpdate", at).Msg("Content saved, stored responses are stale")
}

// LastContentUpdate returns the instant of the last content update.
func (p *WordPress) LastContentUpdate() time.Time {
	return p.lastUpdate.Time()
}

// AllowCacheLookup denies lookups for no-cache requests and the admin area.
func (p *WordPress) AllowCacheLookup(ctx *Context) bool {
	req := ctx.Request
	if req == nil {
		return false
	}
	// cache-control: no-cache ?
	if rfc9111.ContainsDirective(req.Header, "no-cache") {
		p.log.Trace().Msg("Lookup denied: request no-cache")
		return false
	}
	// wp-admin ?
	if req.URL != nil && strings.Contains(req.URL.Path, p.adminPath) {
		p.log.Trace().Str("path", req.URL.Path).Msg("Lookup denied: admin path")
		return false
	}
	return true
}

// AllowCacheStorage denies storage for no-store requests.
func (p *WordPress) AllowCacheStorage(ctx *Context) bool {
	if ctx.Request == nil {
		return false
	}
	// cache-control: no-store ?
	return !rfc9111.ContainsDirective(ctx.Request.Header, "no-store")
}

// AttemptResponseCaching allows caching of GET and HEAD requests from visitors without a logged-in cookie.
func (p *WordPress) AttemptResponseCaching(ctx *Context) bool {
	req := ctx.Request
	if req == nil {
		return false
	}
	// only GET and HEAD methods are cacheable
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	// only if the user is not logged in
	if name, ok := cookieWithPrefix(req.Header, p.cookiePrefix); ok {
		p.log.Trace().Str("cookie", name).Msg("Not caching: logged in")
		return false
	}
	return true
}

// cookieWithPrefix scans the raw Cookie fields for a cookie name with the prefix.
// Request.Cookies drops cookies with values it considers invalid, so it is not used here.
func cookieWithPrefix(header http.Header, prefix string) (string, bool) {
	for _, line := range header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			name, _, _ := strings.Cut(part, "=")
			if name = strings.TrimSpace(name); strings.HasPrefix(name, prefix) {
				return name, true
			}
		}
	}
	return "", false
}

// IsCachedEntryFresh compares the creation instant of the stored response
// (response time minus its age) with the last content update.
// Both are taken from the wall clock. Negative ages count as zero.
func (p *WordPress) IsCachedEntryFresh(ctx *Context) bool {
	age := ctx.CachedEntryAge
	if age < 0 {
		age = 0
	}
	createdAt := ctx.ResponseTime.Add(-age)
	return p.lastUpdate.NotBefore(createdAt)
}

// IsResponseCacheable checks the origin response and, if it may be cached,
// prepends the configured s-maxage to its Cache-Control field.
// Calling it again on the same response prepends again.
func (p *WordPress) IsResponseCacheable(ctx *Context) bool {
	res := ctx.Response
	if res == nil {
		return false
	}
	cc := rfc9111.HeaderCacheControl(res.Header)

	if cc.HasDirective("no-store") {
		return false
	}
	if cc.HasDirective("no-cache") {
		return false
	}
	// do not cache responses setting cookies
	if hasNonEmptyValue(res.Header, "Set-Cookie") {
		return false
	}
	// do not cache responses varying by *
	if vary := res.Header.Values("Vary"); len(vary) == 1 && strings.EqualFold(strings.TrimSpace(vary[0]), "*") {
		return false
	}
	if cc.HasDirective("private") {
		return false
	}
	if res.StatusCode != http.StatusOK {
		return false
	}

	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header["Cache-Control"] = append([]string{p.sharedMaxAge}, res.Header.Values("Cache-Control")...)
	p.log.Trace().Strs("cacheControl", res.Header.Values("Cache-Control")).Msg("Response cacheable")
	return true
}

func hasNonEmptyValue(header http.Header, field string) bool {
	for _, v := range header.Values(field) {
		if v != "" {
			return true
		}
	}
	return false
}
