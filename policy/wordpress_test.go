package policy

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var t0 = time.Date(2022, 10, 20, 11, 44, 49, 0, time.UTC)

func newTestPolicy() (*WordPress, *fakeClock) {
	clock := &fakeClock{now: t0}
	return NewWordPress(Options{Clock: clock}), clock
}

func requestContext(method, target string, header map[string]string) *Context {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		r.Header.Set(k, v)
	}
	return &Context{Request: r}
}

func responseContext(status int, header http.Header) *Context {
	if header == nil {
		header = http.Header{}
	}
	return &Context{
		Request:  httptest.NewRequest(http.MethodGet, "/", nil),
		Response: &http.Response{StatusCode: status, Header: header},
	}
}

func TestAllowCacheLookup(t *testing.T) {
	p, _ := newTestPolicy()
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   bool
	}{
		{"plain", "/hello-world/", nil, true},
		{"no-cache", "/hello-world/", map[string]string{"Cache-Control": "no-cache"}, false},
		{"no-cache in list", "/", map[string]string{"Cache-Control": "max-age=0, No-Cache"}, false},
		{"max-age only", "/", map[string]string{"Cache-Control": "max-age=0"}, true},
		{"admin", "/wp-admin/edit.php", nil, false},
		{"admin nested", "/blog/wp-admin", nil, false},
		{"admin lookalike", "/wp-content/uploads/a.png", nil, true},
		{"admin in query only", "/?redirect=/wp-admin", nil, true},
	}
	for _, tt := range tests {
		if got := p.AllowCacheLookup(requestContext(http.MethodGet, tt.target, tt.header)); got != tt.want {
			t.Fatalf("%s: AllowCacheLookup is %v", tt.name, got)
		}
	}
}

func TestAllowCacheStorage(t *testing.T) {
	p, _ := newTestPolicy()
	if !p.AllowCacheStorage(requestContext(http.MethodGet, "/", nil)) {
		t.Fatal("Storage should be allowed")
	}
	if p.AllowCacheStorage(requestContext(http.MethodGet, "/", map[string]string{"Cache-Control": "no-store"})) {
		t.Fatal("Storage should not be allowed with no-store")
	}
	if !p.AllowCacheStorage(requestContext(http.MethodGet, "/", map[string]string{"Cache-Control": "no-cache"})) {
		t.Fatal("no-cache should not prevent storage")
	}
}

func TestAttemptResponseCaching(t *testing.T) {
	p, _ := newTestPolicy()
	tests := []struct {
		method string
		cookie string
		want   bool
	}{
		{http.MethodGet, "", true},
		{http.MethodHead, "", true},
		{http.MethodPost, "", false},
		{http.MethodPut, "", false},
		{http.MethodGet, "wordpress_logged_in_abc=1", false},
		{http.MethodHead, "session_id=1; wordpress_logged_in_abc=1", false},
		{http.MethodGet, "session_id=1", true},
		{http.MethodGet, "wordpress_test_cookie=WP+Cookie+check", true},
		// values net/http refuses to parse still carry a logged-in name
		{http.MethodGet, `wordpress_logged_in_abc=admin"x`, false},
		{http.MethodGet, `wordpress_logged_in_abc=a\b`, false},
		{http.MethodGet, "wordpress_logged_in_abc=ü", false},
		{http.MethodGet, `session="x"; wordpress_logged_in_abc=1`, false},
		{http.MethodGet, "  wordpress_logged_in_abc  =1", false},
		{http.MethodGet, "wordpress_logged_in", false},
		{http.MethodGet, "id=wordpress_logged_in_abc", true},
	}
	for _, tt := range tests {
		ctx := requestContext(tt.method, "/", map[string]string{"Cookie": tt.cookie})
		if got := p.AttemptResponseCaching(ctx); got != tt.want {
			t.Fatalf("%s with cookie %q: AttemptResponseCaching is %v", tt.method, tt.cookie, got)
		}
	}
}

func TestAttemptResponseCachingMultipleCookieFields(t *testing.T) {
	p, _ := newTestPolicy()
	ctx := requestContext(http.MethodGet, "/", nil)
	ctx.Request.Header.Add("Cookie", "session_id=1")
	ctx.Request.Header.Add("Cookie", "wordpress_logged_in_abc=admin\"x")
	if p.AttemptResponseCaching(ctx) {
		t.Fatal("Logged-in cookie in the second Cookie field should prevent caching")
	}
}

func TestNilRequest(t *testing.T) {
	p, _ := newTestPolicy()
	ctx := &Context{}
	if p.AllowCacheLookup(ctx) || p.AllowCacheStorage(ctx) || p.AttemptResponseCaching(ctx) || p.IsResponseCacheable(ctx) {
		t.Fatal("Nothing should be allowed without request and response")
	}
}

func TestIsCachedEntryFresh(t *testing.T) {
	p, clock := newTestPolicy()

	entry := func(createdAt time.Time) *Context {
		now := createdAt.Add(10 * time.Minute)
		return &Context{ResponseTime: now, CachedEntryAge: now.Sub(createdAt)}
	}

	if !p.IsCachedEntryFresh(entry(t0)) {
		t.Fatal("Entry created at the last update should be fresh")
	}
	if !p.IsCachedEntryFresh(entry(t0.Add(time.Nanosecond))) {
		t.Fatal("Entry created after the last update should be fresh")
	}
	if p.IsCachedEntryFresh(entry(t0.Add(-time.Nanosecond))) {
		t.Fatal("Entry created before the last update should be stale")
	}

	created := t0.Add(time.Minute)
	if !p.IsCachedEntryFresh(entry(created)) {
		t.Fatal("Entry should be fresh before content is saved")
	}
	clock.Set(t0.Add(2 * time.Minute))
	p.OnContentSaved()
	if p.IsCachedEntryFresh(entry(created)) {
		t.Fatal("Entry should be stale after content is saved")
	}
	if !p.LastContentUpdate().Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("Last content update is %s", p.LastContentUpdate())
	}
}

func TestIsCachedEntryFreshNegativeAge(t *testing.T) {
	p, _ := newTestPolicy()
	ctx := &Context{ResponseTime: t0.Add(-time.Second), CachedEntryAge: -time.Hour}
	if p.IsCachedEntryFresh(ctx) {
		t.Fatal("Negative age must not make an entry fresh")
	}
}

func TestIsCachedEntryFreshIsIdempotent(t *testing.T) {
	p, _ := newTestPolicy()
	ctx := &Context{ResponseTime: t0.Add(time.Hour), CachedEntryAge: time.Minute}
	if p.IsCachedEntryFresh(ctx) != p.IsCachedEntryFresh(ctx) {
		t.Fatal("Freshness changed between calls")
	}
}

func TestIsResponseCacheable(t *testing.T) {
	p, _ := newTestPolicy()

	ctx := responseContext(http.StatusOK, nil)
	if !p.IsResponseCacheable(ctx) {
		t.Fatal("Plain 200 should be cacheable")
	}
	if diff := cmp.Diff([]string{"s-maxage=3600"}, ctx.Response.Header.Values("Cache-Control")); diff != "" {
		t.Fatalf("Cache-Control mismatch (-want +got):\n%s", diff)
	}

	ctx = responseContext(http.StatusOK, http.Header{"Cache-Control": {"public, max-age=60"}})
	if !p.IsResponseCacheable(ctx) {
		t.Fatal("Public 200 should be cacheable")
	}
	if diff := cmp.Diff([]string{"s-maxage=3600", "public, max-age=60"}, ctx.Response.Header.Values("Cache-Control")); diff != "" {
		t.Fatalf("Cache-Control mismatch (-want +got):\n%s", diff)
	}
}

func TestIsResponseNotCacheable(t *testing.T) {
	p, _ := newTestPolicy()
	tests := []struct {
		name   string
		status int
		header http.Header
	}{
		{"not found", http.StatusNotFound, nil},
		{"redirect", http.StatusMovedPermanently, http.Header{"Location": {"/"}}},
		{"no content", http.StatusNoContent, nil},
		{"set-cookie", http.StatusOK, http.Header{"Set-Cookie": {"id=1"}}},
		{"vary star", http.StatusOK, http.Header{"Vary": {"*"}}},
		{"no-store", http.StatusOK, http.Header{"Cache-Control": {"no-store"}}},
		{"no-cache", http.StatusOK, http.Header{"Cache-Control": {"max-age=60", "no-cache"}}},
		{"private", http.StatusOK, http.Header{"Cache-Control": {"Private"}}},
	}
	for _, tt := range tests {
		ctx := responseContext(tt.status, tt.header)
		before := ctx.Response.Header.Clone()
		if p.IsResponseCacheable(ctx) {
			t.Fatalf("%s: response should not be cacheable", tt.name)
		}
		if diff := cmp.Diff(before, ctx.Response.Header); diff != "" {
			t.Fatalf("%s: header modified (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestVaryNotStar(t *testing.T) {
	p, _ := newTestPolicy()
	if !p.IsResponseCacheable(responseContext(http.StatusOK, http.Header{"Vary": {"Accept-Encoding"}})) {
		t.Fatal("Vary: Accept-Encoding should be cacheable")
	}
	// only a single "*" value counts
	if !p.IsResponseCacheable(responseContext(http.StatusOK, http.Header{"Vary": {"*", "Cookie"}})) {
		t.Fatal("Multiple Vary values should be cacheable")
	}
	if !p.IsResponseCacheable(responseContext(http.StatusOK, http.Header{"Set-Cookie": {""}})) {
		t.Fatal("Empty Set-Cookie should be cacheable")
	}
}

func TestIsResponseCacheableRewritesAgain(t *testing.T) {
	p, _ := newTestPolicy()
	ctx := responseContext(http.StatusOK, nil)
	p.IsResponseCacheable(ctx)
	p.IsResponseCacheable(ctx)
	if diff := cmp.Diff([]string{"s-maxage=3600", "s-maxage=3600"}, ctx.Response.Header.Values("Cache-Control")); diff != "" {
		t.Fatalf("Cache-Control mismatch (-want +got):\n%s", diff)
	}
}

func TestOptions(t *testing.T) {
	p := NewWordPress(Options{
		AdminPath:            "/admin",
		LoggedInCookiePrefix: "sess_",
		SharedMaxAge:         90 * time.Second,
	})
	if p.AllowCacheLookup(requestContext(http.MethodGet, "/admin/x", nil)) {
		t.Fatal("Custom admin path should skip lookup")
	}
	if !p.AllowCacheLookup(requestContext(http.MethodGet, "/wp-admin/x", nil)) {
		t.Fatal("Default admin path should not apply")
	}
	if p.AttemptResponseCaching(requestContext(http.MethodGet, "/", map[string]string{"Cookie": "sess_abc=1"})) {
		t.Fatal("Custom cookie prefix should prevent caching")
	}
	ctx := responseContext(http.StatusOK, nil)
	p.IsResponseCacheable(ctx)
	if cc := ctx.Response.Header.Get("Cache-Control"); cc != "s-maxage=90" {
		t.Fatalf("Cache-Control is %s", cc)
	}
}

func TestConfigureSubscribesOnce(t *testing.T) {
	p, clock := newTestPolicy()
	handlers := map[string][]func(){}
	sub := SubscriberFunc(func(event string, fn func()) {
		handlers[event] = append(handlers[event], fn)
	})
	p.Configure(sub)
	p.Configure(sub)
	if n := len(handlers[SavePostEvent]); n != 1 {
		t.Fatalf("Subscribed %d times", n)
	}
	clock.Set(t0.Add(time.Hour))
	handlers[SavePostEvent][0]()
	if !p.LastContentUpdate().Equal(t0.Add(time.Hour)) {
		t.Fatalf("Last content update is %s", p.LastContentUpdate())
	}
}
