// Package wpcache is a caching reverse proxy for a WordPress origin.
// What is looked up, served and stored is decided by a policy.Policy.
package wpcache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/always-cache/wp-cache/cache"
	cachekey "github.com/always-cache/wp-cache/pkg/cache-key"
	tee "github.com/always-cache/wp-cache/pkg/response-writer-tee"
	"github.com/always-cache/wp-cache/policy"
	"github.com/always-cache/wp-cache/rfc9111"
	"github.com/always-cache/wp-cache/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBodyBytes is the largest response body stored by default.
const DefaultMaxBodyBytes = 10 << 20

// Config configures the caching handler.
type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Caching decisions. A WordPress policy with default options is used if nil.
	Policy policy.Policy
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Optional function for transforming the origin response,
	// called before the policy sees the response.
	ResponseModifier func(*http.Response) error
	// Transport for origin requests. Derived from OriginHost if nil.
	Transport http.RoundTripper
	// Interval of purging expired entries. Expired entries are only purged on lookup if 0.
	SweepInterval time.Duration
	// Responses with larger bodies are not stored. DefaultMaxBodyBytes if 0, no limit if negative.
	MaxBodyBytes int
}

// Handler is the caching reverse proxy. Create it with New.
type Handler struct {
	cache            cache.CacheProvider
	keyer            cachekey.CacheKeyer
	policy           policy.Policy
	log              zerolog.Logger
	reverseproxy     httputil.ReverseProxy
	responseModifier func(*http.Response) error
	maxBody          int
	sweepInterval    time.Duration
	stopSweep        context.CancelFunc
	sweepDone        chan struct{}
}

// exchange carries the policy context of one request through the reverse proxy.
type exchange struct {
	ctx       policy.Context
	cacheable bool
	cs        rfc9211.CacheStatus
	// client response header, shared with the response saver
	header http.Header
}

type exchangeKey struct{}

// New creates the caching handler and starts the sweeper if configured.
// Call Close to stop the sweeper.
func New(config Config) *Handler {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	h := &Handler{
		cache:            config.Cache,
		keyer:            cachekey.NewCacheKeyer(config.OriginURL.String()),
		policy:           config.Policy,
		log:              logger,
		responseModifier: config.ResponseModifier,
		maxBody:          config.MaxBodyBytes,
		sweepInterval:    config.SweepInterval,
	}
	if h.policy == nil {
		h.policy = policy.NewWordPress(policy.Options{Logger: &logger})
	}
	if h.maxBody == 0 {
		h.maxBody = DefaultMaxBodyBytes
	}

	host := config.OriginURL.Host
	hostHeader := host
	transport := config.Transport
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
		if transport == nil {
			transport = &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					ServerName: config.OriginHost,
				},
			}
		}
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	h.reverseproxy = httputil.ReverseProxy{
		Director:       createDirector(config.OriginURL.Scheme, host, hostHeader),
		Transport:      transport,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.proxyError,
	}

	if h.sweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		h.stopSweep = cancel
		h.sweepDone = make(chan struct{})
		go h.sweep(ctx)
	}

	return h
}

// Close stops the sweeper and waits for it to finish.
func (h *Handler) Close() {
	if h.stopSweep != nil {
		h.stopSweep()
		<-h.sweepDone
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ex := &exchange{ctx: policy.Context{Request: r}}
	cs := rfc9211.CacheStatus{}

	if !h.policy.AttemptResponseCaching(&ex.ctx) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			cs.Forward(rfc9211.FwdReasonMethod)
		} else {
			cs.Forward(rfc9211.FwdReasonBypass)
		}
		h.proxy(w, r, nil, cs)
		return
	}

	if h.policy.AllowCacheLookup(&ex.ctx) {
		reason := h.serveStored(w, r)
		if reason == "" {
			return
		}
		cs.Forward(reason)
	} else {
		cs.Forward(rfc9211.FwdReasonRequest)
	}
	h.proxy(w, r, ex, cs)
}

// serveStored sends a fresh stored response for the request if there is one.
// It returns the reason for forwarding otherwise.
func (h *Handler) serveStored(w http.ResponseWriter, r *http.Request) rfc9211.FwdReason {
	prefix := h.keyer.GetKeyPrefix(r)
	h.log.Trace().Str("key", prefix).Msg("Getting cached entries")
	entries, err := h.cache.All(prefix)
	if err != nil {
		h.log.Error().Err(err).Str("key", prefix).Msg("Could not retrieve from cache")
		return rfc9211.FwdReasonMiss
	}
	if len(entries) == 0 {
		return rfc9211.FwdReasonUriMiss
	}
	h.log.Trace().Str("key", prefix).Msgf("Found %v cache entries", len(entries))

	reason := rfc9211.FwdReasonVaryMiss
	now := time.Now()
	for _, ce := range entries {
		if !h.keyer.Matches(ce.Key, r) {
			continue
		}
		ctx := policy.Context{
			Request:        r,
			ResponseTime:   now,
			CachedEntryAge: now.Sub(ce.ReceivedAt),
		}
		if ce.Expired(now) || !h.policy.IsCachedEntryFresh(&ctx) {
			h.log.Trace().Str("key", ce.Key).Time("receivedAt", ce.ReceivedAt).Msg("Stored response is stale")
			h.purge(ce.Key)
			reason = rfc9211.FwdReasonStale
			continue
		}
		res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(ce.Bytes)), r)
		if err != nil {
			// corrupted entries are deleted and the request is proxied
			h.log.Error().Err(err).Str("key", ce.Key).Msg("Could not read from cache")
			h.purge(ce.Key)
			reason = rfc9211.FwdReasonMiss
			continue
		}
		cs := rfc9211.CacheStatus{}
		cs.Hit()
		if !ce.Expires.IsZero() {
			cs.TimeToLive = int(ce.Expires.Sub(now) / time.Second)
		}
		h.sendStoredResponse(w, r, res, ce, now, cs)
		return ""
	}
	return reason
}

func (h *Handler) sendStoredResponse(w http.ResponseWriter, r *http.Request, res *http.Response, ce cache.CacheEntry, now time.Time, cs rfc9211.CacheStatus) {
	defer res.Body.Close()
	rfc9111.AddAgeHeader(res, ce.ReceivedAt, now)
	copyHeader(w.Header(), res.Header)
	w.Header().Set("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not write response body to client")
	}
	h.logRequest(r, cs, res.StatusCode)
	h.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// proxy forwards the request to the origin and stores the response if the exchange allows it.
// A nil exchange means the response is not considered for caching.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, ex *exchange, cs rfc9211.CacheStatus) {
	h.log.Trace().Msgf("proxying %s", r.URL.String())
	w.Header().Set("Cache-Status", cs.String())

	rs := tee.NewResponseSaver(w, h.maxBody)
	if ex == nil {
		h.reverseproxy.ServeHTTP(rs, r)
		h.logRequest(r, cs, rs.StatusCode())
		return
	}
	ex.cs = cs
	ex.header = w.Header()
	r = r.WithContext(context.WithValue(r.Context(), exchangeKey{}, ex))
	h.reverseproxy.ServeHTTP(rs, r)
	h.logRequest(r, ex.cs, rs.StatusCode())

	if !ex.cs.Stored {
		h.log.Trace().Str("url", r.URL.String()).Int("status", rs.StatusCode()).Bool("cacheable", ex.cacheable).Msg("Response not stored")
		return
	}
	if rs.Overflowed() {
		h.log.Debug().Str("url", r.URL.String()).Int("limit", h.maxBody).Msg("Response too large to store")
		return
	}
	if err := h.writeCache(rs, r); err != nil {
		h.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not write to cache")
	}
}

func (h *Handler) modifyResponse(res *http.Response) error {
	if h.responseModifier != nil {
		if err := h.responseModifier(res); err != nil {
			return err
		}
	}
	ex, ok := res.Request.Context().Value(exchangeKey{}).(*exchange)
	if !ok {
		return nil
	}
	ex.ctx.Response = res
	ex.cacheable = h.policy.IsResponseCacheable(&ex.ctx)
	// the header is still unsent, so the client learns the response is stored
	if ex.cacheable && h.policy.AllowCacheStorage(&ex.ctx) {
		ex.cs.Stored = true
		ex.header.Set("Cache-Status", ex.cs.String())
	}
	return nil
}

func (h *Handler) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not get response from origin")
	w.WriteHeader(http.StatusBadGateway)
}

// writeCache stores the saved response.
// The entry is considered created when the request was forwarded,
// so that content saved while the origin was responding makes it stale.
func (h *Handler) writeCache(rs *tee.ResponseSaver, r *http.Request) error {
	header := rs.SavedHeader()
	lifetime, ok := rfc9111.HeaderCacheControl(header).SharedFreshnessLifetime()
	if !ok || lifetime <= 0 {
		h.log.Trace().Str("url", r.URL.String()).Msg("No freshness lifetime, not storing")
		return nil
	}
	key := h.keyer.AddVaryKeys(h.keyer.GetKeyPrefix(r), r, &http.Response{Header: header})
	// wall clock only, it is compared against the content update mark
	createdAt := rs.CreatedAt.Round(0)
	ce := cache.CacheEntry{
		Key:        key,
		Expires:    createdAt.Add(lifetime),
		ReceivedAt: createdAt,
		Bytes:      rs.Response("Cache-Status"),
	}
	h.log.Trace().Msgf("Writing to cache: %v %v", key, ce.Expires)
	return h.cache.Put(ce)
}

func (h *Handler) purge(key string) bool {
	if err := h.cache.Purge(key); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Could not purge cache entry")
		return false
	}
	return true
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func (h *Handler) logRequest(r *http.Request, cs rfc9211.CacheStatus, status int) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	h.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", status).
		Str("cacheStatus", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Int("ttl", cs.TimeToLive).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
