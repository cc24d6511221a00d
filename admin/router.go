// Package admin is the HTTP surface through which the origin notifies the cache
// of content events, e.g. a WordPress hook calling POST /events/save_post.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Publisher delivers named events.
type Publisher interface {
	Publish(event string) int
	Has(event string) bool
}

// ContentClock reports the last content update.
type ContentClock interface {
	LastContentUpdate() time.Time
}

type Options struct {
	Bus Publisher
	// Optional source for GET /status.
	Clock ContentClock
	// Bearer token required for publishing events. Publishing is open if empty.
	Token string
	// Logger for access logs. Access is not logged if nil.
	Logger *zerolog.Logger
}

// NewRouter creates the admin handler.
func NewRouter(opts Options) http.Handler {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "admin").Logger()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{}
		if opts.Clock != nil {
			status["lastContentUpdate"] = opts.Clock.LastContentUpdate().UTC().Format(time.RFC3339Nano)
		}
		writeJSON(w, http.StatusOK, status)
	})
	r.Group(func(r chi.Router) {
		if opts.Token != "" {
			r.Use(requireToken(opts.Token))
		}
		r.Post("/events/{event}", publish(opts.Bus))
	})
	return r
}

func publish(bus Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event := chi.URLParam(r, "event")
		if !bus.Has(event) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("no subscribers for event %q", event),
			})
			return
		}
		n := bus.Publish(event)
		hlog.FromRequest(r).Info().Str("event", event).Int("handlers", n).Msg("Published event")
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"event":    event,
			"handlers": n,
		})
	}
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			got := strings.TrimPrefix(auth, "Bearer ")
			if got == auth || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
