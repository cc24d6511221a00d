package wpcache

import (
	"context"
	"errors"
	"time"

	"github.com/always-cache/wp-cache/cache"
)

// sweep runs a loop purging expired entries of this origin, oldest first.
// When nothing has expired it sleeps for the sweep interval.
// It returns when the context is done.
func (h *Handler) sweep(ctx context.Context) {
	defer close(h.sweepDone)
	h.log.Info().Msgf("Starting expired entry sweep with interval %s", h.sweepInterval)
	for {
		if !h.purgeOldestExpired() {
			select {
			case <-ctx.Done():
				h.log.Info().Msg("Stopped expired entry sweep")
				return
			case <-time.After(h.sweepInterval):
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// purgeOldestExpired purges the entry expiring first if it has expired.
// It returns whether an entry was purged.
func (h *Handler) purgeOldestExpired() bool {
	key, expiry, err := h.cache.Oldest(h.keyer.OriginPrefix)
	if errors.Is(err, cache.ErrNotFound) {
		h.log.Trace().Msg("No entries expiring")
		return false
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Could not get oldest entry")
		return false
	}
	if time.Now().Before(expiry) {
		h.log.Trace().Str("key", key).Time("expires", expiry).Msg("No entries expired, pausing sweep")
		return false
	}
	h.log.Trace().Str("key", key).Msg("Purging expired entry")
	return h.purge(key)
}
