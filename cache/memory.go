package cache

import (
	"strings"
	"sync"
	"time"
)

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]CacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]CacheEntry),
	}
}

func (m MemCache) All(prefix string) ([]CacheEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]CacheEntry, 0)
	for key, ce := range m.db {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, ce)
		}
	}
	return entries, nil
}

func (m MemCache) Put(ce CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	// the stored bytes must not change with the caller's buffer
	ce.Bytes = append([]byte(nil), ce.Bytes...)
	m.db[ce.Key] = ce
	return nil
}

func (m MemCache) Oldest(prefix string) (string, time.Time, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, ce := range m.db {
		if !strings.HasPrefix(key, prefix) || ce.Expires.IsZero() {
			continue
		}
		if oldestKey == "" || ce.Expires.Before(oldest) {
			oldestKey = key
			oldest = ce.Expires
		}
	}
	if oldestKey == "" {
		return "", time.Time{}, ErrNotFound
	}
	return oldestKey, oldest, nil
}

func (m MemCache) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}
