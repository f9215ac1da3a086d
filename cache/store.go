// Package cache holds dashboard query results keyed by request path and
// lets the realtime client mark them stale.
//
// Lookups go memory → tier (optional, shared) → origin fetch. Invalidation
// never drops data from memory; it only marks matching entries stale so the
// next Get refetches them.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mbocsi/accesswatch/logging"
	"github.com/mbocsi/accesswatch/metrics"
)

// Fetcher loads the current value for key from the origin.
type Fetcher func(ctx context.Context, key string) ([]byte, error)

// Tier is a second cache layer shared between processes.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, pattern string) error
}

type Entry struct {
	Data      []byte
	FetchedAt time.Time
	Stale     bool

	epoch uint64 // invalidation epoch the data was read under
}

type Store struct {
	fetch   Fetcher
	clock   clockwork.Clock
	tier    Tier
	metrics *metrics.CacheMetrics
	log     *slog.Logger

	staleTime time.Duration
	refetch   bool

	mu      sync.RWMutex
	entries map[string]*Entry
	epoch   uint64 // incremented by every Invalidate

	// tierMu orders tier writes against tier deletes.
	tierMu sync.Mutex

	pending sync.WaitGroup
}

func NewStore(fetch Fetcher, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		fetch:   fetch,
		clock:   clock,
		log:     logging.Nop(),
		entries: make(map[string]*Entry),
	}
}

func (s *Store) SetTier(t Tier) { s.tier = t }

func (s *Store) SetMetrics(m *metrics.CacheMetrics) { s.metrics = m }

// SetRefetchOnInvalidate makes Invalidate reload matched entries in the
// background instead of waiting for the next Get.
func (s *Store) SetRefetchOnInvalidate(enabled bool) { s.refetch = enabled }

// SetStaleTime makes entries stale on their own after d. Zero keeps them
// fresh until invalidated.
func (s *Store) SetStaleTime(d time.Duration) { s.staleTime = d }

func (s *Store) SetLogger(log *slog.Logger) {
	if log == nil {
		log = logging.Nop()
	}
	s.log = log
}

// Get returns the cached value for key, fetching it if the entry is missing
// or stale.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	fresh := ok && s.freshLocked(entry)
	var data []byte
	if fresh {
		data = entry.Data
	}
	epoch := s.epoch
	s.mu.RUnlock()

	if fresh {
		s.hit("memory")
		return data, nil
	}

	if s.tier != nil {
		raw, found, err := s.tier.Get(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("Cache tier GET failed", "key", key, "error", err)
		case found:
			fetchedAt, data, ok := decodeTierValue(raw)
			if !ok {
				s.log.Debug("Ignoring unreadable cache tier value", "key", key, "size", len(raw))
				break
			}
			if !s.freshAt(fetchedAt) {
				break
			}
			s.hit("tier")
			s.store(key, data, fetchedAt, epoch)
			return data, nil
		}
	}

	if s.metrics != nil {
		s.metrics.Misses.Inc()
	}
	return s.load(ctx, key, epoch)
}

// Invalidate marks every entry whose key matches pattern as stale and
// removes matching keys from the tier. See MatchKey.
func (s *Store) Invalidate(ctx context.Context, pattern string) error {
	// Held across the tier delete so a load that started before this
	// invalidation cannot write its value back afterwards.
	s.tierMu.Lock()

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	var matched []string
	for key, entry := range s.entries {
		if MatchKey(pattern, key) {
			entry.Stale = true
			matched = append(matched, key)
		}
	}
	s.mu.Unlock()

	var tierErr error
	if s.tier != nil {
		if err := s.tier.Delete(ctx, pattern); err != nil {
			tierErr = fmt.Errorf("failed to invalidate cache tier for %q: %w", pattern, err)
		}
	}
	s.tierMu.Unlock()

	if s.metrics != nil {
		s.metrics.Invalidations.Add(float64(len(matched)))
	}
	s.log.Debug("Cache entries invalidated", "pattern", pattern, "matched", len(matched))

	if s.refetch {
		for _, key := range matched {
			s.pending.Add(1)
			go func(key string) {
				defer s.pending.Done()
				if _, err := s.load(context.WithoutCancel(ctx), key, epoch); err != nil {
					s.log.Warn("Background refetch failed", "key", key, "error", err)
				}
			}(key)
		}
	}

	return tierErr
}

// Wait blocks until background refetches started by Invalidate finish.
func (s *Store) Wait() {
	s.pending.Wait()
}

// Set stores data for key as a fresh entry without touching the tier.
func (s *Store) Set(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &Entry{Data: data, FetchedAt: s.clock.Now(), epoch: s.epoch}
}

// Entry returns a copy of the entry for key, with Stale reflecting the
// configured stale time.
func (s *Store) Entry(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Stale = !s.freshLocked(e)
	return out, true
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (s *Store) load(ctx context.Context, key string, epoch uint64) ([]byte, error) {
	data, err := s.fetch(ctx, key)
	if err != nil {
		s.fetched("error")
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	s.fetched("ok")

	fetchedAt := s.clock.Now()
	s.store(key, data, fetchedAt, epoch)
	if s.tier != nil {
		s.fillTier(ctx, key, data, fetchedAt, epoch)
	}
	return data, nil
}

// fillTier shares a fetched value unless an invalidation ran since the
// fetch started.
func (s *Store) fillTier(ctx context.Context, key string, data []byte, fetchedAt time.Time, epoch uint64) {
	s.tierMu.Lock()
	defer s.tierMu.Unlock()

	s.mu.RLock()
	current := s.epoch == epoch
	s.mu.RUnlock()
	if !current {
		s.log.Debug("Not sharing value fetched before an invalidation", "key", key)
		return
	}

	if err := s.tier.Set(ctx, key, encodeTierValue(fetchedAt, data)); err != nil {
		s.log.Warn("Failed to populate cache tier", "key", key, "error", err)
	}
}

// store records data read under epoch. If an invalidation ran in the
// meantime the value may predate it, so it is kept but marked stale. An
// entry read under a newer epoch is never replaced by an older read.
func (s *Store) store(key string, data []byte, fetchedAt time.Time, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok && cur.epoch > epoch {
		return
	}
	s.entries[key] = &Entry{
		Data:      data,
		FetchedAt: fetchedAt,
		Stale:     s.epoch != epoch,
		epoch:     epoch,
	}
}

func (s *Store) freshLocked(e *Entry) bool {
	return !e.Stale && s.freshAt(e.FetchedAt)
}

func (s *Store) freshAt(fetchedAt time.Time) bool {
	return s.staleTime <= 0 || s.clock.Since(fetchedAt) < s.staleTime
}

func (s *Store) hit(layer string) {
	if s.metrics != nil {
		s.metrics.Hits.WithLabelValues(layer).Inc()
	}
}

func (s *Store) fetched(result string) {
	if s.metrics != nil {
		s.metrics.Fetches.WithLabelValues(result).Inc()
	}
}

// MatchKey reports whether key falls under pattern: the key equals the
// pattern or continues it at a path ("/") or query ("?") boundary. So
// "/api/devices" matches "/api/devices/7" and "/api/devices?status=offline"
// but not "/api/devices-archive".
func MatchKey(pattern, key string) bool {
	if pattern == "" {
		return false
	}
	if !strings.HasPrefix(key, pattern) {
		return false
	}
	if len(key) == len(pattern) {
		return true
	}
	if strings.HasSuffix(pattern, "/") {
		return true
	}
	switch key[len(pattern)] {
	case '/', '?':
		return true
	}
	return false
}
