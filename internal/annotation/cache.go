package annotation

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

// KV is the string store a cache is backed by. Get returns "" on a miss.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryKV is a process-local KV, used when no Redis is configured.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return "", nil
	}
	return e.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// CachedSource remembers successful fetches. Cache errors never fail a fetch.
type CachedSource struct {
	source Source
	kv     KV
	ttl    time.Duration
	prefix string
}

func NewCachedSource(source Source, kv KV, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		kv:     kv,
		ttl:    ttl,
		prefix: "blackbox:annotation:",
	}
}

func (c *CachedSource) Fetch(ctx context.Context, label string) ([]float64, error) {
	key := c.prefix + DisplayName(label)

	if raw, err := c.kv.Get(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("annotation cache read failed")
	} else if raw != "" {
		var mask []float64
		if err := sonic.UnmarshalString(raw, &mask); err == nil && len(mask) > 0 {
			log.Debug().Str("label", label).Msg("annotation cache hit")
			return mask, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cached annotation")
	}

	mask, err := c.source.Fetch(ctx, label)
	if err != nil {
		return nil, err
	}

	raw, err := sonic.MarshalString(mask)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("annotation cache encode failed")
		return mask, nil
	}
	if err := c.kv.Set(ctx, key, raw, c.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("annotation cache write failed")
	}
	return mask, nil
}
