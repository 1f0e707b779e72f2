package curriculum

import (
	"context"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// Cacher is the byte-level cache CachedSource stores documents in.
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedSource fronts another Source with a shared cache. Documents are
// stored as YAML so answer keys survive the round trip. Cache errors are
// logged and fall through to the inner source.
type CachedSource struct {
	inner Source
	cache Cacher
	ttl   time.Duration
}

// NewCachedSource wraps inner with cache using the given entry TTL.
func NewCachedSource(inner Source, cache Cacher, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, cache: cache, ttl: ttl}
}

func (s *CachedSource) Curriculum(ctx context.Context, courseID string) (*Document, error) {
	var doc Document
	if s.lookup(ctx, "curriculum:"+courseID, &doc) {
		return &doc, nil
	}
	d, err := s.inner.Curriculum(ctx, courseID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, "curriculum:"+courseID, d)
	return d, nil
}

func (s *CachedSource) Story(ctx context.Context, courseID string) (*Story, error) {
	var story Story
	if s.lookup(ctx, "story:"+courseID, &story) {
		return &story, nil
	}
	st, err := s.inner.Story(ctx, courseID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, "story:"+courseID, st)
	return st, nil
}

func (s *CachedSource) lookup(ctx context.Context, key string, out any) bool {
	data, ok, err := s.cache.Get(ctx, cacheKey(key))
	if err != nil {
		slog.Warn("content cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		slog.Warn("discarding corrupt content cache entry", "key", key, "error", err)
		return false
	}
	return true
}

func (s *CachedSource) store(ctx context.Context, key string, v any) {
	data, err := yaml.Marshal(v)
	if err != nil {
		slog.Warn("content cache encode failed", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(key), data, s.ttl); err != nil {
		slog.Warn("content cache write failed", "key", key, "error", err)
	}
}

func cacheKey(k string) string {
	return "content:" + k
}
