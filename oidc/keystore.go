package oidc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KeyStoreConfig holds cache settings for the KeyStore
type KeyStoreConfig struct {
	// TTL bounds how long a fetched key set is served. Zero keeps it until Invalidate.
	TTL time.Duration
	// MinRefreshInterval rate-limits the forced refetch on an unknown kid.
	MinRefreshInterval time.Duration
	// OnFetch is called after every fetch attempt with its result
	OnFetch func(err error)
	Logger  *zap.Logger
}

// KeyStore caches the provider's signing keys in a single process-wide slot.
// Concurrent readers share the cached set; concurrent misses share one fetch.
type KeyStore struct {
	source     KeySource
	ttl        time.Duration
	minRefresh time.Duration
	onFetch    func(err error)
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.RWMutex
	set       *KeySet
	expiresAt time.Time
	lastFetch time.Time

	group singleflight.Group
}

// NewKeyStore creates a KeyStore backed by the given source
func NewKeyStore(source KeySource, cfg KeyStoreConfig) *KeyStore {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyStore{
		source:     source,
		ttl:        cfg.TTL,
		minRefresh: cfg.MinRefreshInterval,
		onFetch:    cfg.OnFetch,
		logger:     logger,
		now:        time.Now,
	}
}

// Keys returns the cached key set, fetching it when absent or expired
func (s *KeyStore) Keys(ctx context.Context) (*KeySet, error) {
	if set := s.cached(); set != nil {
		return set, nil
	}
	return s.refresh(ctx)
}

// PublicKey resolves the signing key for kid. A kid missing from a cached
// set triggers at most one refetch per MinRefreshInterval, so a provider
// key rotation is picked up without a restart.
func (s *KeyStore) PublicKey(ctx context.Context, kid string) (*SigningKey, error) {
	set, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}

	current, stale := s.refetchable(set)
	if current != set {
		if key, ok := current.Lookup(kid); ok {
			return key, nil
		}
	}
	if stale {
		s.logger.Info("unknown key id, refetching jwks", zap.String("kid", kid))
		set, err = s.refresh(ctx)
		if err != nil {
			return nil, err
		}
		if key, ok := set.Lookup(kid); ok {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
}

// Invalidate drops the cached key set; the next lookup refetches
func (s *KeyStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = nil
	s.expiresAt = time.Time{}
	s.lastFetch = time.Time{}
}

// CacheStats returns cache statistics
func (s *KeyStore) CacheStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"jwks_cached":     s.set != nil,
		"jwks_expires_at": s.expiresAt,
		"jwks_fetched_at": s.lastFetch,
	}
	if s.set != nil {
		stats["jwks_keys_count"] = s.set.Len()
	}
	return stats
}

func (s *KeyStore) cached() *KeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.set == nil {
		return nil
	}
	if s.ttl > 0 && !s.now().Before(s.expiresAt) {
		return nil
	}
	return s.set
}

// refetchable returns the currently cached set and whether it is old
// enough for a forced refetch. A set swapped in by a concurrent request is
// never refetched again.
func (s *KeyStore) refetchable(seen *KeySet) (*KeySet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.set == nil {
		return seen, true
	}
	if s.set != seen {
		return s.set, false
	}
	return s.set, s.now().Sub(s.lastFetch) >= s.minRefresh
}

func (s *KeyStore) refresh(ctx context.Context) (*KeySet, error) {
	// The fetch outlives any single caller that joined it; the first
	// caller's cancellation must not fail the others.
	ch := s.group.DoChan("jwks", func() (interface{}, error) {
		fetchCtx := context.WithoutCancel(ctx)
		set, err := s.source.FetchKeys(fetchCtx)
		if s.onFetch != nil {
			s.onFetch(err)
		}
		if err != nil {
			s.logger.Error("failed to fetch jwks", zap.Error(err))
			if !errors.Is(err, ErrKeyFetch) {
				err = fmt.Errorf("%w: %v", ErrKeyFetch, err)
			}
			return nil, err
		}

		now := s.now()
		s.mu.Lock()
		s.set = set
		s.lastFetch = now
		s.expiresAt = now.Add(s.ttl)
		s.mu.Unlock()

		s.logger.Debug("jwks refreshed", zap.Int("keys", set.Len()))
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}
