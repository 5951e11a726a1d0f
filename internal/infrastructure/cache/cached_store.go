package cache

import (
	"context"
	"sync"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/repository"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/google/uuid"
)

// CachedStore serves GetLatest from a LatestCache in front of a backend.
// Cache failures are logged and never fail the call.
//
// When caching a freshly appended snapshot fails, the base code is bypassed:
// GetLatest reads the backend until a snapshot at least as new as the one
// that failed has been cached again.
type CachedStore struct {
	repository.SnapshotRepository
	cache  LatestCache
	logger logger.Logger

	// mu is held shared around every cache Put and exclusively while a
	// bypass is recorded, so no Put that started before the bypass can land
	// after the invalidation that follows it.
	mu       sync.RWMutex
	bypassed map[string]entity.ExchangeRateSnapshot
}

// NewCachedStore wraps next with cache
func NewCachedStore(next repository.SnapshotRepository, cache LatestCache, log logger.Logger) *CachedStore {
	return &CachedStore{
		SnapshotRepository: next,
		cache:              cache,
		logger:             logger.OrDefault(log).WithField("component", "latest_cache"),
		bypassed:           make(map[string]entity.ExchangeRateSnapshot),
	}
}

func (s *CachedStore) isBypassed(base string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bypassed[base]
	return ok
}

// GetLatest returns the cached snapshot on a hit and reads through on a miss
func (s *CachedStore) GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, "get latest"); err != nil {
		return nil, err
	}

	if !s.isBypassed(entity.NormalizeCode(baseCode)) {
		if snap, ok, err := s.cache.Get(ctx, baseCode); err != nil {
			s.logger.Warn("Latest cache read failed", map[string]interface{}{
				"base_code": baseCode,
				"error":     err.Error(),
			})
		} else if ok {
			return snap, nil
		}
	}

	snap, err := s.SnapshotRepository.GetLatest(ctx, baseCode)
	if err != nil || snap == nil {
		return snap, err
	}

	s.put(ctx, *snap)
	return snap, nil
}

// Save appends through the backend and caches the stored record
func (s *CachedStore) Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error) {
	stored, err := s.Append(ctx, snapshot)
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// Append appends through the backend and caches the stored record
func (s *CachedStore) Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error) {
	stored, err := s.SnapshotRepository.Append(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if !s.put(ctx, *stored) {
		s.bypass(ctx, *stored)
	}
	return stored, nil
}

// put caches snap and reports whether the cache accepted it. A snapshot
// older than a recorded bypass is not written.
func (s *CachedStore) put(ctx context.Context, snap entity.ExchangeRateSnapshot) bool {
	s.mu.RLock()
	marker, bypassed := s.bypassed[snap.BaseCode]
	if bypassed && marker.NewerThan(snap) {
		s.mu.RUnlock()
		return true
	}
	err := s.cache.Put(ctx, snap)
	s.mu.RUnlock()

	if err != nil {
		s.logger.Warn("Latest cache write failed", map[string]interface{}{
			"base_code": snap.BaseCode,
			"id":        snap.ID.String(),
			"error":     err.Error(),
		})
		return false
	}

	if bypassed {
		s.mu.Lock()
		if cur, ok := s.bypassed[snap.BaseCode]; ok && !cur.NewerThan(snap) {
			delete(s.bypassed, snap.BaseCode)
		}
		s.mu.Unlock()
	}
	return true
}

// bypass stops serving the base code from the cache and drops the cached entry
func (s *CachedStore) bypass(ctx context.Context, snap entity.ExchangeRateSnapshot) {
	s.mu.Lock()
	if cur, ok := s.bypassed[snap.BaseCode]; !ok || snap.NewerThan(cur) {
		s.bypassed[snap.BaseCode] = entity.ExchangeRateSnapshot{
			BaseCode: snap.BaseCode,
			SavedAt:  snap.SavedAt,
			Sequence: snap.Sequence,
		}
	}
	s.mu.Unlock()

	if err := s.cache.Invalidate(ctx, snap.BaseCode); err != nil {
		s.logger.Warn("Latest cache invalidation failed", map[string]interface{}{
			"base_code": snap.BaseCode,
			"error":     err.Error(),
		})
	}
}
