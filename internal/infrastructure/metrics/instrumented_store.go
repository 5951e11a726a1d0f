package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/repository"
	"github.com/google/uuid"
)

// InstrumentedStore records operation counts and latencies of a snapshot repository
type InstrumentedStore struct {
	repository.SnapshotRepository

	mu     sync.Mutex
	latest map[string]entity.ExchangeRateSnapshot
}

// InstrumentStore wraps next with Prometheus instrumentation
func InstrumentStore(next repository.SnapshotRepository) *InstrumentedStore {
	return &InstrumentedStore{
		SnapshotRepository: next,
		latest:             make(map[string]entity.ExchangeRateSnapshot),
	}
}

func observe(op string, started time.Time, result string) {
	StoreOperationsTotal.WithLabelValues(op, result).Inc()
	StoreOperationDurationSeconds.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// recordLatest moves the gauge only forward; concurrent saves can
// return out of order
func (s *InstrumentedStore) recordLatest(snap *entity.ExchangeRateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.latest[snap.BaseCode]; ok && !snap.NewerThan(prev) {
		return
	}
	s.latest[snap.BaseCode] = *snap
	LatestSavedAtSeconds.WithLabelValues(snap.BaseCode).Set(float64(snap.SavedAt.Unix()))
}

// GetLatest implements RateSnapshotStore
func (s *InstrumentedStore) GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	started := time.Now()
	snap, err := s.SnapshotRepository.GetLatest(ctx, baseCode)

	result := ResultOf(err)
	if err == nil && snap == nil {
		result = ResultAbsent
	}
	observe("get_latest", started, result)
	return snap, err
}

// Save implements RateSnapshotStore
func (s *InstrumentedStore) Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error) {
	stored, err := s.Append(ctx, snapshot)
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// Append implements SnapshotRepository
func (s *InstrumentedStore) Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error) {
	started := time.Now()
	stored, err := s.SnapshotRepository.Append(ctx, snapshot)
	observe("save", started, ResultOf(err))
	if err == nil {
		s.recordLatest(stored)
	}
	return stored, err
}

// ListHistory implements SnapshotHistory
func (s *InstrumentedStore) ListHistory(ctx context.Context, baseCode string, limit int) ([]entity.ExchangeRateSnapshot, error) {
	started := time.Now()
	out, err := s.SnapshotRepository.ListHistory(ctx, baseCode, limit)
	observe("list_history", started, ResultOf(err))
	return out, err
}
