package db

import (
	"context"
	"sort"
	"sync"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/google/uuid"
)

// MemorySnapshotStore keeps snapshots in process memory. It is used by tests
// and by the CLI when no durable backend is configured.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]entity.ExchangeRateSnapshot
	history   map[string][]uuid.UUID
	latest    map[string]entity.LatestPointer
	now       Clock
	logger    logger.Logger
}

// NewMemorySnapshotStore creates an empty in-memory store
func NewMemorySnapshotStore(log logger.Logger) *MemorySnapshotStore {
	return &MemorySnapshotStore{
		snapshots: make(map[uuid.UUID]entity.ExchangeRateSnapshot),
		history:   make(map[string][]uuid.UUID),
		latest:    make(map[string]entity.LatestPointer),
		now:       clockOrNow(nil),
		logger:    logger.OrDefault(log).WithField("backend", "memory"),
	}
}

// GetLatest returns the latest snapshot for the base code, or nil if none exists
func (s *MemorySnapshotStore) GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetLatest); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ptr, ok := s.latest[base]
	if !ok {
		return nil, nil
	}
	snap := s.snapshots[ptr.SnapshotID].Clone()
	return &snap, nil
}

// Save appends the snapshot and returns its ID
func (s *MemorySnapshotStore) Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error) {
	stored, err := s.Append(ctx, snapshot)
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// Append validates, stamps and stores the snapshot, returning the stored record
func (s *MemorySnapshotStore) Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opSave); err != nil {
		return nil, err
	}
	snap, err := snapshot.Normalized()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// a caller that gave up while waiting for the lock must not see a write
	if err := apperrors.CheckContext(ctx, opSave); err != nil {
		return nil, err
	}

	var prev *entity.LatestPointer
	if p, ok := s.latest[snap.BaseCode]; ok {
		prev = &p
	}
	savedAt, seq := prev.Next(s.now())
	snap.Stamp(uuid.New(), savedAt, seq)

	if err := apperrors.CheckContext(ctx, opSave); err != nil {
		return nil, err
	}

	s.snapshots[snap.ID] = snap.Clone()
	s.history[snap.BaseCode] = append(s.history[snap.BaseCode], snap.ID)
	s.latest[snap.BaseCode] = entity.PointerFor(snap)

	s.logger.Debug("Snapshot saved", map[string]interface{}{
		"id":        snap.ID.String(),
		"base_code": snap.BaseCode,
		"sequence":  snap.Sequence,
	})

	return &snap, nil
}

// GetByID returns a snapshot by ID, or nil if it does not exist
func (s *MemorySnapshotStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetByID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, nil
	}
	out := snap.Clone()
	return &out, nil
}

// ListHistory returns the snapshots of a base code newest first
func (s *MemorySnapshotStore) ListHistory(ctx context.Context, baseCode string, limit int) ([]entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opListHistory); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.history[base]
	n := len(ids)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]entity.ExchangeRateSnapshot, 0, n)
	for i := len(ids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.snapshots[ids[i]].Clone())
	}
	return out, nil
}

// ListBaseCodes returns the base codes that have snapshots, sorted
func (s *MemorySnapshotStore) ListBaseCodes(ctx context.Context) ([]string, error) {
	if err := apperrors.CheckContext(ctx, opListBaseCodes); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.latest))
	for base := range s.latest {
		out = append(out, base)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the memory store
func (s *MemorySnapshotStore) Close() error {
	return nil
}
