package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// Key layout:
//
//	snap:<id>              -> snapshot JSON
//	hist:<BASE>:<seq>      -> snapshot id, seq zero padded so keys sort by sequence
//	latest:<BASE>          -> LatestPointer JSON
const (
	snapPrefix   = "snap:"
	histPrefix   = "hist:"
	latestPrefix = "latest:"
	seqWidth     = 20
)

// BadgerSnapshotStore implements the snapshot repository using BadgerDB
type BadgerSnapshotStore struct {
	db     *badger.DB
	owned  bool
	locks  *keyedMutex
	now    Clock
	logger logger.Logger
}

// OpenBadger opens (creating if needed) a BadgerDB at path
func OpenBadger(path string) (*badger.DB, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return db, nil
}

// NewBadgerSnapshotStore creates a store on an already open database.
// The caller keeps ownership of db.
func NewBadgerSnapshotStore(db *badger.DB, log logger.Logger) *BadgerSnapshotStore {
	return &BadgerSnapshotStore{
		db:     db,
		locks:  newKeyedMutex(),
		now:    clockOrNow(nil),
		logger: logger.OrDefault(log).WithField("backend", "badger"),
	}
}

func snapKey(id uuid.UUID) []byte {
	return []byte(snapPrefix + id.String())
}

func histKey(base string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%0*d", histPrefix, base, seqWidth, seq))
}

func latestKey(base string) []byte {
	return []byte(latestPrefix + base)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// GetLatest returns the latest snapshot for the base code, or nil if none exists
func (s *BadgerSnapshotStore) GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetLatest); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	var snap *entity.ExchangeRateSnapshot
	err = s.db.View(func(txn *badger.Txn) error {
		var ptr entity.LatestPointer
		found, err := getJSON(txn, latestKey(base), &ptr)
		if err != nil || !found {
			return err
		}

		var out entity.ExchangeRateSnapshot
		found, err = getJSON(txn, snapKey(ptr.SnapshotID), &out)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("latest pointer for %s references missing snapshot %s", base, ptr.SnapshotID)
		}
		snap = &out
		return nil
	})
	if err != nil {
		return nil, apperrors.Classify(ctx, opGetLatest, err)
	}
	return snap, nil
}

// Save appends the snapshot and returns its ID
func (s *BadgerSnapshotStore) Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error) {
	stored, err := s.Append(ctx, snapshot)
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// Append stores the snapshot, its history entry and the new latest pointer in
// a single transaction
func (s *BadgerSnapshotStore) Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opSave); err != nil {
		return nil, err
	}
	snap, err := snapshot.Normalized()
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, snap.BaseCode)
	if err != nil {
		return nil, apperrors.NewCancelledError(opSave, err)
	}
	defer unlock()

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	var prev *entity.LatestPointer
	var ptr entity.LatestPointer
	found, err := getJSON(txn, latestKey(snap.BaseCode), &ptr)
	if err != nil {
		return nil, apperrors.Classify(ctx, opSave, err)
	}
	if found {
		prev = &ptr
	}

	savedAt, seq := prev.Next(s.now())
	snap.Stamp(uuid.New(), savedAt, seq)

	if err := setJSON(txn, snapKey(snap.ID), snap); err != nil {
		return nil, apperrors.Classify(ctx, opSave, err)
	}
	if err := txn.Set(histKey(snap.BaseCode, snap.Sequence), []byte(snap.ID.String())); err != nil {
		return nil, apperrors.Classify(ctx, opSave, err)
	}
	if err := setJSON(txn, latestKey(snap.BaseCode), entity.PointerFor(snap)); err != nil {
		return nil, apperrors.Classify(ctx, opSave, err)
	}

	// last chance to back out; Discard drops everything written above
	if err := apperrors.CheckContext(ctx, opSave); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		s.logger.Error("Failed to commit snapshot", map[string]interface{}{
			"base_code": snap.BaseCode,
			"error":     err.Error(),
		})
		return nil, apperrors.NewStorageError(opSave, err)
	}

	s.logger.Debug("Snapshot saved", map[string]interface{}{
		"id":        snap.ID.String(),
		"base_code": snap.BaseCode,
		"sequence":  snap.Sequence,
	})

	return &snap, nil
}

// GetByID returns a snapshot by ID, or nil if it does not exist
func (s *BadgerSnapshotStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetByID); err != nil {
		return nil, err
	}

	var snap *entity.ExchangeRateSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		var out entity.ExchangeRateSnapshot
		found, err := getJSON(txn, snapKey(id), &out)
		if err != nil || !found {
			return err
		}
		snap = &out
		return nil
	})
	if err != nil {
		return nil, apperrors.Classify(ctx, opGetByID, err)
	}
	return snap, nil
}

// ListHistory returns the snapshots of a base code newest first
func (s *BadgerSnapshotStore) ListHistory(ctx context.Context, baseCode string, limit int) ([]entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opListHistory); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	prefix := []byte(histPrefix + base + ":")
	out := []entity.ExchangeRateSnapshot{}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration starts at the greatest key <= seek
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			// a base code containing ':' can share our prefix; only exact sequence suffixes belong to us
			suffix := string(item.Key()[len(prefix):])
			if len(suffix) != seqWidth || strings.Contains(suffix, ":") {
				continue
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			id, err := uuid.ParseBytes(raw)
			if err != nil {
				return fmt.Errorf("failed to parse history entry %s: %w", item.Key(), err)
			}

			var snap entity.ExchangeRateSnapshot
			found, err := getJSON(txn, snapKey(id), &snap)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("history entry references missing snapshot %s", id)
			}
			out = append(out, snap)

			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Classify(ctx, opListHistory, err)
	}
	return out, nil
}

// ListBaseCodes returns the base codes that have snapshots, sorted
func (s *BadgerSnapshotStore) ListBaseCodes(ctx context.Context) ([]string, error) {
	if err := apperrors.CheckContext(ctx, opListBaseCodes); err != nil {
		return nil, err
	}

	prefix := []byte(latestPrefix)
	out := []string{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Classify(ctx, opListBaseCodes, err)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes the database if the store opened it
func (s *BadgerSnapshotStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	return nil
}
