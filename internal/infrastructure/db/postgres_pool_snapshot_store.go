package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/migrate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

const snapshotColumns = `id, base_code, sequence, rates, captured_at, saved_at`

// PostgresPoolSnapshotStore implements the snapshot repository with pgx directly
type PostgresPoolSnapshotStore struct {
	pool   *pgxpool.Pool
	now    Clock
	logger logger.Logger
}

// OpenPostgresPool connects a pgx pool to dsn
func OpenPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresPoolSnapshotStore creates a store on an open pool. The store owns the pool.
func NewPostgresPoolSnapshotStore(pool *pgxpool.Pool, log logger.Logger) *PostgresPoolSnapshotStore {
	return &PostgresPoolSnapshotStore{
		pool:   pool,
		now:    clockOrNow(nil),
		logger: logger.OrDefault(log).WithField("backend", "postgrespool"),
	}
}

// Migrate applies the embedded goose migrations through the pool
func (s *PostgresPoolSnapshotStore) Migrate(ctx context.Context) error {
	sqlDB := stdlib.OpenDBFromPool(s.pool)
	defer sqlDB.Close()
	return migrate.UpDB(ctx, sqlDB)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (entity.ExchangeRateSnapshot, error) {
	var (
		id                  string
		snap                entity.ExchangeRateSnapshot
		seq                 int64
		rates               string
		capturedAt, savedAt time.Time
	)
	if err := row.Scan(&id, &snap.BaseCode, &seq, &rates, &capturedAt, &savedAt); err != nil {
		return entity.ExchangeRateSnapshot{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return entity.ExchangeRateSnapshot{}, fmt.Errorf("failed to parse snapshot id %q: %w", id, err)
	}
	var decoded map[string]decimal.Decimal
	if err := json.Unmarshal([]byte(rates), &decoded); err != nil {
		return entity.ExchangeRateSnapshot{}, fmt.Errorf("failed to decode rates of %s: %w", id, err)
	}

	snap.ID = parsed
	snap.Sequence = uint64(seq)
	snap.Rates = decoded
	snap.CapturedAt = capturedAt.UTC()
	snap.SavedAt = savedAt.UTC()
	return snap, nil
}

// GetLatest returns the latest snapshot for the base code, or nil if none exists
func (s *PostgresPoolSnapshotStore) GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetLatest); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT s.id, s.base_code, s.sequence, s.rates, s.captured_at, s.saved_at
		FROM fx_rate_latest l
		JOIN fx_rate_snapshots s ON s.id = l.snapshot_id
		WHERE l.base_code = $1 AND l.sequence > 0`, base)

	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Classify(ctx, opGetLatest, err)
	}
	return &snap, nil
}

// Save appends the snapshot and returns its ID
func (s *PostgresPoolSnapshotStore) Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error) {
	stored, err := s.Append(ctx, snapshot)
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// Append inserts the snapshot and moves the latest pointer under a row lock
func (s *PostgresPoolSnapshotStore) Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opSave); err != nil {
		return nil, err
	}
	snap, err := snapshot.Normalized()
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Classify(ctx, opSave, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback(context.Background())
	}()

	if _, err := tx.Exec(ctx, `
		INSERT INTO fx_rate_latest (base_code, snapshot_id, saved_at, sequence)
		VALUES ($1, '', 'epoch', 0)
		ON CONFLICT (base_code) DO NOTHING`, snap.BaseCode); err != nil {
		return nil, apperrors.Classify(ctx, opSave, fmt.Errorf("failed to seed latest pointer: %w", err))
	}

	var (
		curSavedAt time.Time
		curSeq     int64
	)
	err = tx.QueryRow(ctx, `
		SELECT saved_at, sequence FROM fx_rate_latest
		WHERE base_code = $1
		FOR UPDATE`, snap.BaseCode).Scan(&curSavedAt, &curSeq)
	if err != nil {
		return nil, apperrors.Classify(ctx, opSave, fmt.Errorf("failed to lock latest pointer: %w", err))
	}

	var prev *entity.LatestPointer
	if curSeq > 0 {
		prev = &entity.LatestPointer{BaseCode: snap.BaseCode, SavedAt: curSavedAt.UTC(), Sequence: uint64(curSeq)}
	}
	savedAt, seq := prev.Next(s.now())
	snap.Stamp(uuid.New(), savedAt, seq)

	rates, err := json.Marshal(snap.Rates)
	if err != nil {
		return nil, apperrors.NewStorageError(opSave, fmt.Errorf("failed to encode rates: %w", err))
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO fx_rate_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID.String(), snap.BaseCode, int64(snap.Sequence), string(rates), snap.CapturedAt, snap.SavedAt,
	); err != nil {
		return nil, apperrors.Classify(ctx, opSave, fmt.Errorf("failed to insert snapshot: %w", err))
	}

	if _, err := tx.Exec(ctx, `
		UPDATE fx_rate_latest
		SET snapshot_id = $2, saved_at = $3, sequence = $4
		WHERE base_code = $1`,
		snap.BaseCode, snap.ID.String(), snap.SavedAt, int64(snap.Sequence),
	); err != nil {
		return nil, apperrors.Classify(ctx, opSave, fmt.Errorf("failed to update latest pointer: %w", err))
	}

	if err := apperrors.CheckContext(ctx, opSave); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Classify(ctx, opSave, fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.logger.Debug("Snapshot saved", map[string]interface{}{
		"id":        snap.ID.String(),
		"base_code": snap.BaseCode,
		"sequence":  snap.Sequence,
	})

	return &snap, nil
}

// GetByID returns a snapshot by ID, or nil if it does not exist
func (s *PostgresPoolSnapshotStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetByID); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM fx_rate_snapshots WHERE id = $1`, id.String())
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Classify(ctx, opGetByID, err)
	}
	return &snap, nil
}

// ListHistory returns the snapshots of a base code newest first
func (s *PostgresPoolSnapshotStore) ListHistory(ctx context.Context, baseCode string, limit int) ([]entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opListHistory); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + snapshotColumns + ` FROM fx_rate_snapshots WHERE base_code = $1 ORDER BY sequence DESC`
	args := []any{base}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Classify(ctx, opListHistory, err)
	}
	defer rows.Close()

	out := []entity.ExchangeRateSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, apperrors.Classify(ctx, opListHistory, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Classify(ctx, opListHistory, err)
	}
	return out, nil
}

// ListBaseCodes returns the base codes that have snapshots, sorted
func (s *PostgresPoolSnapshotStore) ListBaseCodes(ctx context.Context) ([]string, error) {
	if err := apperrors.CheckContext(ctx, opListBaseCodes); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT base_code FROM fx_rate_latest WHERE sequence > 0 ORDER BY base_code`)
	if err != nil {
		return nil, apperrors.Classify(ctx, opListBaseCodes, err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.Classify(ctx, opListBaseCodes, err)
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

// Pool exposes the connection pool so other postgres components can share it
func (s *PostgresPoolSnapshotStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool
func (s *PostgresPoolSnapshotStore) Close() error {
	s.pool.Close()
	return nil
}
