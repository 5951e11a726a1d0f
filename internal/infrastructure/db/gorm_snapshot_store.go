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
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// snapshotRecord is the row layout of fx_rate_snapshots
type snapshotRecord struct {
	ID         string    `gorm:"primaryKey;column:id;type:text"`
	BaseCode   string    `gorm:"column:base_code;type:text;not null;uniqueIndex:idx_fx_rate_snapshots_base_seq,priority:1"`
	Sequence   int64     `gorm:"column:sequence;not null;uniqueIndex:idx_fx_rate_snapshots_base_seq,priority:2"`
	Rates      string    `gorm:"column:rates;type:text;not null"`
	CapturedAt time.Time `gorm:"column:captured_at;not null"`
	SavedAt    time.Time `gorm:"column:saved_at;not null"`
}

func (snapshotRecord) TableName() string { return "fx_rate_snapshots" }

// latestRecord is the row layout of fx_rate_latest. A row with Sequence 0 is
// a lock placeholder and does not name a snapshot yet.
type latestRecord struct {
	BaseCode   string    `gorm:"primaryKey;column:base_code;type:text"`
	SnapshotID string    `gorm:"column:snapshot_id;type:text;not null"`
	SavedAt    time.Time `gorm:"column:saved_at;not null"`
	Sequence   int64     `gorm:"column:sequence;not null"`
}

func (latestRecord) TableName() string { return "fx_rate_latest" }

func toRecord(s entity.ExchangeRateSnapshot) (snapshotRecord, error) {
	rates, err := json.Marshal(s.Rates)
	if err != nil {
		return snapshotRecord{}, fmt.Errorf("failed to encode rates: %w", err)
	}
	return snapshotRecord{
		ID:         s.ID.String(),
		BaseCode:   s.BaseCode,
		Sequence:   int64(s.Sequence),
		Rates:      string(rates),
		CapturedAt: s.CapturedAt,
		SavedAt:    s.SavedAt,
	}, nil
}

func fromRecord(r snapshotRecord) (entity.ExchangeRateSnapshot, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return entity.ExchangeRateSnapshot{}, fmt.Errorf("failed to parse snapshot id %q: %w", r.ID, err)
	}
	var rates map[string]decimal.Decimal
	if err := json.Unmarshal([]byte(r.Rates), &rates); err != nil {
		return entity.ExchangeRateSnapshot{}, fmt.Errorf("failed to decode rates of %s: %w", r.ID, err)
	}
	return entity.ExchangeRateSnapshot{
		ID:         id,
		BaseCode:   r.BaseCode,
		Rates:      rates,
		CapturedAt: r.CapturedAt.UTC(),
		SavedAt:    r.SavedAt.UTC(),
		Sequence:   uint64(r.Sequence),
	}, nil
}

// GormSnapshotStore implements the snapshot repository on SQLite or PostgreSQL through GORM
type GormSnapshotStore struct {
	db     *gorm.DB
	locks  *keyedMutex
	now    Clock
	logger logger.Logger
}

// NewGormSnapshotStore opens a GORM connection for driver "sqlite" or "postgres"
func NewGormSnapshotStore(driver, dsn string, log logger.Logger) (*GormSnapshotStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver: %s", driver)
	}

	log = logger.OrDefault(log).WithFields(map[string]interface{}{"backend": "gorm", "dialect": driver})

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	return &GormSnapshotStore{
		db:     db,
		locks:  newKeyedMutex(),
		now:    clockOrNow(nil),
		logger: log,
	}, nil
}

// Migrate creates or updates the snapshot tables
func (s *GormSnapshotStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&snapshotRecord{}, &latestRecord{}); err != nil {
		return fmt.Errorf("failed to migrate snapshot tables: %w", err)
	}
	return nil
}

func (s *GormSnapshotStore) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

func findSnapshot(tx *gorm.DB, id string) (*entity.ExchangeRateSnapshot, error) {
	var rec snapshotRecord
	result := tx.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	snap, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetLatest returns the latest snapshot for the base code, or nil if none exists
func (s *GormSnapshotStore) GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetLatest); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	var rec snapshotRecord
	result := s.db.WithContext(ctx).
		Joins("JOIN fx_rate_latest ON fx_rate_latest.snapshot_id = fx_rate_snapshots.id").
		Where("fx_rate_latest.base_code = ? AND fx_rate_latest.sequence > 0", base).
		First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Classify(ctx, opGetLatest, result.Error)
	}

	snap, err := fromRecord(rec)
	if err != nil {
		return nil, apperrors.Classify(ctx, opGetLatest, err)
	}
	return &snap, nil
}

// Save appends the snapshot and returns its ID
func (s *GormSnapshotStore) Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error) {
	stored, err := s.Append(ctx, snapshot)
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// Append inserts the snapshot and moves the latest pointer in one transaction
func (s *GormSnapshotStore) Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error) {
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

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// make sure a row exists to lock, then lock it
		seed := latestRecord{BaseCode: snap.BaseCode, SavedAt: time.Unix(0, 0).UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("failed to seed latest pointer: %w", err)
		}

		q := tx
		if s.isPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var cur latestRecord
		if err := q.First(&cur, "base_code = ?", snap.BaseCode).Error; err != nil {
			return fmt.Errorf("failed to read latest pointer: %w", err)
		}

		var prev *entity.LatestPointer
		if cur.Sequence > 0 {
			prev = &entity.LatestPointer{
				BaseCode: cur.BaseCode,
				SavedAt:  cur.SavedAt.UTC(),
				Sequence: uint64(cur.Sequence),
			}
		}
		savedAt, seq := prev.Next(s.now())
		snap.Stamp(uuid.New(), savedAt, seq)

		rec, err := toRecord(snap)
		if err != nil {
			return err
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		result := tx.Model(&latestRecord{}).
			Where("base_code = ?", snap.BaseCode).
			Updates(map[string]interface{}{
				"snapshot_id": rec.ID,
				"saved_at":    rec.SavedAt,
				"sequence":    rec.Sequence,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update latest pointer: %w", result.Error)
		}

		// returning an error rolls the transaction back
		return apperrors.CheckContext(ctx, opSave)
	})
	if err != nil {
		return nil, apperrors.Classify(ctx, opSave, err)
	}

	s.logger.Debug("Snapshot saved", map[string]interface{}{
		"id":        snap.ID.String(),
		"base_code": snap.BaseCode,
		"sequence":  snap.Sequence,
	})

	return &snap, nil
}

// GetByID returns a snapshot by ID, or nil if it does not exist
func (s *GormSnapshotStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opGetByID); err != nil {
		return nil, err
	}
	snap, err := findSnapshot(s.db.WithContext(ctx), id.String())
	if err != nil {
		return nil, apperrors.Classify(ctx, opGetByID, err)
	}
	return snap, nil
}

// ListHistory returns the snapshots of a base code newest first
func (s *GormSnapshotStore) ListHistory(ctx context.Context, baseCode string, limit int) ([]entity.ExchangeRateSnapshot, error) {
	if err := apperrors.CheckContext(ctx, opListHistory); err != nil {
		return nil, err
	}
	base, err := normalizeBase(baseCode)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("base_code = ?", base).Order("sequence desc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []snapshotRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, apperrors.Classify(ctx, opListHistory, err)
	}

	out := make([]entity.ExchangeRateSnapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := fromRecord(rec)
		if err != nil {
			return nil, apperrors.Classify(ctx, opListHistory, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// ListBaseCodes returns the base codes that have snapshots, sorted
func (s *GormSnapshotStore) ListBaseCodes(ctx context.Context) ([]string, error) {
	if err := apperrors.CheckContext(ctx, opListBaseCodes); err != nil {
		return nil, err
	}

	out := []string{}
	result := s.db.WithContext(ctx).Model(&latestRecord{}).
		Where("sequence > 0").
		Order("base_code").
		Pluck("base_code", &out)
	if result.Error != nil {
		return nil, apperrors.Classify(ctx, opListBaseCodes, result.Error)
	}
	return out, nil
}

// Ping checks the database connection
func (s *GormSnapshotStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *GormSnapshotStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
