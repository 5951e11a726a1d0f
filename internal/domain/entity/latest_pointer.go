package entity

import (
	"time"

	"github.com/google/uuid"
)

// LatestPointer is the index record naming the current latest snapshot of a base code
type LatestPointer struct {
	BaseCode   string    `json:"base_code"`
	SnapshotID uuid.UUID `json:"snapshot_id"`
	SavedAt    time.Time `json:"saved_at"`
	Sequence   uint64    `json:"sequence"`
}

// Next returns the SavedAt and Sequence for the snapshot that will supersede p.
// SavedAt never goes backwards even if the wall clock does. A nil pointer
// starts the sequence at 1.
func (p *LatestPointer) Next(now time.Time) (time.Time, uint64) {
	savedAt := now.UTC().Truncate(TimestampPrecision)
	if p == nil {
		return savedAt, 1
	}
	if savedAt.Before(p.SavedAt) {
		savedAt = p.SavedAt
	}
	return savedAt, p.Sequence + 1
}

// PointerFor builds the index record for a stamped snapshot
func PointerFor(s ExchangeRateSnapshot) LatestPointer {
	return LatestPointer{
		BaseCode:   s.BaseCode,
		SnapshotID: s.ID,
		SavedAt:    s.SavedAt,
		Sequence:   s.Sequence,
	}
}
