package entity

import (
	"sort"
	"strings"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimestampPrecision is the resolution at which SavedAt and CapturedAt are stored.
// Every backend keeps at least microseconds, so snapshots round-trip unchanged.
const TimestampPrecision = time.Microsecond

// ExchangeRateSnapshot is one immutable observation of exchange rates for a base currency
type ExchangeRateSnapshot struct {
	ID         uuid.UUID                  `json:"id"`
	BaseCode   string                     `json:"base_code"`
	Rates      map[string]decimal.Decimal `json:"rates"`
	CapturedAt time.Time                  `json:"captured_at"`
	SavedAt    time.Time                  `json:"saved_at"`
	Sequence   uint64                     `json:"sequence"`
}

// NormalizeCode trims and upper-cases a currency code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Normalized returns a validated copy of the snapshot with normalized codes.
// Store-assigned fields (ID, SavedAt, Sequence) are cleared.
func (s ExchangeRateSnapshot) Normalized() (ExchangeRateSnapshot, error) {
	base := NormalizeCode(s.BaseCode)
	if base == "" {
		return ExchangeRateSnapshot{}, apperrors.NewValidationError("base_code", "must not be empty")
	}

	if len(s.Rates) == 0 {
		return ExchangeRateSnapshot{}, apperrors.NewValidationError("rates", "must not be empty")
	}

	rates := make(map[string]decimal.Decimal, len(s.Rates))
	for code, rate := range s.Rates {
		target := NormalizeCode(code)
		if target == "" {
			return ExchangeRateSnapshot{}, apperrors.NewValidationError("rates", "contain an empty currency code")
		}
		if !rate.IsPositive() {
			return ExchangeRateSnapshot{}, apperrors.NewValidationError("rates", "value for "+target+" must be strictly positive")
		}
		if _, dup := rates[target]; dup {
			return ExchangeRateSnapshot{}, apperrors.NewValidationError("rates", "contain duplicate currency code "+target)
		}
		rates[target] = rate
	}

	return ExchangeRateSnapshot{
		BaseCode:   base,
		Rates:      rates,
		CapturedAt: s.CapturedAt,
	}, nil
}

// Validate ensures the snapshot meets all requirements for Save
func (s ExchangeRateSnapshot) Validate() error {
	_, err := s.Normalized()
	return err
}

// Stamp assigns the store-managed fields. A zero CapturedAt takes the SavedAt value.
func (s *ExchangeRateSnapshot) Stamp(id uuid.UUID, savedAt time.Time, sequence uint64) {
	s.ID = id
	s.SavedAt = savedAt
	s.Sequence = sequence
	if s.CapturedAt.IsZero() {
		s.CapturedAt = savedAt
	} else {
		s.CapturedAt = s.CapturedAt.UTC().Truncate(TimestampPrecision)
	}
}

// Clone returns a deep copy so callers can never mutate stored state
func (s ExchangeRateSnapshot) Clone() ExchangeRateSnapshot {
	out := s
	out.Rates = make(map[string]decimal.Decimal, len(s.Rates))
	for k, v := range s.Rates {
		out.Rates[k] = v
	}
	return out
}

// Rate returns the rate for a target currency
func (s ExchangeRateSnapshot) Rate(target string) (decimal.Decimal, bool) {
	r, ok := s.Rates[NormalizeCode(target)]
	return r, ok
}

// Targets returns the target currency codes in sorted order
func (s ExchangeRateSnapshot) Targets() []string {
	out := make([]string, 0, len(s.Rates))
	for k := range s.Rates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewerThan reports whether s supersedes other in the "latest" ordering
func (s ExchangeRateSnapshot) NewerThan(other ExchangeRateSnapshot) bool {
	if !s.SavedAt.Equal(other.SavedAt) {
		return s.SavedAt.After(other.SavedAt)
	}
	return s.Sequence > other.Sequence
}

// Age returns how long ago the rates were captured upstream
func (s ExchangeRateSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}
