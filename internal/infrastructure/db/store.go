// Package db contains the storage backends for exchange-rate snapshots
package db

import (
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
)

const (
	opGetLatest     = "get latest"
	opSave          = "save"
	opGetByID       = "get by id"
	opListHistory   = "list history"
	opListBaseCodes = "list base codes"
)

// Clock returns the current time. Backends use it to stamp SavedAt.
type Clock func() time.Time

func normalizeBase(baseCode string) (string, error) {
	base := entity.NormalizeCode(baseCode)
	if base == "" {
		return "", apperrors.NewValidationError("base_code", "must not be empty")
	}
	return base, nil
}

func clockOrNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
