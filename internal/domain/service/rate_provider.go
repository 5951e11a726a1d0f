// Package service declares the external services the domain depends on
package service

import (
	"context"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
)

// RateProvider fetches fresh exchange rates from an upstream source
type RateProvider interface {
	// FetchLatestRates returns an unsaved snapshot candidate for the base code
	FetchLatestRates(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error)
}
