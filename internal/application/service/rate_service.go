// Package service holds the application use cases built on the snapshot store
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/repository"
	domainservice "github.com/damon-houk/fx-rate-snapshot-store/internal/domain/service"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrRateUnavailable is returned when no stored snapshot can price a currency pair
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrNoProvider is returned by Refresh when the service has no rate provider
	ErrNoProvider = errors.New("no rate provider configured")
)

// Conversion is the result of converting an amount between two currencies
type Conversion struct {
	From            string          `json:"from"`
	To              string          `json:"to"`
	Amount          decimal.Decimal `json:"amount"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	Inverse         bool            `json:"inverse"`
	SnapshotID      uuid.UUID       `json:"snapshot_id"`
	RateSavedAt     time.Time       `json:"rate_saved_at"`
}

// RateService reads, refreshes and applies exchange-rate snapshots
type RateService struct {
	store    repository.RateSnapshotStore
	provider domainservice.RateProvider
	logger   logger.Logger
	now      func() time.Time

	// MaxSnapshotAge is how long after SavedAt a snapshot is served before
	// GetLatestRates refreshes it. Zero disables staleness checks.
	MaxSnapshotAge time.Duration
}

// NewRateService creates a rate service. provider may be nil, in which case
// the service only reads what is already stored.
func NewRateService(store repository.RateSnapshotStore, provider domainservice.RateProvider, log logger.Logger) *RateService {
	return &RateService{
		store:    store,
		provider: provider,
		logger:   logger.OrDefault(log),
		now:      time.Now,
	}
}

func (s *RateService) isStale(snap *entity.ExchangeRateSnapshot) bool {
	return s.MaxSnapshotAge > 0 && s.now().Sub(snap.SavedAt) > s.MaxSnapshotAge
}

// GetLatestRates returns the latest stored snapshot for the base code. A
// missing or stale snapshot is refreshed from the provider; if that refresh
// fails the stale snapshot is still returned. Without a provider a missing
// snapshot yields nil.
func (s *RateService) GetLatestRates(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	requestID := middleware.GetRequestID(ctx)

	snap, err := s.store.GetLatest(ctx, baseCode)
	if err != nil {
		s.logger.Error("Failed to read latest snapshot", map[string]interface{}{
			"request_id": requestID,
			"base_code":  baseCode,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("failed to read latest snapshot: %w", err)
	}

	if snap != nil && !s.isStale(snap) {
		return snap, nil
	}
	if s.provider == nil {
		return snap, nil
	}

	refreshed, err := s.Refresh(ctx, baseCode)
	if err != nil {
		if snap != nil {
			s.logger.Warn("Serving stale snapshot after failed refresh", map[string]interface{}{
				"request_id": requestID,
				"base_code":  snap.BaseCode,
				"saved_at":   snap.SavedAt.Format(time.RFC3339),
				"error":      err.Error(),
			})
			return snap, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// Refresh fetches fresh rates from the provider, saves them and returns the
// latest snapshot as read back from the store
func (s *RateService) Refresh(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	requestID := middleware.GetRequestID(ctx)

	fetched, err := s.provider.FetchLatestRates(ctx, baseCode)
	if err != nil {
		s.logger.Error("Failed to fetch rates", map[string]interface{}{
			"request_id": requestID,
			"base_code":  baseCode,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("failed to fetch rates: %w", err)
	}

	id, err := s.store.Save(ctx, *fetched)
	if err != nil {
		s.logger.Error("Failed to save snapshot", map[string]interface{}{
			"request_id": requestID,
			"base_code":  baseCode,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	latest, err := s.store.GetLatest(ctx, fetched.BaseCode)
	if err != nil {
		return nil, fmt.Errorf("failed to read back snapshot: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("snapshot %s not visible after save", id)
	}

	s.logger.Info("Rates refreshed", map[string]interface{}{
		"request_id": requestID,
		"base_code":  latest.BaseCode,
		"id":         id.String(),
		"sequence":   latest.Sequence,
		"rates":      len(latest.Rates),
	})

	return latest, nil
}

// RecordSnapshot stores rates obtained outside the provider, e.g. entered by an operator
func (s *RateService) RecordSnapshot(ctx context.Context, baseCode string, rates map[string]decimal.Decimal, capturedAt time.Time) (uuid.UUID, error) {
	id, err := s.store.Save(ctx, entity.ExchangeRateSnapshot{
		BaseCode:   baseCode,
		Rates:      rates,
		CapturedAt: capturedAt,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	s.logger.Info("Snapshot recorded", map[string]interface{}{
		"request_id": middleware.GetRequestID(ctx),
		"base_code":  entity.NormalizeCode(baseCode),
		"id":         id.String(),
	})
	return id, nil
}

// Convert converts amount from one currency to another using the latest
// snapshot of the source currency, falling back to the inverse rate of the
// target currency's snapshot. The result is rounded to two decimal places.
func (s *RateService) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error) {
	from = entity.NormalizeCode(from)
	to = entity.NormalizeCode(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("both currency codes are required")
	}

	conv := &Conversion{From: from, To: to, Amount: amount}

	if from == to {
		conv.ExchangeRate = decimal.NewFromInt(1)
		conv.ConvertedAmount = amount.Round(2)
		return conv, nil
	}

	// a failed lookup on one leg still leaves the other leg to try
	direct, directErr := s.GetLatestRates(ctx, from)
	if directErr == nil && direct != nil {
		if rate, ok := direct.Rate(to); ok {
			conv.ExchangeRate = rate
			conv.SnapshotID = direct.ID
			conv.RateSavedAt = direct.SavedAt
			conv.ConvertedAmount = amount.Mul(rate).Round(2)
			return conv, nil
		}
	}

	inverse, inverseErr := s.GetLatestRates(ctx, to)
	if inverseErr == nil && inverse != nil {
		if rate, ok := inverse.Rate(from); ok {
			conv.ExchangeRate = decimal.NewFromInt(1).Div(rate)
			conv.Inverse = true
			conv.SnapshotID = inverse.ID
			conv.RateSavedAt = inverse.SavedAt
			conv.ConvertedAmount = amount.Mul(conv.ExchangeRate).Round(2)
			if directErr != nil {
				s.logger.Warn("Converted with inverse rate after direct lookup failed", map[string]interface{}{
					"request_id": middleware.GetRequestID(ctx),
					"from":       from,
					"to":         to,
					"error":      directErr.Error(),
				})
			}
			return conv, nil
		}
	}

	if directErr != nil {
		return nil, directErr
	}
	if inverseErr != nil {
		return nil, inverseErr
	}

	s.logger.Warn("No rate for currency pair", map[string]interface{}{
		"request_id": middleware.GetRequestID(ctx),
		"from":       from,
		"to":         to,
	})
	return nil, fmt.Errorf("%w: %s to %s", ErrRateUnavailable, from, to)
}
