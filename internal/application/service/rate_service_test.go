package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/db"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rates(pairs ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = decimal.RequireFromString(pairs[i+1])
	}
	return out
}

func storedSnapshot(base string, savedAt time.Time, seq uint64, r map[string]decimal.Decimal) *entity.ExchangeRateSnapshot {
	snap := entity.ExchangeRateSnapshot{BaseCode: base, Rates: r}
	snap.Stamp(uuid.New(), savedAt, seq)
	return &snap
}

func TestGetLatestRates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Fresh snapshot is served without a provider call", func(t *testing.T) {
		store := new(mocks.MockSnapshotRepository)
		provider := new(mocks.MockRateProvider)
		svc := NewRateService(store, provider, logger.Discard())
		svc.now = func() time.Time { return now }
		svc.MaxSnapshotAge = time.Hour

		fresh := storedSnapshot("USD", now.Add(-time.Minute), 4, rates("EUR", "0.9"))
		store.On("GetLatest", ctx, "USD").Return(fresh, nil).Once()

		got, err := svc.GetLatestRates(ctx, "USD")
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, got.ID)
		provider.AssertNotCalled(t, "FetchLatestRates", mock.Anything, mock.Anything)
	})

	t.Run("Missing snapshot is refreshed", func(t *testing.T) {
		store := new(mocks.MockSnapshotRepository)
		provider := new(mocks.MockRateProvider)
		svc := NewRateService(store, provider, logger.Discard())

		fetched := &entity.ExchangeRateSnapshot{BaseCode: "USD", Rates: rates("EUR", "0.9")}
		saved := storedSnapshot("USD", now, 1, rates("EUR", "0.9"))

		store.On("GetLatest", ctx, "USD").Return(nil, nil).Once()
		provider.On("FetchLatestRates", ctx, "USD").Return(fetched, nil).Once()
		store.On("Save", ctx, *fetched).Return(saved.ID, nil).Once()
		store.On("GetLatest", ctx, "USD").Return(saved, nil).Once()

		got, err := svc.GetLatestRates(ctx, "USD")
		require.NoError(t, err)
		assert.Equal(t, saved.ID, got.ID)
		store.AssertExpectations(t)
		provider.AssertExpectations(t)
	})

	t.Run("Stale snapshot is served when refresh fails", func(t *testing.T) {
		store := new(mocks.MockSnapshotRepository)
		provider := new(mocks.MockRateProvider)
		svc := NewRateService(store, provider, logger.Discard())
		svc.now = func() time.Time { return now }
		svc.MaxSnapshotAge = time.Hour

		stale := storedSnapshot("USD", now.Add(-2*time.Hour), 3, rates("EUR", "0.9"))
		store.On("GetLatest", ctx, "USD").Return(stale, nil).Once()
		provider.On("FetchLatestRates", ctx, "USD").Return(nil, errors.New("provider down")).Once()

		got, err := svc.GetLatestRates(ctx, "USD")
		require.NoError(t, err)
		assert.Equal(t, stale.ID, got.ID)
		provider.AssertExpectations(t)
	})

	t.Run("Zero MaxSnapshotAge never refreshes", func(t *testing.T) {
		store := new(mocks.MockSnapshotRepository)
		provider := new(mocks.MockRateProvider)
		svc := NewRateService(store, provider, logger.Discard())
		svc.now = func() time.Time { return now }

		old := storedSnapshot("USD", now.AddDate(-1, 0, 0), 1, rates("EUR", "0.9"))
		store.On("GetLatest", ctx, "USD").Return(old, nil).Once()

		got, err := svc.GetLatestRates(ctx, "USD")
		require.NoError(t, err)
		assert.Equal(t, old.ID, got.ID)
		provider.AssertNotCalled(t, "FetchLatestRates", mock.Anything, mock.Anything)
	})

	t.Run("Without provider a missing snapshot is nil", func(t *testing.T) {
		store := new(mocks.MockSnapshotRepository)
		svc := NewRateService(store, nil, logger.Discard())
		store.On("GetLatest", ctx, "USD").Return(nil, nil).Once()

		got, err := svc.GetLatestRates(ctx, "USD")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Store errors propagate", func(t *testing.T) {
		store := new(mocks.MockSnapshotRepository)
		svc := NewRateService(store, nil, logger.Discard())
		storageErr := apperrors.NewStorageError("get latest", errors.New("disk gone"))
		store.On("GetLatest", ctx, "USD").Return(nil, storageErr).Once()

		_, err := svc.GetLatestRates(ctx, "USD")
		require.Error(t, err)
		assert.True(t, apperrors.IsStorage(err))
		assert.ErrorIs(t, err, storageErr)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("No provider", func(t *testing.T) {
		svc := NewRateService(new(mocks.MockSnapshotRepository), nil, logger.Discard())
		_, err := svc.Refresh(ctx, "USD")
		assert.ErrorIs(t, err, ErrNoProvider)
	})

	t.Run("Invalid provider data surfaces a validation error", func(t *testing.T) {
		store := db.NewMemorySnapshotStore(logger.Discard())
		provider := new(mocks.MockRateProvider)
		provider.On("FetchLatestRates", ctx, "USD").
			Return(&entity.ExchangeRateSnapshot{BaseCode: "USD"}, nil).Once()

		svc := NewRateService(store, provider, logger.Discard())
		_, err := svc.Refresh(ctx, "USD")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		latest, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("Read-your-writes against a real store", func(t *testing.T) {
		store := db.NewMemorySnapshotStore(logger.Discard())
		provider := new(mocks.MockRateProvider)
		provider.On("FetchLatestRates", ctx, "usd").
			Return(&entity.ExchangeRateSnapshot{BaseCode: "usd", Rates: rates("eur", "0.91")}, nil).Twice()

		svc := NewRateService(store, provider, logger.Discard())

		first, err := svc.Refresh(ctx, "usd")
		require.NoError(t, err)
		second, err := svc.Refresh(ctx, "usd")
		require.NoError(t, err)

		assert.Equal(t, uint64(1), first.Sequence)
		assert.Equal(t, uint64(2), second.Sequence)
		assert.Equal(t, "USD", second.BaseCode)
	})
}

func TestRecordSnapshot(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemorySnapshotStore(logger.Discard())
	svc := NewRateService(store, nil, logger.Discard())

	captured := time.Date(2024, 2, 29, 16, 0, 0, 0, time.UTC)
	id, err := svc.RecordSnapshot(ctx, "gbp", rates("USD", "1.27"), captured)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "GBP", got.BaseCode)
	assert.True(t, got.CapturedAt.Equal(captured))

	_, err = svc.RecordSnapshot(ctx, "GBP", nil, captured)
	assert.True(t, apperrors.IsValidation(err))
}

func TestConvert(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemorySnapshotStore(logger.Discard())
	svc := NewRateService(store, nil, logger.Discard())

	_, err := store.Save(ctx, entity.ExchangeRateSnapshot{BaseCode: "USD", Rates: rates("EUR", "0.9234", "JPY", "150.125")})
	require.NoError(t, err)
	eurID, err := store.Save(ctx, entity.ExchangeRateSnapshot{BaseCode: "EUR", Rates: rates("GBP", "0.8", "CHF", "0.96")})
	require.NoError(t, err)

	tests := []struct {
		name      string
		amount    string
		from, to  string
		converted string
		inverse   bool
	}{
		{"Direct rate", "100", "USD", "EUR", "92.34", false},
		{"Direct rate rounds to cents", "10.005", "usd", "jpy", "1502.00", false},
		{"Inverse rate", "100", "GBP", "EUR", "125.00", true},
		{"Same currency", "12.345", "CHF", "chf", "12.35", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conv, err := svc.Convert(ctx, decimal.RequireFromString(tc.amount), tc.from, tc.to)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tc.converted).Equal(conv.ConvertedAmount),
				"want %s got %s", tc.converted, conv.ConvertedAmount)
			assert.Equal(t, tc.inverse, conv.Inverse)
		})
	}

	t.Run("Inverse conversion references the target snapshot", func(t *testing.T) {
		conv, err := svc.Convert(ctx, decimal.NewFromInt(1), "GBP", "EUR")
		require.NoError(t, err)
		assert.Equal(t, eurID, conv.SnapshotID)
		assert.True(t, decimal.RequireFromString("1.25").Equal(conv.ExchangeRate))
	})

	t.Run("Unknown pair", func(t *testing.T) {
		_, err := svc.Convert(ctx, decimal.NewFromInt(1), "USD", "AUD")
		assert.ErrorIs(t, err, ErrRateUnavailable)
	})

	t.Run("Blank code", func(t *testing.T) {
		_, err := svc.Convert(ctx, decimal.NewFromInt(1), "", "EUR")
		assert.Error(t, err)
	})
}

func TestConvertWithOfflineProvider(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemorySnapshotStore(logger.Discard())
	eurID, err := store.Save(ctx, entity.ExchangeRateSnapshot{BaseCode: "EUR", Rates: rates("USD", "1.25")})
	require.NoError(t, err)

	provider := new(mocks.MockRateProvider)
	provider.On("FetchLatestRates", mock.Anything, "USD").Return(nil, errors.New("provider offline"))
	provider.On("FetchLatestRates", mock.Anything, "AUD").Return(nil, errors.New("provider offline"))
	svc := NewRateService(store, provider, logger.Discard())

	t.Run("Inverse rate is used when the direct leg cannot be fetched", func(t *testing.T) {
		conv, err := svc.Convert(ctx, decimal.NewFromInt(100), "USD", "EUR")
		require.NoError(t, err)
		assert.True(t, conv.Inverse)
		assert.Equal(t, eurID, conv.SnapshotID)
		assert.True(t, decimal.RequireFromString("80").Equal(conv.ConvertedAmount), "got %s", conv.ConvertedAmount)
	})

	t.Run("Direct leg error is returned when both legs fail", func(t *testing.T) {
		_, err := svc.Convert(ctx, decimal.NewFromInt(1), "USD", "AUD")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider offline")
		assert.NotErrorIs(t, err, ErrRateUnavailable)
	})

	provider.AssertExpectations(t)
}
