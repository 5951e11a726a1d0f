package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/mocks"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResultOf(t *testing.T) {
	assert.Equal(t, ResultOK, ResultOf(nil))
	assert.Equal(t, ResultValidation, ResultOf(apperrors.NewValidationError("rates", "must not be empty")))
	assert.Equal(t, ResultCancelled, ResultOf(apperrors.NewCancelledError("save", context.Canceled)))
	assert.Equal(t, ResultStorage, ResultOf(apperrors.NewStorageError("save", errors.New("disk full"))))
	assert.Equal(t, ResultStorage, ResultOf(errors.New("unclassified")))
}

func TestInstrumentedStore(t *testing.T) {
	ctx := context.Background()
	backend := new(mocks.MockSnapshotRepository)
	store := InstrumentStore(backend)

	in := entity.ExchangeRateSnapshot{
		BaseCode: "NOK",
		Rates:    map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.085")},
	}
	savedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := in
	stored.Stamp(uuid.New(), savedAt, 1)

	backend.On("Append", ctx, in).Return(&stored, nil).Once()
	backend.On("GetLatest", ctx, "SEK").Return(nil, nil).Once()
	backend.On("GetLatest", ctx, "").Return(nil, apperrors.NewValidationError("base_code", "must not be empty")).Once()

	saveOK := testutil.ToFloat64(StoreOperationsTotal.WithLabelValues("save", ResultOK))
	absent := testutil.ToFloat64(StoreOperationsTotal.WithLabelValues("get_latest", ResultAbsent))
	invalid := testutil.ToFloat64(StoreOperationsTotal.WithLabelValues("get_latest", ResultValidation))

	id, err := store.Save(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, id)

	snap, err := store.GetLatest(ctx, "SEK")
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = store.GetLatest(ctx, "")
	assert.True(t, apperrors.IsValidation(err))

	assert.Equal(t, saveOK+1, testutil.ToFloat64(StoreOperationsTotal.WithLabelValues("save", ResultOK)))
	assert.Equal(t, absent+1, testutil.ToFloat64(StoreOperationsTotal.WithLabelValues("get_latest", ResultAbsent)))
	assert.Equal(t, invalid+1, testutil.ToFloat64(StoreOperationsTotal.WithLabelValues("get_latest", ResultValidation)))
	assert.Equal(t, float64(savedAt.Unix()), testutil.ToFloat64(LatestSavedAtSeconds.WithLabelValues("NOK")))

	backend.AssertExpectations(t)
	backend.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestUpdateJobMetrics(t *testing.T) {
	before := testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("refresh_test"))

	UpdateJobMetrics("refresh_test", time.Now().Add(-time.Second), nil)
	assert.Equal(t, before, testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("refresh_test")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(ScheduledJobLastDurationSeconds.WithLabelValues("refresh_test")), 1.0)

	UpdateJobMetrics("refresh_test", time.Now(), errors.New("provider down"))
	assert.Equal(t, before+1, testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("refresh_test")))
}

func TestUpdateDBPoolMetrics(t *testing.T) {
	UpdateDBPoolMetrics("postgrespool", 10, 7, 3, 42)

	assert.Equal(t, 10.0, testutil.ToFloat64(DBPoolTotalConns.WithLabelValues("postgrespool")))
	assert.Equal(t, 7.0, testutil.ToFloat64(DBPoolIdleConns.WithLabelValues("postgrespool")))
	assert.Equal(t, 3.0, testutil.ToFloat64(DBPoolAcquiredConns.WithLabelValues("postgrespool")))
	assert.Equal(t, 42.0, testutil.ToFloat64(DBPoolAcquiresTotal.WithLabelValues("postgrespool")))
}

func TestInstrumentedStoreLatestGaugeOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	backend := new(mocks.MockSnapshotRepository)
	store := InstrumentStore(backend)

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := entity.ExchangeRateSnapshot{BaseCode: "DKK", Rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.134")}}
	older := newer
	newer.Stamp(uuid.New(), t0.Add(time.Minute), 2)
	older.Stamp(uuid.New(), t0, 1)

	// the newer save returns first, as can happen under concurrency
	backend.On("Append", ctx, mock.Anything).Return(&newer, nil).Once()
	backend.On("Append", ctx, mock.Anything).Return(&older, nil).Once()

	_, err := store.Append(ctx, entity.ExchangeRateSnapshot{BaseCode: "DKK"})
	require.NoError(t, err)
	_, err = store.Append(ctx, entity.ExchangeRateSnapshot{BaseCode: "DKK"})
	require.NoError(t, err)

	assert.Equal(t, float64(newer.SavedAt.Unix()), testutil.ToFloat64(LatestSavedAtSeconds.WithLabelValues("DKK")))
	backend.AssertExpectations(t)
}
