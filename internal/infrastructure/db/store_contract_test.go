package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory builds an empty backend. A nil clock means wall time.
type storeFactory func(t *testing.T, clock Clock) repository.SnapshotRepository

func snapshotOf(base string, rates map[string]string) entity.ExchangeRateSnapshot {
	parsed := make(map[string]decimal.Decimal, len(rates))
	for code, r := range rates {
		parsed[code] = decimal.RequireFromString(r)
	}
	return entity.ExchangeRateSnapshot{BaseCode: base, Rates: parsed}
}

// fixedClock returns the same instant on every call
func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

// scriptedClock returns the given instants in order and then repeats the last one
func scriptedClock(times ...time.Time) Clock {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func assertSameSnapshot(t *testing.T, want, got entity.ExchangeRateSnapshot) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.BaseCode, got.BaseCode)
	assert.Equal(t, want.Sequence, got.Sequence)
	assert.True(t, want.SavedAt.Equal(got.SavedAt), "saved_at: want %s got %s", want.SavedAt, got.SavedAt)
	assert.True(t, want.CapturedAt.Equal(got.CapturedAt), "captured_at: want %s got %s", want.CapturedAt, got.CapturedAt)
	require.Len(t, got.Rates, len(want.Rates))
	for code, rate := range want.Rates {
		assert.True(t, rate.Equal(got.Rates[code]), "rate %s: want %s got %s", code, rate, got.Rates[code])
	}
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("GetLatest on an empty store returns nil without error", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		snap, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		assert.Nil(t, snap)

		byID, err := store.GetByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, byID)

		history, err := store.ListHistory(ctx, "USD", 0)
		require.NoError(t, err)
		assert.Empty(t, history)

		codes, err := store.ListBaseCodes(ctx)
		require.NoError(t, err)
		assert.Empty(t, codes)
	})

	t.Run("GetLatest rejects a blank base code", func(t *testing.T) {
		store := newStore(t, nil)

		_, err := store.GetLatest(context.Background(), "   ")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("Save then GetLatest round-trips the snapshot", func(t *testing.T) {
		store := newStore(t, fixedClock(t0))
		ctx := context.Background()

		in := snapshotOf(" usd ", map[string]string{"eur": "0.9123", " GBP": "0.79"})
		in.CapturedAt = time.Date(2024, 3, 1, 11, 59, 0, 123456789, time.FixedZone("X", 3600))

		id, err := store.Save(ctx, in)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)

		got, err := store.GetLatest(ctx, "usd")
		require.NoError(t, err)
		require.NotNil(t, got)

		want := entity.ExchangeRateSnapshot{
			ID:       id,
			BaseCode: "USD",
			Rates: map[string]decimal.Decimal{
				"EUR": decimal.RequireFromString("0.9123"),
				"GBP": decimal.RequireFromString("0.79"),
			},
			CapturedAt: time.Date(2024, 3, 1, 10, 59, 0, 123456000, time.UTC),
			SavedAt:    t0,
			Sequence:   1,
		}
		assertSameSnapshot(t, want, *got)

		byID, err := store.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assertSameSnapshot(t, want, *byID)
	})

	t.Run("Zero CapturedAt is stamped with SavedAt", func(t *testing.T) {
		store := newStore(t, fixedClock(t0))
		ctx := context.Background()

		_, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.9"}))
		require.NoError(t, err)

		got, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.CapturedAt.Equal(t0))
	})

	t.Run("Latest is the last of sequential saves", func(t *testing.T) {
		store := newStore(t, scriptedClock(t0, t0.Add(time.Second), t0.Add(2*time.Second)))
		ctx := context.Background()

		var ids []uuid.UUID
		for _, rate := range []string{"0.90", "0.91", "0.92"} {
			id, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": rate}))
			require.NoError(t, err)
			ids = append(ids, id)
		}

		got, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, ids[2], got.ID)
		assert.Equal(t, uint64(3), got.Sequence)
		assert.True(t, got.SavedAt.Equal(t0.Add(2*time.Second)))
		assert.True(t, decimal.RequireFromString("0.92").Equal(got.Rates["EUR"]))
	})

	t.Run("Equal timestamps are ordered by sequence", func(t *testing.T) {
		store := newStore(t, fixedClock(t0))
		ctx := context.Background()

		_, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.90"}))
		require.NoError(t, err)
		second, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.95"}))
		require.NoError(t, err)

		got, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second, got.ID)
		assert.Equal(t, uint64(2), got.Sequence)
	})

	t.Run("SavedAt never goes backwards when the clock does", func(t *testing.T) {
		store := newStore(t, scriptedClock(t0, t0.Add(-time.Hour)))
		ctx := context.Background()

		_, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.90"}))
		require.NoError(t, err)
		second, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.95"}))
		require.NoError(t, err)

		got, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second, got.ID)
		assert.True(t, got.SavedAt.Equal(t0))
	})

	t.Run("Invalid snapshots are rejected without changing state", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		tests := []struct {
			name  string
			snap  entity.ExchangeRateSnapshot
			field string
		}{
			{"empty base code", snapshotOf("  ", map[string]string{"EUR": "0.9"}), "base_code"},
			{"no rates", snapshotOf("USD", nil), "rates"},
			{"zero rate", snapshotOf("USD", map[string]string{"EUR": "0"}), "rates"},
			{"negative rate", snapshotOf("USD", map[string]string{"EUR": "-1.5"}), "rates"},
			{"colliding codes", snapshotOf("USD", map[string]string{"eur": "0.9", "EUR ": "0.91"}), "rates"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				id, err := store.Save(ctx, tc.snap)
				require.Error(t, err)
				assert.Equal(t, uuid.Nil, id)

				var vErr *apperrors.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tc.field, vErr.Field)
			})
		}

		got, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		assert.Nil(t, got)

		codes, err := store.ListBaseCodes(ctx)
		require.NoError(t, err)
		assert.Empty(t, codes)
	})

	t.Run("Cancelled Save has no effect", func(t *testing.T) {
		store := newStore(t, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.9"}))
		require.Error(t, err)
		assert.True(t, apperrors.IsCancelled(err))

		got, err := store.GetLatest(context.Background(), "USD")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Save cancelled after stamping leaves nothing behind", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// the clock runs once the base code is locked and the previous
		// pointer is read, so cancelling here lands in the middle of Save
		store := newStore(t, func() time.Time {
			cancel()
			return t0
		})

		_, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.9"}))
		require.Error(t, err)
		assert.True(t, apperrors.IsCancelled(err), "got %v", err)

		got, err := store.GetLatest(context.Background(), "USD")
		require.NoError(t, err)
		assert.Nil(t, got)

		history, err := store.ListHistory(context.Background(), "USD", 0)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("Cancelled GetLatest returns a cancelled error", func(t *testing.T) {
		store := newStore(t, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.GetLatest(ctx, "USD")
		require.Error(t, err)
		assert.True(t, apperrors.IsCancelled(err))
	})

	t.Run("Concurrent saves for one base code leave exactly one latest", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		const n = 16
		var wg sync.WaitGroup
		ids := make(chan uuid.UUID, n)
		errs := make(chan error, n)

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": fmt.Sprintf("0.%02d", i+10)}))
				if err != nil {
					errs <- err
					return
				}
				ids <- id
			}(i)
		}
		wg.Wait()
		close(ids)
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		seen := map[uuid.UUID]bool{}
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		require.Len(t, seen, n)

		history, err := store.ListHistory(ctx, "USD", 0)
		require.NoError(t, err)
		require.Len(t, history, n)
		for i, snap := range history {
			assert.Equal(t, uint64(n-i), snap.Sequence)
			if i > 0 {
				assert.False(t, snap.SavedAt.After(history[i-1].SavedAt))
			}
		}

		latest, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, uint64(n), latest.Sequence)
		assert.Equal(t, history[0].ID, latest.ID)
		assert.True(t, seen[latest.ID])
	})

	t.Run("Concurrent saves for different base codes are independent", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		bases := []string{"USD", "EUR", "GBP", "JPY"}
		var wg sync.WaitGroup
		for _, base := range bases {
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func(base string) {
					defer wg.Done()
					_, err := store.Save(ctx, snapshotOf(base, map[string]string{"CHF": "1.1"}))
					assert.NoError(t, err)
				}(base)
			}
		}
		wg.Wait()

		codes, err := store.ListBaseCodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"EUR", "GBP", "JPY", "USD"}, codes)

		for _, base := range bases {
			latest, err := store.GetLatest(ctx, base)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, uint64(3), latest.Sequence)
		}
	})

	t.Run("History is newest first and honours the limit", func(t *testing.T) {
		store := newStore(t, scriptedClock(t0, t0.Add(time.Minute), t0.Add(2*time.Minute), t0.Add(3*time.Minute)))
		ctx := context.Background()

		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			id, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.9"}))
			require.NoError(t, err)
			ids = append(ids, id)
		}
		_, err := store.Save(ctx, snapshotOf("EUR", map[string]string{"USD": "1.1"}))
		require.NoError(t, err)

		all, err := store.ListHistory(ctx, "usd", 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

		limited, err := store.ListHistory(ctx, "USD", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, ids[2], limited[0].ID)
		assert.Equal(t, ids[1], limited[1].ID)

		_, err = store.ListHistory(ctx, "", 0)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("Returned snapshots cannot mutate stored state", func(t *testing.T) {
		store := newStore(t, nil)
		ctx := context.Background()

		_, err := store.Save(ctx, snapshotOf("USD", map[string]string{"EUR": "0.9"}))
		require.NoError(t, err)

		got, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		got.Rates["EUR"] = decimal.NewFromInt(42)
		got.Rates["XXX"] = decimal.NewFromInt(1)

		again, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("0.9").Equal(again.Rates["EUR"]))
		assert.NotContains(t, again.Rates, "XXX")
	})

	t.Run("Append returns the stored record", func(t *testing.T) {
		store := newStore(t, fixedClock(t0))
		ctx := context.Background()

		stored, err := store.Append(ctx, snapshotOf("usd", map[string]string{"eur": "0.9"}))
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "USD", stored.BaseCode)
		assert.Equal(t, uint64(1), stored.Sequence)
		assert.True(t, stored.SavedAt.Equal(t0))

		latest, err := store.GetLatest(ctx, "USD")
		require.NoError(t, err)
		assertSameSnapshot(t, *stored, *latest)
	})
}
