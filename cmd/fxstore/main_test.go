package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points the CLI at a sqlite file and a fake provider
func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	testChdir(t, dir)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest/GBP" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"success","base_code":"GBP","time_last_update_unix":1700000000,"rates":{"USD":1.25,"EUR":1.15}}`))
	}))
	t.Cleanup(provider.Close)

	t.Setenv("FXSTORE_LOG_LEVEL", "error")
	t.Setenv("FXSTORE_STORE_DRIVER", "sqlite")
	t.Setenv("FXSTORE_DSN", filepath.Join(dir, "fx.db"))
	t.Setenv("FXSTORE_CACHE", "none")
	t.Setenv("FXSTORE_PROVIDER_URL", provider.URL)
	t.Setenv("FXSTORE_GROUP_MAPPINGS", "acme.com=5b0f5d2e-8f4a-4a53-9f6e-0f7b8c1d2e3f")

	prev := logger.GetDefaultLogger()
	t.Cleanup(func() { logger.SetDefaultLogger(prev) })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSaveLatestHistoryConvert(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "save", "--base", "usd", "--rate", "eur=0.9235", "--rate", "GBP=0.79")
	require.NoError(t, err)
	_, err = run(t, "save", "--base", "USD", "--rate", "EUR=0.9240", "--captured-at", "2024-03-01T12:00:00Z")
	require.NoError(t, err)

	out, err := run(t, "latest", "USD")
	require.NoError(t, err)
	var latest entity.ExchangeRateSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &latest))
	assert.Equal(t, "USD", latest.BaseCode)
	assert.Equal(t, uint64(2), latest.Sequence)
	assert.Equal(t, "0.924", latest.Rates["EUR"].String())

	out, err = run(t, "history", "USD", "--limit", "0")
	require.NoError(t, err)
	var history []entity.ExchangeRateSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 2)
	assert.Equal(t, latest.ID, history[0].ID)

	out, err = run(t, "history")
	require.NoError(t, err)
	assert.JSONEq(t, `["USD"]`, out)

	out, err = run(t, "convert", "100", "usd", "eur")
	require.NoError(t, err)
	assert.Contains(t, out, `"converted_amount": "92.4"`)
}

func TestLatestAbsent(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "latest", "CHF")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot stored for CHF")
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "save", "--base", "USD", "--rate", "EUR")
	require.Error(t, err)

	_, err = run(t, "save", "--base", "USD", "--rate", "EUR=-1")
	require.Error(t, err)

	_, err = run(t, "save", "--base", " ", "--rate", "EUR=1")
	require.Error(t, err)
}

func TestRefreshFromProvider(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "refresh", "GBP")
	require.NoError(t, err)

	out, err := run(t, "latest", "GBP")
	require.NoError(t, err)
	var latest entity.ExchangeRateSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &latest))
	assert.Equal(t, "1.25", latest.Rates["USD"].String())
	assert.Equal(t, int64(1700000000), latest.CapturedAt.Unix())
}

func TestGroupResolve(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "group", "resolve", "Jane.Doe@ACME.com")
	require.NoError(t, err)
	assert.Equal(t, "5b0f5d2e-8f4a-4a53-9f6e-0f7b8c1d2e3f\n", out)

	_, err = run(t, "group", "resolve", "someone@other.org")
	require.Error(t, err)

	_, err = run(t, "group", "add", "acme.com", "5b0f5d2e-8f4a-4a53-9f6e-0f7b8c1d2e3f")
	require.Error(t, err)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "migrate", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres drivers only")
}

func TestMetricsRouter(t *testing.T) {
	router := newMetricsRouter(logger.Discard())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMemoryCacheOverSharedStoreWarns(t *testing.T) {
	setupEnv(t)
	t.Setenv("FXSTORE_LOG_LEVEL", "warn")
	t.Setenv("FXSTORE_CACHE", "memory")

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"history"})
	root.SetOut(&out)
	root.SetErr(&errOut)
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Contains(t, errOut.String(), "Memory cache only sees saves made by this process")
	assert.Contains(t, errOut.String(), `"store_driver":"sqlite"`)
}

// testChdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, which needs Go 1.24).
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
