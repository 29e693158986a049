package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-retail/testing"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "APP_ENV", "APP_ADDR", "PAYMENT_QR_TTL", "PAYMENT_VERIFY_LOCK_TTL")
	t.Setenv("PG_DSN", "postgres://u:p@localhost/retail")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 15*time.Minute, cfg.PaymentQRTTL)
	require.Equal(t, 30*time.Second, cfg.PaymentVerifyLockTTL)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@localhost/retail")
	t.Setenv("PAYMENT_QR_TTL", "0s")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "PAYMENT_QR_TTL")

	t.Setenv("PAYMENT_QR_TTL", "10m")
	t.Setenv("APP_ENV", "production")
	t.Setenv("PAYMENT_GATEWAY_URL", "https://gateway.example")
	t.Setenv("PAYMENT_GATEWAY_SECRET", "")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "secret")

	t.Setenv("PAYMENT_GATEWAY_SECRET", "s3cret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
}

func TestNilConfigIsNotProduction(t *testing.T) {
	var cfg *Config
	require.False(t, cfg.IsProduction())
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "v", line["k"])
	require.NotContains(t, buf.String(), "hidden")
}

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}
