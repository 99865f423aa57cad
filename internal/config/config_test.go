package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":      "postgres://localhost:5432/klinik",
		"REDIS_URL":         "redis://localhost:6379/0",
		"PORT":              "",
		"DEFAULT_ADMIN_FEE": "",
		"CATALOG_CACHE_TTL": "",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, int64(20_000), cfg.DefaultAdminFee)
	require.Equal(t, 5*time.Minute, cfg.CatalogCacheTTL)
	require.Equal(t, 30, cfg.VoucherRateLimit)
}

func TestLoadRequiresDatabase(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":        "postgres://localhost:5432/klinik",
		"REDIS_URL":           "redis://localhost:6379/0",
		"PORT":                "9090",
		"DEFAULT_ADMIN_FEE":   "25000",
		"VOUCHER_SERVICE_URL": "http://vouchers.internal",
		"VOUCHER_RATE_WINDOW": "30s",
	})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, int64(25_000), cfg.DefaultAdminFee)
	require.Equal(t, "http://vouchers.internal", cfg.VoucherServiceURL)
	require.Equal(t, 30*time.Second, cfg.VoucherRateWindow)
}
