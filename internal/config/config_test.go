package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDailyCaps(t *testing.T) {
	caps, err := ParseDailyCaps(" checkin:20, share:50 ,")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"checkin": 20, "share": 50}, caps)

	_, err = ParseDailyCaps("checkin")
	require.Error(t, err)

	_, err = ParseDailyCaps("checkin:-1")
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.OrderExpire)
	require.Equal(t, 7*24*time.Hour, cfg.RefundWindow)
	require.Equal(t, int64(100), cfg.PointsPerYuan)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, "sandbox", cfg.GatewayMode)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}
