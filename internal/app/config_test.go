package app

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/coop")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.False(t, cfg.IsProduction())

	defaults, err := cfg.EngineDefaults()
	require.NoError(t, err)
	require.True(t, defaults.EntryFeeGate.Equal(decimal.NewFromInt(10000)))
	require.True(t, defaults.EntryFeeCharge.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, 5, defaults.LoanActivationDay)
	require.True(t, defaults.InterestRate.Equal(decimal.RequireFromString("0.015")))
}

func TestEngineDefaultsOverrides(t *testing.T) {
	cfg := &Config{
		EntryFeeGateDefault:      "5000",
		EntryFeeChargeDefault:    "500",
		DevelopmentLevyDefault:   "0",
		LoanActivationDayDefault: 10,
		InterestRateDefault:      "0.02",
	}
	defaults, err := cfg.EngineDefaults()
	require.NoError(t, err)
	require.True(t, defaults.EntryFeeGate.Equal(decimal.NewFromInt(5000)))
	require.True(t, defaults.DevelopmentLevy.IsZero())
	require.Equal(t, 10, defaults.LoanActivationDay)
}

func TestEngineDefaultsRejectsBadValues(t *testing.T) {
	_, err := (&Config{InterestRateDefault: "abc"}).EngineDefaults()
	require.ErrorContains(t, err, "INTEREST_RATE_DEFAULT")

	_, err = (&Config{EntryFeeGateDefault: "-1"}).EngineDefaults()
	require.ErrorContains(t, err, "ENTRY_FEE_GATE_DEFAULT")

	_, err = (&Config{LoanActivationDayDefault: 40}).EngineDefaults()
	require.ErrorContains(t, err, "LOAN_ACTIVATION_DAY_DEFAULT")
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&Config{LogFormat: "json"}, &buf).Info("hello")
	require.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	NewLoggerTo(&Config{}, &buf).Info("hello")
	require.Contains(t, buf.String(), "msg=hello")
}
