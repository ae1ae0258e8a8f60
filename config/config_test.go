package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `ListenAddress = "0.0.0.0:9000"
DataDir = "./data"
LogLevel = "debug"
LogFormat = "text"
RewardRatePerSecond = "1000000000000000"

[Pauses]
Positions = true

[Assets.wsteth]
MCR = "1250000000000000000"
MinNetDebt = "100000000000000000000"
LiquidationReserve = "10000000000000000000"
CollateralGasDivisor = 200
RedemptionFeeFloor = "5000000000000000"
BorrowingFeeFloor = "5000000000000000"
MaxBorrowingFee = "50000000000000000"
BootstrapDays = 14
InterestRatePerSecond = "1000000000"
InterestEnabled = true
OraclePrice = "2000000000000000000000"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesAssetBlocks(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddress)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Pauses.IsPaused("positions"))
	require.False(t, cfg.Pauses.IsPaused("stability"))

	params, err := BuildParams(cfg)
	require.NoError(t, err)

	assets, err := params.Assets()
	require.NoError(t, err)
	require.Equal(t, []string{"wsteth"}, assets)

	mcr, err := params.MCR("wsteth")
	require.NoError(t, err)
	require.Equal(t, "1250000000000000000", mcr.String())

	period, err := params.BootstrapPeriod("wsteth")
	require.NoError(t, err)
	require.Equal(t, 14*24*time.Hour, period)

	enabled, err := params.InterestEnabled("wsteth")
	require.NoError(t, err)
	require.True(t, enabled)

	price, err := params.OraclePrice("wsteth")
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(big.NewInt(2000), one).String(), price.String())

	rate, err := cfg.RewardRate()
	require.NoError(t, err)
	require.Equal(t, "1000000000000000", rate.String())
}

func TestRewardRateDefaultsToZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[Assets]\n"))
	require.NoError(t, err)
	rate, err := cfg.RewardRate()
	require.NoError(t, err)
	require.Zero(t, rate.Sign())

	cfg.RewardRatePerSecond = "1e18"
	_, err = cfg.RewardRate()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[Assets]\n"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, "./stablis-data", cfg.DataDir)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Assets, "wsteth")

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	// The written default must round trip through validation.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(reloaded))
}

func TestValidateRejectsBadParams(t *testing.T) {
	base := map[string]string{
		"MCR":                  `"1250000000000000000"`,
		"MinNetDebt":           `"100000000000000000000"`,
		"LiquidationReserve":   `"10000000000000000000"`,
		"CollateralGasDivisor": `200`,
		"RedemptionFeeFloor":   `"5000000000000000"`,
		"BorrowingFeeFloor":    `"5000000000000000"`,
		"MaxBorrowingFee":      `"50000000000000000"`,
		"OraclePrice":          `"1000000000000000000"`,
	}
	cases := map[string][2]string{
		"MCR at 100%":         {"MCR", `"1000000000000000000"`},
		"zero reserve":        {"LiquidationReserve", `"0"`},
		"zero divisor":        {"CollateralGasDivisor", `0`},
		"floor above ceiling": {"BorrowingFeeFloor", `"90000000000000000"`},
		"non-integer amount":  {"MinNetDebt", `"12.5"`},
	}
	for name, override := range cases {
		t.Run(name, func(t *testing.T) {
			contents := sampleConfig + "\n[Assets.bad]\n"
			for key, value := range base {
				if key == override[0] {
					value = override[1]
				}
				contents += key + " = " + value + "\n"
			}
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}
}

func TestParamsRejectsUnknownAsset(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	params, err := BuildParams(cfg)
	require.NoError(t, err)

	_, err = params.MCR("nope")
	require.Error(t, err)
}
