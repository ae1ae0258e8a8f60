package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node-level configuration for the ledger daemon.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogLevel      string `toml:"LogLevel"`
	LogFormat     string `toml:"LogFormat"`
	// RewardRatePerSecond is the stability pool's reward-token emission per
	// second at 1e18 scale. Empty or "0" disables the drip.
	RewardRatePerSecond string                 `toml:"RewardRatePerSecond"`
	Pauses              Pauses                 `toml:"Pauses"`
	Assets              map[string]AssetParams `toml:"Assets"`
}

// Load reads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./stablis-data"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.LogFormat) == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Assets == nil {
		cfg.Assets = map[string]AssetParams{}
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file with one
// collateral asset priced for a local run.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:       ":8080",
		DataDir:             "./stablis-data",
		LogLevel:            "info",
		LogFormat:           "json",
		RewardRatePerSecond: "0",
		Assets: map[string]AssetParams{
			"wsteth": {
				MCR:                   "1250000000000000000",
				MinNetDebt:            "100000000000000000000",
				LiquidationReserve:    "10000000000000000000",
				CollateralGasDivisor:  200,
				RedemptionFeeFloor:    "5000000000000000",
				BorrowingFeeFloor:     "5000000000000000",
				MaxBorrowingFee:       "50000000000000000",
				BootstrapDays:         14,
				InterestRatePerSecond: "0",
				OraclePrice:           "2000000000000000000000",
			},
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
