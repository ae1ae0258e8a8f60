package config

import (
	"fmt"
	"math/big"
	"sort"
	"time"
)

// AssetRuntime is one asset's configuration parsed into ledger units.
type AssetRuntime struct {
	MCR                   *big.Int
	MinNetDebt            *big.Int
	LiquidationReserve    *big.Int
	CollateralGasDivisor  uint64
	RedemptionFeeFloor    *big.Int
	BorrowingFeeFloor     *big.Int
	MaxBorrowingFee       *big.Int
	BootstrapPeriod       time.Duration
	InterestRatePerSecond *big.Int
	InterestEnabled       bool
	OraclePrice           *big.Int
}

// Params serves parsed per-asset parameters to the engines. It satisfies the
// position ledger's parameter store.
type Params struct {
	assets map[string]AssetRuntime
	names  []string
}

// BuildParams parses and validates the configured asset blocks.
func BuildParams(cfg *Config) (*Params, error) {
	params := &Params{assets: make(map[string]AssetRuntime, len(cfg.Assets))}
	for name, raw := range cfg.Assets {
		runtime, err := parseAssetParams(raw)
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", name, err)
		}
		params.assets[name] = runtime
		params.names = append(params.names, name)
	}
	sort.Strings(params.names)
	return params, nil
}

func parseAssetParams(raw AssetParams) (AssetRuntime, error) {
	runtime := AssetRuntime{
		CollateralGasDivisor: raw.CollateralGasDivisor,
		BootstrapPeriod:      time.Duration(raw.BootstrapDays) * 24 * time.Hour,
		InterestEnabled:      raw.InterestEnabled,
	}
	fields := []struct {
		name  string
		value string
		out   **big.Int
	}{
		{"MCR", raw.MCR, &runtime.MCR},
		{"MinNetDebt", raw.MinNetDebt, &runtime.MinNetDebt},
		{"LiquidationReserve", raw.LiquidationReserve, &runtime.LiquidationReserve},
		{"RedemptionFeeFloor", raw.RedemptionFeeFloor, &runtime.RedemptionFeeFloor},
		{"BorrowingFeeFloor", raw.BorrowingFeeFloor, &runtime.BorrowingFeeFloor},
		{"MaxBorrowingFee", raw.MaxBorrowingFee, &runtime.MaxBorrowingFee},
		{"InterestRatePerSecond", raw.InterestRatePerSecond, &runtime.InterestRatePerSecond},
		{"OraclePrice", raw.OraclePrice, &runtime.OraclePrice},
	}
	for _, field := range fields {
		parsed, err := parseAmount(field.value)
		if err != nil {
			return runtime, fmt.Errorf("invalid %s: %w", field.name, err)
		}
		*field.out = parsed
	}
	return runtime, nil
}

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", value)
	}
	return parsed, nil
}

// RewardRate parses the pool's reward emission rate.
func (c *Config) RewardRate() (*big.Int, error) {
	rate, err := parseAmount(c.RewardRatePerSecond)
	if err != nil {
		return nil, fmt.Errorf("invalid RewardRatePerSecond: %w", err)
	}
	return rate, nil
}

func (p *Params) asset(name string) (AssetRuntime, error) {
	runtime, ok := p.assets[name]
	if !ok {
		return AssetRuntime{}, fmt.Errorf("config: unknown asset %q", name)
	}
	return runtime, nil
}

func (p *Params) Assets() ([]string, error) {
	return append([]string(nil), p.names...), nil
}

func (p *Params) MCR(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.MCR), nil
}

func (p *Params) MinNetDebt(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.MinNetDebt), nil
}

func (p *Params) LiquidationReserve(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.LiquidationReserve), nil
}

func (p *Params) CollateralGasDivisor(name string) (uint64, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return 0, err
	}
	return runtime.CollateralGasDivisor, nil
}

func (p *Params) RedemptionFeeFloor(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.RedemptionFeeFloor), nil
}

func (p *Params) BorrowingFeeFloor(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.BorrowingFeeFloor), nil
}

func (p *Params) MaxBorrowingFee(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.MaxBorrowingFee), nil
}

func (p *Params) BootstrapPeriod(name string) (time.Duration, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return 0, err
	}
	return runtime.BootstrapPeriod, nil
}

func (p *Params) InterestRatePerSecond(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.InterestRatePerSecond), nil
}

func (p *Params) InterestEnabled(name string) (bool, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return false, err
	}
	return runtime.InterestEnabled, nil
}

// OraclePrice returns the configured static price for the asset.
func (p *Params) OraclePrice(name string) (*big.Int, error) {
	runtime, err := p.asset(name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(runtime.OraclePrice), nil
}
